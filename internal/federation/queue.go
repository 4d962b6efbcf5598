package federation

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mosiyuan/cis/internal/eventbus"
	"github.com/mosiyuan/cis/internal/storage"
	"github.com/mosiyuan/cis/internal/telemetry"
)

// DeliveryStatus is a queued message's lifecycle stage.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryDone    DeliveryStatus = "done"
)

// DeliveryEntry is one outbound frame awaiting a peer connection,
// persisted in federation.db so it survives a restart before the peer
// comes back online.
type DeliveryEntry struct {
	ID          string         `json:"id"`
	PeerDID     string         `json:"peer_did"`
	FrameType   uint8          `json:"frame_type"`
	Payload     []byte         `json:"payload"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	NextAttempt time.Time      `json:"next_attempt"`
	FirstQueued time.Time      `json:"first_queued"`
}

// Sender delivers one entry to its peer, returning an error if the
// peer isn't currently reachable.
type Sender interface {
	SendTo(peerDID string, frameType uint8, payload []byte) error
}

// baseBackoff and maxBackoff bound the exponential jittered retry
// delay; retryWindow is the default per spec.md §4.4 after which an
// entry is marked Failed and an alert event is raised instead of
// retried forever.
const (
	baseBackoff = 2 * time.Second
	maxBackoff  = 5 * time.Minute
	retryWindow = 24 * time.Hour
	tickPeriod  = 5 * time.Second
)

// Queue is the durable at-least-once delivery queue of spec.md §4.4,
// grounded on warren's scheduler.Scheduler ticker-loop (pkg/scheduler/
// scheduler.go's run/schedule split) driving retries out of a
// bbolt-backed bucket instead of an in-memory list.
type Queue struct {
	bucket *storage.Bucket
	sender Sender
	bus    *eventbus.Bus
	log    zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

func NewQueue(bucket *storage.Bucket, sender Sender, bus *eventbus.Bus) *Queue {
	return &Queue{
		bucket: bucket,
		sender: sender,
		bus:    bus,
		log:    telemetry.Component("federation.queue"),
		stopCh: make(chan struct{}),
	}
}

// Enqueue persists a new delivery entry as Pending with no backoff.
func (q *Queue) Enqueue(id, peerDID string, frameType uint8, payload []byte) error {
	now := time.Now()
	entry := DeliveryEntry{
		ID:          id,
		PeerDID:     peerDID,
		FrameType:   frameType,
		Payload:     payload,
		Status:      DeliveryPending,
		NextAttempt: now,
		FirstQueued: now,
	}
	return q.bucket.Put(id, entry)
}

// Start runs the retry-drain loop in a goroutine.
func (q *Queue) Start() {
	go q.run()
}

func (q *Queue) Stop() {
	close(q.stopCh)
}

func (q *Queue) run() {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := q.drain(); err != nil {
				q.log.Error().Err(err).Msg("delivery drain cycle failed")
			}
		case <-q.stopCh:
			return
		}
	}
}

// drain scans all pending entries whose NextAttempt has elapsed and
// attempts delivery, applying exponential jittered backoff on failure
// and giving up past retryWindow.
func (q *Queue) drain() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []DeliveryEntry
	err := q.bucket.ForEach(func(_ string, value []byte) error {
		var entry DeliveryEntry
		if err := decodeJSON(value, &entry); err != nil {
			return err
		}
		if entry.Status == DeliveryPending && !entry.NextAttempt.After(time.Now()) {
			due = append(due, entry)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, entry := range due {
		q.attempt(entry)
	}
	return nil
}

func (q *Queue) attempt(entry DeliveryEntry) {
	err := q.sender.SendTo(entry.PeerDID, entry.FrameType, entry.Payload)
	if err == nil {
		entry.Status = DeliveryDone
		if putErr := q.bucket.Put(entry.ID, entry); putErr != nil {
			q.log.Error().Err(putErr).Str("entry", entry.ID).Msg("failed to mark delivery done")
		}
		return
	}

	entry.Attempts++
	if time.Since(entry.FirstQueued) > retryWindow {
		entry.Status = DeliveryFailed
		q.log.Warn().Str("entry", entry.ID).Str("peer", entry.PeerDID).Int("attempts", entry.Attempts).Msg("delivery abandoned after retry window")
		if q.bus != nil {
			q.bus.Publish(eventbus.Event{
				Type:      eventbus.TopicDeliveryFailed,
				Publisher: "federation.queue",
				Timestamp: time.Now(),
				Payload:   entry,
			})
		}
	} else {
		entry.NextAttempt = time.Now().Add(backoffFor(entry.Attempts))
	}

	if putErr := q.bucket.Put(entry.ID, entry); putErr != nil {
		q.log.Error().Err(putErr).Str("entry", entry.ID).Msg("failed to persist delivery retry state")
	}
}

// backoffFor computes a jittered exponential delay: base*2^attempts,
// capped at maxBackoff, with up to 20% random jitter to avoid
// synchronized retry storms across many queued entries.
func backoffFor(attempts int) time.Duration {
	delay := baseBackoff
	for i := 0; i < attempts && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 5))
	return delay + jitter
}

// Get returns one entry by ID, chiefly for tests and diagnostics.
func (q *Queue) Get(id string) (DeliveryEntry, error) {
	var entry DeliveryEntry
	err := q.bucket.Get(id, &entry)
	return entry, err
}

// Depths counts queued entries by status, for the /status probe of
// spec.md §6.
func (q *Queue) Depths() map[string]int {
	counts := map[string]int{string(DeliveryPending): 0, string(DeliveryFailed): 0, string(DeliveryDone): 0}
	_ = q.bucket.ForEach(func(_ string, value []byte) error {
		var entry DeliveryEntry
		if err := decodeJSON(value, &entry); err != nil {
			return err
		}
		counts[string(entry.Status)]++
		return nil
	})
	return counts
}
