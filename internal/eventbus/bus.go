// Package eventbus implements C3's typed, non-blocking publish/
// subscribe bus (spec.md §4.3), grounded on cuemby-warren's
// pkg/events/events.go Broker: a channel-based dispatcher with
// bounded per-subscriber buffers and drop-on-overflow backpressure,
// generalized here from a fixed EventType enum to the topic catalog
// of spec.md §4.3 and from a single dispatch channel to per-(topic)
// ordering with per-publisher sequencing.
package eventbus

import (
	"errors"
	"sync"
	"time"

	"github.com/mosiyuan/cis/internal/telemetry"
)

// Topic names the minimum event catalog of spec.md §4.3.
type Topic string

const (
	TopicRoomMessage        Topic = "room.message"
	TopicSkillExecute       Topic = "skill.execute"
	TopicSkillCompleted     Topic = "skill.completed"
	TopicAgentOnline        Topic = "agent.online"
	TopicAgentOffline       Topic = "agent.offline"
	TopicFederationTask     Topic = "federation.task"
	TopicFederationResult   Topic = "federation.task.result"
	TopicMemoryChanged      Topic = "memory.changed"
	TopicMemorySyncPending  Topic = "memory.sync.pending"
	TopicPeerConnected      Topic = "peer.connected"
	TopicPeerDisconnected   Topic = "peer.disconnected"
	TopicDeliveryFailed     Topic = "federation.delivery.failed"
)

// Event is the in-process form of spec.md §3's Event: it omits the
// signature field since intra-process messages are already trusted.
type Event struct {
	Type      Topic
	Publisher string
	Timestamp time.Time
	Payload   any
}

// Handler processes one Event. A non-nil return marked fatal (see
// ErrFatal) tears down the subscription; any other error is logged
// and the subscription survives, matching a recovered panic.
type Handler func(Event) error

// ErrFatal, when returned from a Handler (wrapped or bare), causes the
// subscription to be cancelled instead of surviving the failure.
var ErrFatal = fatalError{}

type fatalError struct{}

func (fatalError) Error() string { return "eventbus: fatal handler error" }

const subscriberQueueSize = 64
const maxOverflowsBeforeUnsubscribe = 8

type subscription struct {
	id        uint64
	topic     Topic
	queue     chan Event
	handler   Handler
	overflows int
	mu        sync.Mutex
	done      chan struct{}
}

// Subscription is the handle returned by Subscribe; dropping it (via
// Cancel) stops delivery.
type Subscription struct {
	bus *Bus
	sub *subscription
}

func (s *Subscription) Cancel() { s.bus.unsubscribe(s.sub) }

// Bus is the process-wide event dispatcher. Construct exactly one per
// node via the service container; every component holds a reference,
// never a package-level global.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]*subscription
	nextID uint64
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once

	metrics DropCounter
}

// DropCounter receives a drop notification per topic; satisfied by
// telemetry.Metrics.EventBusDrops via a small adapter in internal/container.
type DropCounter interface {
	Inc(topic string)
}

func New() *Bus {
	return &Bus{
		subs:   make(map[Topic][]*subscription),
		closed: make(chan struct{}),
	}
}

// SetDropCounter wires a metrics sink; optional.
func (b *Bus) SetDropCounter(c DropCounter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = c
}

// Subscribe registers handler for topic. Delivery happens on a
// dedicated goroutine per subscription so a slow handler cannot stall
// other subscribers of the same topic.
func (b *Bus) Subscribe(topic Topic, handler Handler) *Subscription {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{
		id:      b.nextID,
		topic:   topic,
		queue:   make(chan Event, subscriberQueueSize),
		handler: handler,
		done:    make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliverLoop(sub)

	return &Subscription{bus: b, sub: sub}
}

func (b *Bus) unsubscribe(sub *subscription) {
	b.mu.Lock()
	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			b.subs[sub.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	close(sub.done)
}

// Publish is non-blocking: each subscriber's queue is written with a
// default case, so a full queue drops the event for that subscriber
// rather than stalling the publisher.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := append([]*subscription{}, b.subs[event.Type]...)
	metrics := b.metrics
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.queue <- event:
		default:
			sub.mu.Lock()
			sub.overflows++
			n := sub.overflows
			sub.mu.Unlock()
			if metrics != nil {
				metrics.Inc(string(event.Type))
			}
			if n >= maxOverflowsBeforeUnsubscribe {
				b.unsubscribe(sub)
			}
		}
	}
}

func (b *Bus) deliverLoop(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case event := <-sub.queue:
			b.invoke(sub, event)
		case <-sub.done:
			return
		case <-b.closed:
			return
		}
	}
}

func (b *Bus) invoke(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Component("eventbus").Error().Interface("panic", r).Str("topic", string(event.Type)).Msg("handler panicked")
		}
	}()
	if err := sub.handler(event); err != nil {
		log := telemetry.Component("eventbus")
		if errors.Is(err, ErrFatal) {
			log.Error().Str("topic", string(event.Type)).Msg("handler returned fatal, cancelling subscription")
			b.unsubscribe(sub)
			return
		}
		log.Warn().Err(err).Str("topic", string(event.Type)).Msg("handler error")
	}
}

// Close stops all delivery goroutines. Pending queued events are
// dropped.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.closed) })
	b.wg.Wait()
}
