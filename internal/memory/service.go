package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/eventbus"
	"github.com/mosiyuan/cis/internal/federation"
	"github.com/mosiyuan/cis/internal/federation/transport"
	"github.com/mosiyuan/cis/internal/identity"
	"github.com/mosiyuan/cis/internal/storage"
	"github.com/mosiyuan/cis/internal/telemetry"
)

const atRestPurpose = "memory.private"

// Embedder computes a semantic embedding for text (spec.md §4.5's
// set_with_embedding, §6's `agent.default_runtime`). A nil Embedder
// degrades set_with_embedding to a plain set; container.New passes
// nil, so a node built by the container stores no embeddings.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Service implements C5's get/set/delete/search surface over the two
// domains of spec.md §4.5.
type Service struct {
	self     *identity.NodeIdentity
	private  *storage.Bucket
	public   *storage.Bucket
	vectors  *storage.Bucket
	bus      *eventbus.Bus
	queue    *federation.Queue
	peers    *federation.PeerRegistry
	embedder Embedder
	codec    *storage.PrivateCodec
	log      zerolog.Logger

	locks sync.Map // key -> *sync.Mutex, per spec.md §4.5 "writes are serialized per key through a keyed lock"
}

// NewService constructs the memory service; codec encrypts every
// private-domain row with the at-rest key C1 derives for
// atRestPurpose ("memory.private"), so plaintext never reaches
// private's underlying bbolt pages.
func NewService(self *identity.NodeIdentity, private, public, vectors *storage.Bucket, bus *eventbus.Bus, queue *federation.Queue, peers *federation.PeerRegistry, embedder Embedder) (*Service, error) {
	atRestKey, err := self.DeriveAtRestKey(atRestPurpose)
	if err != nil {
		return nil, err
	}
	codec, err := storage.NewPrivateCodec(atRestKey)
	if err != nil {
		return nil, err
	}
	return &Service{
		self:     self,
		private:  private,
		public:   public,
		vectors:  vectors,
		bus:      bus,
		queue:    queue,
		peers:    peers,
		embedder: embedder,
		codec:    codec,
		log:      telemetry.Component("memory"),
	}, nil
}

func (s *Service) lockFor(key string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) bucketFor(domain Domain) *storage.Bucket {
	if domain == Private {
		return s.private
	}
	return s.public
}

// Get returns the item stored under key in domain, or cerr.NotFound.
func (s *Service) Get(key string, domain Domain) (Item, error) {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	var item Item
	err := s.bucketFor(domain).Get(key, &item)
	if err != nil {
		return Item{}, err
	}
	if item.Tombstone {
		return Item{}, cerr.New(cerr.NotFound, "memory.Get", fmt.Errorf("key %q deleted", key))
	}
	if domain == Private {
		plain, err := s.codec.Open(string(Private), key, item.Value)
		if err != nil {
			return Item{}, err
		}
		item.Value = plain
	}
	return item, nil
}

// Set writes value under key in domain. Private writes are encrypted
// at rest; public writes additionally advance this node's vector
// clock entry, publish memory.changed, and queue a Sync Marker to
// every Whitelisted peer, per spec.md §4.5's write contract.
func (s *Service) Set(key string, value []byte, domain Domain, category string) error {
	return s.set(key, value, domain, category, nil)
}

// SetWithEmbedding additionally computes a semantic embedding via the
// configured Embedder and stores it alongside the item for
// SemanticSearch, per spec.md §4.5's set_with_embedding.
func (s *Service) SetWithEmbedding(key string, value []byte, domain Domain, category string) error {
	var embedding []float32
	if s.embedder != nil {
		text := string(value)
		e, err := s.embedder.Embed(text)
		if err != nil {
			// A failed embed does not fail the write (spec.md §4.5
			// failure semantics); an index-repair event would be
			// queued here once a repair path exists.
			s.log.Error().Err(err).Str("key", key).Msg("embedding failed, writing without vector")
		} else {
			embedding = e
		}
	}
	return s.set(key, value, domain, category, embedding)
}

func (s *Service) set(key string, value []byte, domain Domain, category string, embedding []float32) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	bucket := s.bucketFor(domain)

	var current Item
	hasCurrent := bucket.Get(key, &current) == nil

	item := Item{
		Key:       key,
		Value:     value,
		Domain:    domain,
		Category:  category,
		CreatedBy: s.self.DID,
		UpdatedAt: time.Now(),
		Embedding: embedding,
	}

	if domain == Public {
		base := VectorClock{}
		if hasCurrent {
			base = current.VectorClock
		}
		item.VectorClock = base.Advance(s.self.DID)
		if hasCurrent && !resolvePublicWrite(current, item) {
			return nil // a concurrent/later write already won
		}
	} else {
		sealed, err := s.codec.Seal(string(Private), key, value)
		if err != nil {
			return err
		}
		item.Value = sealed
	}

	if err := bucket.Put(key, item); err != nil {
		return err
	}
	if len(embedding) > 0 {
		if err := s.vectors.Put(key, embedding); err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("vector index write failed")
		}
	}

	if domain == Public {
		s.publishChange(item)
		s.enqueueSync(key)
	}
	return nil
}

// Delete tombstones key (public domain) or removes it outright
// (private domain never participates in CRDT sync).
func (s *Service) Delete(key string, domain Domain) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	bucket := s.bucketFor(domain)
	if domain == Private {
		return bucket.Delete(key)
	}

	var current Item
	if err := bucket.Get(key, &current); err != nil {
		return err
	}
	current.VectorClock = current.VectorClock.Advance(s.self.DID)
	current = tombstone(current)
	current.UpdatedAt = time.Now()
	current.CreatedBy = s.self.DID
	if err := bucket.Put(key, current); err != nil {
		return err
	}
	s.publishChange(current)
	s.enqueueSync(key)
	return nil
}

func (s *Service) publishChange(item Item) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type:      eventbus.TopicMemoryChanged,
		Publisher: s.self.DID,
		Payload:   item,
	})
}

// targetPeers implements the sync fan-out entry of DESIGN.md's "Open
// Question decisions": every Whitelisted peer receives a public
// write's Sync Marker; Quarantined and Unknown peers never do.
func (s *Service) targetPeers() ([]string, error) {
	if s.peers == nil {
		return nil, nil
	}
	all, err := s.peers.List()
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, p := range all {
		if p.TrustState == federation.TrustWhitelisted {
			targets = append(targets, p.DID)
		}
	}
	return targets, nil
}

func (s *Service) enqueueSync(key string) {
	if s.queue == nil || s.bus == nil {
		return
	}
	targets, err := s.targetPeers()
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("sync target lookup failed")
		return
	}
	marker := SyncMarker{Key: key, TargetPeers: targets, Status: SyncPending}
	s.bus.Publish(eventbus.Event{
		Type:      eventbus.TopicMemorySyncPending,
		Publisher: s.self.DID,
		Payload:   marker,
	})
	for _, peerDID := range targets {
		id := fmt.Sprintf("sync:%s:%s", key, peerDID)
		if err := s.queue.Enqueue(id, peerDID, frameTypeSyncMarker, []byte(key)); err != nil {
			s.log.Error().Err(err).Str("peer", peerDID).Str("key", key).Msg("sync marker enqueue failed")
		}
	}
}

// frameTypeSyncMarker is the wire frame type of a memory sync push:
// transport.FrameSyncMarker, which the federation manager sends as the
// envelope's frame type.
const frameTypeSyncMarker = uint8(transport.FrameSyncMarker)
