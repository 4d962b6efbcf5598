package federation

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/identity"
	"github.com/mosiyuan/cis/internal/storage"
)

// Event is the wire form of spec.md §3's Event: a room message signed
// by its sender and linked into a causal DAG via PrevIDs.
type Event struct {
	EventID   string   `json:"event_id"`
	Type      string   `json:"type"`
	RoomID    string   `json:"room_id,omitempty"`
	SenderDID string   `json:"sender_did"`
	Timestamp int64    `json:"ts"`
	Payload   []byte   `json:"payload"`
	PrevIDs   []string `json:"prev_ids"`
	Signature []byte   `json:"signature"`
}

// canonicalBytes produces the deterministic byte form event_id and
// signatures are computed over: fixed field order, no map iteration,
// so independent implementations reproduce the same hash.
func (e Event) canonicalBytes() []byte {
	prev := append([]string{}, e.PrevIDs...)
	sort.Strings(prev)

	buf := make([]byte, 0, len(e.Type)+len(e.SenderDID)+len(e.Payload)+64)
	buf = append(buf, e.Type...)
	buf = append(buf, 0)
	buf = append(buf, e.SenderDID...)
	buf = append(buf, 0)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.Timestamp))
	buf = append(buf, ts[:]...)
	buf = append(buf, e.Payload...)
	for _, id := range prev {
		buf = append(buf, 0)
		buf = append(buf, id...)
	}
	return buf
}

// ComputeEventID implements spec.md §3's `event_id = hash(type ||
// sender_did || ts || payload || prev_ids)`.
func ComputeEventID(e Event) string {
	sum := sha256.Sum256(e.canonicalBytes())
	return fmt.Sprintf("%x", sum)
}

// SignEvent stamps e with a freshly computed EventID and a signature
// over the canonical bytes.
func SignEvent(self *identity.NodeIdentity, e Event) (Event, error) {
	e.SenderDID = self.DID
	e.EventID = ComputeEventID(e)
	sig, err := self.Sign(e.canonicalBytes())
	if err != nil {
		return Event{}, cerr.New(cerr.Crypto, "SignEvent", err)
	}
	e.Signature = sig
	return e, nil
}

// RoomMember gates sender permission to apply state transitions in a
// room. The member set is fixed when the Room is built by NewRoom;
// Apply does not add or remove members.
type RoomMember struct {
	DID       string `json:"did"`
	SigningPub []byte `json:"signing_pub"`
}

// Room tracks one causally-ordered DAG of signed Events, persisted in
// federation.db. Orphans (events whose prev_ids aren't all stored yet)
// are held pending until their ancestors arrive.
type Room struct {
	ID string

	events  *storage.Bucket
	orphans *storage.Bucket
	members map[string]RoomMember

	mu sync.Mutex
}

func NewRoom(id string, events, orphans *storage.Bucket, members []RoomMember) *Room {
	m := make(map[string]RoomMember, len(members))
	for _, member := range members {
		m[member.DID] = member
	}
	return &Room{ID: id, events: events, orphans: orphans, members: m}
}

// Apply ingests one inbound event per spec.md §4.4's receiver steps:
// verify signature, verify sender permission, resolve prev_ids (orphan
// if any are missing), then persist and link it into the DAG.
func (r *Room) Apply(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	member, ok := r.members[e.SenderDID]
	if !ok {
		return cerr.New(cerr.Permission, "Room.Apply", fmt.Errorf("sender %s not a member of room %s", e.SenderDID, r.ID))
	}

	ok, err := identity.VerifyWithRawEd25519(member.SigningPub, e.canonicalBytes(), e.Signature)
	if err != nil || !ok {
		return cerr.New(cerr.Crypto, "Room.Apply", fmt.Errorf("signature verification failed for event %s", e.EventID))
	}
	if ComputeEventID(e) != e.EventID {
		return cerr.New(cerr.Protocol, "Room.Apply", fmt.Errorf("event_id mismatch for %s", e.EventID))
	}

	missing, err := r.missingAncestors(e.PrevIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return r.markOrphan(e, missing)
	}

	if err := r.events.Put(e.EventID, e); err != nil {
		return err
	}
	return r.resolveOrphansWaitingOn(e.EventID)
}

func (r *Room) missingAncestors(prevIDs []string) ([]string, error) {
	var missing []string
	for _, id := range prevIDs {
		if id == "" {
			continue
		}
		if !r.events.Exists(id) {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// orphanEntry tracks one event waiting on a set of still-missing
// ancestor IDs.
type orphanEntry struct {
	Event   Event    `json:"event"`
	Waiting []string `json:"waiting"`
}

func (r *Room) markOrphan(e Event, missing []string) error {
	entry := orphanEntry{Event: e, Waiting: missing}
	return r.orphans.Put(e.EventID, entry)
}

// resolveOrphansWaitingOn re-checks every pending orphan once newID
// lands, applying any whose ancestors are now all present.
func (r *Room) resolveOrphansWaitingOn(newID string) error {
	var ready []orphanEntry
	err := r.orphans.ForEach(func(key string, value []byte) error {
		var entry orphanEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return err
		}
		entry.Waiting = removeString(entry.Waiting, newID)
		if len(entry.Waiting) == 0 {
			ready = append(ready, entry)
		} else if err := r.orphans.Put(entry.Event.EventID, entry); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, entry := range ready {
		if err := r.orphans.Delete(entry.Event.EventID); err != nil {
			return err
		}
		if err := r.events.Put(entry.Event.EventID, entry.Event); err != nil {
			return err
		}
		if err := r.resolveOrphansWaitingOn(entry.Event.EventID); err != nil {
			return err
		}
	}
	return nil
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// MissingOrphanIDs returns the set of ancestor IDs currently blocking
// at least one orphan, so the caller can request them from peers.
func (r *Room) MissingOrphanIDs() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	err := r.orphans.ForEach(func(_ string, value []byte) error {
		var entry orphanEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return err
		}
		for _, id := range entry.Waiting {
			seen[id] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Get returns a stored event by ID.
func (r *Room) Get(id string) (Event, error) {
	var e Event
	err := r.events.Get(id, &e)
	return e, err
}
