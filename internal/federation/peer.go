package federation

import (
	"time"

	"github.com/mosiyuan/cis/internal/storage"
)

// PeerRegistry is the core.db-backed store of PeerRecords.
type PeerRegistry struct {
	bucket *storage.Bucket
}

func NewPeerRegistry(bucket *storage.Bucket) *PeerRegistry {
	return &PeerRegistry{bucket: bucket}
}

// Discover creates (or refreshes last_seen on) a Peer Record with
// trust_state=Unknown, per spec.md §4.4's discovery contract.
func (r *PeerRegistry) Discover(did string, addresses []string, signingPub, exchangePub []byte) (PeerRecord, error) {
	var rec PeerRecord
	err := r.bucket.Get(did, &rec)
	if err != nil {
		rec = PeerRecord{DID: did, TrustState: TrustUnknown}
	}
	rec.Addresses = addresses
	rec.SigningPub = signingPub
	rec.ExchangePub = exchangePub
	rec.LastSeen = time.Now()
	if putErr := r.bucket.Put(did, rec); putErr != nil {
		return PeerRecord{}, putErr
	}
	return rec, nil
}

func (r *PeerRegistry) Get(did string) (PeerRecord, error) {
	var rec PeerRecord
	err := r.bucket.Get(did, &rec)
	return rec, err
}

func (r *PeerRegistry) SetTrust(did string, trust TrustState) error {
	rec, err := r.Get(did)
	if err != nil {
		return err
	}
	rec.TrustState = trust
	return r.bucket.Put(did, rec)
}

func (r *PeerRegistry) Touch(did string) error {
	rec, err := r.Get(did)
	if err != nil {
		return err
	}
	rec.LastSeen = time.Now()
	return r.bucket.Put(did, rec)
}

func (r *PeerRegistry) List() ([]PeerRecord, error) {
	var out []PeerRecord
	err := r.bucket.ForEach(func(_ string, value []byte) error {
		var rec PeerRecord
		if err := decodeJSON(value, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}
