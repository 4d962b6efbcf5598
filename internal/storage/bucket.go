package storage

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/mosiyuan/cis/internal/cerr"
)

// Bucket is a typed, JSON-marshaled view over one bbolt bucket,
// generalizing the per-entity Create/Get/List/Delete methods
// cuemby-warren hand-writes once per entity type (CreateNode/GetNode/
// ListNodes/...) into a single reusable helper.
type Bucket struct {
	db   *bolt.DB
	name []byte
}

func NewBucket(db *bolt.DB, name []byte) *Bucket {
	return &Bucket{db: db, name: name}
}

// Put upserts key with the JSON encoding of value.
func (b *Bucket) Put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return cerr.New(cerr.Storage, "bucket.Put", err)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.name).Put([]byte(key), data)
	})
	if err != nil {
		return cerr.New(cerr.Storage, "bucket.Put", err)
	}
	return nil
}

// Get decodes key's value into out. Returns cerr.NotFound if absent.
func (b *Bucket) Get(key string, out any) error {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.name).Get([]byte(key))
		if v == nil {
			return cerr.New(cerr.NotFound, "bucket.Get", fmt.Errorf("key %q", key))
		}
		data = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return cerr.New(cerr.Storage, "bucket.Get", err)
	}
	return nil
}

// Delete removes key; a missing key is not an error.
func (b *Bucket) Delete(key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.name).Delete([]byte(key))
	})
	if err != nil {
		return cerr.New(cerr.Storage, "bucket.Delete", err)
	}
	return nil
}

// Exists reports whether key is present.
func (b *Bucket) Exists(key string) bool {
	var found bool
	_ = b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(b.name).Get([]byte(key)) != nil
		return nil
	})
	return found
}

// ForEach decodes every value in the bucket via decode, stopping early
// if decode returns an error.
func (b *Bucket) ForEach(decode func(key string, value []byte) error) error {
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(b.name).ForEach(func(k, v []byte) error {
			return decode(string(k), v)
		})
	})
	if err != nil {
		return cerr.New(cerr.Storage, "bucket.ForEach", err)
	}
	return nil
}

// ScanPrefix calls decode for every key with the given prefix, used by
// the memory service's path-like key lookups.
func (b *Bucket) ScanPrefix(prefix string, decode func(key string, value []byte) error) error {
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(b.name).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			if err := decode(string(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return cerr.New(cerr.Storage, "bucket.ScanPrefix", err)
	}
	return nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
