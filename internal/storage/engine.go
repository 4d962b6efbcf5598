// Package storage implements C2, the only durable state for every
// other component (spec.md §4.2). Five logical bbolt databases are
// opened under one data directory, each bucket-per-entity, grounded on
// cuemby-warren's pkg/storage/boltdb.go (bolt.Open, bucket-per-entity,
// JSON-marshaled values, Update/View transactions) generalized from a
// single database file to five.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/telemetry"
)

// db file names, one per logical database of spec.md §4.2.
const (
	coreDB       = "core.db"
	memoryDB     = "memory.db"
	federationDB = "federation.db"
	skillsDB     = "skills.db"
	telemetryDB  = "telemetry.db"
)

// Engine owns the five bbolt databases and their WAL journals. Open
// has no degraded fallback: if any database fails to open, replay its
// journal or create its buckets, Open returns a cerr.Storage error.
type Engine struct {
	dir string
	log zerolog.Logger

	Core       *bolt.DB
	Memory     *bolt.DB
	Federation *bolt.DB
	Skills     *bolt.DB
	Telemetry  *bolt.DB

	wals     map[*bolt.DB]*WAL
	degraded bool
}

// Open opens (creating if absent) the five databases under dir,
// replaying any partial WAL journal found for each.
func Open(dir string) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, cerr.New(cerr.Storage, "storage.Open", fmt.Errorf("create data dir: %w", err))
	}

	e := &Engine{dir: dir, log: telemetry.Component("storage"), wals: make(map[*bolt.DB]*WAL)}

	specs := []struct {
		file    string
		target  **bolt.DB
		buckets [][]byte
	}{
		{coreDB, &e.Core, [][]byte{bucketPeers, bucketACL, bucketServiceState}},
		{memoryDB, &e.Memory, [][]byte{bucketMemoryPrivate, bucketMemoryPublic, bucketVectorIndex}},
		{federationDB, &e.Federation, [][]byte{bucketEvents, bucketRooms, bucketOrphans, bucketSyncQueue}},
		{skillsDB, &e.Skills, [][]byte{bucketManifests, bucketSkillAttachments, bucketSkillConfig, bucketDAGs}},
		{telemetryDB, &e.Telemetry, [][]byte{bucketCounters, bucketLogs}},
	}

	for _, s := range specs {
		db, wal, degraded, err := openOne(dir, s.file, s.buckets)
		if err != nil {
			e.closeAll()
			return nil, cerr.New(cerr.Storage, "storage.Open", err)
		}
		*s.target = db
		e.wals[db] = wal
		if degraded {
			e.degraded = true
			e.log.Warn().Str("file", s.file).Msg("database opened in degraded mode")
		}
	}

	return e, nil
}

func openOne(dir, file string, buckets [][]byte) (db *bolt.DB, wal *WAL, degraded bool, err error) {
	path := filepath.Join(dir, file)

	wal, err = openWAL(path + ".wal")
	if err != nil {
		return nil, nil, false, fmt.Errorf("open wal for %s: %w", file, err)
	}

	db, err = bolt.Open(path, 0o600, nil)
	if err != nil {
		degraded = true
		return nil, wal, degraded, fmt.Errorf("open %s: %w", file, err)
	}

	if err := wal.Replay(db); err != nil {
		return db, wal, true, fmt.Errorf("replay wal for %s: %w", file, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		return db, wal, true, err
	}
	return db, wal, false, nil
}

// PeerBucket, ACLBucket, ... expose typed views over each database's
// named buckets so C4/C5/C6 never need package-private bucket name
// constants; they construct a *Bucket once at wiring time and hold it
// for the component's lifetime.
func (e *Engine) PeerBucket() *Bucket        { return NewBucket(e.Core, bucketPeers) }
func (e *Engine) ACLBucket() *Bucket         { return NewBucket(e.Core, bucketACL) }
func (e *Engine) ServiceStateBucket() *Bucket { return NewBucket(e.Core, bucketServiceState) }

func (e *Engine) MemoryPrivateBucket() *Bucket { return NewBucket(e.Memory, bucketMemoryPrivate) }
func (e *Engine) MemoryPublicBucket() *Bucket  { return NewBucket(e.Memory, bucketMemoryPublic) }
func (e *Engine) VectorIndexBucket() *Bucket   { return NewBucket(e.Memory, bucketVectorIndex) }

func (e *Engine) EventsBucket() *Bucket    { return NewBucket(e.Federation, bucketEvents) }
func (e *Engine) RoomsBucket() *Bucket     { return NewBucket(e.Federation, bucketRooms) }
func (e *Engine) OrphansBucket() *Bucket   { return NewBucket(e.Federation, bucketOrphans) }
func (e *Engine) SyncQueueBucket() *Bucket { return NewBucket(e.Federation, bucketSyncQueue) }

func (e *Engine) ManifestsBucket() *Bucket        { return NewBucket(e.Skills, bucketManifests) }
func (e *Engine) SkillAttachmentsBucket() *Bucket { return NewBucket(e.Skills, bucketSkillAttachments) }
func (e *Engine) SkillConfigBucket() *Bucket      { return NewBucket(e.Skills, bucketSkillConfig) }
func (e *Engine) DAGsBucket() *Bucket             { return NewBucket(e.Skills, bucketDAGs) }

func (e *Engine) CountersBucket() *Bucket { return NewBucket(e.Telemetry, bucketCounters) }
func (e *Engine) LogsBucket() *Bucket     { return NewBucket(e.Telemetry, bucketLogs) }

// Degraded reports whether any database opened in degraded mode. Open
// never sets it (a database that fails to open makes Open return an
// error), so an Engine returned by Open reports false.
func (e *Engine) Degraded() bool { return e.degraded }

func (e *Engine) closeAll() {
	for _, db := range []*bolt.DB{e.Core, e.Memory, e.Federation, e.Skills, e.Telemetry} {
		if db != nil {
			_ = db.Close()
		}
	}
}

// Close closes every database and its WAL journal.
func (e *Engine) Close() error {
	var firstErr error
	for _, db := range []*bolt.DB{e.Core, e.Memory, e.Federation, e.Skills, e.Telemetry} {
		if db == nil {
			continue
		}
		if w, ok := e.wals[db]; ok {
			_ = w.Close()
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
