package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// WAL is a thin sequential journal replayed into a bbolt database on
// Open. bbolt itself is a single-writer mmap B+tree with
// fsync-on-commit durability but no separate replayable log file.
// Engine opens and replays one journal per database; Bucket writes go
// straight to bbolt and do not append to it.
//
// Append journals one write as four uint32-length-prefixed frames:
// bucket name, key, value, and a frame holding walCommitMarker.
// Frames after the last complete commit marker are torn writes and
// are discarded on replay.
type WAL struct {
	mu   sync.Mutex
	file *os.File
}

const walCommitMarker = "\x00commit\x00"

func openWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}
	return &WAL{file: f}, nil
}

// Append records one bucket/key/value write ahead of the bbolt commit
// that will make it durable, followed by a commit marker.
func (w *WAL) Append(bucket, key, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := writeFrame(w.file, bucket); err != nil {
		return err
	}
	if err := writeFrame(w.file, key); err != nil {
		return err
	}
	if err := writeFrame(w.file, value); err != nil {
		return err
	}
	if err := writeFrame(w.file, []byte(walCommitMarker)); err != nil {
		return err
	}
	return w.file.Sync()
}

// Truncate resets the journal once the corresponding bbolt transaction
// has committed successfully, so replay never re-applies it.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Replay reapplies any complete bucket/key/value/commit quadruple
// found in the journal to db, then truncates the journal. An
// incomplete trailing record (a torn write from a crash mid-append)
// is silently dropped.
func (w *WAL) Replay(db *bolt.DB) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(w.file)

	type record struct{ bucket, key, value []byte }
	var pending []record

	for {
		bucket, err := readFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			break // torn write: stop replaying, discard the rest
		}
		key, err := readFrame(r)
		if err != nil {
			break
		}
		value, err := readFrame(r)
		if err != nil {
			break
		}
		marker, err := readFrame(r)
		if err != nil || string(marker) != walCommitMarker {
			break
		}
		pending = append(pending, record{bucket, key, value})
	}

	if len(pending) > 0 {
		err := db.Update(func(tx *bolt.Tx) error {
			for _, rec := range pending {
				b, err := tx.CreateBucketIfNotExists(rec.bucket)
				if err != nil {
					return err
				}
				if err := b.Put(rec.key, rec.value); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("replay wal records: %w", err)
		}
	}

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}

func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return buf, nil
}
