package spool

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketCursor = []byte("cursor")

var keyAcked = []byte("acked_offset")

// Index is the bbolt-backed durable record of the spool's acked cursor,
// kept separate from the segment files themselves so Ack doesn't need to
// touch the append path.
type Index struct {
	db *bolt.DB
}

// OpenIndex opens (or creates) the bbolt index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("spool: bolt.Open(%q): %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCursor)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("spool: init cursor bucket: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying bbolt database.
func (i *Index) Close() error { return i.db.Close() }

// Acked returns the highest acked offset, or -1 if nothing has been acked.
func (i *Index) Acked() (int64, error) {
	var acked int64 = -1
	err := i.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCursor).Get(keyAcked)
		if v == nil {
			return nil
		}
		acked = int64(binary.BigEndian.Uint64(v))
		return nil
	})
	return acked, err
}

// OldestUnacked returns Acked()+1, the next offset the Forwarder still
// owes an ack for.
func (i *Index) OldestUnacked() (int64, error) {
	acked, err := i.Acked()
	if err != nil {
		return 0, err
	}
	return acked + 1, nil
}

// SetAcked durably advances the acked cursor to upTo, refusing to move it
// backwards (a stale/duplicate ack from a reconnecting Forwarder is a
// no-op, not a regression).
func (i *Index) SetAcked(upTo int64) error {
	return i.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCursor)
		v := b.Get(keyAcked)
		if v != nil {
			current := int64(binary.BigEndian.Uint64(v))
			if upTo <= current {
				return nil
			}
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(upTo))
		return b.Put(keyAcked, buf)
	})
}
