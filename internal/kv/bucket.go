package kv

import (
	bolt "go.etcd.io/bbolt"

	"github.com/siftengine/sift/internal/errors"
)

// Bucket is one named sub-database within an Environment: a sorted byte-key
// to byte-value map, addressable by Get/Put/Delete and walkable via Cursor.
type Bucket struct {
	b *bolt.Bucket
}

// Get returns the value for key, or nil if absent. The returned slice is
// only valid for the lifetime of the enclosing transaction — callers that
// need to retain it past the transaction must copy it.
func (b *Bucket) Get(key []byte) []byte {
	return b.b.Get(key)
}

// Put sets key to value, overwriting any existing entry.
func (b *Bucket) Put(key, value []byte) error {
	if err := b.b.Put(key, value); err != nil {
		return errors.New(errors.CodeInternal, "put kv entry", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (b *Bucket) Delete(key []byte) error {
	if err := b.b.Delete(key); err != nil {
		return errors.New(errors.CodeInternal, "delete kv entry", err)
	}
	return nil
}

// NextSequence returns a monotonically increasing integer for the bucket,
// used to mint internal document ids and task ids.
func (b *Bucket) NextSequence() (uint64, error) {
	seq, err := b.b.NextSequence()
	if err != nil {
		return 0, errors.New(errors.CodeInternal, "advance kv sequence", err)
	}
	return seq, nil
}

// Sequence returns the bucket's current sequence value without advancing it.
func (b *Bucket) Sequence() uint64 {
	return b.b.Sequence()
}

// Stats reports bucket-level size and fragmentation counters, surfaced by
// index/database-size diagnostics.
func (b *Bucket) Stats() bolt.BucketStats {
	return b.b.Stats()
}

// Cursor returns a cursor positioned before the bucket's first entry, for
// ordered range, prefix, and reverse scans.
func (b *Bucket) Cursor() *Cursor {
	return &Cursor{c: b.b.Cursor()}
}
