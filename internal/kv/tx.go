package kv

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/siftengine/sift/internal/errors"
)

// Tx wraps a single bbolt transaction, read-only or read-write.
type Tx struct {
	tx *bolt.Tx
}

// Writable reports whether the transaction can mutate buckets.
func (t *Tx) Writable() bool {
	return t.tx.Writable()
}

// Bucket looks up a previously-created sub-database by name. Sub-database
// names are fixed by each component's schema (see internal/index,
// internal/tasks), so a missing bucket indicates a programming error or a
// corrupted data file rather than a user-facing condition.
func (t *Tx) Bucket(name []byte) (*Bucket, error) {
	b := t.tx.Bucket(name)
	if b == nil {
		return nil, errors.New(errors.CodeInternal, fmt.Sprintf("bucket %q not found", name), nil).
			WithDetail("bucket", string(name))
	}
	return &Bucket{b: b}, nil
}

// CreateBucketIfNotExists returns the named sub-database, creating it first
// if this is its first use.
func (t *Tx) CreateBucketIfNotExists(name []byte) (*Bucket, error) {
	b, err := t.tx.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, fmt.Sprintf("create bucket %q", name), err).
			WithDetail("bucket", string(name))
	}
	return &Bucket{b: b}, nil
}

// DeleteBucket drops a sub-database and everything in it, used by Clear
// operations that reset an index while keeping its settings bucket intact.
func (t *Tx) DeleteBucket(name []byte) error {
	if err := t.tx.DeleteBucket(name); err != nil {
		return errors.New(errors.CodeInternal, fmt.Sprintf("delete bucket %q", name), err).
			WithDetail("bucket", string(name))
	}
	return nil
}
