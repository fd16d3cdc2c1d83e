// Package kv provides the transactional, memory-mapped key/value
// environment that backs every index and the task queue. It wraps
// go.etcd.io/bbolt with the typed-sub-database, snapshot, and ordered-scan
// contract the rest of sift's storage layer is built on.
package kv

import (
	"fmt"
	"io"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/siftengine/sift/internal/errors"
)

// Options configures how an Environment's data file is opened.
type Options struct {
	// ReadOnly opens the environment without acquiring the writer lock,
	// used by search threads that only ever take read transactions.
	ReadOnly bool

	// Timeout bounds how long Open waits to acquire the file lock before
	// giving up. Zero means DefaultOpenTimeout.
	Timeout time.Duration

	// NoSync disables fsync on every commit. Only safe for throwaway
	// environments (tests, dump-import staging) since it trades durability
	// for write throughput.
	NoSync bool
}

// DefaultOpenTimeout bounds how long Open waits for the file lock before
// giving up, so a stuck process doesn't hang a caller indefinitely.
const DefaultOpenTimeout = 5 * time.Second

// Environment is a single on-disk database: one data file, multiple named
// sub-databases ("buckets"), multi-reader/single-writer semantics, and
// atomic, durable commits. Every index gets its own Environment, as does
// the task queue.
type Environment struct {
	db   *bolt.DB
	path string
}

// Open opens (creating if absent) the environment at path.
func Open(path string, opts Options) (*Environment, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultOpenTimeout
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{
		ReadOnly: opts.ReadOnly,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, fmt.Sprintf("open kv environment at %s", path), err).
			WithDetail("path", path)
	}
	db.NoSync = opts.NoSync

	return &Environment{db: db, path: path}, nil
}

// Path returns the filesystem path the environment was opened from.
func (e *Environment) Path() string {
	return e.path
}

// Close releases the environment's file handle. Any in-flight transactions
// must have completed first.
func (e *Environment) Close() error {
	if err := e.db.Close(); err != nil {
		return errors.New(errors.CodeInternal, "close kv environment", err).WithDetail("path", e.path)
	}
	return nil
}

// EnsureBuckets creates every named sub-database that does not already
// exist, in a single write transaction.
func (e *Environment) EnsureBuckets(names ...[]byte) error {
	return e.Update(func(tx *Tx) error {
		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// View runs fn in a read-only transaction. Readers never block writers and
// see a consistent point-in-time snapshot of every bucket.
func (e *Environment) View(fn func(*Tx) error) error {
	return wrapTxErr(e.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	}))
}

// Update runs fn in a read-write transaction. The transaction commits
// atomically and durably if fn returns nil, and rolls back entirely
// otherwise — callers never observe a partially-applied Update.
func (e *Environment) Update(fn func(*Tx) error) error {
	return wrapTxErr(e.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	}))
}

// Snapshot streams a byte-for-byte consistent copy of the whole environment
// to w. It holds only a read transaction for the duration of the copy, so
// writers are never locked out while a snapshot is in progress.
func (e *Environment) Snapshot(w io.Writer) error {
	err := e.db.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(w)
		return err
	})
	if err != nil {
		return errors.New(errors.CodeInternal, "snapshot kv environment", err).WithDetail("path", e.path)
	}
	return nil
}

// wrapTxErr normalizes a transaction error into a *errors.SiftError,
// leaving one that already is untouched.
func wrapTxErr(err error) error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*errors.SiftError); ok {
		return se
	}
	return errors.New(errors.CodeInternal, "kv transaction failed", err)
}
