package scheduler

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/siftengine/sift/internal/errors"
	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/kv"
)

var bucketIndexUIDs = []byte("index_uids")

// IndexRegistry maps index names to the uuid-named directory their data
// file lives in, and hands out reference-counted *index.Index handles so
// the scheduler and concurrent search readers can share one open file
// handle per index instead of each opening their own.
type IndexRegistry struct {
	dataDir string
	meta    *kv.Environment

	mu   sync.Mutex
	open map[string]*openIndex
}

type openIndex struct {
	idx  *index.Index
	refs int
}

// OpenRegistry opens (creating if absent) the name-to-uuid mapping store
// under dataDir/indexes.
func OpenRegistry(dataDir string) (*IndexRegistry, error) {
	metaPath := filepath.Join(dataDir, "indexes", "registry.mdb")
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return nil, err
	}
	env, err := kv.Open(metaPath, kv.Options{})
	if err != nil {
		return nil, err
	}
	if err := env.EnsureBuckets(bucketIndexUIDs); err != nil {
		_ = env.Close()
		return nil, err
	}
	return &IndexRegistry{
		dataDir: dataDir,
		meta:    env,
		open:    make(map[string]*openIndex),
	}, nil
}

// Close releases every open index handle and the registry's own metadata
// store.
func (r *IndexRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, oi := range r.open {
		_ = oi.idx.Close()
		delete(r.open, name)
	}
	return r.meta.Close()
}

// Create mints a uuid for name, creates its data file, and returns a
// handle with one reference already held (the caller must Release it).
func (r *IndexRegistry) Create(name, primaryKey string) (*index.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok, err := r.lookupUUID(name); err != nil {
		return nil, err
	} else if ok {
		return nil, errors.New(errors.CodeIndexAlreadyExists,
			"Index `"+name+"` already exists.", nil).WithDetail("indexUid", name)
	}

	id := uuid.NewString()
	if err := r.storeUUID(name, id); err != nil {
		return nil, err
	}

	path := r.indexPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	idx, err := index.Create(name, path, primaryKey)
	if err != nil {
		return nil, err
	}
	r.open[name] = &openIndex{idx: idx, refs: 1}
	return idx, nil
}

// Acquire returns the shared handle for name, opening its data file on
// first access, and increments its reference count. Callers must call
// Release exactly once per successful Acquire.
func (r *IndexRegistry) Acquire(name string) (*index.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if oi, ok := r.open[name]; ok {
		oi.refs++
		return oi.idx, nil
	}

	id, ok, err := r.lookupUUID(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.IndexNotFound(name)
	}
	idx, err := index.Open(name, r.indexPath(id))
	if err != nil {
		return nil, err
	}
	r.open[name] = &openIndex{idx: idx, refs: 1}
	return idx, nil
}

// Release drops a reference acquired via Acquire or Create, closing the
// underlying file handle once no references remain.
func (r *IndexRegistry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oi, ok := r.open[name]
	if !ok {
		return
	}
	oi.refs--
	if oi.refs <= 0 {
		_ = oi.idx.Close()
		delete(r.open, name)
	}
}

// Delete closes (if open) and removes an index's data file and uuid
// mapping entirely. Callers must ensure no batch currently holds a
// reference before calling this.
func (r *IndexRegistry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok, err := r.lookupUUID(name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.IndexNotFound(name)
	}
	if oi, open := r.open[name]; open {
		_ = oi.idx.Close()
		delete(r.open, name)
	}
	if err := r.deleteUUID(name); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Dir(r.indexPath(id)))
}

// Swap exchanges the uuid mappings of a and b, so each name's handle now
// resolves to the other's data file. Both must already be closed by the
// caller (their batches finished) before swapping.
func (r *IndexRegistry) Swap(a, b string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idA, ok, err := r.lookupUUID(a)
	if err != nil {
		return err
	}
	if !ok {
		return errors.IndexNotFound(a)
	}
	idB, ok, err := r.lookupUUID(b)
	if err != nil {
		return err
	}
	if !ok {
		return errors.IndexNotFound(b)
	}
	return r.meta.Update(func(tx *kv.Tx) error {
		bk, err := tx.Bucket(bucketIndexUIDs)
		if err != nil {
			return err
		}
		if err := bk.Put([]byte(a), []byte(idB)); err != nil {
			return err
		}
		return bk.Put([]byte(b), []byte(idA))
	})
}

// Exists reports whether name has a uuid mapping, without opening its
// data file.
func (r *IndexRegistry) Exists(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok, err := r.lookupUUID(name)
	return ok, err
}

func (r *IndexRegistry) indexPath(id string) string {
	return filepath.Join(r.dataDir, "indexes", id, "data.mdb")
}

// DataDir returns the registry's root data directory, used by snapshot/dump
// to locate files outside the registry's own uuid-mapping abstraction
// (task queue, update files).
func (r *IndexRegistry) DataDir() string {
	return r.dataDir
}

// List returns every registered index name paired with the on-disk path to
// its data file, for snapshot/dump to enumerate and archive.
func (r *IndexRegistry) List() (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string)
	err := r.meta.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(bucketIndexUIDs)
		if err != nil {
			return err
		}
		b.Cursor().ForEach(func(key, value []byte) bool {
			out[string(key)] = r.indexPath(string(value))
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *IndexRegistry) lookupUUID(name string) (string, bool, error) {
	var id string
	var ok bool
	err := r.meta.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(bucketIndexUIDs)
		if err != nil {
			return err
		}
		data := b.Get([]byte(name))
		if data == nil {
			return nil
		}
		id, ok = string(data), true
		return nil
	})
	return id, ok, err
}

func (r *IndexRegistry) storeUUID(name, id string) error {
	return r.meta.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(bucketIndexUIDs)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), []byte(id))
	})
}

func (r *IndexRegistry) deleteUUID(name string) error {
	return r.meta.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(bucketIndexUIDs)
		if err != nil {
			return err
		}
		return b.Delete([]byte(name))
	})
}
