package index

import (
	"time"

	roaring "github.com/RoaringBitmap/roaring/v2"

	"github.com/siftengine/sift/internal/codec"
	"github.com/siftengine/sift/internal/kv"
)

// Index owns one kv.Environment file handle and the per-index metadata —
// settings, fields-ids map, field distribution, primary key, lifecycle
// timestamps, and the set of live internal document ids — stored in
// BucketMain alongside the twelve posting/facet/document sub-databases
// listed in buckets.go.
type Index struct {
	UID string
	env *kv.Environment
}

// Open opens an existing index's data file at path. Callers that might be
// creating the index for the first time should use Create instead.
func Open(uid, path string) (*Index, error) {
	env, err := kv.Open(path, kv.Options{})
	if err != nil {
		return nil, err
	}
	return &Index{UID: uid, env: env}, nil
}

// Create opens (creating the file if absent) an index's data file, ensures
// every sub-database exists, and — only the first time the file is ever
// opened — seeds BucketMain with default settings, an empty fields-ids
// map, and primaryKey.
func Create(uid, path, primaryKey string) (*Index, error) {
	env, err := kv.Open(path, kv.Options{})
	if err != nil {
		return nil, err
	}
	idx := &Index{UID: uid, env: env}
	if err := env.EnsureBuckets(AllBuckets...); err != nil {
		return nil, err
	}

	var alreadyInitialized bool
	err = env.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketMain)
		if err != nil {
			return err
		}
		alreadyInitialized = b.Get(mainKeyCreatedAt) != nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if alreadyInitialized {
		return idx, nil
	}

	now := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	err = env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketMain)
		if err != nil {
			return err
		}
		if err := b.Put(mainKeyCreatedAt, now); err != nil {
			return err
		}
		if err := b.Put(mainKeyUpdatedAt, now); err != nil {
			return err
		}
		if err := b.Put(mainKeyPrimaryKey, []byte(primaryKey)); err != nil {
			return err
		}
		settingsData, err := DefaultSettings().Marshal()
		if err != nil {
			return err
		}
		if err := b.Put(mainKeySettings, settingsData); err != nil {
			return err
		}
		fieldsData, err := NewFieldsIDsMap().Marshal()
		if err != nil {
			return err
		}
		return b.Put(mainKeyFieldsIDsMap, fieldsData)
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// Close releases the index's file handle.
func (idx *Index) Close() error {
	return idx.env.Close()
}

// Env exposes the underlying environment for packages that need raw
// transactional access beyond Index's accessor methods (internal/indexer
// writing postings, internal/search reading them, internal/snapshot
// streaming the whole file).
func (idx *Index) Env() *kv.Environment {
	return idx.env
}

// Settings returns the index's current settings.
func (idx *Index) Settings() (Settings, error) {
	var s Settings
	err := idx.env.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketMain)
		if err != nil {
			return err
		}
		s, err = UnmarshalSettings(b.Get(mainKeySettings))
		return err
	})
	return s, err
}

// PutSettings persists new settings and bumps the updated-at timestamp.
func (idx *Index) PutSettings(s Settings) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	now := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	return idx.env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketMain)
		if err != nil {
			return err
		}
		if err := b.Put(mainKeySettings, data); err != nil {
			return err
		}
		return b.Put(mainKeyUpdatedAt, now)
	})
}

// FieldsIDsMap returns the index's current name<->id bijection.
func (idx *Index) FieldsIDsMap() (*FieldsIDsMap, error) {
	var m *FieldsIDsMap
	err := idx.env.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketMain)
		if err != nil {
			return err
		}
		m, err = UnmarshalFieldsIDsMap(b.Get(mainKeyFieldsIDsMap))
		return err
	})
	return m, err
}

// PutFieldsIDsMap persists an updated fields-ids map, e.g. after indexing
// introduced field names the map didn't know about yet.
func (idx *Index) PutFieldsIDsMap(m *FieldsIDsMap) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	return idx.env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketMain)
		if err != nil {
			return err
		}
		return b.Put(mainKeyFieldsIDsMap, data)
	})
}

// FieldDistribution returns how many documents carry a value for each
// known field name.
func (idx *Index) FieldDistribution() (FieldDistribution, error) {
	var d FieldDistribution
	err := idx.env.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketMain)
		if err != nil {
			return err
		}
		d, err = UnmarshalFieldDistribution(b.Get(mainKeyFieldDistribution))
		return err
	})
	return d, err
}

// PutFieldDistribution persists an updated field distribution.
func (idx *Index) PutFieldDistribution(d FieldDistribution) error {
	data, err := d.Marshal()
	if err != nil {
		return err
	}
	return idx.env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketMain)
		if err != nil {
			return err
		}
		return b.Put(mainKeyFieldDistribution, data)
	})
}

// PrimaryKey returns the attribute name used as each document's external
// identifier.
func (idx *Index) PrimaryKey() (string, error) {
	var pk string
	err := idx.env.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketMain)
		if err != nil {
			return err
		}
		pk = string(b.Get(mainKeyPrimaryKey))
		return nil
	})
	return pk, err
}

// PutPrimaryKey sets the attribute name used as each document's external
// identifier. Callers must ensure the index has no documents yet; the
// scheduler enforces this before calling it.
func (idx *Index) PutPrimaryKey(pk string) error {
	now := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	return idx.env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketMain)
		if err != nil {
			return err
		}
		if err := b.Put(mainKeyPrimaryKey, []byte(pk)); err != nil {
			return err
		}
		return b.Put(mainKeyUpdatedAt, now)
	})
}

// CreatedAt returns when the index file was first initialized.
func (idx *Index) CreatedAt() (time.Time, error) {
	return idx.readTimestamp(mainKeyCreatedAt)
}

// UpdatedAt returns when the index's settings or documents last changed.
func (idx *Index) UpdatedAt() (time.Time, error) {
	return idx.readTimestamp(mainKeyUpdatedAt)
}

func (idx *Index) readTimestamp(key []byte) (time.Time, error) {
	var ts time.Time
	err := idx.env.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketMain)
		if err != nil {
			return err
		}
		raw := b.Get(key)
		if raw == nil {
			return nil
		}
		ts, err = time.Parse(time.RFC3339Nano, string(raw))
		return err
	})
	return ts, err
}

// DocumentIDs returns the roaring bitmap of every internal document id
// currently stored in the index.
func (idx *Index) DocumentIDs() (*roaring.Bitmap, error) {
	var bm *roaring.Bitmap
	err := idx.env.View(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketMain)
		if err != nil {
			return err
		}
		data := b.Get(mainKeyDocumentsIDs)
		if data == nil {
			bm = roaring.New()
			return nil
		}
		bm, err = codec.DecodeBitmap(data)
		return err
	})
	return bm, err
}

// PutDocumentIDs persists the full set of live internal document ids.
func (idx *Index) PutDocumentIDs(bm *roaring.Bitmap) error {
	data, err := codec.EncodeBitmap(bm)
	if err != nil {
		return err
	}
	return idx.env.Update(func(tx *kv.Tx) error {
		b, err := tx.Bucket(BucketMain)
		if err != nil {
			return err
		}
		return b.Put(mainKeyDocumentsIDs, data)
	})
}

// NumberOfDocuments reports how many documents the index currently holds.
func (idx *Index) NumberOfDocuments() (uint64, error) {
	bm, err := idx.DocumentIDs()
	if err != nil {
		return 0, err
	}
	return bm.GetCardinality(), nil
}
