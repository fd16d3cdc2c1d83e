package tasks

import (
	"encoding/json"
	"time"

	roaring "github.com/RoaringBitmap/roaring/v2"

	"github.com/siftengine/sift/internal/codec"
	"github.com/siftengine/sift/internal/errors"
	"github.com/siftengine/sift/internal/kv"
)

// Sub-database names for the task-queue environment, mirroring
// internal/index's one-var-block-per-table convention.
var (
	BucketTasks      = []byte("tasks")
	BucketByStatus   = []byte("tasks_by_status")
	BucketByKind     = []byte("tasks_by_kind")
	BucketByIndex    = []byte("tasks_by_index")
	BucketByEnqueued = []byte("tasks_by_enqueued_at")
	BucketByStarted  = []byte("tasks_by_started_at")
	BucketByFinished = []byte("tasks_by_finished_at")
)

// AllBuckets lists every sub-database the queue opens, used by
// Environment.EnsureBuckets when creating a fresh instance.
var AllBuckets = [][]byte{
	BucketTasks,
	BucketByStatus,
	BucketByKind,
	BucketByIndex,
	BucketByEnqueued,
	BucketByStarted,
	BucketByFinished,
}

// Queue is the durable, append-only task log plus its secondary bitmap
// indexes. Registration writes the task and every index update in a
// single transaction, the only path that mints a task identity; every
// later mutation (status transition, timestamps, details, error) goes
// through Update so the indexes never drift from the primary record.
type Queue struct {
	env *kv.Environment
}

// Open opens (creating if absent) a task queue backed by the environment
// at path.
func Open(path string) (*Queue, error) {
	env, err := kv.Open(path, kv.Options{})
	if err != nil {
		return nil, err
	}
	if err := env.EnsureBuckets(AllBuckets...); err != nil {
		_ = env.Close()
		return nil, err
	}
	return &Queue{env: env}, nil
}

// Env returns the queue's underlying environment, used by internal/snapshot
// to stream a consistent copy of the task log.
func (q *Queue) Env() *kv.Environment {
	return q.env
}

// Close releases the queue's file handle.
func (q *Queue) Close() error {
	return q.env.Close()
}

// Register mints the next task uid, stores the task, and updates every
// secondary index in one transaction. t.UID, t.Status, and t.EnqueuedAt
// are set on the passed-in value before it is persisted.
func (q *Queue) Register(t Task) (Task, error) {
	var stored Task
	err := q.env.Update(func(tx *kv.Tx) error {
		tasksB, err := tx.Bucket(BucketTasks)
		if err != nil {
			return err
		}
		uid, err := tasksB.NextSequence()
		if err != nil {
			return err
		}

		t.UID = uid
		t.Status = StatusEnqueued
		t.EnqueuedAt = time.Now().UTC()
		t.StartedAt = nil
		t.FinishedAt = nil
		t.BatchUID = nil
		t.CanceledBy = nil
		t.Error = nil

		if err := putTask(tasksB, t); err != nil {
			return err
		}
		if err := addToIndexes(tx, t); err != nil {
			return err
		}
		stored = t
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return stored, nil
}

// Get fetches a task by uid.
func (q *Queue) Get(uid uint64) (Task, error) {
	var t Task
	err := q.env.View(func(tx *kv.Tx) error {
		tasksB, err := tx.Bucket(BucketTasks)
		if err != nil {
			return err
		}
		found, ok, err := getTask(tasksB, uid)
		if err != nil {
			return err
		}
		if !ok {
			return errors.TaskNotFound(uid)
		}
		t = found
		return nil
	})
	return t, err
}

// Update reads the task at uid, applies fn, rewrites every secondary
// index whose membership changed, and persists the result. fn mutates
// its argument in place.
func (q *Queue) Update(uid uint64, fn func(*Task)) (Task, error) {
	var updated Task
	err := q.env.Update(func(tx *kv.Tx) error {
		tasksB, err := tx.Bucket(BucketTasks)
		if err != nil {
			return err
		}
		before, ok, err := getTask(tasksB, uid)
		if err != nil {
			return err
		}
		if !ok {
			return errors.TaskNotFound(uid)
		}

		after := before
		fn(&after)
		after.UID = before.UID

		if err := removeFromIndexes(tx, before); err != nil {
			return err
		}
		if err := addToIndexes(tx, after); err != nil {
			return err
		}
		if err := putTask(tasksB, after); err != nil {
			return err
		}
		updated = after
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return updated, nil
}

// Delete removes a task from the log and every secondary index. Used by
// task-deletion tasks to garbage-collect finished tasks; deleting a task
// that doesn't exist is a no-op.
func (q *Queue) Delete(uid uint64) error {
	return q.env.Update(func(tx *kv.Tx) error {
		tasksB, err := tx.Bucket(BucketTasks)
		if err != nil {
			return err
		}
		existing, ok, err := getTask(tasksB, uid)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := removeFromIndexes(tx, existing); err != nil {
			return err
		}
		return tasksB.Delete(codec.EncodeUint64(uid))
	})
}

func putTask(b *kv.Bucket, t Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return b.Put(codec.EncodeUint64(t.UID), data)
}

func getTask(b *kv.Bucket, uid uint64) (Task, bool, error) {
	data := b.Get(codec.EncodeUint64(uid))
	if data == nil {
		return Task{}, false, nil
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, false, err
	}
	return t, true, nil
}

// addToIndexes adds t.UID to every secondary bitmap its current field
// values belong in.
func addToIndexes(tx *kv.Tx, t Task) error {
	return mutateIndexes(tx, t, func(bm *roaring.Bitmap) { bm.Add(uint32(t.UID)) })
}

// removeFromIndexes removes t.UID from every secondary bitmap its
// (possibly stale) field values belong in, used before an Update
// rewrites a task whose indexed fields changed.
func removeFromIndexes(tx *kv.Tx, t Task) error {
	return mutateIndexes(tx, t, func(bm *roaring.Bitmap) { bm.Remove(uint32(t.UID)) })
}

func mutateIndexes(tx *kv.Tx, t Task, apply func(*roaring.Bitmap)) error {
	statusB, err := tx.Bucket(BucketByStatus)
	if err != nil {
		return err
	}
	if err := mutateBitmapEntry(statusB, []byte(t.Status), apply); err != nil {
		return err
	}

	kindB, err := tx.Bucket(BucketByKind)
	if err != nil {
		return err
	}
	if err := mutateBitmapEntry(kindB, []byte(t.Kind), apply); err != nil {
		return err
	}

	if t.IndexUID != "" {
		indexB, err := tx.Bucket(BucketByIndex)
		if err != nil {
			return err
		}
		if err := mutateBitmapEntry(indexB, []byte(t.IndexUID), apply); err != nil {
			return err
		}
	}

	if err := mutateDateIndex(tx, BucketByEnqueued, t.EnqueuedAt, apply); err != nil {
		return err
	}
	if t.StartedAt != nil {
		if err := mutateDateIndex(tx, BucketByStarted, *t.StartedAt, apply); err != nil {
			return err
		}
	}
	if t.FinishedAt != nil {
		if err := mutateDateIndex(tx, BucketByFinished, *t.FinishedAt, apply); err != nil {
			return err
		}
	}
	return nil
}

// mutateDateIndex keys a date-range bucket by exact RFC3339Nano timestamp,
// so afterX/beforeX query parameters translate directly into a
// Cursor.ForEachRange scan (see intersectDateRange in filter.go) instead
// of a full-bucket union. Two tasks landing on the same instant share one
// bitmap entry.
func mutateDateIndex(tx *kv.Tx, bucket []byte, at time.Time, apply func(*roaring.Bitmap)) error {
	b, err := tx.Bucket(bucket)
	if err != nil {
		return err
	}
	return mutateBitmapEntry(b, dateKey(at), apply)
}

func dateKey(at time.Time) []byte {
	return []byte(at.UTC().Format(time.RFC3339Nano))
}

func mutateBitmapEntry(b *kv.Bucket, key []byte, apply func(*roaring.Bitmap)) error {
	bm := roaring.New()
	if data := b.Get(key); data != nil {
		decoded, err := codec.DecodeBitmap(data)
		if err != nil {
			return err
		}
		bm = decoded
	}
	apply(bm)
	if bm.IsEmpty() {
		return b.Delete(key)
	}
	encoded, err := codec.EncodeBitmap(bm)
	if err != nil {
		return err
	}
	return b.Put(key, encoded)
}
