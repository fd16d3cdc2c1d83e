package tasks

import (
	"encoding/json"
	"sort"
	"time"

	roaring "github.com/RoaringBitmap/roaring/v2"

	"github.com/siftengine/sift/internal/codec"
	"github.com/siftengine/sift/internal/errors"
	"github.com/siftengine/sift/internal/kv"
)

// Filter mirrors the task-filter query parameters: every non-empty
// slice/pointer field narrows the result to its intersection, an empty
// Filter matches every task (the "*" wildcard).
type Filter struct {
	UIDs       []uint64
	CanceledBy []uint64
	Types      []Kind
	Statuses   []Status
	IndexUIDs  []string

	AfterEnqueuedAt  *time.Time
	BeforeEnqueuedAt *time.Time
	AfterStartedAt   *time.Time
	BeforeStartedAt  *time.Time
	AfterFinishedAt  *time.Time
	BeforeFinishedAt *time.Time

	// From is the uid to page backward/forward from; nil starts at the
	// newest (Reverse false) or oldest (Reverse true) end.
	From    *uint64
	Limit   int
	Reverse bool
}

// IsEmpty reports whether f carries no constraint at all, the shape that
// task-delete and task-cancel endpoints must reject with
// errors.CodeMissingTaskFilters.
func (f Filter) IsEmpty() bool {
	return len(f.UIDs) == 0 && len(f.CanceledBy) == 0 && len(f.Types) == 0 &&
		len(f.Statuses) == 0 && len(f.IndexUIDs) == 0 &&
		f.AfterEnqueuedAt == nil && f.BeforeEnqueuedAt == nil &&
		f.AfterStartedAt == nil && f.BeforeStartedAt == nil &&
		f.AfterFinishedAt == nil && f.BeforeFinishedAt == nil
}

// RequireNonEmpty returns errors.CodeMissingTaskFilters when f.IsEmpty,
// the check the task-delete and task-cancel endpoints must perform
// before acting on a filter.
func (f Filter) RequireNonEmpty() error {
	if f.IsEmpty() {
		return errors.New(errors.CodeMissingTaskFilters, "at least one task filter is required", nil)
	}
	return nil
}

// List resolves f against the secondary indexes and returns the matching
// tasks newest-first (or oldest-first when f.Reverse), applying From and
// Limit as a cursor page.
func (q *Queue) List(f Filter) ([]Task, error) {
	var out []Task
	err := q.env.View(func(tx *kv.Tx) error {
		matched, err := matchingUIDs(tx, f)
		if err != nil {
			return err
		}

		tasksB, err := tx.Bucket(BucketTasks)
		if err != nil {
			return err
		}

		// Default order is newest-first (descending uid), matching the
		// task-list endpoint's convention; Reverse flips to oldest-first.
		ids := matched.ToArray()
		if f.Reverse {
			sort.Sort(uint32Slice(ids))
		} else {
			sort.Sort(sort.Reverse(uint32Slice(ids)))
		}

		started := f.From == nil
		for _, id := range ids {
			uid := uint64(id)
			if !started {
				if uid == *f.From {
					started = true
				} else {
					continue
				}
			}
			if f.Limit > 0 && len(out) >= f.Limit {
				break
			}
			t, ok, err := getTask(tasksB, uid)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, t)
			}
		}
		return nil
	})
	return out, err
}

type uint32Slice []uint32

func (s uint32Slice) Len() int           { return len(s) }
func (s uint32Slice) Less(i, j int) bool { return s[i] < s[j] }
func (s uint32Slice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// matchingUIDs intersects every constraint f carries. An unconstrained
// Filter matches the full BucketTasks key space.
func matchingUIDs(tx *kv.Tx, f Filter) (*roaring.Bitmap, error) {
	result, err := allTaskIDs(tx)
	if err != nil {
		return nil, err
	}

	if len(f.UIDs) > 0 {
		only := roaring.New()
		for _, uid := range f.UIDs {
			only.Add(uint32(uid))
		}
		result.And(only)
	}

	if len(f.Statuses) > 0 {
		statusUnion, err := unionBitmapsByKey(tx, BucketByStatus, statusKeys(f.Statuses))
		if err != nil {
			return nil, err
		}
		result.And(statusUnion)
	}

	if len(f.Types) > 0 {
		typeUnion, err := unionBitmapsByKey(tx, BucketByKind, kindKeys(f.Types))
		if err != nil {
			return nil, err
		}
		result.And(typeUnion)
	}

	if len(f.IndexUIDs) > 0 {
		indexUnion, err := unionBitmapsByKey(tx, BucketByIndex, stringKeys(f.IndexUIDs))
		if err != nil {
			return nil, err
		}
		result.And(indexUnion)
	}

	if len(f.CanceledBy) > 0 {
		canceled, err := tasksCanceledBy(tx, f.CanceledBy)
		if err != nil {
			return nil, err
		}
		result.And(canceled)
	}

	if err := intersectDateRange(tx, result, BucketByEnqueued, f.AfterEnqueuedAt, f.BeforeEnqueuedAt); err != nil {
		return nil, err
	}
	if err := intersectDateRange(tx, result, BucketByStarted, f.AfterStartedAt, f.BeforeStartedAt); err != nil {
		return nil, err
	}
	if err := intersectDateRange(tx, result, BucketByFinished, f.AfterFinishedAt, f.BeforeFinishedAt); err != nil {
		return nil, err
	}

	return result, nil
}

func allTaskIDs(tx *kv.Tx) (*roaring.Bitmap, error) {
	b, err := tx.Bucket(BucketTasks)
	if err != nil {
		return nil, err
	}
	all := roaring.New()
	b.Cursor().ForEach(func(key, _ []byte) bool {
		all.Add(uint32(codec.DecodeUint64(key)))
		return true
	})
	return all, nil
}

func unionBitmapsByKey(tx *kv.Tx, bucket []byte, keys [][]byte) (*roaring.Bitmap, error) {
	b, err := tx.Bucket(bucket)
	if err != nil {
		return nil, err
	}
	union := roaring.New()
	for _, key := range keys {
		data := b.Get(key)
		if data == nil {
			continue
		}
		bm, err := codec.DecodeBitmap(data)
		if err != nil {
			return nil, err
		}
		union.Or(bm)
	}
	return union, nil
}

// intersectDateRange narrows result to tasks whose date-bucket timestamp
// falls in [after, before). A nil bound on either side leaves that side
// unbounded.
func intersectDateRange(tx *kv.Tx, result *roaring.Bitmap, bucket []byte, after, before *time.Time) error {
	if after == nil && before == nil {
		return nil
	}
	b, err := tx.Bucket(bucket)
	if err != nil {
		return err
	}

	var start, end []byte
	if after != nil {
		start = dateKey(*after)
	}
	if before != nil {
		end = dateKey(*before)
	}

	inRange := roaring.New()
	b.Cursor().ForEachRange(start, end, func(_, value []byte) bool {
		bm, decodeErr := codec.DecodeBitmap(value)
		if decodeErr != nil {
			err = decodeErr
			return false
		}
		inRange.Or(bm)
		return true
	})
	if err != nil {
		return err
	}
	result.And(inRange)
	return nil
}

func tasksCanceledBy(tx *kv.Tx, cancelers []uint64) (*roaring.Bitmap, error) {
	tasksB, err := tx.Bucket(BucketTasks)
	if err != nil {
		return nil, err
	}
	by := make(map[uint64]bool, len(cancelers))
	for _, c := range cancelers {
		by[c] = true
	}
	out := roaring.New()
	tasksB.Cursor().ForEach(func(_, value []byte) bool {
		var t Task
		if json.Unmarshal(value, &t) == nil && t.CanceledBy != nil && by[*t.CanceledBy] {
			out.Add(uint32(t.UID))
		}
		return true
	})
	return out, nil
}

func statusKeys(ss []Status) [][]byte {
	keys := make([][]byte, len(ss))
	for i, s := range ss {
		keys[i] = []byte(s)
	}
	return keys
}

func kindKeys(ks []Kind) [][]byte {
	keys := make([][]byte, len(ks))
	for i, k := range ks {
		keys[i] = []byte(k)
	}
	return keys
}

func stringKeys(ss []string) [][]byte {
	keys := make([][]byte, len(ss))
	for i, s := range ss {
		keys[i] = []byte(s)
	}
	return keys
}
