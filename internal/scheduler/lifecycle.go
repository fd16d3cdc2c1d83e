package scheduler

import (
	"github.com/siftengine/sift/internal/errors"
	"github.com/siftengine/sift/internal/tasks"
)

// executeIndexCreation creates a brand-new, empty index.
func (s *Scheduler) executeIndexCreation(t tasks.Task) map[uint64]taskOutcome {
	_, err := s.registry.Create(t.IndexUID, t.Details.PrimaryKey)
	if err != nil {
		return one(t.UID, failed(err))
	}
	s.registry.Release(t.IndexUID)
	return one(t.UID, succeeded(tasks.Details{PrimaryKey: t.Details.PrimaryKey}))
}

// executeIndexUpdate changes an index's primary key. The primary key can
// only change while the index holds no documents yet.
func (s *Scheduler) executeIndexUpdate(t tasks.Task) map[uint64]taskOutcome {
	idx, err := s.registry.Acquire(t.IndexUID)
	if err != nil {
		return one(t.UID, failed(err))
	}
	defer s.registry.Release(t.IndexUID)

	n, err := idx.NumberOfDocuments()
	if err != nil {
		return one(t.UID, failed(err))
	}
	if n > 0 {
		return one(t.UID, failed(errors.New(errors.CodePrimaryKeyCannotChange,
			"Index already has documents, primary key cannot be changed.", nil).
			WithDetail("indexUid", t.IndexUID)))
	}
	if err := idx.PutPrimaryKey(t.Details.PrimaryKey); err != nil {
		return one(t.UID, failed(err))
	}
	return one(t.UID, succeeded(tasks.Details{PrimaryKey: t.Details.PrimaryKey}))
}

// executeIndexDeletion permanently removes an index's data file.
func (s *Scheduler) executeIndexDeletion(t tasks.Task) map[uint64]taskOutcome {
	if err := s.registry.Delete(t.IndexUID); err != nil {
		return one(t.UID, failed(err))
	}
	return one(t.UID, succeeded(tasks.Details{}))
}

// executeIndexSwap exchanges the data files backing each named pair of
// indexes, atomically renaming both as far as any future Acquire sees.
func (s *Scheduler) executeIndexSwap(t tasks.Task) map[uint64]taskOutcome {
	for _, pair := range t.Details.SwapIndexes {
		if err := s.registry.Swap(pair.IndexA, pair.IndexB); err != nil {
			return one(t.UID, failed(err))
		}
	}
	return one(t.UID, succeeded(t.Details))
}

func one(uid uint64, o taskOutcome) map[uint64]taskOutcome {
	return map[uint64]taskOutcome{uid: o}
}
