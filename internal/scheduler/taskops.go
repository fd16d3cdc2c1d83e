package scheduler

import (
	"encoding/json"
	"time"

	"github.com/siftengine/sift/internal/errors"
	"github.com/siftengine/sift/internal/tasks"
)

// readTaskFilter decodes the tasks.Filter a cancelation or deletion task
// was registered with, stored as its update file so the filter is
// re-resolved against current state at processing time rather than
// snapshotted at enqueue time.
func (s *Scheduler) readTaskFilter(t tasks.Task) (tasks.Filter, error) {
	var f tasks.Filter
	data, err := s.files.Read(t.ContentFile)
	if err != nil {
		return f, errors.Wrap(errors.CodeInternal, err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, errors.New(errors.CodeInvalidTaskFilter, "malformed task filter payload", err)
	}
	return f, nil
}

// executeTaskCancelation flips every enqueued or processing task matching
// t's filter to canceled, excluding already-terminal tasks (a no-op per
// task, not an error) and t itself.
func (s *Scheduler) executeTaskCancelation(t tasks.Task) map[uint64]taskOutcome {
	f, err := s.readTaskFilter(t)
	if err != nil {
		return one(t.UID, failed(err))
	}
	matched, err := s.queue.List(f)
	if err != nil {
		return one(t.UID, failed(err))
	}

	var count int64
	for _, mt := range matched {
		if mt.UID == t.UID || mt.Status.Terminal() {
			continue
		}
		cancelerUID := t.UID
		if _, err := s.queue.Update(mt.UID, func(tt *tasks.Task) {
			now := time.Now().UTC()
			tt.Status = tasks.StatusCanceled
			tt.CanceledBy = &cancelerUID
			tt.FinishedAt = &now
		}); err != nil {
			return one(t.UID, failed(err))
		}
		count++
	}
	return one(t.UID, succeeded(tasks.Details{CanceledTasks: count}))
}

// executeTaskDeletion removes every terminal task matching t's filter
// from the queue and its secondary indexes. Tasks still enqueued or
// processing are left alone; spec.md only allows deleting finished work.
func (s *Scheduler) executeTaskDeletion(t tasks.Task) map[uint64]taskOutcome {
	f, err := s.readTaskFilter(t)
	if err != nil {
		return one(t.UID, failed(err))
	}
	matched, err := s.queue.List(f)
	if err != nil {
		return one(t.UID, failed(err))
	}

	var count int64
	for _, mt := range matched {
		if mt.UID == t.UID || !mt.Status.Terminal() {
			continue
		}
		if err := s.queue.Delete(mt.UID); err != nil {
			return one(t.UID, failed(err))
		}
		if mt.ContentFile != "" {
			_ = s.files.Delete(mt.ContentFile)
		}
		count++
	}
	return one(t.UID, succeeded(tasks.Details{DeletedTasks: count}))
}

// signalMatchingProcessing is called right after a cancelation task is
// registered, so an already-running batch can be interrupted immediately
// instead of waiting for the scheduler to dequeue the cancelation task
// itself (which, in a single-worker scheduler, only happens after the
// current batch finishes on its own).
func (s *Scheduler) signalMatchingProcessing(cancelTask tasks.Task) {
	f, err := s.readTaskFilter(cancelTask)
	if err != nil {
		return
	}
	matched, err := s.queue.List(f)
	if err != nil {
		return
	}
	uids := make([]uint64, 0, len(matched))
	for _, mt := range matched {
		uids = append(uids, mt.UID)
	}
	s.signalIfProcessing(uids)
}
