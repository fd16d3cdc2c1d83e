// Package scheduler implements the batch scheduler (spec.md §4.5): the
// autobatch rule, the single-worker processing loop, cooperative
// cancellation, and task/batch finalization.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/siftengine/sift/internal/errors"
	"github.com/siftengine/sift/internal/indexer"
	"github.com/siftengine/sift/internal/tasks"
)

// deleteFileConcurrency bounds how many update files finalize in parallel
// at the end of a batch, mirroring the teacher's bounded-fan-out pattern
// for background cleanup work.
const deleteFileConcurrency = int64(8)

// Hooks lets the scheduler dispatch task kinds backed by packages it does
// not itself depend on. A nil field fails its kind with
// errors.CodeFeatureNotEnabled, so the scheduler is usable before every
// ambient package exists.
type Hooks struct {
	CreateDump            func(ctx context.Context, t tasks.Task) (tasks.Details, error)
	CreateSnapshot        func(ctx context.Context, t tasks.Task) (tasks.Details, error)
	UpgradeDatabase       func(ctx context.Context, t tasks.Task) (tasks.Details, error)
	NetworkTopologyChange func(ctx context.Context, t tasks.Task) (tasks.Details, error)
}

// Scheduler owns the task queue and drives it from enqueued to terminal
// status one batch at a time. It is safe to call Register from any
// goroutine; Run must only ever be called from one.
type Scheduler struct {
	queue     *tasks.Queue
	registry  *IndexRegistry
	files     *UpdateFileStore
	autobatch atomic.Bool
	hooks     Hooks

	mu   sync.Mutex
	cond *sync.Cond

	batchSeq uint64

	currentMu  sync.Mutex
	currentIDs map[uint64]bool
	currentSig *indexer.StopSignal
}

// New builds a scheduler over an already-open queue, index registry, and
// update-file store.
func New(queue *tasks.Queue, registry *IndexRegistry, files *UpdateFileStore, autobatch bool, hooks Hooks) *Scheduler {
	s := &Scheduler{
		queue:    queue,
		registry: registry,
		files:    files,
		hooks:    hooks,
	}
	s.autobatch.Store(autobatch)
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetAutobatch toggles the autobatch rule at runtime.
func (s *Scheduler) SetAutobatch(enabled bool) {
	s.autobatch.Store(enabled)
}

// Register enqueues t and wakes the worker loop if it's idle.
func (s *Scheduler) Register(t tasks.Task) (tasks.Task, error) {
	stored, err := s.queue.Register(t)
	if err != nil {
		return tasks.Task{}, err
	}
	if stored.Kind == tasks.KindTaskCancelation {
		s.signalMatchingProcessing(stored)
	}
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
	return stored, nil
}

// Run is the scheduler's single logical worker: it repeatedly selects the
// next batch per the autobatch rule, processes it, and blocks on a
// condition variable when the queue is empty. It returns when ctx is
// canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()

	for {
		batch, err := s.waitForBatch(ctx)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			continue
		}
		if err := s.processBatch(ctx, batch); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// waitForBatch blocks until there is at least one enqueued task, then
// returns the batch selectBatch picks from the oldest enqueued tasks, or
// returns ctx.Err() once ctx is done.
func (s *Scheduler) waitForBatch(ctx context.Context) ([]tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		enqueued, err := s.queue.List(tasks.Filter{
			Statuses: []tasks.Status{tasks.StatusEnqueued},
			Reverse:  true, // oldest registered first
		})
		if err != nil {
			return nil, err
		}
		if len(enqueued) > 0 {
			return selectBatch(enqueued, s.autobatch.Load()), nil
		}
		s.cond.Wait()
	}
}

// processBatch marks batch's tasks processing, executes it, and finalizes
// every task's terminal status. It never returns an error for a task
// failure — those are recorded on the task itself — only for queue I/O
// failures that leave state unclear.
func (s *Scheduler) processBatch(ctx context.Context, batch []tasks.Task) error {
	batchUID := atomic.AddUint64(&s.batchSeq, 1)
	now := time.Now().UTC()

	uids := make([]uint64, 0, len(batch))
	for i, t := range batch {
		uids = append(uids, t.UID)
		updated, err := s.queue.Update(t.UID, func(tt *tasks.Task) {
			tt.Status = tasks.StatusProcessing
			tt.StartedAt = &now
			bid := batchUID
			tt.BatchUID = &bid
		})
		if err != nil {
			return err
		}
		batch[i] = updated
	}

	stop := &indexer.StopSignal{}
	s.beginProcessing(uids, stop)
	defer s.endProcessing()

	outcomes := s.execute(ctx, batch, stop)

	var fileIDs []string
	for _, t := range batch {
		outcome := outcomes[t.UID]
		finishedAt := time.Now().UTC()
		if _, err := s.queue.Update(t.UID, func(tt *tasks.Task) {
			tt.Status = outcome.status
			tt.Details = outcome.details
			tt.Error = outcome.err
			tt.FinishedAt = &finishedAt
		}); err != nil {
			return err
		}
		if t.ContentFile != "" {
			fileIDs = append(fileIDs, t.ContentFile)
		}
	}

	return s.deleteUpdateFiles(ctx, fileIDs)
}

// beginProcessing records which task uids are in flight and which
// StopSignal governs them, so a concurrent task-cancelation batch can
// signal it.
func (s *Scheduler) beginProcessing(uids []uint64, stop *indexer.StopSignal) {
	s.currentMu.Lock()
	defer s.currentMu.Unlock()
	m := make(map[uint64]bool, len(uids))
	for _, u := range uids {
		m[u] = true
	}
	s.currentIDs = m
	s.currentSig = stop
}

func (s *Scheduler) endProcessing() {
	s.currentMu.Lock()
	defer s.currentMu.Unlock()
	s.currentIDs = nil
	s.currentSig = nil
}

// signalIfProcessing triggers the in-flight StopSignal if any of uids is
// currently being processed, implementing cancellation of a running
// batch.
func (s *Scheduler) signalIfProcessing(uids []uint64) {
	s.currentMu.Lock()
	defer s.currentMu.Unlock()
	if s.currentSig == nil {
		return
	}
	for _, u := range uids {
		if s.currentIDs[u] {
			s.currentSig.Signal()
			return
		}
	}
}

// deleteUpdateFiles removes finalized tasks' content files with bounded
// fan-out, per the teacher's errgroup+semaphore idiom.
func (s *Scheduler) deleteUpdateFiles(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	sem := semaphore.NewWeighted(deleteFileConcurrency)
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return s.files.Delete(id)
		})
	}
	return g.Wait()
}

// taskOutcome is the terminal state execute assigns to one task.
type taskOutcome struct {
	status  tasks.Status
	details tasks.Details
	err     *tasks.Error
}

func succeeded(d tasks.Details) taskOutcome {
	return taskOutcome{status: tasks.StatusSucceeded, details: d}
}

func canceled() taskOutcome {
	return taskOutcome{status: tasks.StatusCanceled}
}

func failed(err error) taskOutcome {
	se, ok := err.(*errors.SiftError)
	if !ok {
		se = errors.InternalError(err.Error(), err)
	}
	return taskOutcome{
		status: tasks.StatusFailed,
		err: &tasks.Error{
			Code:      se.Code,
			Message:   se.Message,
			Details:   se.Details,
			Retryable: se.Retryable,
		},
	}
}

// execute dispatches batch to the handler for its action and returns one
// outcome per task uid.
func (s *Scheduler) execute(ctx context.Context, batch []tasks.Task, stop *indexer.StopSignal) map[uint64]taskOutcome {
	switch actionForKind(batch[0].Kind) {
	case ActionDocumentOperation:
		return s.executeDocumentBatch(ctx, batch, stop)
	case ActionIndexCreation:
		return s.executeIndexCreation(batch[0])
	case ActionIndexUpdate:
		return s.executeIndexUpdate(batch[0])
	case ActionIndexDeletion:
		return s.executeIndexDeletion(batch[0])
	case ActionIndexSwap:
		return s.executeIndexSwap(batch[0])
	case ActionTaskCancelation:
		return s.executeTaskCancelation(batch[0])
	case ActionTaskDeletion:
		return s.executeTaskDeletion(batch[0])
	case ActionDumpCreation:
		return s.executeHook(ctx, batch[0], s.hooks.CreateDump)
	case ActionSnapshotCreation:
		return s.executeHook(ctx, batch[0], s.hooks.CreateSnapshot)
	case ActionUpgradeDatabase:
		return s.executeHook(ctx, batch[0], s.hooks.UpgradeDatabase)
	case ActionNetworkTopologyChange:
		return s.executeHook(ctx, batch[0], s.hooks.NetworkTopologyChange)
	default:
		return map[uint64]taskOutcome{batch[0].UID: failed(errors.InternalError("unknown batch action", nil))}
	}
}

func (s *Scheduler) executeHook(ctx context.Context, t tasks.Task, hook func(context.Context, tasks.Task) (tasks.Details, error)) map[uint64]taskOutcome {
	if hook == nil {
		return map[uint64]taskOutcome{t.UID: failed(errors.New(errors.CodeFeatureNotEnabled,
			"this task kind has no handler wired into the scheduler", nil))}
	}
	details, err := hook(ctx, t)
	if err != nil {
		return map[uint64]taskOutcome{t.UID: failed(err)}
	}
	return map[uint64]taskOutcome{t.UID: succeeded(details)}
}
