package scheduler

import (
	"context"

	"github.com/siftengine/sift/internal/errors"
	"github.com/siftengine/sift/internal/index"
	"github.com/siftengine/sift/internal/indexer"
	"github.com/siftengine/sift/internal/tasks"
)

// executeDocumentBatch runs every document/settings task in batch against
// one shared indexer.Pipeline, in registration order, satisfying spec.md's
// per-index ordering guarantee. The index is implicitly created on first
// use if it doesn't exist yet, mirroring document-addition's
// create-on-write behavior.
func (s *Scheduler) executeDocumentBatch(ctx context.Context, batch []tasks.Task, stop *indexer.StopSignal) map[uint64]taskOutcome {
	indexUID := batch[0].IndexUID

	exists, err := s.registry.Exists(indexUID)
	if err != nil {
		return failAll(batch, err)
	}

	var idx *index.Index
	if exists {
		idx, err = s.registry.Acquire(indexUID)
	} else {
		idx, err = s.registry.Create(indexUID, primaryKeyHint(batch))
	}
	if err != nil {
		return failAll(batch, err)
	}
	defer s.registry.Release(indexUID)

	pipe := indexer.New(idx)
	pipe.SetStopSignal(stop)

	outcomes := make(map[uint64]taskOutcome, len(batch))
	for _, t := range batch {
		if stop.Stopped() {
			outcomes[t.UID] = canceled()
			continue
		}
		outcome := s.executeDocumentTask(ctx, pipe, t)
		if outcome.status == tasks.StatusFailed && outcome.err != nil && outcome.err.Code == errors.CodeAbortedTask {
			// a task aborted by cooperative cancellation is canceled, not
			// failed, per spec.md's cancellation contract.
			outcome = canceled()
		}
		outcomes[t.UID] = outcome
	}
	return outcomes
}

func (s *Scheduler) executeDocumentTask(ctx context.Context, pipe *indexer.Pipeline, t tasks.Task) taskOutcome {
	switch t.Kind {
	case tasks.KindDocumentAdditionOrUpdate:
		return s.executeAddDocuments(ctx, pipe, t)
	case tasks.KindDocumentDeletion:
		return s.executeDeleteDocuments(ctx, pipe, t)
	case tasks.KindDocumentDeletionByFilter:
		return s.executeDeleteDocumentsByFilter(ctx, pipe, t)
	case tasks.KindDocumentClear:
		if err := pipe.Clear(ctx); err != nil {
			return failed(err)
		}
		return succeeded(tasks.Details{})
	case tasks.KindSettingsUpdate:
		return s.executeSettingsUpdate(ctx, pipe, t)
	default:
		return failed(errors.InternalError("unexpected kind in document batch", nil))
	}
}

func (s *Scheduler) executeAddDocuments(ctx context.Context, pipe *indexer.Pipeline, t tasks.Task) taskOutcome {
	data, err := s.files.Read(t.ContentFile)
	if err != nil {
		return failed(errors.Wrap(errors.CodeInternal, err))
	}
	docs, err := decodeDocuments(data)
	if err != nil {
		return failed(err)
	}
	result, err := pipe.AddDocuments(ctx, docs)
	if err != nil {
		return failed(err)
	}
	return succeeded(tasks.Details{
		ReceivedDocuments: int64(len(docs)),
		IndexedDocuments:  int64(result.Added + result.Updated),
	})
}

func (s *Scheduler) executeDeleteDocuments(ctx context.Context, pipe *indexer.Pipeline, t tasks.Task) taskOutcome {
	data, err := s.files.Read(t.ContentFile)
	if err != nil {
		return failed(errors.Wrap(errors.CodeInternal, err))
	}
	ids, err := decodeIDs(data)
	if err != nil {
		return failed(err)
	}
	deleted, err := pipe.DeleteDocuments(ctx, ids)
	if err != nil {
		return failed(err)
	}
	return succeeded(tasks.Details{DeletedDocuments: int64(deleted)})
}

func (s *Scheduler) executeDeleteDocumentsByFilter(ctx context.Context, pipe *indexer.Pipeline, t tasks.Task) taskOutcome {
	matched, deleted, err := pipe.DeleteDocumentsByFilter(ctx, t.Details.OriginalFilter)
	if err != nil {
		return failed(err)
	}
	return succeeded(tasks.Details{
		MatchedDocuments: int64(matched),
		DeletedDocuments: int64(deleted),
		OriginalFilter:   t.Details.OriginalFilter,
	})
}

func (s *Scheduler) executeSettingsUpdate(ctx context.Context, pipe *indexer.Pipeline, t tasks.Task) taskOutcome {
	data, err := s.files.Read(t.ContentFile)
	if err != nil {
		return failed(errors.Wrap(errors.CodeInternal, err))
	}
	next, err := index.UnmarshalSettings(data)
	if err != nil {
		return failed(errors.New(errors.CodeInvalidSettings, "malformed settings payload", err))
	}
	if err := pipe.UpdateSettings(ctx, next); err != nil {
		return failed(err)
	}
	return succeeded(tasks.Details{})
}

// primaryKeyHint extracts the caller-provided primary key, if any, from
// the first document-addition task in batch.
func primaryKeyHint(batch []tasks.Task) string {
	for _, t := range batch {
		if t.Details.PrimaryKey != "" {
			return t.Details.PrimaryKey
		}
	}
	return ""
}

// failAll maps every task in batch to the same failure outcome, used
// when a precondition shared by the whole batch (acquiring its index)
// fails before any task-specific work starts.
func failAll(batch []tasks.Task, err error) map[uint64]taskOutcome {
	outcomes := make(map[uint64]taskOutcome, len(batch))
	o := failed(err)
	for _, t := range batch {
		outcomes[t.UID] = o
	}
	return outcomes
}
