package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/siftengine/sift/internal/tasks"
)

func TestSelectBatch_GroupsDocumentCompatibleTasksOnSameIndex(t *testing.T) {
	enqueued := []tasks.Task{
		{UID: 1, Kind: tasks.KindDocumentAdditionOrUpdate, IndexUID: "movies"},
		{UID: 2, Kind: tasks.KindDocumentDeletion, IndexUID: "movies"},
		{UID: 3, Kind: tasks.KindSettingsUpdate, IndexUID: "movies"},
		{UID: 4, Kind: tasks.KindDocumentAdditionOrUpdate, IndexUID: "books"},
	}
	batch := selectBatch(enqueued, true)
	assert.Len(t, batch, 3)
	assert.Equal(t, uint64(1), batch[0].UID)
	assert.Equal(t, uint64(3), batch[2].UID)
}

func TestSelectBatch_StopsAtIndexBoundary(t *testing.T) {
	enqueued := []tasks.Task{
		{UID: 1, Kind: tasks.KindDocumentAdditionOrUpdate, IndexUID: "movies"},
		{UID: 2, Kind: tasks.KindDocumentAdditionOrUpdate, IndexUID: "books"},
	}
	batch := selectBatch(enqueued, true)
	assert.Len(t, batch, 1)
}

func TestSelectBatch_SingletonKindNeverJoinsWithLaterTasks(t *testing.T) {
	enqueued := []tasks.Task{
		{UID: 1, Kind: tasks.KindIndexCreation, IndexUID: "movies"},
		{UID: 2, Kind: tasks.KindDocumentAdditionOrUpdate, IndexUID: "movies"},
	}
	batch := selectBatch(enqueued, true)
	assert.Equal(t, []uint64{1}, []uint64{batch[0].UID})
	assert.Len(t, batch, 1)
}

func TestSelectBatch_AutobatchDisabledAlwaysYieldsSingleTask(t *testing.T) {
	enqueued := []tasks.Task{
		{UID: 1, Kind: tasks.KindDocumentAdditionOrUpdate, IndexUID: "movies"},
		{UID: 2, Kind: tasks.KindDocumentAdditionOrUpdate, IndexUID: "movies"},
	}
	batch := selectBatch(enqueued, false)
	assert.Len(t, batch, 1)
}

func TestSelectBatch_EmptyInputReturnsNil(t *testing.T) {
	assert.Nil(t, selectBatch(nil, true))
}

func TestSelectBatch_DocumentDeletionByFilterAcceptsLaterDocumentOps(t *testing.T) {
	// documentDeletionByFilter is still document-compatible: it can open a
	// batch and later document ops on the same index join it.
	enqueued := []tasks.Task{
		{UID: 1, Kind: tasks.KindDocumentDeletionByFilter, IndexUID: "movies"},
		{UID: 2, Kind: tasks.KindDocumentAdditionOrUpdate, IndexUID: "movies"},
	}
	batch := selectBatch(enqueued, true)
	assert.Len(t, batch, 2)
}
