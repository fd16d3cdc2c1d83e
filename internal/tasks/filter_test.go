package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTasks(t *testing.T, q *Queue) (movies, books Task) {
	t.Helper()
	var err error
	movies, err = q.Register(Task{Kind: KindDocumentAdditionOrUpdate, IndexUID: "movies"})
	require.NoError(t, err)
	books, err = q.Register(Task{Kind: KindSettingsUpdate, IndexUID: "books"})
	require.NoError(t, err)
	return movies, books
}

func TestFilter_IsEmpty(t *testing.T) {
	assert.True(t, Filter{}.IsEmpty())
	assert.False(t, Filter{IndexUIDs: []string{"movies"}}.IsEmpty())
}

func TestFilter_RequireNonEmpty_RejectsWildcard(t *testing.T) {
	err := Filter{}.RequireNonEmpty()
	assert.ErrorContains(t, err, "missing_task_filters")
}

func TestList_NoFilter_ReturnsEveryTask(t *testing.T) {
	q := openTestQueue(t)
	seedTasks(t, q)

	all, err := q.List(Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestList_ByIndexUID(t *testing.T) {
	q := openTestQueue(t)
	movies, _ := seedTasks(t, q)

	matched, err := q.List(Filter{IndexUIDs: []string{"movies"}})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, movies.UID, matched[0].UID)
}

func TestList_ByKind(t *testing.T) {
	q := openTestQueue(t)
	_, books := seedTasks(t, q)

	matched, err := q.List(Filter{Types: []Kind{KindSettingsUpdate}})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, books.UID, matched[0].UID)
}

func TestList_ByUIDs(t *testing.T) {
	q := openTestQueue(t)
	movies, _ := seedTasks(t, q)

	matched, err := q.List(Filter{UIDs: []uint64{movies.UID}})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, movies.UID, matched[0].UID)
}

func TestList_ByEnqueuedAtRange(t *testing.T) {
	q := openTestQueue(t)
	movies, _ := seedTasks(t, q)

	future := time.Now().UTC().Add(time.Hour)
	none, err := q.List(Filter{AfterEnqueuedAt: &future})
	require.NoError(t, err)
	assert.Empty(t, none)

	past := time.Now().UTC().Add(-time.Hour)
	all, err := q.List(Filter{AfterEnqueuedAt: &past})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_ = movies
}

func TestList_ReverseOrdersOldestFirst(t *testing.T) {
	q := openTestQueue(t)
	movies, books := seedTasks(t, q)

	ordered, err := q.List(Filter{Reverse: true})
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, movies.UID, ordered[0].UID)
	assert.Equal(t, books.UID, ordered[1].UID)
}

func TestList_CanceledBy(t *testing.T) {
	q := openTestQueue(t)
	movies, _ := seedTasks(t, q)

	canceler, err := q.Register(Task{Kind: KindTaskCancelation})
	require.NoError(t, err)

	_, err = q.Update(movies.UID, func(tsk *Task) {
		tsk.Status = StatusCanceled
		tsk.CanceledBy = &canceler.UID
	})
	require.NoError(t, err)

	matched, err := q.List(Filter{CanceledBy: []uint64{canceler.UID}})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, movies.UID, matched[0].UID)
}

func TestList_LimitReturnsNewestFirstPage(t *testing.T) {
	q := openTestQueue(t)
	for i := 0; i < 5; i++ {
		_, err := q.Register(Task{Kind: KindDocumentClear, IndexUID: "movies"})
		require.NoError(t, err)
	}

	page, err := q.List(Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Greater(t, page[0].UID, page[1].UID)
}
