package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/datalens-ai/taskstream/internal/store"
)

func newRecord(id string, createdAt time.Time) store.TaskRecord {
	return store.TaskRecord{
		TaskID:    id,
		Type:      "generate_data",
		Status:    store.StatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestTaskStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateTask(ctx, newRecord("t1", now)))
	require.Error(t, s.CreateTask(ctx, newRecord("t1", now)))

	rec, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, store.StatusPending, rec.Status)

	_, err = s.GetTask(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestTaskStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateTask(ctx, newRecord("t1", now)))

	require.NoError(t, s.MarkRunning(ctx, "t1", now))
	require.NoError(t, s.UpdateProgress(ctx, "t1", 40, "profiling columns", now))

	rec, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, store.StatusRunning, rec.Status)
	require.Equal(t, 40, rec.Progress)
	require.Equal(t, "profiling columns", rec.Message)

	result := json.RawMessage(`{"total_generated":3}`)
	finished := now.Add(time.Second)
	require.NoError(t, s.CompleteTask(ctx, "t1", result, finished))

	rec, err = s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, rec.Status)
	require.Equal(t, 100, rec.Progress)
	require.JSONEq(t, `{"total_generated":3}`, string(rec.Result))
	require.NotNil(t, rec.FinishedAt)
	require.True(t, rec.Status.Terminal())
}

func TestTaskStoreFail(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateTask(ctx, newRecord("t1", now)))

	require.NoError(t, s.FailTask(ctx, "t1", "warehouse unreachable", now))
	rec, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	require.Equal(t, "warehouse unreachable", *rec.Error)

	require.ErrorIs(t, s.FailTask(ctx, "missing", "x", now), store.ErrNotFound)
}

func TestTaskStoreList(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()
	base := time.Now().UTC()
	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, s.CreateTask(ctx, newRecord(id, base.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.MarkRunning(ctx, "t2", base))

	all, err := s.ListTasks(ctx, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "t3", all[0].TaskID) // newest first

	running := store.StatusRunning
	filtered, err := s.ListTasks(ctx, &running, 10, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "t2", filtered[0].TaskID)

	paged, err := s.ListTasks(ctx, nil, 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, "t2", paged[0].TaskID)

	empty, err := s.ListTasks(ctx, nil, 10, 99)
	require.NoError(t, err)
	require.Empty(t, empty)
}
