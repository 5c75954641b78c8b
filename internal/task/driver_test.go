package task

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/datalens-ai/taskstream/internal/metrics"
	"github.com/datalens-ai/taskstream/internal/storage/memory"
	"github.com/datalens-ai/taskstream/internal/store"
	"github.com/datalens-ai/taskstream/internal/stream"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// recordedEvent is one emitted (type, payload) pair.
type recordedEvent struct {
	Type    stream.EventType
	Payload map[string]any
}

// stubEmitter records every emitted event in order.
type stubEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *stubEmitter) Emit(_ string, eventType stream.EventType, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{Type: eventType, Payload: payload})
}

func (s *stubEmitter) Events() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedEvent(nil), s.events...)
}

func (s *stubEmitter) ofType(eventType stream.EventType) []recordedEvent {
	var out []recordedEvent
	for _, evt := range s.Events() {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// stubFinisher records FinishTask invocations.
type stubFinisher struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubFinisher) FinishTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, taskID)
}

func (s *stubFinisher) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func testDriverConfig() DriverConfig {
	return DriverConfig{StageDelay: time.Millisecond, Grace: time.Millisecond}
}

func newTestRepo(t *testing.T, taskID string, typ Type) *memory.TaskStore {
	t.Helper()
	repo := memory.NewTaskStore()
	now := time.Now().UTC()
	require.NoError(t, repo.CreateTask(context.Background(), store.TaskRecord{
		TaskID:    taskID,
		Type:      string(typ),
		Status:    store.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	return repo
}

// TestGenerateDataScenario covers the reference scenario: num_examples=3 must
// produce exactly one started event, example_generated 1..3 in order, and a
// completed event with total_generated=3.
func TestGenerateDataScenario(t *testing.T) {
	t.Parallel()

	emitter := &stubEmitter{}
	finisher := &stubFinisher{}
	repo := newTestRepo(t, "t1", TypeGenerateData)

	d := NewDriver("t1", TypeGenerateData, Params{NumExamples: 3},
		Limits{DefaultExamples: 5, MaxExamples: 50},
		emitter, finisher, repo, testDriverConfig(), nil)
	d.Run(context.Background())

	require.Len(t, emitter.ofType("data_generation_started"), 1)

	generated := emitter.ofType("example_generated")
	require.Len(t, generated, 3)
	for i, evt := range generated {
		require.Equal(t, i+1, evt.Payload["example_number"])
	}

	completed := emitter.ofType("data_generation_completed")
	require.Len(t, completed, 1)
	require.Equal(t, 3, completed[0].Payload["total_generated"])

	require.Equal(t, []string{"t1"}, finisher.Calls())

	rec, err := repo.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, rec.Status)
	require.Equal(t, 100, rec.Progress)

	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Result, &result))
	require.Equal(t, float64(3), result["total_generated"])
}

// TestProgressMonotoneAndEndsAt100 checks the numeric policy for every task
// type.
func TestProgressMonotoneAndEndsAt100(t *testing.T) {
	t.Parallel()

	cases := []struct {
		typ    Type
		params Params
	}{
		{TypeRefreshSchema, Params{}},
		{TypeGenerateData, Params{NumExamples: 4}},
		{TypeTrainModel, Params{Epochs: 2}},
		{TypeQuery, Params{Question: "total sales by month"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.typ), func(t *testing.T) {
			t.Parallel()

			emitter := &stubEmitter{}
			repo := newTestRepo(t, "t1", tc.typ)
			d := NewDriver("t1", tc.typ, tc.params,
				Limits{DefaultExamples: 5, MaxExamples: 50},
				emitter, &stubFinisher{}, repo, testDriverConfig(), nil)
			d.Run(context.Background())

			progress := emitter.ofType(stream.EventProgress)
			require.NotEmpty(t, progress)
			last := -1
			for _, evt := range progress {
				pct := evt.Payload["progress"].(int)
				require.GreaterOrEqual(t, pct, last)
				require.LessOrEqual(t, pct, 100)
				last = pct
			}
			require.Equal(t, 100, last)
		})
	}
}

// TestFailureShortCircuits: an erroring stage must skip the remaining stages
// and emit exactly one failed terminal event.
func TestFailureShortCircuits(t *testing.T) {
	t.Parallel()

	emitter := &stubEmitter{}
	finisher := &stubFinisher{}
	repo := newTestRepo(t, "t1", TypeRefreshSchema)

	// Scoping refresh_schema to an unknown table fails during introspection.
	d := NewDriver("t1", TypeRefreshSchema, Params{Table: "no_such_table"},
		Limits{DefaultExamples: 5, MaxExamples: 50},
		emitter, finisher, repo, testDriverConfig(), nil)
	d.Run(context.Background())

	require.Len(t, emitter.ofType("schema_refresh_failed"), 1)
	require.Empty(t, emitter.ofType("schema_refresh_completed"))
	require.Empty(t, emitter.ofType("table_discovered"))

	// Stages after the failing one emit no progress.
	progress := emitter.ofType(stream.EventProgress)
	for _, evt := range progress {
		require.Less(t, evt.Payload["progress"].(int), 100)
	}

	require.Equal(t, []string{"t1"}, finisher.Calls())

	rec, err := repo.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
}

// TestQueryEmitsIntermediateEvents verifies the query pipeline's partial
// results on the wire and in the final payload.
func TestQueryEmitsIntermediateEvents(t *testing.T) {
	t.Parallel()

	emitter := &stubEmitter{}
	repo := newTestRepo(t, "t1", TypeQuery)
	d := NewDriver("t1", TypeQuery, Params{Question: "count of orders", Table: "orders"},
		Limits{DefaultExamples: 5, MaxExamples: 50},
		emitter, &stubFinisher{}, repo, testDriverConfig(), nil)
	d.Run(context.Background())

	sqlEvents := emitter.ofType("sql_generated")
	require.Len(t, sqlEvents, 1)
	require.Equal(t, "SELECT COUNT(*) FROM orders;", sqlEvents[0].Payload["sql"])

	require.Len(t, emitter.ofType("data_fetched"), 1)
	require.Len(t, emitter.ofType("chart_generated"), 1)

	completed := emitter.ofType("query_completed")
	require.Len(t, completed, 1)
	require.Equal(t, "SELECT COUNT(*) FROM orders;", completed[0].Payload["sql"])
	require.Equal(t, 3, completed[0].Payload["row_count"])
	require.Equal(t, "bar", completed[0].Payload["chart_type"])
}

// TestQueryWithoutQuestionFails: driver-internal failure becomes a terminal
// event, never a panic.
func TestQueryWithoutQuestionFails(t *testing.T) {
	t.Parallel()

	emitter := &stubEmitter{}
	repo := newTestRepo(t, "t1", TypeQuery)
	d := NewDriver("t1", TypeQuery, Params{},
		Limits{DefaultExamples: 5, MaxExamples: 50},
		emitter, &stubFinisher{}, repo, testDriverConfig(), nil)

	require.NotPanics(t, func() { d.Run(context.Background()) })

	failed := emitter.ofType("query_failed")
	require.Len(t, failed, 1)
	require.Contains(t, failed[0].Payload["error"], "question is required")
}

// TestTrainModelEmitsEpochs covers per-epoch intermediate events.
func TestTrainModelEmitsEpochs(t *testing.T) {
	t.Parallel()

	emitter := &stubEmitter{}
	repo := newTestRepo(t, "t1", TypeTrainModel)
	d := NewDriver("t1", TypeTrainModel, Params{Epochs: 3},
		Limits{DefaultExamples: 5, MaxExamples: 50},
		emitter, &stubFinisher{}, repo, testDriverConfig(), nil)
	d.Run(context.Background())

	epochs := emitter.ofType("epoch_completed")
	require.Len(t, epochs, 3)
	for i, evt := range epochs {
		require.Equal(t, i+1, evt.Payload["epoch"])
	}

	completed := emitter.ofType("training_completed")
	require.Len(t, completed, 1)
	require.Equal(t, true, completed[0].Payload["trained"])
}

// TestDriverSurvivesRepositoryErrors: store failures must not stop the driver
// from reaching its terminal state and finishing the stream.
func TestDriverSurvivesRepositoryErrors(t *testing.T) {
	t.Parallel()

	emitter := &stubEmitter{}
	finisher := &stubFinisher{}
	d := NewDriver("t1", TypeGenerateData, Params{NumExamples: 2},
		Limits{DefaultExamples: 5, MaxExamples: 50},
		emitter, finisher, failingRepo{}, testDriverConfig(), nil)

	require.NotPanics(t, func() { d.Run(context.Background()) })
	require.Len(t, emitter.ofType("data_generation_completed"), 1)
	require.Equal(t, []string{"t1"}, finisher.Calls())
}

// TestDriverCancelledContext: shutdown converts to the failed terminal path
// and cleanup still runs exactly once.
func TestDriverCancelledContext(t *testing.T) {
	t.Parallel()

	emitter := &stubEmitter{}
	finisher := &stubFinisher{}
	repo := newTestRepo(t, "t1", TypeGenerateData)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDriver("t1", TypeGenerateData, Params{NumExamples: 2},
		Limits{DefaultExamples: 5, MaxExamples: 50},
		emitter, finisher, repo, testDriverConfig(), nil)
	d.Run(ctx)

	require.Len(t, emitter.ofType("data_generation_failed"), 1)
	require.Equal(t, []string{"t1"}, finisher.Calls())

	rec, err := repo.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, rec.Status)
}

type failingRepo struct{}

var errRepoDown = errors.New("repository unavailable")

func (failingRepo) CreateTask(context.Context, store.TaskRecord) error { return errRepoDown }
func (failingRepo) GetTask(context.Context, string) (store.TaskRecord, error) {
	return store.TaskRecord{}, errRepoDown
}
func (failingRepo) ListTasks(context.Context, *store.TaskStatus, int, int) ([]store.TaskRecord, error) {
	return nil, errRepoDown
}
func (failingRepo) MarkRunning(context.Context, string, time.Time) error { return errRepoDown }
func (failingRepo) UpdateProgress(context.Context, string, int, string, time.Time) error {
	return errRepoDown
}
func (failingRepo) CompleteTask(context.Context, string, json.RawMessage, time.Time) error {
	return errRepoDown
}
func (failingRepo) FailTask(context.Context, string, string, time.Time) error { return errRepoDown }
