package ledger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traintrack/internal/artifacts"
	"traintrack/internal/catalog"
	"traintrack/internal/store"
)

type fakeCatalog struct {
	modules map[string]*catalog.Module
	err     error
}

func (f *fakeCatalog) Module(id string) (*catalog.Module, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.modules[id]
	if !ok {
		return nil, catalog.ErrModuleNotFound
	}
	return m, nil
}

func (f *fakeCatalog) RequiredTasks(id string) (map[string]struct{}, error) {
	m, err := f.Module(id)
	if err != nil {
		return nil, err
	}
	return catalog.RequiredTaskSet(m), nil
}

func (f *fakeCatalog) Modules() ([]*catalog.Module, error) {
	var out []*catalog.Module
	for _, m := range f.modules {
		out = append(out, m)
	}
	return out, nil
}

type observerCall struct {
	userID      string
	moduleID    string
	wasComplete bool
}

type recordingObserver struct {
	calls []observerCall
}

func (r *recordingObserver) TaskCompleted(ctx context.Context, userID, moduleID string, wasComplete bool) error {
	r.calls = append(r.calls, observerCall{userID, moduleID, wasComplete})
	return nil
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{modules: map[string]*catalog.Module{
		"m1": {
			ID: "m1", Name: "Module One", Version: "1.0.0",
			Tasks: []catalog.Task{
				{ID: "t1", Required: true},
				{ID: "t2", Required: true},
				{ID: "t3", Required: false},
			},
		},
	}}
}

type env struct {
	ledger   *Ledger
	store    *store.Store
	catalog  *fakeCatalog
	observer *recordingObserver
	org      *artifacts.Organizer
	clock    *time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()

	s, err := store.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cat := testCatalog()
	org := artifacts.NewOrganizer(t.TempDir())
	obs := &recordingObserver{}
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	clock := &now

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := New(s.TaskRepo(), cat, org, nil, log,
		WithObserver(obs),
		WithMilestones(s.MilestoneRepo()),
		WithClock(func() time.Time { return *clock }),
	)
	return &env{ledger: l, store: s, catalog: cat, observer: obs, org: org, clock: clock}
}

func (e *env) advance(d time.Duration) {
	next := e.clock.Add(d)
	*e.clock = next
}

func TestStartTaskCreatesRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec, err := e.ledger.StartTask(ctx, "u1", "m1", "t1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusInProgress, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	require.NotNil(t, rec.StartedAt)
	assert.Nil(t, rec.CompletedAt)
}

func TestStartTaskUnknownIDs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.ledger.StartTask(ctx, "u1", "m1", "nope")
	assert.ErrorIs(t, err, ErrUnknownTask)

	_, err = e.ledger.StartTask(ctx, "u1", "nope", "t1")
	assert.ErrorIs(t, err, ErrUnknownModule)

	// Nothing was recorded.
	recs, listErr := e.store.TaskRepo().ListByUser(ctx, "u1")
	require.NoError(t, listErr)
	assert.Empty(t, recs)
}

func TestStartTaskIdempotentWhileInProgress(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.ledger.StartTask(ctx, "u1", "m1", "t1")
	require.NoError(t, err)

	e.advance(5 * time.Minute)
	second, err := e.ledger.StartTask(ctx, "u1", "m1", "t1")
	require.NoError(t, err)

	assert.Equal(t, 1, second.Attempts)
	assert.True(t, second.StartedAt.Equal(*first.StartedAt), "repeated start must not reset started_at")
}

func TestCompleteTaskSetsFieldsAndDuration(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.ledger.StartTask(ctx, "u1", "m1", "t1")
	require.NoError(t, err)

	e.advance(90 * time.Second)
	rec, err := e.ledger.CompleteTask(ctx, "u1", "m1", "t1", 92.5, nil)
	require.NoError(t, err)

	assert.Equal(t, store.StatusCompleted, rec.Status)
	require.NotNil(t, rec.Score)
	assert.Equal(t, 92.5, *rec.Score)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, int64(90), rec.DurationSeconds)
}

func TestCompleteTaskWithoutStartHasZeroDuration(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec, err := e.ledger.CompleteTask(ctx, "u1", "m1", "t1", 70, nil)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, rec.Status)
	assert.Nil(t, rec.StartedAt)
	assert.Equal(t, int64(0), rec.DurationSeconds)
	assert.Equal(t, 1, rec.Attempts)
}

func TestCompleteTaskStoresScreenshotPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.ledger.StartTask(ctx, "u1", "m1", "t1")
	require.NoError(t, err)

	rec, err := e.ledger.CompleteTask(ctx, "u1", "m1", "t1", 100, []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ScreenshotPath)

	data, err := os.ReadFile(rec.ScreenshotPath)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
}

func TestRetakeIncrementsAttemptsByOne(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.ledger.StartTask(ctx, "u1", "m1", "t1")
	require.NoError(t, err)
	_, err = e.ledger.CompleteTask(ctx, "u1", "m1", "t1", 60, nil)
	require.NoError(t, err)

	e.advance(time.Minute)
	rec, err := e.ledger.StartTask(ctx, "u1", "m1", "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, store.StatusInProgress, rec.Status)
	assert.Nil(t, rec.CompletedAt, "retake clears completed_at")
	assert.Equal(t, int64(0), rec.DurationSeconds, "retake clears duration")
	require.NotNil(t, rec.Score)
	assert.Equal(t, 60.0, *rec.Score, "historical score preserved until overwritten")

	e.advance(30 * time.Second)
	rec, err = e.ledger.CompleteTask(ctx, "u1", "m1", "t1", 95, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts, "completion does not bump attempts")
	assert.Equal(t, 95.0, *rec.Score)
}

func TestObserverSeesCompletionTransition(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.ledger.CompleteTask(ctx, "u1", "m1", "t1", 90, nil)
	require.NoError(t, err)
	_, err = e.ledger.CompleteTask(ctx, "u1", "m1", "t2", 80, nil)
	require.NoError(t, err)
	// Optional task after the module is already complete.
	_, err = e.ledger.CompleteTask(ctx, "u1", "m1", "t3", 100, nil)
	require.NoError(t, err)

	require.Len(t, e.observer.calls, 3)
	assert.False(t, e.observer.calls[0].wasComplete)
	assert.False(t, e.observer.calls[1].wasComplete)
	assert.True(t, e.observer.calls[2].wasComplete,
		"observer must see that the module was already complete")
}

func TestUserProgressScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.ledger.StartTask(ctx, "u1", "m1", "t1")
	require.NoError(t, err)
	_, err = e.ledger.CompleteTask(ctx, "u1", "m1", "t1", 90, nil)
	require.NoError(t, err)

	progress, err := e.ledger.UserProgress(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 50.0, progress[0].CompletionPercentage, "1 of 2 required done")
	assert.Equal(t, store.StatusInProgress, progress[0].Status)

	_, err = e.ledger.StartTask(ctx, "u1", "m1", "t2")
	require.NoError(t, err)
	_, err = e.ledger.CompleteTask(ctx, "u1", "m1", "t2", 80, nil)
	require.NoError(t, err)

	progress, err = e.ledger.UserProgress(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, progress, 1)
	p := progress[0]
	assert.Equal(t, 100.0, p.CompletionPercentage)
	assert.Equal(t, 85.0, p.OverallScore, "mean of 90 and 80")
	assert.Equal(t, store.StatusCompleted, p.Status)
	assert.Equal(t, 2, p.CompletedTasks)
}

func TestCompletionPercentageUnchangedByRetakeOfCompleteModule(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, task := range []string{"t1", "t2"} {
		_, err := e.ledger.StartTask(ctx, "u1", "m1", task)
		require.NoError(t, err)
		_, err = e.ledger.CompleteTask(ctx, "u1", "m1", task, 90, nil)
		require.NoError(t, err)
	}

	_, err := e.ledger.StartTask(ctx, "u1", "m1", "t1") // retake
	require.NoError(t, err)
	_, err = e.ledger.CompleteTask(ctx, "u1", "m1", "t1", 100, nil)
	require.NoError(t, err)

	progress, err := e.ledger.UserProgress(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 100.0, progress[0].CompletionPercentage)

	rec, err := e.store.TaskRepo().Get(ctx, "u1", "m1", "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts)
}

func TestOptionalTasksNeverBlockCompletion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.ledger.CompleteTask(ctx, "u1", "m1", "t1", 90, nil)
	require.NoError(t, err)
	_, err = e.ledger.CompleteTask(ctx, "u1", "m1", "t2", 80, nil)
	require.NoError(t, err)

	progress, err := e.ledger.UserProgress(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 100.0, progress[0].CompletionPercentage,
		"optional t3 is excluded from the denominator")
}

func TestSnapshotWrittenOnEveryMutation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.ledger.StartTask(ctx, "u1", "m1", "t1")
	require.NoError(t, err)
	_, err = e.ledger.CompleteTask(ctx, "u1", "m1", "t1", 88, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(e.org.SnapshotPath("u1"))
	require.NoError(t, err)

	var snap struct {
		UserID   string `json:"user_id"`
		Username string `json:"username"`
		Modules  map[string]struct {
			Tasks map[string]struct {
				Status          string  `json:"status"`
				Score           float64 `json:"score"`
				Attempts        int     `json:"attempts"`
				DurationSeconds int64   `json:"duration_seconds"`
			} `json:"tasks"`
		} `json:"modules"`
	}
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "u1", snap.UserID)
	assert.Equal(t, "u1", snap.Username, "no directory entry falls back to user id")
	task := snap.Modules["m1"].Tasks["t1"]
	assert.Equal(t, "completed", task.Status)
	assert.Equal(t, 88.0, task.Score)
	assert.Equal(t, 1, task.Attempts)
}

func TestMilestonesRecordedOnCompletion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.ledger.CompleteTask(ctx, "u1", "m1", "t1", 100, nil)
	require.NoError(t, err)

	ms, err := e.store.MilestoneRepo().ListByUser(ctx, "u1")
	require.NoError(t, err)

	kinds := make(map[string]bool)
	for _, m := range ms {
		kinds[m.Kind] = true
	}
	assert.True(t, kinds["first_task"])
	assert.True(t, kinds["perfect_score"])
	assert.False(t, kinds["first_module"], "module not complete yet")

	_, err = e.ledger.CompleteTask(ctx, "u1", "m1", "t2", 90, nil)
	require.NoError(t, err)

	ms, err = e.store.MilestoneRepo().ListByUser(ctx, "u1")
	require.NoError(t, err)
	kinds = make(map[string]bool)
	for _, m := range ms {
		kinds[m.Kind] = true
	}
	assert.True(t, kinds["first_module"])
}

func TestConcurrentUsersDoNotInterfere(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	done := make(chan error, 2)
	for _, user := range []string{"u1", "u2"} {
		go func(user string) {
			if _, err := e.ledger.StartTask(ctx, user, "m1", "t1"); err != nil {
				done <- err
				return
			}
			_, err := e.ledger.CompleteTask(ctx, user, "m1", "t1", 75, nil)
			done <- err
		}(user)
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-done)
	}

	for _, user := range []string{"u1", "u2"} {
		rec, err := e.store.TaskRepo().Get(ctx, user, "m1", "t1")
		require.NoError(t, err)
		assert.Equal(t, store.StatusCompleted, rec.Status)
		assert.Equal(t, 1, rec.Attempts)
	}
}
