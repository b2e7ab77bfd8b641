package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traintrack/internal/artifacts"
	"traintrack/internal/store"
)

// contentsServer fakes a GitHub-contents-style repository in memory.
type contentsServer struct {
	mu       sync.Mutex
	files    map[string][]byte
	shas     map[string]string
	rev      int
	requests int
	failPuts bool
}

func newContentsServer() *contentsServer {
	return &contentsServer{files: map[string][]byte{}, shas: map[string]string{}}
}

func (s *contentsServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests++

		path := strings.TrimPrefix(r.URL.Path, "/repos/acme/progress/contents/")
		switch r.Method {
		case http.MethodGet:
			data, ok := s.files[path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"sha":     s.shas[path],
				"content": base64.StdEncoding.EncodeToString(data),
			})
		case http.MethodPut:
			if s.failPuts {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			var p map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
			if existing, ok := s.shas[path]; ok && p["sha"] != existing {
				http.Error(w, "sha mismatch", http.StatusConflict)
				return
			}
			data, err := base64.StdEncoding.DecodeString(p["content"])
			require.NoError(t, err)
			status := http.StatusOK
			if _, ok := s.files[path]; !ok {
				status = http.StatusCreated
			}
			s.rev++
			s.files[path] = data
			s.shas[path] = fmt.Sprintf("rev-%d", s.rev)
			w.WriteHeader(status)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func (s *contentsServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *contentsServer) file(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	return data, ok
}

type syncEnv struct {
	syncer *Syncer
	server *contentsServer
	store  *store.Store
	org    *artifacts.Organizer
}

func newSyncEnv(t *testing.T, cfg SyncConfig, secrets SecretProvider) *syncEnv {
	t.Helper()

	srv := newContentsServer()
	ts := httptest.NewServer(srv.handler(t))
	t.Cleanup(ts.Close)

	s, err := store.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	org := artifacts.NewOrganizer(t.TempDir())
	client := NewClient("acme", "progress", WithAPIBase(ts.URL))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	syncer := NewSyncer(cfg, client, secrets, s.TaskRepo(), s.SyncRepo(), org, nil, log,
		WithSyncClock(func() time.Time {
			return time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)
		}))
	return &syncEnv{syncer: syncer, server: srv, store: s, org: org}
}

func writeSnapshot(t *testing.T, org *artifacts.Organizer, userID string) string {
	t.Helper()
	path := org.SnapshotPath(userID)
	require.NoError(t, artifacts.WriteFileAtomic(path, []byte(`{"user_id":"`+userID+`"}`), 0o644))
	return path
}

func TestSyncUserDisabledMakesNoNetworkCalls(t *testing.T) {
	e := newSyncEnv(t, SyncConfig{Enabled: false}, StaticProvider{Value: "tok"})
	writeSnapshot(t, e.org, "u1")

	res := e.syncer.SyncUser(context.Background(), "u1", "m1")
	assert.Equal(t, "sync disabled", res.Skipped)
	assert.False(t, res.OK())
	assert.Zero(t, e.server.requestCount())
}

func TestSyncUserWithoutCredentialMakesNoNetworkCalls(t *testing.T) {
	e := newSyncEnv(t, SyncConfig{Enabled: true}, StaticProvider{})
	writeSnapshot(t, e.org, "u1")

	res := e.syncer.SyncUser(context.Background(), "u1", "m1")
	assert.Equal(t, "no credential available", res.Skipped)
	assert.Zero(t, e.server.requestCount(), "credential guard runs before any request")
}

func TestSyncUserMirrorsArtifacts(t *testing.T) {
	e := newSyncEnv(t, SyncConfig{Enabled: true}, StaticProvider{Value: "tok"})
	ctx := context.Background()

	writeSnapshot(t, e.org, "u1")
	shot := e.org.ScreenshotPath("u1", "m1", "t1", time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC))
	require.NoError(t, artifacts.WriteFileAtomic(shot, []byte("png-bytes"), 0o644))
	require.NoError(t, e.store.TaskRepo().Put(ctx, &store.TaskRecord{
		UserID: "u1", ModuleID: "m1", TaskID: "t1",
		Status: store.StatusCompleted, Attempts: 1, ScreenshotPath: shot,
	}))

	res := e.syncer.SyncUser(ctx, "u1", "m1")
	assert.True(t, res.OK(), "errors: %v", res.Errors)
	assert.Equal(t, 2, res.Synced, "snapshot and screenshot")

	data, ok := e.server.file("completion_tracking/progress/u1_progress.json")
	require.True(t, ok, "snapshot mirrored under the remote prefix")
	assert.JSONEq(t, `{"user_id":"u1"}`, string(data))

	_, ok = e.server.file("completion_tracking/screenshots/u1/m1/t1_20260831_140000.png")
	assert.True(t, ok, "screenshot mirrored at its relative path")

	_, ok = e.server.file("completion_tracking/dashboard.json")
	assert.True(t, ok, "dashboard written alongside artifacts")

	recs, err := e.store.SyncRepo().ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, store.SyncSynced, rec.SyncStatus)
		assert.NotNil(t, rec.LastSyncedAt)
		assert.Empty(t, rec.LastError)
	}
}

func TestSyncRetryUpdatesInsteadOfDuplicating(t *testing.T) {
	e := newSyncEnv(t, SyncConfig{Enabled: true}, StaticProvider{Value: "tok"})
	ctx := context.Background()
	writeSnapshot(t, e.org, "u1")

	e.server.failPuts = true
	res := e.syncer.SyncUser(ctx, "u1", "m1")
	assert.False(t, res.OK())
	assert.Equal(t, 2, res.Failed, "snapshot push and dashboard update failed")

	recs, err := e.store.SyncRepo().ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.SyncFailed, recs[0].SyncStatus)
	assert.NotEmpty(t, recs[0].LastError)

	pending, err := e.syncer.PendingRetries(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	e.server.failPuts = false
	res = e.syncer.SyncUser(ctx, "u1", "m1")
	assert.True(t, res.OK(), "errors: %v", res.Errors)

	recs, err = e.store.SyncRepo().ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1, "retry updates the record, no duplicate")
	assert.Equal(t, store.SyncSynced, recs[0].SyncStatus)
	assert.Empty(t, recs[0].LastError, "stale error cleared on success")

	pending, err = e.syncer.PendingRetries(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSyncSecondPassCarriesExistingSHA(t *testing.T) {
	e := newSyncEnv(t, SyncConfig{Enabled: true}, StaticProvider{Value: "tok"})
	ctx := context.Background()
	path := writeSnapshot(t, e.org, "u1")

	res := e.syncer.SyncUser(ctx, "u1", "m1")
	require.True(t, res.OK(), "errors: %v", res.Errors)

	// Change the local snapshot and sync again. The server rejects
	// updates without the current sha, so success proves the
	// lookup-then-upsert carried it.
	require.NoError(t, artifacts.WriteFileAtomic(path, []byte(`{"user_id":"u1","v":2}`), 0o644))
	res = e.syncer.SyncUser(ctx, "u1", "m1")
	require.True(t, res.OK(), "errors: %v", res.Errors)

	data, ok := e.server.file("completion_tracking/progress/u1_progress.json")
	require.True(t, ok)
	assert.JSONEq(t, `{"user_id":"u1","v":2}`, string(data))
}

func TestDashboardMergePreservesOtherUsers(t *testing.T) {
	e := newSyncEnv(t, SyncConfig{Enabled: true}, StaticProvider{Value: "tok"})
	ctx := context.Background()
	writeSnapshot(t, e.org, "u1")

	// Seed a dashboard that already carries another user's entry.
	seed := `{"updated_at":"2026-08-30T00:00:00Z","users":{"u9":{"username":"u9","modules_completed":3,"average_score":88,"last_completion":"2026-08-29T00:00:00Z"}}}`
	e.server.mu.Lock()
	e.server.files["completion_tracking/dashboard.json"] = []byte(seed)
	e.server.shas["completion_tracking/dashboard.json"] = "seed-sha"
	e.server.mu.Unlock()

	res := e.syncer.SyncUser(ctx, "u1", "m1")
	require.True(t, res.OK(), "errors: %v", res.Errors)

	data, ok := e.server.file("completion_tracking/dashboard.json")
	require.True(t, ok)
	var board dashboard
	require.NoError(t, json.Unmarshal(data, &board))
	assert.Contains(t, board.Users, "u9", "other users' entries survive the merge")
	assert.Contains(t, board.Users, "u1")
	assert.Equal(t, 3, board.Users["u9"].ModulesCompleted)
	assert.Equal(t, "2026-08-31T15:00:00Z", board.UpdatedAt)
}

func TestWorkerDrainsQueueOnClose(t *testing.T) {
	e := newSyncEnv(t, SyncConfig{Enabled: true}, StaticProvider{Value: "tok"})
	writeSnapshot(t, e.org, "u1")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(e.syncer, log, WithQueueSize(4))
	w.Enqueue("u1", "m1")
	w.Close()

	_, ok := e.server.file("completion_tracking/progress/u1_progress.json")
	assert.True(t, ok, "queued pass completed before Close returned")
}

func TestWorkerEnqueueNeverBlocksWhenFull(t *testing.T) {
	e := newSyncEnv(t, SyncConfig{Enabled: false}, StaticProvider{})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(e.syncer, log, WithQueueSize(1))
	defer w.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			w.Enqueue("u1", "m1")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}
