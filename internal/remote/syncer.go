package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"traintrack/internal/artifacts"
	"traintrack/internal/identity"
	"traintrack/internal/report"
	"traintrack/internal/store"
)

// dashboardPath is the shared team dashboard inside the remote prefix.
const dashboardPath = "dashboard.json"

// SyncConfig describes the remote repository a Syncer pushes to.
type SyncConfig struct {
	Enabled bool
	Owner   string
	Repo    string
	Branch  string
	// Prefix is the remote directory the local layout is mirrored under.
	Prefix string
}

// SyncResult summarizes one synchronization pass. A pass never fails as
// a whole; per-file outcomes are counted and the worst is reflected in
// the sync records.
type SyncResult struct {
	UserID   string
	ModuleID string
	// Skipped is set when the pass made no network calls at all
	// (sync disabled, or no credential available).
	Skipped string
	Synced  int
	Failed  int
	Errors  []string
}

// OK reports whether every attempted file synced.
func (r *SyncResult) OK() bool {
	return r.Skipped == "" && r.Failed == 0
}

// Syncer mirrors a user's progress artifacts into the remote repository
// and maintains the shared dashboard.
type Syncer struct {
	cfg       SyncConfig
	client    *Client
	secrets   SecretProvider
	tasks     store.TaskRepo
	syncs     store.SyncRepo
	organizer *artifacts.Organizer
	directory identity.Directory
	log       *slog.Logger
	now       func() time.Time
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithSyncClock overrides the time source.
func WithSyncClock(now func() time.Time) SyncerOption {
	return func(s *Syncer) { s.now = now }
}

// NewSyncer returns a Syncer over the given collaborators.
func NewSyncer(cfg SyncConfig, client *Client, secrets SecretProvider, tasks store.TaskRepo, syncs store.SyncRepo, org *artifacts.Organizer, dir identity.Directory, log *slog.Logger, opts ...SyncerOption) *Syncer {
	if cfg.Prefix == "" {
		cfg.Prefix = "completion_tracking"
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	s := &Syncer{
		cfg:       cfg,
		client:    client,
		secrets:   secrets,
		tasks:     tasks,
		syncs:     syncs,
		organizer: org,
		directory: dir,
		log:       log,
		now:       time.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncUser pushes the user's snapshot, the module's reports and
// screenshots, then refreshes the dashboard. Failures are recorded and
// returned in the result; they never propagate as an error and never
// panic the caller.
func (s *Syncer) SyncUser(ctx context.Context, userID, moduleID string) *SyncResult {
	res := &SyncResult{UserID: userID, ModuleID: moduleID}

	if !s.cfg.Enabled {
		res.Skipped = "sync disabled"
		return res
	}
	token, ok := s.secrets.Token()
	if !ok {
		res.Skipped = "no credential available"
		s.log.Warn("sync skipped, no credential", "user", userID, "module", moduleID)
		return res
	}

	for _, local := range s.collectFiles(ctx, userID, moduleID) {
		s.syncFile(ctx, token, userID, local, res)
	}

	if err := s.updateDashboard(ctx, token, userID); err != nil {
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("dashboard: %v", err))
		s.log.Warn("dashboard update failed", "user", userID, "error", err)
	}

	s.log.Info("sync pass finished",
		"user", userID, "module", moduleID,
		"synced", res.Synced, "failed", res.Failed)
	return res
}

// collectFiles gathers the local artifacts to mirror: the user's
// snapshot, every report for the module, and the screenshots referenced
// by the module's task records. Files that do not exist are skipped.
func (s *Syncer) collectFiles(ctx context.Context, userID, moduleID string) []string {
	var candidates []string

	candidates = append(candidates, s.organizer.SnapshotPath(userID))

	reports, err := filepath.Glob(s.organizer.ReportGlob(userID, moduleID))
	if err == nil {
		candidates = append(candidates, reports...)
	}

	recs, err := s.tasks.ListByUserModule(ctx, userID, moduleID)
	if err != nil {
		s.log.Warn("listing task records for sync", "user", userID, "error", err)
	} else {
		for _, rec := range recs {
			if rec.ScreenshotPath != "" {
				candidates = append(candidates, rec.ScreenshotPath)
			}
		}
	}

	var files []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		}
	}
	return files
}

// syncFile mirrors one local file with a lookup-then-upsert, so a retry
// after a partial failure updates the remote file instead of conflicting
// with it.
func (s *Syncer) syncFile(ctx context.Context, token, userID, local string, res *SyncResult) {
	remotePath, err := s.remotePath(local)
	if err != nil {
		res.Failed++
		res.Errors = append(res.Errors, err.Error())
		return
	}

	rec := &store.SyncRecord{
		UserID:     userID,
		LocalPath:  local,
		RemotePath: remotePath,
		SyncStatus: store.SyncPending,
	}

	err = s.pushFile(ctx, token, local, rec)
	if err != nil {
		rec.SyncStatus = store.SyncFailed
		rec.LastError = err.Error()
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", remotePath, err))
		s.log.Warn("file sync failed", "user", userID, "remote", remotePath, "error", err)
	} else {
		now := s.now().UTC()
		rec.SyncStatus = store.SyncSynced
		rec.LastSyncedAt = &now
		rec.LastError = ""
		res.Synced++
	}

	if dbErr := s.syncs.Record(ctx, rec); dbErr != nil {
		s.log.Warn("recording sync state", "user", userID, "local", local, "error", dbErr)
	}
}

func (s *Syncer) pushFile(ctx context.Context, token, local string, rec *store.SyncRecord) error {
	data, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("read %s: %w", local, err)
	}

	sha, found, err := s.client.ContentSHA(ctx, token, rec.RemotePath)
	if err != nil {
		return err
	}
	if found {
		rec.RemoteSHA = sha
	}

	in := PutInput{
		Message: fmt.Sprintf("Update %s for %s", filepath.Base(local), rec.UserID),
		Content: data,
		Branch:  s.cfg.Branch,
	}
	if found {
		in.SHA = sha
	}
	return s.client.PutContent(ctx, token, rec.RemotePath, in)
}

func (s *Syncer) remotePath(local string) (string, error) {
	rel, err := s.organizer.RelPath(local)
	if err != nil {
		return "", err
	}
	return s.cfg.Prefix + "/" + rel, nil
}

// dashboard is the shared team summary kept at the remote prefix root.
type dashboard struct {
	UpdatedAt string                   `json:"updated_at"`
	Users     map[string]dashboardUser `json:"users"`
}

type dashboardUser struct {
	Username         string  `json:"username"`
	ModulesCompleted int     `json:"modules_completed"`
	AverageScore     float64 `json:"average_score"`
	LastCompletion   string  `json:"last_completion"`
}

// updateDashboard read-modify-writes the shared dashboard, replacing
// only this user's entry. Concurrent writers for different users can
// still race on the file; the per-user entry model keeps a lost update
// limited to one stale row that the next sync repairs.
func (s *Syncer) updateDashboard(ctx context.Context, token, userID string) error {
	path := s.cfg.Prefix + "/" + dashboardPath

	content, sha, found, err := s.client.GetContent(ctx, token, path)
	if err != nil {
		return err
	}

	board := dashboard{Users: map[string]dashboardUser{}}
	if found {
		if err := json.Unmarshal(content, &board); err != nil {
			s.log.Warn("remote dashboard unreadable, rebuilding", "error", err)
			board = dashboard{Users: map[string]dashboardUser{}}
		}
		if board.Users == nil {
			board.Users = map[string]dashboardUser{}
		}
	}

	entry, err := s.dashboardEntry(userID)
	if err != nil {
		return err
	}
	board.Users[userID] = entry
	board.UpdatedAt = s.now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(board, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dashboard: %w", err)
	}
	in := PutInput{
		Message: fmt.Sprintf("Update dashboard for %s", userID),
		Content: data,
		Branch:  s.cfg.Branch,
	}
	if found {
		in.SHA = sha
	}
	return s.client.PutContent(ctx, token, path, in)
}

// dashboardEntry summarizes the user's local report history.
func (s *Syncer) dashboardEntry(userID string) (dashboardUser, error) {
	entry := dashboardUser{Username: identity.Resolve(s.directory, userID).Username}

	paths, err := filepath.Glob(s.organizer.UserReportGlob(userID))
	if err != nil {
		return entry, fmt.Errorf("glob reports: %w", err)
	}

	modules := make(map[string]struct{})
	var scoreSum float64
	var scored int
	var last string
	for _, p := range paths {
		rep, err := report.Load(p)
		if err != nil {
			s.log.Warn("skipping unreadable report", "path", p, "error", err)
			continue
		}
		modules[rep.Module.ID] = struct{}{}
		scoreSum += rep.OverallScore
		scored++
		if rep.CompletedAt > last {
			last = rep.CompletedAt
		}
	}

	entry.ModulesCompleted = len(modules)
	if scored > 0 {
		entry.AverageScore = scoreSum / float64(scored)
	}
	entry.LastCompletion = last
	return entry, nil
}

// PendingRetries returns the user's sync records that are not in the
// synced state, ordered by local path.
func (s *Syncer) PendingRetries(ctx context.Context, userID string) ([]*store.SyncRecord, error) {
	recs, err := s.syncs.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []*store.SyncRecord
	for _, rec := range recs {
		if rec.SyncStatus != store.SyncSynced {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalPath < out[j].LocalPath })
	return out, nil
}
