// Package ledger is the single source of truth for per-task training
// progress. Every mutation is written through to the relational store
// and mirrored into a per-user JSON snapshot before control returns to
// the caller; completion aggregation and remote sync hang off the back
// of it and can never fail a recording call.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"traintrack/internal/artifacts"
	"traintrack/internal/catalog"
	"traintrack/internal/identity"
	"traintrack/internal/store"
)

// CompletionObserver is notified after a task completion has been
// durably recorded. wasComplete carries the module's completion state
// from before the mutation so the observer can detect the transition.
type CompletionObserver interface {
	TaskCompleted(ctx context.Context, userID, moduleID string, wasComplete bool) error
}

// Ledger records task progress.
type Ledger struct {
	tasks      store.TaskRepo
	milestones store.MilestoneRepo
	catalog    catalog.Catalog
	organizer  *artifacts.Organizer
	directory  identity.Directory
	observer   CompletionObserver
	log        *slog.Logger
	locks      userLocks
	now        func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithObserver sets the completion observer invoked after CompleteTask.
func WithObserver(o CompletionObserver) Option {
	return func(l *Ledger) { l.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMilestones enables milestone tracking.
func WithMilestones(repo store.MilestoneRepo) Option {
	return func(l *Ledger) { l.milestones = repo }
}

// New returns a Ledger over the given collaborators.
func New(tasks store.TaskRepo, cat catalog.Catalog, org *artifacts.Organizer, dir identity.Directory, log *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		tasks:     tasks,
		catalog:   cat,
		organizer: org,
		directory: dir,
		log:       log,
		now:       time.Now,
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StartTask marks a task as started. Starting an unknown task fails
// without touching the ledger. Starting a completed task is a retake:
// the record flips back to in_progress and the attempt counter
// increments. Starting a task already in progress is a no-op.
func (l *Ledger) StartTask(ctx context.Context, userID, moduleID, taskID string) (*store.TaskRecord, error) {
	if err := l.validateTask(moduleID, taskID); err != nil {
		return nil, err
	}

	unlock := l.locks.lock(userID)
	defer unlock()

	now := l.now().UTC()

	rec, err := l.tasks.Get(ctx, userID, moduleID, taskID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = &store.TaskRecord{
			UserID:    userID,
			ModuleID:  moduleID,
			TaskID:    taskID,
			Status:    store.StatusInProgress,
			Attempts:  1,
			StartedAt: &now,
		}
	case err != nil:
		return nil, fmt.Errorf("load task record: %w", err)
	case rec.Status == store.StatusInProgress:
		// Idempotent: a repeated start does not reset started_at.
		return rec, nil
	case rec.Status == store.StatusCompleted:
		// Retake. Historical score stays until the next completion
		// overwrites it.
		rec.Status = store.StatusInProgress
		rec.Attempts++
		rec.StartedAt = &now
		rec.CompletedAt = nil
		rec.DurationSeconds = 0
	default:
		rec.Status = store.StatusInProgress
		rec.StartedAt = &now
		rec.Attempts++
	}

	if err := l.tasks.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist task start: %w", err)
	}
	if err := l.writeSnapshot(ctx, userID); err != nil {
		return nil, err
	}

	l.log.Info("task started",
		"user", userID, "module", moduleID, "task", taskID, "attempts", rec.Attempts)
	return rec, nil
}

// CompleteTask marks a task as completed with the given score. When
// screenshot bytes are provided they are stored through the artifact
// organizer and only the resulting path is kept on the record. The
// durable write happens before the completion observer runs, and
// observer failures never surface to the caller.
func (l *Ledger) CompleteTask(ctx context.Context, userID, moduleID, taskID string, score float64, screenshot []byte) (*store.TaskRecord, error) {
	if err := l.validateTask(moduleID, taskID); err != nil {
		return nil, err
	}

	unlock := l.locks.lock(userID)
	defer unlock()

	wasComplete, err := l.moduleComplete(ctx, userID, moduleID)
	if err != nil {
		// Completion state is only needed for the observer; unknown is
		// acceptable here because the observer re-checks on its own.
		l.log.Warn("pre-completion check failed", "user", userID, "module", moduleID, "error", err)
		wasComplete = false
	}

	now := l.now().UTC()

	rec, err := l.tasks.Get(ctx, userID, moduleID, taskID)
	if errors.Is(err, store.ErrNotFound) {
		// Completion without a prior start: record it anyway, with no
		// start time and zero duration.
		rec = &store.TaskRecord{
			UserID:   userID,
			ModuleID: moduleID,
			TaskID:   taskID,
			Attempts: 1,
		}
	} else if err != nil {
		return nil, fmt.Errorf("load task record: %w", err)
	}

	var duration int64
	if rec.StartedAt != nil {
		duration = int64(now.Sub(*rec.StartedAt).Seconds())
		if duration < 0 {
			duration = 0
		}
	}

	if len(screenshot) > 0 {
		path, err := l.organizer.SaveScreenshot(userID, moduleID, taskID, screenshot, now)
		if err != nil {
			return nil, fmt.Errorf("store screenshot: %w", err)
		}
		rec.ScreenshotPath = path
	}

	rec.Status = store.StatusCompleted
	rec.Score = &score
	rec.CompletedAt = &now
	rec.DurationSeconds = duration

	if err := l.tasks.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist task completion: %w", err)
	}
	if err := l.writeSnapshot(ctx, userID); err != nil {
		return nil, err
	}

	l.log.Info("task completed",
		"user", userID, "module", moduleID, "task", taskID,
		"score", score, "duration_seconds", duration)

	l.checkMilestones(ctx, userID)

	if l.observer != nil {
		if err := l.observer.TaskCompleted(ctx, userID, moduleID, wasComplete); err != nil {
			l.log.Warn("completion check failed",
				"user", userID, "module", moduleID, "error", err)
		}
	}

	return rec, nil
}

// ModuleProgress is a derived, non-stored view over the task records of
// one (user, module) pair.
type ModuleProgress struct {
	ModuleID             string
	Status               store.Status
	CompletionPercentage float64
	OverallScore         float64
	TotalTasks           int
	CompletedTasks       int
	RequiredTasks        int
	CompletedRequired    int
	StartedAt            *time.Time
	CompletedAt          *time.Time
	TotalDurationSeconds int64
}

// UserProgress computes progress for every module the user has touched,
// ordered by module id. It is recomputed from the task records on every
// call.
func (l *Ledger) UserProgress(ctx context.Context, userID string) ([]*ModuleProgress, error) {
	recs, err := l.tasks.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}

	byModule := make(map[string][]*store.TaskRecord)
	for _, rec := range recs {
		byModule[rec.ModuleID] = append(byModule[rec.ModuleID], rec)
	}

	var out []*ModuleProgress
	for moduleID, moduleRecs := range byModule {
		out = append(out, l.deriveProgress(moduleID, moduleRecs))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out, nil
}

// deriveProgress folds a module's task records into a summary. The
// completion percentage denominator is the catalog's required task set;
// when the catalog cannot answer, the recorded tasks stand in so the
// view stays usable offline.
func (l *Ledger) deriveProgress(moduleID string, recs []*store.TaskRecord) *ModuleProgress {
	p := &ModuleProgress{ModuleID: moduleID, Status: store.StatusInProgress}

	required, reqErr := l.catalog.RequiredTasks(moduleID)
	if reqErr != nil {
		required = make(map[string]struct{}, len(recs))
		for _, rec := range recs {
			required[rec.TaskID] = struct{}{}
		}
	}
	p.RequiredTasks = len(required)

	var scoreSum float64
	var scored int
	for _, rec := range recs {
		p.TotalTasks++
		p.TotalDurationSeconds += rec.DurationSeconds

		if rec.StartedAt != nil && (p.StartedAt == nil || rec.StartedAt.Before(*p.StartedAt)) {
			p.StartedAt = rec.StartedAt
		}
		if rec.Status != store.StatusCompleted {
			continue
		}
		p.CompletedTasks++
		if _, ok := required[rec.TaskID]; ok {
			p.CompletedRequired++
		}
		if rec.Score != nil {
			scoreSum += *rec.Score
			scored++
		}
		if rec.CompletedAt != nil && (p.CompletedAt == nil || rec.CompletedAt.After(*p.CompletedAt)) {
			p.CompletedAt = rec.CompletedAt
		}
	}

	if p.RequiredTasks > 0 {
		p.CompletionPercentage = float64(p.CompletedRequired) / float64(p.RequiredTasks) * 100
	}
	if scored > 0 {
		p.OverallScore = scoreSum / float64(scored)
	}
	if p.RequiredTasks > 0 && p.CompletedRequired == p.RequiredTasks {
		p.Status = store.StatusCompleted
	} else {
		p.CompletedAt = nil
	}
	return p
}

// validateTask rejects (module, task) pairs the catalog does not know,
// before any state is touched.
func (l *Ledger) validateTask(moduleID, taskID string) error {
	m, err := l.catalog.Module(moduleID)
	if errors.Is(err, catalog.ErrModuleNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownModule, moduleID)
	}
	if err != nil {
		return fmt.Errorf("resolve module %s: %w", moduleID, err)
	}
	if !m.HasTask(taskID) {
		return fmt.Errorf("%w: %s in module %s", ErrUnknownTask, taskID, moduleID)
	}
	return nil
}

// moduleComplete reports whether every required task of the module is
// currently completed for the user.
func (l *Ledger) moduleComplete(ctx context.Context, userID, moduleID string) (bool, error) {
	required, err := l.catalog.RequiredTasks(moduleID)
	if err != nil {
		return false, err
	}
	if len(required) == 0 {
		return false, nil
	}

	recs, err := l.tasks.ListByUserModule(ctx, userID, moduleID)
	if err != nil {
		return false, err
	}

	completed := make(map[string]struct{})
	for _, rec := range recs {
		if rec.Status == store.StatusCompleted {
			completed[rec.TaskID] = struct{}{}
		}
	}
	for id := range required {
		if _, ok := completed[id]; !ok {
			return false, nil
		}
	}
	return true, nil
}
