package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"traintrack/internal/artifacts"
	"traintrack/internal/catalog"
	"traintrack/internal/identity"
	"traintrack/internal/store"
)

// ErrCatalogUnavailable means module completion could not be decided.
// Callers must treat it as "completion unknown" and retry on the next
// task event; it is never recorded as not-complete.
var ErrCatalogUnavailable = errors.New("catalog unavailable, completion unknown")

// SyncTrigger accepts fire-and-forget synchronization requests.
type SyncTrigger interface {
	Enqueue(userID, moduleID string)
}

// Aggregator derives module completion and writes completion reports.
type Aggregator struct {
	tasks     store.TaskRepo
	catalog   catalog.Catalog
	directory identity.Directory
	organizer *artifacts.Organizer
	trigger   SyncTrigger
	log       *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithSyncTrigger sets the sync trigger fired after a report is written.
func WithSyncTrigger(t SyncTrigger) Option {
	return func(a *Aggregator) { a.trigger = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithIDGenerator overrides report id generation.
func WithIDGenerator(gen func() string) Option {
	return func(a *Aggregator) { a.newID = gen }
}

// New returns an Aggregator over the given collaborators.
func New(tasks store.TaskRepo, cat catalog.Catalog, dir identity.Directory, org *artifacts.Organizer, log *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		tasks:     tasks,
		catalog:   cat,
		directory: dir,
		organizer: org,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TaskCompleted is the ledger's completion hook. A report is generated
// only when the module transitions from not-complete to complete; a
// completion while the module was already complete (optional task,
// retake of a single task in an otherwise complete module) produces
// nothing.
func (a *Aggregator) TaskCompleted(ctx context.Context, userID, moduleID string, wasComplete bool) error {
	complete, err := a.CheckModuleCompletion(ctx, userID, moduleID)
	if err != nil {
		return err
	}
	if !complete || wasComplete {
		return nil
	}

	rep, err := a.GenerateReport(ctx, userID, moduleID)
	if err != nil {
		return err
	}

	a.log.Info("module completed",
		"user", userID, "module", moduleID,
		"report", rep.ReportID, "overall_score", rep.OverallScore)

	if a.trigger != nil {
		a.trigger.Enqueue(userID, moduleID)
	}
	return nil
}

// CheckModuleCompletion reports whether every required task of the
// module is completed for the user. A catalog failure aborts with
// ErrCatalogUnavailable and no side effects.
func (a *Aggregator) CheckModuleCompletion(ctx context.Context, userID, moduleID string) (bool, error) {
	required, err := a.catalog.RequiredTasks(moduleID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if len(required) == 0 {
		return false, nil
	}

	recs, err := a.tasks.ListByUserModule(ctx, userID, moduleID)
	if err != nil {
		return false, fmt.Errorf("list task records: %w", err)
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

// GenerateReport assembles a completion report from the current task
// records and writes it to a timestamped path that is never reused.
func (a *Aggregator) GenerateReport(ctx context.Context, userID, moduleID string) (*CompletionReport, error) {
	module, err := a.catalog.Module(moduleID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	recs, err := a.tasks.ListByUserModule(ctx, userID, moduleID)
	if err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}

	now := a.now().UTC()
	rep := &CompletionReport{
		ReportID: a.newID(),
		User:     *identity.Resolve(a.directory, userID),
		Module: ModuleInfo{
			ID:      module.ID,
			Name:    module.Name,
			Version: module.Version,
		},
		CompletedAt: now.Format(time.RFC3339),
		Tasks:       orderTaskSummaries(module, recs),
	}

	var scoreSum float64
	var scored int
	for _, t := range rep.Tasks {
		rep.TotalDurationSeconds += t.DurationSeconds
		if t.Status == string(store.StatusCompleted) && t.Score != nil {
			scoreSum += *t.Score
			scored++
		}
	}
	if scored > 0 {
		rep.OverallScore = scoreSum / float64(scored)
	}

	if err := Seal(rep); err != nil {
		return nil, fmt.Errorf("seal report: %w", err)
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	path := a.organizer.ReportPath(userID, moduleID, now)
	if err := artifacts.WriteFileAtomic(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	return rep, nil
}

// orderTaskSummaries returns summaries for recorded tasks in the
// catalog's declaration order; records for tasks the catalog no longer
// lists are appended after, ordered by task id.
func orderTaskSummaries(module *catalog.Module, recs []*store.TaskRecord) []TaskSummary {
	byID := make(map[string]*store.TaskRecord, len(recs))
	for _, rec := range recs {
		byID[rec.TaskID] = rec
	}

	var out []TaskSummary
	for _, t := range module.Tasks {
		rec, ok := byID[t.ID]
		if !ok {
			continue
		}
		out = append(out, summarize(rec))
		delete(byID, t.ID)
	}

	var rest []string
	for id := range byID {
		rest = append(rest, id)
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, summarize(byID[id]))
	}
	return out
}

func summarize(rec *store.TaskRecord) TaskSummary {
	return TaskSummary{
		TaskID:          rec.TaskID,
		Status:          string(rec.Status),
		Score:           rec.Score,
		Attempts:        rec.Attempts,
		DurationSeconds: rec.DurationSeconds,
		ScreenshotPath:  rec.ScreenshotPath,
	}
}

// UserHistory returns the user's locally stored completion reports,
// newest first.
func (a *Aggregator) UserHistory(userID string) ([]*CompletionReport, error) {
	paths, err := filepath.Glob(a.organizer.UserReportGlob(userID))
	if err != nil {
		return nil, fmt.Errorf("glob reports: %w", err)
	}

	var reports []*CompletionReport
	for _, p := range paths {
		rep, err := Load(p)
		if err != nil {
			a.log.Warn("skipping unreadable report", "path", p, "error", err)
			continue
		}
		reports = append(reports, rep)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].CompletedAt > reports[j].CompletedAt
	})
	return reports, nil
}

// ModuleStatistics aggregates the locally stored reports for a module.
type ModuleStatistics struct {
	ModuleID         string
	TotalCompletions int
	AverageScore     float64
	AverageDuration  float64
}

// Statistics computes completion statistics for a module from the local
// report history.
func (a *Aggregator) Statistics(moduleID string) (*ModuleStatistics, error) {
	paths, err := filepath.Glob(a.organizer.ModuleReportGlob(moduleID))
	if err != nil {
		return nil, fmt.Errorf("glob reports: %w", err)
	}

	stats := &ModuleStatistics{ModuleID: moduleID}
	var scoreSum float64
	var durationSum int64
	for _, p := range paths {
		rep, err := Load(p)
		if err != nil {
			a.log.Warn("skipping unreadable report", "path", p, "error", err)
			continue
		}
		stats.TotalCompletions++
		scoreSum += rep.OverallScore
		durationSum += rep.TotalDurationSeconds
	}
	if stats.TotalCompletions > 0 {
		stats.AverageScore = scoreSum / float64(stats.TotalCompletions)
		stats.AverageDuration = float64(durationSum) / float64(stats.TotalCompletions)
	}
	return stats, nil
}
