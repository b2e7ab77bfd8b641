// Package export renders a user's progress into portable JSON or CSV
// files for sharing outside the tool.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"traintrack/internal/artifacts"
	"traintrack/internal/identity"
	"traintrack/internal/ledger"
	"traintrack/internal/store"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (json or csv)", s)
	}
}

// Exporter writes progress exports under the data directory.
type Exporter struct {
	tasks     store.TaskRepo
	ledger    *ledger.Ledger
	organizer *artifacts.Organizer
	directory identity.Directory
	now       func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// New returns an Exporter over the given collaborators.
func New(tasks store.TaskRepo, l *ledger.Ledger, org *artifacts.Organizer, dir identity.Directory, opts ...Option) *Exporter {
	e := &Exporter{
		tasks:     tasks,
		ledger:    l,
		organizer: org,
		directory: dir,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes the user's progress in the given format and returns the
// path of the written file.
func (e *Exporter) Export(ctx context.Context, userID string, format Format) (string, error) {
	switch format {
	case FormatJSON:
		return e.exportJSON(ctx, userID)
	case FormatCSV:
		return e.exportCSV(ctx, userID)
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
}

type jsonExport struct {
	UserID     string          `json:"user_id"`
	Username   string          `json:"username"`
	ExportedAt string          `json:"exported_at"`
	Modules    []jsonModule    `json:"modules"`
	Tasks      []jsonTaskEntry `json:"tasks"`
}

type jsonModule struct {
	ModuleID             string  `json:"module_id"`
	Status               string  `json:"status"`
	CompletionPercentage float64 `json:"completion_percentage"`
	OverallScore         float64 `json:"overall_score"`
	CompletedTasks       int     `json:"completed_tasks"`
	RequiredTasks        int     `json:"required_tasks"`
	TotalDurationSeconds int64   `json:"total_duration_seconds"`
}

type jsonTaskEntry struct {
	ModuleID        string   `json:"module_id"`
	TaskID          string   `json:"task_id"`
	Status          string   `json:"status"`
	Score           *float64 `json:"score"`
	Attempts        int      `json:"attempts"`
	StartedAt       string   `json:"started_at,omitempty"`
	CompletedAt     string   `json:"completed_at,omitempty"`
	DurationSeconds int64    `json:"duration_seconds"`
	ScreenshotPath  string   `json:"screenshot_path,omitempty"`
}

func (e *Exporter) exportJSON(ctx context.Context, userID string) (string, error) {
	recs, progress, err := e.load(ctx, userID)
	if err != nil {
		return "", err
	}

	now := e.now().UTC()
	doc := jsonExport{
		UserID:     userID,
		Username:   identity.Resolve(e.directory, userID).Username,
		ExportedAt: now.Format(time.RFC3339),
	}
	for _, p := range progress {
		doc.Modules = append(doc.Modules, jsonModule{
			ModuleID:             p.ModuleID,
			Status:               string(p.Status),
			CompletionPercentage: p.CompletionPercentage,
			OverallScore:         p.OverallScore,
			CompletedTasks:       p.CompletedTasks,
			RequiredTasks:        p.RequiredTasks,
			TotalDurationSeconds: p.TotalDurationSeconds,
		})
	}
	for _, rec := range recs {
		doc.Tasks = append(doc.Tasks, jsonTaskEntry{
			ModuleID:        rec.ModuleID,
			TaskID:          rec.TaskID,
			Status:          string(rec.Status),
			Score:           rec.Score,
			Attempts:        rec.Attempts,
			StartedAt:       formatTime(rec.StartedAt),
			CompletedAt:     formatTime(rec.CompletedAt),
			DurationSeconds: rec.DurationSeconds,
			ScreenshotPath:  rec.ScreenshotPath,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	path := e.organizer.ExportPath(userID, "json", now)
	if err := artifacts.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

var csvHeader = []string{
	"module_id", "task_id", "status", "score", "attempts",
	"started_at", "completed_at", "duration_seconds", "screenshot_path",
}

func (e *Exporter) exportCSV(ctx context.Context, userID string) (string, error) {
	recs, _, err := e.load(ctx, userID)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range recs {
		score := ""
		if rec.Score != nil {
			score = strconv.FormatFloat(*rec.Score, 'f', -1, 64)
		}
		row := []string{
			rec.ModuleID,
			rec.TaskID,
			string(rec.Status),
			score,
			strconv.Itoa(rec.Attempts),
			formatTime(rec.StartedAt),
			formatTime(rec.CompletedAt),
			strconv.FormatInt(rec.DurationSeconds, 10),
			rec.ScreenshotPath,
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}

	path := e.organizer.ExportPath(userID, "csv", e.now().UTC())
	if err := artifacts.WriteFileAtomic(path, []byte(buf.String()), 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

func (e *Exporter) load(ctx context.Context, userID string) ([]*store.TaskRecord, []*ledger.ModuleProgress, error) {
	recs, err := e.tasks.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("list task records: %w", err)
	}
	progress, err := e.ledger.UserProgress(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return recs, progress, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
