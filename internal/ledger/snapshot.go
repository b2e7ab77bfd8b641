package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"traintrack/internal/artifacts"
	"traintrack/internal/identity"
	"traintrack/internal/store"
)

// snapshotFile is the on-disk shape of the per-user progress snapshot,
// kept alongside the relational ledger for offline and export use.
type snapshotFile struct {
	UserID      string                    `json:"user_id"`
	Username    string                    `json:"username"`
	GeneratedAt string                    `json:"generated_at"`
	Modules     map[string]snapshotModule `json:"modules"`
}

type snapshotModule struct {
	Tasks map[string]snapshotTask `json:"tasks"`
}

type snapshotTask struct {
	Status          string   `json:"status"`
	StartedAt       string   `json:"started_at,omitempty"`
	CompletedAt     string   `json:"completed_at,omitempty"`
	Score           *float64 `json:"score,omitempty"`
	Attempts        int      `json:"attempts"`
	DurationSeconds int64    `json:"duration_seconds"`
	ScreenshotPath  string   `json:"screenshot_path,omitempty"`
}

// writeSnapshot rewrites the user's progress snapshot from the current
// ledger state. The write is all-or-nothing: a crash mid-write never
// leaves a truncated snapshot behind.
func (l *Ledger) writeSnapshot(ctx context.Context, userID string) error {
	recs, err := l.tasks.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list records for snapshot: %w", err)
	}

	id := identity.Resolve(l.directory, userID)
	snap := snapshotFile{
		UserID:      userID,
		Username:    id.Username,
		GeneratedAt: l.now().UTC().Format(time.RFC3339),
		Modules:     make(map[string]snapshotModule),
	}

	for _, rec := range recs {
		mod, ok := snap.Modules[rec.ModuleID]
		if !ok {
			mod = snapshotModule{Tasks: make(map[string]snapshotTask)}
			snap.Modules[rec.ModuleID] = mod
		}
		mod.Tasks[rec.TaskID] = snapshotTask{
			Status:          string(rec.Status),
			StartedAt:       formatTime(rec.StartedAt),
			CompletedAt:     formatTime(rec.CompletedAt),
			Score:           rec.Score,
			Attempts:        rec.Attempts,
			DurationSeconds: rec.DurationSeconds,
			ScreenshotPath:  rec.ScreenshotPath,
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := artifacts.WriteFileAtomic(l.organizer.SnapshotPath(userID), data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// checkMilestones records any newly crossed milestones. Failures here
// are logged and swallowed; milestones are decoration, not ledger state.
func (l *Ledger) checkMilestones(ctx context.Context, userID string) {
	if l.milestones == nil {
		return
	}

	completed, err := l.tasks.CountCompleted(ctx, userID)
	if err != nil {
		l.log.Warn("milestone task count failed", "user", userID, "error", err)
		return
	}
	perfect, err := l.tasks.CountPerfectScores(ctx, userID)
	if err != nil {
		l.log.Warn("milestone score count failed", "user", userID, "error", err)
		return
	}
	modules := l.countCompletedModules(ctx, userID)

	type check struct {
		kind      string
		count     int
		threshold int
		desc      string
	}
	checks := []check{
		{"first_task", completed, 1, "First task completed"},
		{"10_tasks", completed, 10, "Ten tasks completed"},
		{"first_module", modules, 1, "First module completed"},
		{"5_modules", modules, 5, "Five modules completed"},
		{"perfect_score", perfect, 1, "Perfect score achieved"},
	}

	now := l.now().UTC()
	for _, c := range checks {
		if c.count < c.threshold {
			continue
		}
		newly, err := l.milestones.Achieve(ctx, &store.Milestone{
			UserID:      userID,
			Kind:        c.kind,
			Value:       fmt.Sprintf("%d", c.count),
			AchievedAt:  now,
			Description: c.desc,
		})
		if err != nil {
			l.log.Warn("milestone write failed", "user", userID, "kind", c.kind, "error", err)
			continue
		}
		if newly {
			l.log.Info("milestone achieved", "user", userID, "kind", c.kind)
		}
	}
}

func (l *Ledger) countCompletedModules(ctx context.Context, userID string) int {
	recs, err := l.tasks.ListByUser(ctx, userID)
	if err != nil {
		l.log.Warn("milestone module count failed", "user", userID, "error", err)
		return 0
	}

	seen := make(map[string]struct{})
	for _, rec := range recs {
		seen[rec.ModuleID] = struct{}{}
	}

	var n int
	for moduleID := range seen {
		complete, err := l.moduleComplete(ctx, userID, moduleID)
		if err != nil {
			continue
		}
		if complete {
			n++
		}
	}
	return n
}
