// Package artifacts owns the on-disk layout of progress snapshots,
// completion reports, screenshots and exports. It is pure path
// construction plus atomic file writes; no business logic.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// timestamp layout used in artifact file names.
const stampLayout = "20060102_150405"

// Organizer builds deterministic artifact paths under a data directory.
type Organizer struct {
	root string
}

// NewOrganizer returns an Organizer rooted at dir.
func NewOrganizer(dir string) *Organizer {
	return &Organizer{root: dir}
}

// Root returns the data directory the organizer is rooted at.
func (o *Organizer) Root() string {
	return o.root
}

// SnapshotPath returns the per-user progress snapshot path:
// progress/{user_id}_progress.json.
func (o *Organizer) SnapshotPath(userID string) string {
	return filepath.Join(o.root, "progress", sanitize(userID)+"_progress.json")
}

// ReportPath returns a timestamped completion report path:
// reports/{user_id}_{module_id}_{timestamp}.json. Timestamped names are
// never reused, so reports form an append-only history.
func (o *Organizer) ReportPath(userID, moduleID string, ts time.Time) string {
	name := fmt.Sprintf("%s_%s_%s.json", sanitize(userID), sanitize(moduleID), ts.UTC().Format(stampLayout))
	return filepath.Join(o.root, "reports", name)
}

// ReportGlob returns the glob matching every report for (user, module).
func (o *Organizer) ReportGlob(userID, moduleID string) string {
	return filepath.Join(o.root, "reports", fmt.Sprintf("%s_%s_*.json", sanitize(userID), sanitize(moduleID)))
}

// ModuleReportGlob returns the glob matching every report for a module,
// across users.
func (o *Organizer) ModuleReportGlob(moduleID string) string {
	return filepath.Join(o.root, "reports", fmt.Sprintf("*_%s_*.json", sanitize(moduleID)))
}

// UserReportGlob returns the glob matching every report for a user.
func (o *Organizer) UserReportGlob(userID string) string {
	return filepath.Join(o.root, "reports", sanitize(userID)+"_*.json")
}

// ScreenshotPath returns the canonical screenshot path:
// screenshots/{user}/{module}/{task}_{timestamp}.png.
func (o *Organizer) ScreenshotPath(userID, moduleID, taskID string, ts time.Time) string {
	name := fmt.Sprintf("%s_%s.png", sanitize(taskID), ts.UTC().Format(stampLayout))
	return filepath.Join(o.root, "screenshots", sanitize(userID), sanitize(moduleID), name)
}

// ExportPath returns a timestamped progress export path:
// exports/progress_{user}_{timestamp}.{ext}.
func (o *Organizer) ExportPath(userID, ext string, ts time.Time) string {
	name := fmt.Sprintf("progress_%s_%s.%s", sanitize(userID), ts.UTC().Format(stampLayout), ext)
	return filepath.Join(o.root, "exports", name)
}

// RelPath returns path relative to the data root, with forward slashes,
// for mirroring the local layout remotely.
func (o *Organizer) RelPath(path string) (string, error) {
	rel, err := filepath.Rel(o.root, path)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", path, err)
	}
	return filepath.ToSlash(rel), nil
}

// SaveScreenshot writes already-captured screenshot bytes to the
// canonical path atomically and returns that path.
func (o *Organizer) SaveScreenshot(userID, moduleID, taskID string, data []byte, ts time.Time) (string, error) {
	path := o.ScreenshotPath(userID, moduleID, taskID, ts)
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save screenshot: %w", err)
	}
	return path, nil
}

// WriteFileAtomic writes data to path via a temp file and rename, so a
// crash mid-write never leaves a truncated file behind.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// sanitize lowercases a path segment and replaces characters that would
// break the directory layout.
func sanitize(segment string) string {
	s := strings.ToLower(strings.TrimSpace(segment))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "..", "_")
	return s
}
