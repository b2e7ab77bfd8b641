package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var stamp = time.Date(2026, 8, 31, 12, 30, 45, 0, time.UTC)

func TestPathsAreDeterministic(t *testing.T) {
	o := NewOrganizer("/data")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"snapshot", o.SnapshotPath("U1"), "/data/progress/u1_progress.json"},
		{"report", o.ReportPath("u1", "Net Basics", stamp), "/data/reports/u1_net_basics_20260831_123045.json"},
		{"screenshot", o.ScreenshotPath("u1", "m1", "t1", stamp), "/data/screenshots/u1/m1/t1_20260831_123045.png"},
		{"export", o.ExportPath("u1", "csv", stamp), "/data/exports/progress_u1_20260831_123045.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != filepath.FromSlash(tt.want) {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestSanitizeStripsSeparators(t *testing.T) {
	o := NewOrganizer("/data")
	p := o.ScreenshotPath("Jane Doe", "Mod/One", "../t1", stamp)
	if strings.Contains(filepath.ToSlash(p), "..") {
		t.Errorf("path %q contains parent traversal", p)
	}
	if !strings.Contains(filepath.ToSlash(p), "jane_doe/mod_one/") {
		t.Errorf("path %q not sanitized as expected", p)
	}
}

func TestRelPathMirrorsLayout(t *testing.T) {
	o := NewOrganizer(filepath.FromSlash("/data"))
	rel, err := o.RelPath(o.SnapshotPath("u1"))
	if err != nil {
		t.Fatalf("rel path: %v", err)
	}
	if rel != "progress/u1_progress.json" {
		t.Errorf("rel = %q, want progress/u1_progress.json", rel)
	}
}

func TestSaveScreenshotWritesAtomically(t *testing.T) {
	o := NewOrganizer(t.TempDir())
	data := []byte{0x89, 'P', 'N', 'G'}

	path, err := o.SaveScreenshot("u1", "m1", "t1", data, stamp)
	if err != nil {
		t.Fatalf("save screenshot: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != string(data) {
		t.Error("screenshot content mismatch")
	}

	// No temp files may remain next to the artifact.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestWriteFileAtomicOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "file.json")

	if err := WriteFileAtomic(path, []byte("one"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "two" {
		t.Errorf("content = %q, want two", got)
	}
}
