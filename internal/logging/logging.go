// Package logging builds the process logger: human-readable text on
// stderr fanned out with a structured JSON file under the data
// directory.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

var level = new(slog.LevelVar)

// SetVerbose lowers the level to debug.
func SetVerbose(verbose bool) {
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

// Setup returns a logger writing text to stderr and JSON to
// logs/traintrack.log under dataDir. The returned closer releases the
// log file. A file that cannot be opened degrades to stderr only.
func Setup(dataDir string) (*slog.Logger, io.Closer, error) {
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	path := filepath.Join(dataDir, "logs", "traintrack.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return slog.New(textHandler), nopCloser{}, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return slog.New(textHandler), nopCloser{}, fmt.Errorf("open log file: %w", err)
	}

	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(textHandler, fileHandler)), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
