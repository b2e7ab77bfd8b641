// Package report derives module completion from the ledger and produces
// immutable, tamper-evident completion reports.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gowebpki/jcs"

	"traintrack/internal/identity"
)

// TaskSummary is one task's line item inside a completion report.
type TaskSummary struct {
	TaskID          string   `json:"task_id"`
	Status          string   `json:"status"`
	Score           *float64 `json:"score,omitempty"`
	Attempts        int      `json:"attempts"`
	DurationSeconds int64    `json:"duration_seconds"`
	ScreenshotPath  string   `json:"screenshot_path,omitempty"`
}

// ModuleInfo identifies the completed module.
type ModuleInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CompletionReport is an immutable snapshot of a module completion.
// VerificationHash is a SHA-256 digest over the canonical (RFC 8785)
// JSON serialization of every other field.
type CompletionReport struct {
	ReportID             string            `json:"report_id"`
	User                 identity.Identity `json:"user"`
	Module               ModuleInfo        `json:"module"`
	CompletedAt          string            `json:"completed_at"`
	OverallScore         float64           `json:"overall_score"`
	TotalDurationSeconds int64             `json:"total_duration_seconds"`
	Tasks                []TaskSummary     `json:"tasks"`
	VerificationHash     string            `json:"verification_hash,omitempty"`
}

// ComputeHash returns the verification hash for the report's current
// contents, ignoring any hash already present.
func ComputeHash(r *CompletionReport) (string, error) {
	clone := *r
	clone.VerificationHash = ""

	raw, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize report: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Seal computes and sets the verification hash.
func Seal(r *CompletionReport) error {
	h, err := ComputeHash(r)
	if err != nil {
		return err
	}
	r.VerificationHash = h
	return nil
}

// Verify recomputes the hash and reports whether it matches the one
// embedded in the report.
func Verify(r *CompletionReport) (bool, error) {
	if r.VerificationHash == "" {
		return false, nil
	}
	h, err := ComputeHash(r)
	if err != nil {
		return false, err
	}
	return h == r.VerificationHash, nil
}

// Load reads a completion report from disk.
func Load(path string) (*CompletionReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r CompletionReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &r, nil
}
