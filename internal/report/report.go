// Package report writes and reads indented JSON report files.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/tickergate/internal/health"
	"github.com/rickgao/tickergate/internal/incident"
)

// Write marshals v as two-space indented JSON and replaces path atomically.
// Missing parent directories are created.
func Write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}

// Read loads the JSON report at path into v.
func Read(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse report: %w", err)
	}
	return nil
}

// Filename returns "<prefix>-<UTC timestamp>.json".
func Filename(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s.json", prefix, t.UTC().Format("20060102T150405Z"))
}

// HealthReport is the output of a one-shot probe over configured services.
type HealthReport struct {
	ID          uuid.UUID       `json:"id"`
	Instance    string          `json:"instance"`
	GeneratedAt time.Time       `json:"generated_at"`
	Healthy     int             `json:"healthy"`
	Unhealthy   int             `json:"unhealthy"`
	Results     []health.Result `json:"results"`
}

// NewHealthReport summarises results.
func NewHealthReport(instance string, results []health.Result) HealthReport {
	r := HealthReport{
		ID:          uuid.New(),
		Instance:    instance,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
	}
	for _, res := range results {
		if res.Status.OK() {
			r.Healthy++
		} else {
			r.Unhealthy++
		}
	}
	return r
}

// ServiceSummary is one service's final state in a RecoveryReport.
type ServiceSummary struct {
	Name             string        `json:"name"`
	Critical         bool          `json:"critical"`
	Status           health.Status `json:"status"`
	Restarts         int           `json:"restarts"`
	RecoveryAttempts int           `json:"recovery_attempts"`
	GaveUp           bool          `json:"gave_up"`
	LastError        string        `json:"last_error,omitempty"`
}

// RecoveryReport is written by the supervisor on shutdown.
type RecoveryReport struct {
	ID          uuid.UUID        `json:"id"`
	Instance    string           `json:"instance"`
	StartedAt   time.Time        `json:"started_at"`
	GeneratedAt time.Time        `json:"generated_at"`
	Services    []ServiceSummary `json:"services"`

	// Most recent incidents, newest first, when an incident log is kept.
	Incidents []incident.Incident `json:"incidents,omitempty"`
}
