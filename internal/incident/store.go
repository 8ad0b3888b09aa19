// Package incident keeps a durable log of service health transitions and
// recovery attempts in SQLite.
package incident

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// Kind classifies an incident record.
type Kind string

const (
	KindTransition Kind = "transition" // Health status changed
	KindRecovery   Kind = "recovery"   // Restart attempted
	KindGaveUp     Kind = "gave_up"    // Recovery attempts exhausted
)

// Incident is one logged event for a service.
type Incident struct {
	ID      uuid.UUID `json:"id"`
	Service string    `json:"service"`
	Kind    Kind      `json:"kind"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Store persists incidents.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create incident dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent records.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			service TEXT NOT NULL,
			kind TEXT NOT NULL,
			from_status TEXT NOT NULL DEFAULT '',
			to_status TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS incidents_service_at ON incidents (service, at);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create incidents schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Record stores inc. A zero ID or timestamp is filled in.
func (s *Store) Record(ctx context.Context, inc Incident) error {
	if inc.ID == uuid.Nil {
		inc.ID = uuid.New()
	}
	if inc.At.IsZero() {
		inc.At = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents (id, service, kind, from_status, to_status, detail, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inc.ID.String(), inc.Service, string(inc.Kind), inc.From, inc.To, inc.Detail, inc.At.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// List returns incidents newest first. An empty service lists every
// service; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, service string, limit int) ([]Incident, error) {
	query := `SELECT id, service, kind, from_status, to_status, detail, at FROM incidents`
	var args []any
	if service != "" {
		query += ` WHERE service = ?`
		args = append(args, service)
	}
	query += ` ORDER BY at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var (
			inc  Incident
			id   string
			kind string
			at   int64
		)
		if err := rows.Scan(&id, &inc.Service, &kind, &inc.From, &inc.To, &inc.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse incident id: %w", err)
		}
		inc.Kind = Kind(kind)
		inc.At = time.UnixMicro(at)
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
