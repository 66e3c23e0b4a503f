package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kyusang/termvisor/internal/history"
)

// DB implements history.Sink on SQLite (modernc.org/sqlite driver, CGO-free).
// The path is a filesystem location; use ":memory:" for tests.
type DB struct {
	db *sql.DB
}

func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &DB{db: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instance_history(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			command TEXT NOT NULL,
			pid INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			exited_at TIMESTAMP NULL,
			exit_err TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_instance_history_session ON instance_history(session_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) RecordSpawn(ctx context.Context, rec history.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instance_history(instance_id, session_id, command, pid, started_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			session_id=excluded.session_id,
			command=excluded.command,
			pid=excluded.pid,
			started_at=excluded.started_at,
			exited_at=NULL,
			exit_err=NULL;`,
		rec.InstanceID, rec.Session, rec.Command, rec.PID, rec.StartedAt.UTC())
	return err
}

func (s *DB) RecordExit(ctx context.Context, instanceID string, exitedAt time.Time, exitErr error) error {
	var errStr sql.NullString
	if exitErr != nil {
		errStr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE instance_history SET exited_at=?, exit_err=? WHERE instance_id=?;`,
		exitedAt.UTC(), errStr, instanceID)
	return err
}
