package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kyusang/termvisor/internal/history"
)

// DB implements history.Sink on PostgreSQL via the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("empty postgres dsn")
	}
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
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
			id BIGSERIAL PRIMARY KEY,
			instance_id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			command TEXT NOT NULL,
			pid INTEGER NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			exited_at TIMESTAMPTZ NULL,
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
		VALUES($1, $2, $3, $4, $5)
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
		UPDATE instance_history SET exited_at=$1, exit_err=$2 WHERE instance_id=$3;`,
		exitedAt.UTC(), errStr, instanceID)
	return err
}
