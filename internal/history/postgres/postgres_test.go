package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kyusang/termvisor/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	started := time.Now().UTC().Truncate(time.Second)
	rec := history.Record{
		InstanceID: "inst-pg-1",
		Session:    "sess-a",
		Command:    "/bin/bash",
		PID:        4242,
		StartedAt:  started,
	}
	if err := sink.RecordSpawn(ctx, rec); err != nil {
		t.Fatalf("Failed to record spawn: %v", err)
	}
	if err := sink.RecordExit(ctx, rec.InstanceID, started.Add(2*time.Second), nil); err != nil {
		t.Fatalf("Failed to record exit: %v", err)
	}

	var (
		session  string
		pid      int
		exitedAt sql.NullTime
		exitErr  sql.NullString
	)
	row := sink.db.QueryRowContext(ctx, `
		SELECT session_id, pid, exited_at, exit_err
		FROM instance_history WHERE instance_id = $1`, rec.InstanceID)
	if err := row.Scan(&session, &pid, &exitedAt, &exitErr); err != nil {
		t.Fatalf("Failed to read back history row: %v", err)
	}
	if session != rec.Session || pid != rec.PID {
		t.Errorf("Row mismatch: session=%s pid=%d", session, pid)
	}
	if !exitedAt.Valid {
		t.Error("exited_at was not set by RecordExit")
	}
	if exitErr.Valid {
		t.Errorf("Clean exit stored error %q", exitErr.String)
	}

	// Re-spawn of the same instance id must upsert, not duplicate.
	if err := sink.RecordSpawn(ctx, rec); err != nil {
		t.Fatalf("Failed to re-record spawn: %v", err)
	}
	var count int
	if err := sink.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM instance_history WHERE instance_id = $1`, rec.InstanceID).Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 history row, got %d", count)
	}
}
