// Package stores persists diagnostics out of band of the shared state: an
// append-only SQLite log of operation state-machine events and goal
// outcomes, inspected after a run through the CLI. Writes are best effort
// and never block an engine tick.
package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/microcell/microcell/pkg/opsm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// OperationEvent is one persisted state-machine edge.
type OperationEvent struct {
	ID        int64     `json:"id"`
	Category  string    `json:"category"` // planned, automatic, sop
	Operation string    `json:"operation"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Narrative string    `json:"narrative"`
	Timestamp time.Time `json:"timestamp"`
}

// GoalEvent is one persisted goal life-cycle edge.
type GoalEvent struct {
	ID        int64     `json:"id"`
	GoalID    string    `json:"goal_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Info      string    `json:"info"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds SQLite store configuration.
type Config struct {
	Path string `yaml:"path"`
}

// EventStore implements append-only diagnostics persistence on SQLite.
type EventStore struct {
	db   *sql.DB
	path string
}

// NewEventStore creates a store instance; Init opens the database.
func NewEventStore(cfg Config) (*EventStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &EventStore{path: cfg.Path}, nil
}

// Init opens the database with WAL mode and a busy timeout suitable for
// concurrent engine writers.
func (s *EventStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	s.db = db
	return nil
}

// Close closes the database connection.
func (s *EventStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *EventStore) Migrate(context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *EventStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// AppendOperationEvent implements the runner's event sink. Failures are
// swallowed; diagnostics never gate progress.
func (s *EventStore) AppendOperationEvent(ctx context.Context, category string, ev opsm.Event) {
	if s.db == nil {
		return
	}
	_, _ = s.db.ExecContext(ctx,
		`INSERT INTO operation_events (category, operation, from_state, to_state, narrative, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		category, ev.Operation, string(ev.From), string(ev.To), ev.Narrative, ev.Timestamp.UTC().Format(time.RFC3339Nano))
}

// AppendGoalEvent implements the runner's event sink.
func (s *EventStore) AppendGoalEvent(ctx context.Context, goalID, from, to, info string) {
	if s.db == nil {
		return
	}
	_, _ = s.db.ExecContext(ctx,
		`INSERT INTO goal_events (goal_id, from_state, to_state, info, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		goalID, from, to, info, time.Now().UTC().Format(time.RFC3339Nano))
}

// ListOperationEvents returns the newest events first, optionally filtered
// by operation name.
func (s *EventStore) ListOperationEvents(ctx context.Context, operation string, limit int) ([]OperationEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, category, operation, from_state, to_state, narrative, timestamp
	          FROM operation_events`
	args := []any{}
	if operation != "" {
		query += ` WHERE operation = ?`
		args = append(args, operation)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation events: %w", err)
	}
	defer rows.Close()

	var events []OperationEvent
	for rows.Next() {
		var ev OperationEvent
		var ts string
		if err := rows.Scan(&ev.ID, &ev.Category, &ev.Operation, &ev.FromState, &ev.ToState, &ev.Narrative, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan operation event: %w", err)
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListGoalEvents returns the newest goal events first.
func (s *EventStore) ListGoalEvents(ctx context.Context, limit int) ([]GoalEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, goal_id, from_state, to_state, info, timestamp
		 FROM goal_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query goal events: %w", err)
	}
	defer rows.Close()

	var events []GoalEvent
	for rows.Next() {
		var ev GoalEvent
		var ts string
		if err := rows.Scan(&ev.ID, &ev.GoalID, &ev.FromState, &ev.ToState, &ev.Info, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan goal event: %w", err)
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}
