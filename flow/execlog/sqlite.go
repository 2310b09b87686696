package execlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dshills/agentflow-go/flow/fault"
)

// SQLiteStore persists execution records in a single-file database.
//
// Designed for development and single-process deployments: zero setup,
// WAL mode for concurrent reads, one writer at a time. Filterable columns
// are stored alongside the full record JSON so queries run in SQL.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:"
// for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite execution log: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite execution log: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create execution log tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT NOT NULL PRIMARY KEY,
			name TEXT NOT NULL,
			execution_type TEXT NOT NULL,
			status TEXT NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			start_time TIMESTAMP NOT NULL,
			record TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("create executions table: %w", err)
	}
	for _, index := range []string{
		"CREATE INDEX IF NOT EXISTS idx_executions_name ON executions(name)",
		"CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)",
		"CREATE INDEX IF NOT EXISTS idx_executions_start ON executions(start_time)",
		"CREATE INDEX IF NOT EXISTS idx_executions_correlation ON executions(correlation_id)",
	} {
		if _, err := s.db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("create executions index: %w", err)
		}
	}
	return nil
}

// Save implements Store. Saving an existing id replaces the record.
func (s *SQLiteStore) Save(ctx context.Context, rec *ExecutionRecord) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution record: %w", err)
	}

	query := `
		INSERT INTO executions (execution_id, name, execution_type, status, correlation_id, start_time, record)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			status = excluded.status,
			record = excluded.record
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.Type, string(rec.Status), rec.CorrelationID,
		rec.StartTime.Format(time.RFC3339Nano), string(recordJSON))
	if err != nil {
		return fmt.Errorf("save execution record: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*ExecutionRecord, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	var recordJSON string
	err := s.db.QueryRowContext(ctx, "SELECT record FROM executions WHERE execution_id = ?", id).Scan(&recordJSON)
	if err == sql.ErrNoRows {
		return nil, &fault.NotFoundError{Kind: "execution", Name: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load execution record: %w", err)
	}
	var rec ExecutionRecord
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal execution record: %w", err)
	}
	return &rec, nil
}

// Query implements Store, pushing the filters into SQL. Results are ordered
// newest first.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]*ExecutionRecord, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	query := "SELECT record FROM executions WHERE 1=1"
	var args []interface{}
	if q.NameContains != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+q.NameContains+"%")
	}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}
	if !q.From.IsZero() {
		query += " AND start_time >= ?"
		args = append(args, q.From.Format(time.RFC3339Nano))
	}
	if !q.To.IsZero() {
		query += " AND start_time <= ?"
		args = append(args, q.To.Format(time.RFC3339Nano))
	}
	if q.CorrelationID != "" {
		query += " AND correlation_id = ?"
		args = append(args, q.CorrelationID)
	}
	query += " ORDER BY start_time DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ExecutionRecord
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		var rec ExecutionRecord
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal execution record: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution records: %w", err)
	}
	return out, nil
}

// Close closes the database. Double-close is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()
	return s.db.PingContext(ctx)
}
