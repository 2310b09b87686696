package execlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dshills/agentflow-go/flow/fault"
)

// MySQLStore persists execution records in MySQL/MariaDB.
//
// Designed for production deployments where multiple workers share one
// execution history: connection pooling, JSON record column, indexed
// filter columns.
//
// The DSN format is the go-sql-driver form:
//
//	user:password@tcp(localhost:3306)/agentflow?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a pooled connection and ensures the schema exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql execution log: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql execution log: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create execution log tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id VARCHAR(64) NOT NULL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			execution_type VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			correlation_id VARCHAR(255) NOT NULL DEFAULT '',
			start_time DATETIME(6) NOT NULL,
			record JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_executions_name (name),
			INDEX idx_executions_status (status),
			INDEX idx_executions_start (start_time),
			INDEX idx_executions_correlation (correlation_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("create executions table: %w", err)
	}
	return nil
}

// Save implements Store. Saving an existing id replaces the record.
func (s *MySQLStore) Save(ctx context.Context, rec *ExecutionRecord) error {
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
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			record = VALUES(record)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.Type, string(rec.Status), rec.CorrelationID,
		rec.StartTime.UTC(), string(recordJSON))
	if err != nil {
		return fmt.Errorf("save execution record: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *MySQLStore) Load(ctx context.Context, id string) (*ExecutionRecord, error) {
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
func (s *MySQLStore) Query(ctx context.Context, q Query) ([]*ExecutionRecord, error) {
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
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += " AND start_time <= ?"
		args = append(args, q.To.UTC())
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

// Close closes the connection pool. Double-close is a no-op.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *MySQLStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()
	return s.db.PingContext(ctx)
}
