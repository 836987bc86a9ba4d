package pii

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DefaultMaxAuditEntries bounds the in-memory audit log.
const DefaultMaxAuditEntries = 5000

// Audit database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string

	// SQLite
	Path string

	// PostgreSQL
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// AuditEntry records one anonymization request. It holds sizes and counters
// only, never text.
type AuditEntry struct {
	ID          string         `json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	Detector    string         `json:"detector"`
	InputBytes  int            `json:"input_bytes"`
	OutputBytes int            `json:"output_bytes"`
	Names       int            `json:"names"`
	Roles       map[string]int `json:"roles"`
	Rejected    int            `json:"rejected"`
}

// NewAuditEntry builds the audit record for one anonymized document.
func NewAuditEntry(detector string, input string, result Result) AuditEntry {
	roles := make(map[string]int, len(result.Roles))
	for k, v := range result.Roles {
		roles[k] = v
	}
	return AuditEntry{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Detector:    detector,
		InputBytes:  len(input),
		OutputBytes: len(result.Text),
		Names:       result.Names,
		Roles:       roles,
		Rejected:    len(result.Rejected),
	}
}

// AuditDB defines the interface for audit log storage
type AuditDB interface {
	// Record stores an audit entry
	Record(ctx context.Context, entry AuditEntry) error

	// List returns entries newest first
	List(ctx context.Context, limit, offset int) ([]AuditEntry, error)

	// Count returns the total number of entries
	Count(ctx context.Context) (int, error)

	// Clear removes all entries
	Clear(ctx context.Context) error

	// CleanupOlderThan removes entries older than the given duration
	CleanupOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)

	// Close closes the database connection
	Close() error
}

// NewAuditDB opens the audit store selected by config.Driver.
func NewAuditDB(ctx context.Context, config DatabaseConfig) (AuditDB, error) {
	switch config.Driver {
	case "", DriverMemory:
		return NewInMemoryAuditDB(DefaultMaxAuditEntries), nil
	case DriverSQLite:
		db, err := NewSQLiteAuditDB(ctx, config)
		if err != nil {
			return nil, err
		}
		return db, nil
	case DriverPostgres:
		db, err := NewPostgresAuditDB(ctx, config)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", config.Driver)
	}
}

// sqlAuditStore holds the queries shared by the SQL backends. bind renders
// the n-th (1-based) query parameter for the dialect.
type sqlAuditStore struct {
	db     *sql.DB
	bind   func(n int) string
	logger zerolog.Logger
}

// PostgresAuditDB implements AuditDB for PostgreSQL
type PostgresAuditDB struct {
	sqlAuditStore
}

// NewPostgresAuditDB creates a new PostgreSQL audit database
func NewPostgresAuditDB(ctx context.Context, config DatabaseConfig) (*PostgresAuditDB, error) {
	// Build connection string
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
			id UUID PRIMARY KEY,
			created_at_ms BIGINT NOT NULL,
			detector VARCHAR(100) NOT NULL,
			input_bytes INTEGER NOT NULL,
			output_bytes INTEGER NOT NULL,
			names INTEGER NOT NULL,
			roles TEXT NOT NULL DEFAULT '{}',
			rejected INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at_ms)`,
	}
	if err := createTables(ctx, db, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &PostgresAuditDB{sqlAuditStore{
		db:     db,
		bind:   func(n int) string { return fmt.Sprintf("$%d", n) },
		logger: log.With().Str("component", "audit").Str("driver", DriverPostgres).Logger(),
	}}, nil
}

// SQLiteAuditDB implements AuditDB for SQLite
type SQLiteAuditDB struct {
	sqlAuditStore
}

// NewSQLiteAuditDB creates a new SQLite audit database
func NewSQLiteAuditDB(ctx context.Context, config DatabaseConfig) (*SQLiteAuditDB, error) {
	dbPath := config.Path
	if dbPath == "" {
		dbPath = "rolemask.db"
	}

	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			created_at_ms INTEGER NOT NULL,
			detector TEXT NOT NULL,
			input_bytes INTEGER NOT NULL,
			output_bytes INTEGER NOT NULL,
			names INTEGER NOT NULL,
			roles TEXT NOT NULL DEFAULT '{}',
			rejected INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at_ms)`,
	}
	if err := createTables(ctx, db, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteAuditDB{sqlAuditStore{
		db:     db,
		bind:   func(int) string { return "?" },
		logger: log.With().Str("component", "audit").Str("driver", DriverSQLite).Logger(),
	}}, nil
}

func createTables(ctx context.Context, db *sql.DB, queries []string) error {
	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute: %s: %w", query, err)
		}
	}
	return nil
}

// Record stores an audit entry
func (s *sqlAuditStore) Record(ctx context.Context, entry AuditEntry) error {
	roles, err := json.Marshal(entry.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}

	query := fmt.Sprintf(`
	INSERT INTO audit_log (id, created_at_ms, detector, input_bytes, output_bytes, names, roles, rejected)
	VALUES (%s, %s, %s, %s, %s, %s, %s, %s)
	`, s.bind(1), s.bind(2), s.bind(3), s.bind(4), s.bind(5), s.bind(6), s.bind(7), s.bind(8))

	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.CreatedAt.UnixMilli(), entry.Detector,
		entry.InputBytes, entry.OutputBytes, entry.Names, string(roles), entry.Rejected)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// List returns entries newest first
func (s *sqlAuditStore) List(ctx context.Context, limit, offset int) ([]AuditEntry, error) {
	query := fmt.Sprintf(`
	SELECT id, created_at_ms, detector, input_bytes, output_bytes, names, roles, rejected
	FROM audit_log
	ORDER BY created_at_ms DESC, id
	LIMIT %s OFFSET %s
	`, s.bind(1), s.bind(2))

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		var entry AuditEntry
		var createdAt int64
		var roles string
		if err := rows.Scan(&entry.ID, &createdAt, &entry.Detector, &entry.InputBytes,
			&entry.OutputBytes, &entry.Names, &roles, &entry.Rejected); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		if err := json.Unmarshal([]byte(roles), &entry.Roles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}
	return entries, nil
}

// Count returns the total number of entries
func (s *sqlAuditStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get audit count: %w", err)
	}
	return count, nil
}

// Clear removes all entries
func (s *sqlAuditStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM audit_log`); err != nil {
		return fmt.Errorf("failed to clear audit log: %w", err)
	}
	s.logger.Info().Msg("audit log cleared")
	return nil
}

// CleanupOlderThan removes entries older than the given duration
func (s *sqlAuditStore) CleanupOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at_ms < `+s.bind(1), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit log: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection
func (s *sqlAuditStore) Close() error {
	return s.db.Close()
}

// InMemoryAuditDB keeps the most recent entries in memory. It is the
// fallback when no database is configured.
type InMemoryAuditDB struct {
	mu         sync.RWMutex
	entries    []AuditEntry
	maxEntries int
}

// NewInMemoryAuditDB creates an in-memory audit log holding at most
// maxEntries entries.
func NewInMemoryAuditDB(maxEntries int) *InMemoryAuditDB {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxAuditEntries
	}
	return &InMemoryAuditDB{maxEntries: maxEntries}
}

func (m *InMemoryAuditDB) Record(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	if overflow := len(m.entries) - m.maxEntries; overflow > 0 {
		m.entries = append([]AuditEntry(nil), m.entries[overflow:]...)
	}
	return nil
}

func (m *InMemoryAuditDB) List(_ context.Context, limit, offset int) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []AuditEntry{}
	if offset < 0 {
		offset = 0
	}
	for i := len(m.entries) - 1 - offset; i >= 0 && len(entries) < limit; i-- {
		entries = append(entries, m.entries[i])
	}
	return entries, nil
}

func (m *InMemoryAuditDB) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *InMemoryAuditDB) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}

func (m *InMemoryAuditDB) CleanupOlderThan(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	kept := m.entries[:0]
	var removed int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

func (m *InMemoryAuditDB) Close() error {
	return nil
}
