// Package storage opens read-only connections to the stores that queries run against.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"  // PostgreSQL driver
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	_ "modernc.org/sqlite"              // SQLite driver

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/logging"
)

// Supported target drivers
const (
	DriverDuckDB   = "duckdb"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabasePlaceholder is replaced with the database name in a DSN template
const DatabasePlaceholder = "{database}"

const pingTimeout = 5 * time.Second

var databaseNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Querier is the part of a connection the executor may touch
type Querier interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// ValidateDatabaseName rejects names that could escape the data directory
func ValidateDatabaseName(name string) error {
	if !databaseNamePattern.MatchString(name) {
		return fmt.Errorf("invalid database name %q: only letters, digits, '_' and '-' are allowed", name)
	}

	return nil
}

// ResolveDSN returns the database/sql driver name and the read-only DSN for database
func ResolveDSN(cfg config.ExecutorConfig, database string) (string, string, error) {
	if err := ValidateDatabaseName(database); err != nil {
		return "", "", err
	}

	if cfg.DSNTemplate != "" {
		driverName, err := sqlDriverName(cfg.Driver)
		if err != nil {
			return "", "", err
		}

		return driverName, strings.ReplaceAll(cfg.DSNTemplate, DatabasePlaceholder, database), nil
	}

	switch cfg.Driver {
	case DriverDuckDB:
		path := filepath.Join(cfg.DataDir, database+".duckdb")
		return "duckdb", path + "?access_mode=read_only", nil
	case DriverSQLite:
		path := filepath.Join(cfg.DataDir, database+".db")
		return "sqlite", "file:" + path + "?mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(5000)", nil
	case DriverPostgres:
		return "", "", fmt.Errorf("the postgres driver requires a dsn_template containing %s", DatabasePlaceholder)
	default:
		return "", "", fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}

func sqlDriverName(driver string) (string, error) {
	switch driver {
	case DriverDuckDB:
		return "duckdb", nil
	case DriverSQLite:
		return "sqlite", nil
	case DriverPostgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", driver)
	}
}

// dataFile returns the file a file-backed driver would open, or "" when a template is in use
func dataFile(cfg config.ExecutorConfig, database string) string {
	if cfg.DSNTemplate != "" {
		return ""
	}

	switch cfg.Driver {
	case DriverDuckDB:
		return filepath.Join(cfg.DataDir, database+".duckdb")
	case DriverSQLite:
		return filepath.Join(cfg.DataDir, database+".db")
	default:
		return ""
	}
}

// Store is a read-only pool for one database
type Store struct {
	db       *sql.DB
	driver   string
	database string
	timeout  time.Duration
}

// NewStore wraps an already opened pool
func NewStore(db *sql.DB, driver, database string, timeout time.Duration) *Store {
	return &Store{db: db, driver: driver, database: database, timeout: timeout}
}

// Database returns the name the store was opened for
func (s *Store) Database() string {
	return s.database
}

// Driver returns the configured driver
func (s *Store) Driver() string {
	return s.driver
}

// Acquire returns a handle confined to read-only access and the function that releases it.
// PostgreSQL work runs inside a read-only transaction with a statement timeout that is always
// rolled back; file-backed drivers get a dedicated connection whose DSN is already read-only.
func (s *Store) Acquire(ctx context.Context) (Querier, func(), error) {
	if s.driver == DriverPostgres {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
		}

		if s.timeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", s.timeout.Milliseconds())
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return nil, nil, fmt.Errorf("failed to set statement timeout: %w", err)
			}
		}

		return tx, func() { _ = tx.Rollback() }, nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	return conn, func() { _ = conn.Close() }, nil
}

// Close closes the pool
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

// Manager opens one read-only Store per database name and keeps it for reuse
type Manager struct {
	cfg    config.ExecutorConfig
	logger *logging.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a manager for the configured driver
func NewManager(cfg config.ExecutorConfig, logger *logging.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logging.OrNop(logger).WithField("component", "storage"),
		stores: make(map[string]*Store),
	}
}

// Open returns the store for database, opening it on first use
func (m *Manager) Open(ctx context.Context, database string) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[database]; ok {
		return store, nil
	}

	driverName, dsn, err := ResolveDSN(m.cfg, database)
	if err != nil {
		return nil, err
	}

	if path := dataFile(m.cfg, database); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("database %q not found at %s: %w", database, path, err)
		}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := m.cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewStore(db, m.cfg.Driver, database, m.cfg.TimeoutDuration())
	m.stores[database] = store

	m.logger.WithFields(map[string]interface{}{
		"database": database,
		"driver":   m.cfg.Driver,
	}).Debug("opened read-only store")

	return store, nil
}

// Close closes every opened store
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error

	for name, store := range m.stores {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s: %w", name, err)
		}

		delete(m.stores, name)
	}

	return firstErr
}
