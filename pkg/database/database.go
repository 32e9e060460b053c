package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the connection pool together with its SQL dialect
type DB struct {
	*sql.DB
	Dialect string
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum amount of time a connection may be reused
	ConnMaxIdleTime time.Duration // Maximum amount of time a connection may be idle
}

// SSLConfig holds SSL/TLS configuration for database connections
type SSLConfig struct {
	Mode         string // disable, require, verify-ca, verify-full
	CertPath     string // Path to client certificate
	KeyPath      string // Path to client key
	RootCertPath string // Path to root CA certificate
}

// DefaultPoolConfig returns sensible defaults for connection pooling
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// BuildConnectionString builds a PostgreSQL connection string with SSL parameters
func BuildConnectionString(baseURL string, sslCfg *SSLConfig) (string, error) {
	if sslCfg == nil {
		return baseURL, nil
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database URL: %w", err)
	}

	query := parsedURL.Query()

	// Set SSL mode (overrides any existing sslmode in URL)
	if sslCfg.Mode != "" {
		query.Set("sslmode", sslCfg.Mode)
	}
	if sslCfg.CertPath != "" {
		query.Set("sslcert", sslCfg.CertPath)
	}
	if sslCfg.KeyPath != "" {
		query.Set("sslkey", sslCfg.KeyPath)
	}
	if sslCfg.RootCertPath != "" {
		query.Set("sslrootcert", sslCfg.RootCertPath)
	}

	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

// ParseURL resolves the driver, dialect and driver-specific DSN of a database URL.
// postgres:// and postgresql:// select lib/pq; sqlite://, file: and :memory:
// select go-sqlite3.
func ParseURL(databaseURL string) (driver, dialectName, dsn string, err error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres", dialect.Postgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if !strings.Contains(path, "?") {
			path += "?_fk=1"
		}
		return "sqlite3", dialect.SQLite, "file:" + path, nil
	case strings.HasPrefix(databaseURL, "file:"), databaseURL == ":memory:":
		return "sqlite3", dialect.SQLite, databaseURL, nil
	default:
		return "", "", "", fmt.Errorf("unsupported database URL scheme: %q", databaseURL)
	}
}

// Open opens a connection pool for the given URL
func Open(databaseURL string, poolCfg PoolConfig, sslCfg *SSLConfig) (*DB, error) {
	driver, dialectName, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	if dialectName == dialect.Postgres {
		dsn, err = BuildConnectionString(dsn, sslCfg)
		if err != nil {
			return nil, fmt.Errorf("failed building connection string: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed opening connection to %s: %w", dialectName, err)
	}

	if dialectName == dialect.SQLite {
		// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(poolCfg.MaxOpenConns)
		db.SetMaxIdleConns(poolCfg.MaxIdleConns)
		db.SetConnMaxLifetime(poolCfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(poolCfg.ConnMaxIdleTime)
	}

	return &DB{DB: db, Dialect: dialectName}, nil
}

// Migrate creates the entity and relationship tables when they are missing
func (d *DB) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if d.Dialect == dialect.SQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed creating schema resources: %w", err)
		}
	}
	return nil
}

// WithTx runs fn inside a transaction, rolling back when fn fails
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w: rollback failed: %v", err, rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Workspaces lists every workspace that owns at least one entity. It is the
// only query that is not scoped to a workspace and exists for housekeeping jobs.
func (d *DB) Workspaces(ctx context.Context) ([]string, error) {
	rows, err := d.QueryContext(ctx, "SELECT DISTINCT workspace_id FROM entities ORDER BY workspace_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ws string
		if err := rows.Scan(&ws); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}
