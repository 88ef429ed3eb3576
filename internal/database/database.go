// Package database resolves wallet database URLs and opens GORM connections.
package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/walletledger/internal/store/gormstore"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	sqliteMemoryPath    = ":memory:"
	defaultSQLiteFile   = "walletledger.db"
	sqliteBusyTimeoutMS = 5000
)

// Connection is an open GORM database plus the driver that backs it.
type Connection struct {
	DB     *gorm.DB
	Driver string
	close  func() error
}

// Close releases the underlying sql.DB.
func (connection *Connection) Close() error {
	if connection == nil || connection.close == nil {
		return nil
	}
	return connection.close()
}

// Open connects to dsn. postgres:// and postgresql:// URLs use PostgreSQL;
// sqlite:// URLs and bare paths use SQLite with a single connection so
// writers serialize.
func Open(ctx context.Context, dsn string) (*Connection, error) {
	driver, sqlitePath, err := ResolveDriver(dsn)
	if err != nil {
		return nil, err
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var db *gorm.DB
	switch driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(sqliteDSN(sqlitePath)), cfg)
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &Connection{DB: db, Driver: driver, close: sqlDB.Close}, nil
}

// Migrate creates the wallet tables.
func (connection *Connection) Migrate(ctx context.Context) error {
	if err := gormstore.Migrate(ctx, connection.DB); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// PrepareSchema migrates SQLite databases automatically. PostgreSQL schemas are
// only migrated when force is set.
func (connection *Connection) PrepareSchema(ctx context.Context, force bool) error {
	if connection.Driver != DriverSQLite && !force {
		return nil
	}
	return connection.Migrate(ctx)
}

// IsPostgres reports whether dsn points at PostgreSQL.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// ResolveDriver returns the driver name and, for SQLite, the file path.
func ResolveDriver(dsn string) (string, string, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return "", "", fmt.Errorf("database url is required")
	}
	if IsPostgres(trimmed) {
		return DriverPostgres, "", nil
	}
	if strings.HasPrefix(trimmed, "sqlite://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return DriverSQLite, sqlitePath, err
	}
	if strings.Contains(trimmed, "://") {
		return "", "", fmt.Errorf("unsupported database scheme in %q", trimmed)
	}
	sqlitePath, err := normalizeSQLitePath(trimmed)
	return DriverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == sqliteMemoryPath {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func sqliteDSN(path string) string {
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, sqliteBusyTimeoutMS)
}
