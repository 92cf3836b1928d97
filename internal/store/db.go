package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Open connects to postgres:// URLs through pgx and to sqlite:/file: URLs
// through the pure-Go SQLite driver.
func Open(ctx context.Context, databaseURL string) (*sql.DB, Dialect, error) {
	driver, dsn, dialect, err := parseDatabaseURL(databaseURL)
	if err != nil {
		return nil, "", err
	}
	if dialect == DialectSQLite {
		if err := ensureDir(dsn); err != nil {
			return nil, "", err
		}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open db: %w", err)
	}

	switch dialect {
	case DialectPostgres:
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	case DialectSQLite:
		// One connection serializes writers; row locks do not exist here.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping db: %w", err)
	}
	return db, dialect, nil
}

func parseDatabaseURL(databaseURL string) (driver, dsn string, dialect Dialect, err error) {
	raw := strings.TrimSpace(databaseURL)
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return "pgx", raw, DialectPostgres, nil
	case strings.HasPrefix(raw, "sqlite://"):
		return "sqlite", withBusyTimeout(strings.TrimPrefix(raw, "sqlite://")), DialectSQLite, nil
	case strings.HasPrefix(raw, "sqlite:"):
		return "sqlite", withBusyTimeout(strings.TrimPrefix(raw, "sqlite:")), DialectSQLite, nil
	case strings.HasPrefix(raw, "file:"):
		return "sqlite", withBusyTimeout(raw), DialectSQLite, nil
	case raw == "":
		return "", "", "", fmt.Errorf("database url is empty")
	default:
		return "", "", "", fmt.Errorf("unsupported database url scheme: %q", raw)
	}
}

func withBusyTimeout(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

// rebind turns ? placeholders into $n for postgres.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ensureDir creates the parent directory of a SQLite database file.
func ensureDir(dsn string) error {
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	return nil
}
