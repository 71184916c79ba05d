package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore reads names from a table with user_id and ingame_name columns.
type SQLStore struct {
	db    *sql.DB
	query string
}

// Open opens the store named by kind: "sqlite", "postgres" or "none".
func Open(ctx context.Context, kind, dsn, table string) (Store, error) {
	switch kind {
	case "sqlite":
		return OpenSQLite(ctx, dsn, table)
	case "postgres":
		return OpenPostgres(ctx, dsn, table)
	case "none", "":
		return NoStore{}, nil
	default:
		return nil, fmt.Errorf("unknown name store %q (expected sqlite, postgres or none)", kind)
	}
}

// OpenSQLite opens a SQLite database file read-only.
func OpenSQLite(ctx context.Context, path, table string) (*SQLStore, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)
	return newSQLStore(ctx, db, "SELECT ingame_name FROM "+table+" WHERE user_id = ?")
}

// OpenPostgres opens a Postgres connection pool.
func OpenPostgres(ctx context.Context, databaseURL, table string) (*SQLStore, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(8)
	return newSQLStore(ctx, db, "SELECT ingame_name FROM "+table+" WHERE user_id = $1")
}

func newSQLStore(ctx context.Context, db *sql.DB, query string) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping name store: %w", err)
	}
	return &SQLStore{db: db, query: query}, nil
}

// Lookup implements Store. A NULL column is treated as unset.
func (s *SQLStore) Lookup(ctx context.Context, userID string) (string, bool, error) {
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, s.query, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query name for %s: %w", userID, err)
	}
	return name.String, name.Valid, nil
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
