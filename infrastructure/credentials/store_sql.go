package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	// Registers the "pgx" database/sql driver for Postgres-backed stores.
	_ "github.com/jackc/pgx/v5/stdlib"
	// Registers the "sqlite3" database/sql driver for local stores.
	_ "github.com/mattn/go-sqlite3"

	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// DefaultTable is the settings table holding encrypted provider keys.
const DefaultTable = "app_settings"

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore reads encrypted blobs from a two-column key/value table.
type SQLStore struct {
	db     *sql.DB
	driver string
	table  string

	lookupQuery string
	upsertQuery string
}

// OpenSQLStore opens dsn with the named driver, pings it and wraps it in a
// SQLStore.
func OpenSQLStore(ctx context.Context, driver, dsn, table string) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported credential store driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s credential store: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s credential store: %w", driver, err)
	}

	store, err := NewSQLStore(db, driver, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an existing handle. An empty table selects
// DefaultTable.
func NewSQLStore(db *sql.DB, driver, table string) (*SQLStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identifierRE.MatchString(table) {
		return nil, fmt.Errorf("invalid credential table name %q", table)
	}
	return &SQLStore{
		db:          db,
		driver:      driver,
		table:       table,
		lookupQuery: fmt.Sprintf(`SELECT "value" FROM %s WHERE "key" = $1`, table),
		upsertQuery: fmt.Sprintf(`INSERT INTO %s ("key", "value") VALUES ($1, $2) `+
			`ON CONFLICT ("key") DO UPDATE SET "value" = excluded."value"`, table),
	}, nil
}

// EnsureSchema creates the settings table when it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s ("key" TEXT PRIMARY KEY, "value" TEXT NOT NULL)`, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return ports.NewStoreError(s.Name(), "", "EnsureSchema", err)
	}
	return nil
}

// Lookup implements ports.CredentialStore.
func (s *SQLStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, s.lookupQuery, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, ports.NewStoreError(s.Name(), key, "Lookup", err)
	case !value.Valid:
		return "", false, nil
	}
	return value.String, true, nil
}

// Put upserts an already encrypted blob.
func (s *SQLStore) Put(ctx context.Context, key, blob string) error {
	if _, err := s.db.ExecContext(ctx, s.upsertQuery, key, blob); err != nil {
		return ports.NewStoreError(s.Name(), key, "Put", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// Name implements ports.CredentialStore.
func (s *SQLStore) Name() string { return "sql:" + s.driver }

var _ ports.CredentialStore = (*SQLStore)(nil)
