package cache

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresKV is a table-backed KV for deployments where the durable tier
// should outlive the host, with a row-count quota standing in for the
// storage quota an embedded backend enforces in bytes.
type PostgresKV struct {
	db      *sql.DB
	maxRows int
}

// NewPostgresKV opens a Postgres-backed KV using the given DSN and ensures
// the backing table exists. maxRows <= 0 disables the quota.
func NewPostgresKV(dsn string, maxRows int) (*PostgresKV, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgkv: open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	const schema = `
		CREATE TABLE IF NOT EXISTS authcache_entries (
			key   TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgkv: ensuring schema: %w", err)
	}

	return &PostgresKV{db: db, maxRows: maxRows}, nil
}

// Get reads the value for key.
func (kv *PostgresKV) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := kv.db.QueryRow(
		`SELECT value FROM authcache_entries WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pgkv: reading %q: %w", key, err)
	}
	return value, true, nil
}

// Set upserts the value for key, returning ErrQuotaExceeded when inserting a
// new key would exceed the row quota.
func (kv *PostgresKV) Set(key string, value []byte) error {
	if kv.maxRows > 0 {
		var count int
		err := kv.db.QueryRow(
			`SELECT count(*) FROM authcache_entries WHERE key <> $1`, key).Scan(&count)
		if err != nil {
			return fmt.Errorf("pgkv: counting rows: %w", err)
		}
		if count >= kv.maxRows {
			return ErrQuotaExceeded
		}
	}

	_, err := kv.db.Exec(`
		INSERT INTO authcache_entries (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("pgkv: writing %q: %w", key, err)
	}
	return nil
}

// Delete removes the value for key. Deleting an absent key is a no-op.
func (kv *PostgresKV) Delete(key string) error {
	if _, err := kv.db.Exec(`DELETE FROM authcache_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("pgkv: deleting %q: %w", key, err)
	}
	return nil
}

// Keys returns all stored keys.
func (kv *PostgresKV) Keys() ([]string, error) {
	rows, err := kv.db.Query(`SELECT key FROM authcache_entries`)
	if err != nil {
		return nil, fmt.Errorf("pgkv: listing keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("pgkv: scanning key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close releases the database connection pool.
func (kv *PostgresKV) Close() error {
	return kv.db.Close()
}
