// Package cache persists discovered devices across runs in a SQLite
// database keyed by device identity. Stale entries age out after a TTL
// so a scan can trust what it reads back.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/wyatt727/upnp-cli/internal/clock"
	"github.com/wyatt727/upnp-cli/internal/device"
	"github.com/wyatt727/upnp-cli/internal/logging"
	"github.com/wyatt727/upnp-cli/internal/metrics"
)

// DefaultMaxAge is how long a cached device stays trustworthy.
const DefaultMaxAge = 24 * time.Hour

// ErrNotFound is returned when an identity has no fresh cache entry.
var ErrNotFound = errors.New("device not cached")

// Store is the device cache. Safe for concurrent use; database/sql
// serializes access to the single connection.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Open creates or opens a cache database at path. Use ":memory:" for
// an ephemeral cache in tests.
func Open(logger *logging.Logger, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("cache pragma: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		identity  TEXT PRIMARY KEY,
		ip        TEXT NOT NULL,
		port      INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		payload   BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON devices(last_seen);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache schema: %w", err)
	}

	return &Store{db: db, logger: logger.WithComponent("cache")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert stores or refreshes a device record under its identity.
func (s *Store) Upsert(dev *device.Device) error {
	payload, err := json.Marshal(dev)
	if err != nil {
		return fmt.Errorf("encode device: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO devices (identity, ip, port, last_seen, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			ip = excluded.ip,
			port = excluded.port,
			last_seen = excluded.last_seen,
			payload = excluded.payload`,
		dev.Identity(), dev.IP, dev.Port, clock.Now().Unix(), payload)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// Get returns the cached device for an identity, or ErrNotFound when
// absent or older than maxAge.
func (s *Store) Get(identity string, maxAge time.Duration) (*device.Device, error) {
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := clock.Now().Add(-maxAge).Unix()

	var payload []byte
	err := s.db.QueryRow(
		`SELECT payload FROM devices WHERE identity = ? AND last_seen >= ?`,
		identity, cutoff).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.Get().CacheMisses.Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query device: %w", err)
	}

	var dev device.Device
	if err := json.Unmarshal(payload, &dev); err != nil {
		return nil, fmt.Errorf("decode device: %w", err)
	}
	metrics.Get().CacheHits.Inc()
	return &dev, nil
}

// List returns every cached device no older than maxAge, ordered by
// IP then port.
func (s *Store) List(maxAge time.Duration) ([]*device.Device, error) {
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := clock.Now().Add(-maxAge).Unix()

	rows, err := s.db.Query(
		`SELECT payload FROM devices WHERE last_seen >= ? ORDER BY ip, port`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []*device.Device
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var dev device.Device
		if err := json.Unmarshal(payload, &dev); err != nil {
			s.logger.Warn("corrupt cache entry skipped", "error", err)
			continue
		}
		out = append(out, &dev)
	}
	return out, rows.Err()
}

// Prune deletes entries older than maxAge and returns how many went.
func (s *Store) Prune(maxAge time.Duration) (int64, error) {
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := clock.Now().Add(-maxAge).Unix()

	res, err := s.db.Exec(`DELETE FROM devices WHERE last_seen < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("pruned stale cache entries", "count", n)
	}
	return n, nil
}
