// Package state persists JSON snapshots of application state under string
// keys. It backs the report collection on the server and the session,
// report cache and pending queue on the client. Backends are key/value
// only; nothing here queries inside a value.
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/civicpulse/civicpulse-server/internal/database"
)

// Well-known keys. The names match the web client's localStorage keys.
const (
	KeySession = "civic_pulse_user"
	KeyReports = "civic_pulse_reports"
	KeyPending = "civic_pulse_pending_reports"

	// KeyActivity holds the server's report timelines.
	KeyActivity = "civic_pulse_activity"
)

// ErrNotFound is returned by Load when the key has never been saved or was deleted.
var ErrNotFound = errors.New("state: key not found")

// Store defines the persistence interface for state snapshots.
type Store interface {
	// Load decodes the value stored under key into dst.
	Load(ctx context.Context, key string, dst any) error
	// Save replaces the value under key with the JSON encoding of v.
	Save(ctx context.Context, key string, v any) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Driver      string
	SQLitePath  string
	RedisURL    string
	DatabaseURL string
}

// Open builds the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(ctx, opts.SQLitePath)
	case DriverRedis:
		return NewRedisStore(ctx, opts.RedisURL)
	case DriverPostgres:
		pool, err := database.NewPool(ctx, database.PoolOptions{URL: opts.DatabaseURL})
		if err != nil {
			return nil, err
		}
		s, err := NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown state driver %q", opts.Driver)
	}
}
