// Package statestore provides the shared, TTL-backed gateway to per-connection
// ephemeral state, plus the lock primitive used to serialize mutations to a
// single connection across the fleet.
package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/session"
)

// ErrMissing is returned by a must-exist save when the prior record is gone.
// Writes fail closed rather than resurrecting a deleted connection.
var ErrMissing = errors.New("statestore: record missing")

// Store is the typed gateway to Connection State. Every write is a single
// atomic replace of the whole record and refreshes its TTL. Reads return a
// private copy; callers never share memory with the store.
type Store interface {
	GetConnection(ctx context.Context, connectionID string) (*session.ConnectionState, bool, error)
	SaveConnection(ctx context.Context, state *session.ConnectionState, mustExist bool) error
	DeleteConnection(ctx context.Context, connectionID string) error
	Close() error
}

// Locker is the mutual-exclusion primitive scoped to a key. A successful
// Acquire returns a release token; the lock self-expires after ttl so a
// crashed holder cannot wedge the key forever.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Sweeper is implemented by stores that support expired-record cleanup.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (removed int, err error)
}
