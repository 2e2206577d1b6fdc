// Package statestore provides concrete state store implementations
package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/session"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/security"
)

// SQLStore is the fleet-shared Store and Locker implementation backed by a
// libsql/sqlite database reachable by every server process. Expiry is kept as
// unix milliseconds so comparisons work across drivers.
type SQLStore struct {
	db     *sql.DB
	ttl    time.Duration
	logger *logging.ChanneledLogger
}

// NewSQLStore creates a state store over an existing database connection.
func NewSQLStore(db *sql.DB, ttl time.Duration, logger *logging.ChanneledLogger) *SQLStore {
	if logger != nil {
		logger.StateStore().Info("Initializing sql state store", "ttl", ttl)
	}
	return &SQLStore{db: db, ttl: ttl, logger: logger}
}

// GetConnection retrieves connection state by connection id.
func (s *SQLStore) GetConnection(ctx context.Context, connectionID string) (*session.ConnectionState, bool, error) {
	start := time.Now()
	var value string
	var expiresAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM conn_state WHERE key = ?`, connectionID,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		if s.logger != nil {
			s.logger.StateStore().Debug("State operation", "operation", "get", "connectionId", connectionID, "hit", false, "duration", time.Since(start))
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if time.Now().UnixMilli() > expiresAt {
		// Expired but not yet swept; treat as absent.
		return nil, false, nil
	}

	var state session.ConnectionState
	if err := json.Unmarshal([]byte(value), &state); err != nil {
		return nil, false, err
	}

	if s.logger != nil {
		s.logger.StateStore().Debug("State operation", "operation", "get", "connectionId", connectionID, "hit", true, "duration", time.Since(start))
	}
	return &state, true, nil
}

// SaveConnection stores connection state, refreshing its TTL. With mustExist
// set, the write fails closed if the record is gone.
func (s *SQLStore) SaveConnection(ctx context.Context, state *session.ConnectionState, mustExist bool) error {
	start := time.Now()
	state.UpdatedAt = time.Now().UTC()

	value, err := json.Marshal(state)
	if err != nil {
		return err
	}
	expiresAt := time.Now().Add(s.ttl).UnixMilli()

	if mustExist {
		result, err := s.db.ExecContext(ctx,
			`UPDATE conn_state SET value = ?, expires_at = ? WHERE key = ? AND expires_at > ?`,
			string(value), expiresAt, state.ConnectionID, time.Now().UnixMilli(),
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			if s.logger != nil {
				s.logger.StateStore().Warn("State operation refused", "operation", "set", "connectionId", state.ConnectionID, "reason", "record_missing")
			}
			return ErrMissing
		}
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conn_state (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		state.ConnectionID, string(value), expiresAt,
	)
	if err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.StateStore().Debug("State operation", "operation", "set", "connectionId", state.ConnectionID, "duration", time.Since(start))
	}
	return nil
}

// DeleteConnection removes connection state.
func (s *SQLStore) DeleteConnection(ctx context.Context, connectionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conn_state WHERE key = ?`, connectionID)
	if err == nil && s.logger != nil {
		s.logger.StateStore().Debug("State operation", "operation", "delete", "connectionId", connectionID)
	}
	return err
}

// Acquire attempts to take the lock for a key. The upsert only wins when the
// existing lease has expired, which makes acquisition a single atomic
// statement visible fleet-wide.
func (s *SQLStore) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := security.GenerateULID()
	now := time.Now().UnixMilli()
	expiresAt := time.Now().Add(ttl).UnixMilli()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO conn_locks (key, token, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at
		 WHERE conn_locks.expires_at <= ?`,
		key, token, expiresAt, now,
	)
	if err != nil {
		return "", false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if affected == 0 {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees a lock if the token still matches.
func (s *SQLStore) Release(ctx context.Context, key, token string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conn_locks WHERE key = ? AND token = ?`, key, token)
	return err
}

// Sweep removes expired records and locks.
func (s *SQLStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UnixMilli()

	result, err := s.db.ExecContext(ctx, `DELETE FROM conn_state WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, err
	}
	removed, _ := result.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM conn_locks WHERE expires_at <= ?`, cutoff); err != nil {
		return int(removed), err
	}

	if removed > 0 && s.logger != nil {
		s.logger.StateStore().Info("Expired connection state swept", "removed", removed)
	}
	return int(removed), nil
}

// Close releases resources held by the store. The underlying connection is
// owned by the caller and left open.
func (s *SQLStore) Close() error {
	return nil
}
