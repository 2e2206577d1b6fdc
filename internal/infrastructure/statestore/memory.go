// Package statestore provides concrete state store implementations
package statestore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/session"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/security"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memoryLock struct {
	token     string
	expiresAt time.Time
}

// MemoryStore is the single-process Store and Locker implementation. Records
// are kept as serialized JSON so reads hand out private copies, the same
// contract a remote store would give.
type MemoryStore struct {
	entries map[string]memoryEntry
	locks   map[string]memoryLock
	ttl     time.Duration
	mu      sync.Mutex
	logger  *logging.ChanneledLogger
}

// NewMemoryStore creates a new in-memory state store with the given record TTL.
func NewMemoryStore(ttl time.Duration, logger *logging.ChanneledLogger) *MemoryStore {
	if logger != nil {
		logger.StateStore().Info("Initializing in-memory state store", "ttl", ttl)
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]memoryLock),
		ttl:     ttl,
		logger:  logger,
	}
}

// GetConnection retrieves connection state by connection id.
func (m *MemoryStore) GetConnection(ctx context.Context, connectionID string) (*session.ConnectionState, bool, error) {
	start := time.Now()
	m.mu.Lock()
	entry, found := m.entries[connectionID]
	if found && time.Now().After(entry.expiresAt) {
		delete(m.entries, connectionID)
		found = false
	}
	m.mu.Unlock()

	if !found {
		if m.logger != nil {
			m.logger.StateStore().Debug("State operation", "operation", "get", "connectionId", connectionID, "hit", false, "duration", time.Since(start))
		}
		return nil, false, nil
	}

	var state session.ConnectionState
	if err := json.Unmarshal(entry.value, &state); err != nil {
		return nil, false, err
	}

	if m.logger != nil {
		m.logger.StateStore().Debug("State operation", "operation", "get", "connectionId", connectionID, "hit", true, "duration", time.Since(start))
	}
	return &state, true, nil
}

// SaveConnection stores connection state, refreshing its TTL. With mustExist
// set, the write fails closed if the record is gone.
func (m *MemoryStore) SaveConnection(ctx context.Context, state *session.ConnectionState, mustExist bool) error {
	start := time.Now()
	state.UpdatedAt = time.Now().UTC()

	value, err := json.Marshal(state)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if mustExist {
		entry, found := m.entries[state.ConnectionID]
		if !found || time.Now().After(entry.expiresAt) {
			if m.logger != nil {
				m.logger.StateStore().Warn("State operation refused", "operation", "set", "connectionId", state.ConnectionID, "reason", "record_missing", "duration", time.Since(start))
			}
			return ErrMissing
		}
	}

	m.entries[state.ConnectionID] = memoryEntry{value: value, expiresAt: time.Now().Add(m.ttl)}

	if m.logger != nil {
		m.logger.StateStore().Debug("State operation", "operation", "set", "connectionId", state.ConnectionID, "mustExist", mustExist, "duration", time.Since(start))
	}
	return nil
}

// DeleteConnection removes connection state.
func (m *MemoryStore) DeleteConnection(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	delete(m.entries, connectionID)
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.StateStore().Debug("State operation", "operation", "delete", "connectionId", connectionID)
	}
	return nil
}

// Acquire attempts to take the lock for a key. A held, unexpired lock makes
// the attempt fail without blocking.
func (m *MemoryStore) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, held := m.locks[key]; held && now.Before(existing.expiresAt) {
		return "", false, nil
	}

	token := security.GenerateULID()
	m.locks[key] = memoryLock{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// Release frees a lock if the token still matches; a stale token is a no-op
// because the lock has already expired and may have a new holder.
func (m *MemoryStore) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, held := m.locks[key]; held && existing.token == token {
		delete(m.locks, key)
	}
	return nil
}

// Sweep removes expired records and locks.
func (m *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	for key, lock := range m.locks {
		if now.After(lock.expiresAt) {
			delete(m.locks, key)
		}
	}

	if removed > 0 && m.logger != nil {
		m.logger.StateStore().Info("Expired connection state swept", "removed", removed)
	}
	return removed, nil
}

// Count returns the number of live records, for status reporting.
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close releases resources held by the store.
func (m *MemoryStore) Close() error {
	return nil
}
