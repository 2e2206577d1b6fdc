// Package analytics provides the append-only event sink
package analytics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/events"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/security"
)

// EventRepository appends tracked occurrences to the events table. Callers
// treat writes as fire-and-forget; failures are logged, never propagated to
// the client protocol.
type EventRepository struct {
	db     *sql.DB
	logger *logging.ChanneledLogger
}

func NewEventRepository(db *sql.DB, logger *logging.ChanneledLogger) *EventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// Record appends one event, assigning an id and timestamp if unset.
func (r *EventRepository) Record(event *events.Event) error {
	start := time.Now()

	if event.ID == "" {
		event.ID = security.GenerateULID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	dataJSON := "{}"
	if len(event.Data) > 0 {
		encoded, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		dataJSON = string(encoded)
	}

	_, err := r.db.Exec(
		`INSERT INTO events (id, environment_id, external_user_id, session_id, content_id, version_id, verb, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.EnvironmentID, event.ExternalUserID,
		nullable(event.SessionID), nullable(event.ContentID), nullable(event.VersionID),
		event.Verb, dataJSON, event.CreatedAt,
	)
	if err != nil {
		r.logger.Database().Error("Event insert failed", "error", err.Error(), "verb", event.Verb)
		return fmt.Errorf("failed to insert event: %w", err)
	}

	r.logger.Database().Debug("Event recorded", "verb", event.Verb, "sessionId", event.SessionID, "duration", time.Since(start))
	return nil
}

func nullable(s string) any {
	if s == "" {
		return sql.NullString{}
	}
	return s
}
