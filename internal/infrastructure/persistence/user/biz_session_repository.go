// Package user provides audience data access: attribute snapshots, segments
// and business sessions.
package user

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/content"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/security"
)

// BizSessionRepository writes business session records: the durable runs a
// user makes through content versions.
type BizSessionRepository struct {
	db     *sql.DB
	logger *logging.ChanneledLogger
}

func NewBizSessionRepository(db *sql.DB, logger *logging.ChanneledLogger) *BizSessionRepository {
	return &BizSessionRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSession inserts a fresh in-progress session and returns it.
func (r *BizSessionRepository) CreateSession(environmentID, contentID, versionID, externalUserID string) (*content.BizSession, error) {
	start := time.Now()
	now := time.Now().UTC()

	s := &content.BizSession{
		ID:             security.GenerateULID(),
		EnvironmentID:  environmentID,
		ContentID:      contentID,
		VersionID:      versionID,
		ExternalUserID: externalUserID,
		State:          content.SessionStateInProgress,
		CurrentStep:    0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := r.db.Exec(
		`INSERT INTO biz_sessions (id, environment_id, content_id, version_id, external_user_id, state, current_step, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.EnvironmentID, s.ContentID, s.VersionID, s.ExternalUserID, s.State, s.CurrentStep, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		r.logger.Database().Error("Session insert failed", "error", err.Error(), "contentId", contentID)
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	r.logger.Database().Info("Session created", "sessionId", s.ID, "contentId", contentID, "versionId", versionID, "duration", time.Since(start))
	return s, nil
}

// UpdateSessionVersion repoints a resumed session at a newer published
// version, resetting step progress.
func (r *BizSessionRepository) UpdateSessionVersion(sessionID, versionID string) error {
	_, err := r.db.Exec(
		`UPDATE biz_sessions SET version_id = ?, current_step = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		versionID, sessionID,
	)
	if err != nil {
		r.logger.Database().Error("Session version update failed", "error", err.Error(), "sessionId", sessionID)
		return fmt.Errorf("failed to update session version: %w", err)
	}
	r.logger.Database().Debug("Session version updated", "sessionId", sessionID, "versionId", versionID)
	return nil
}

// UpdateSessionStep records step progress.
func (r *BizSessionRepository) UpdateSessionStep(sessionID string, step int) error {
	_, err := r.db.Exec(
		`UPDATE biz_sessions SET current_step = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		step, sessionID,
	)
	if err != nil {
		r.logger.Database().Error("Session step update failed", "error", err.Error(), "sessionId", sessionID)
		return fmt.Errorf("failed to update session step: %w", err)
	}
	return nil
}

// UpdateSessionState moves a session to a terminal or in-progress state.
func (r *BizSessionRepository) UpdateSessionState(sessionID string, state int) error {
	_, err := r.db.Exec(
		`UPDATE biz_sessions SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		state, sessionID,
	)
	if err != nil {
		r.logger.Database().Error("Session state update failed", "error", err.Error(), "sessionId", sessionID)
		return fmt.Errorf("failed to update session state: %w", err)
	}
	r.logger.Database().Debug("Session state updated", "sessionId", sessionID, "state", state)
	return nil
}

// FindByID loads one session. Unknown ids yield nil, not an error.
func (r *BizSessionRepository) FindByID(sessionID string) (*content.BizSession, error) {
	row := r.db.QueryRow(
		`SELECT id, environment_id, content_id, version_id, external_user_id, state, current_step, created_at, updated_at
		 FROM biz_sessions WHERE id = ?`,
		sessionID,
	)

	var s content.BizSession
	err := row.Scan(&s.ID, &s.EnvironmentID, &s.ContentID, &s.VersionID, &s.ExternalUserID, &s.State, &s.CurrentStep, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &s, nil
}
