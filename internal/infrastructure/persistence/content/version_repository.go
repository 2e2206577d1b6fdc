// Package content provides the published content read model
package content

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/content"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
)

// VersionRepository reads published contents, their version snapshots and
// steps, joined with the requesting user's latest business session.
type VersionRepository struct {
	db     *sql.DB
	logger *logging.ChanneledLogger
}

func NewVersionRepository(db *sql.DB, logger *logging.ChanneledLogger) *VersionRepository {
	return &VersionRepository{
		db:     db,
		logger: logger,
	}
}

// FetchEvaluableVersions loads every published version of the requested
// content type for an environment, in authoring order, each joined with the
// user's most recent business session for that content. With versionID set,
// the result is narrowed to that single version. Rule evaluation outcomes
// are left zero-valued for the selection layer to fill.
func (r *VersionRepository) FetchEvaluableVersions(environmentID, externalUserID, contentType, versionID string) ([]*content.EvaluatedVersion, error) {
	start := time.Now()
	r.logger.Database().Debug("Loading evaluable versions", "environmentId", environmentID, "contentType", contentType)

	query := `SELECT c.id, c.environment_id, c.name, c.content_type, c.ordering, c.published_version_id,
	                 v.id, v.content_id, v.config, v.created_at
	          FROM contents c
	          JOIN versions v ON v.id = c.published_version_id
	          WHERE c.environment_id = ? AND c.content_type = ?`
	args := []any{environmentID, contentType}
	if versionID != "" {
		query += ` AND v.id = ?`
		args = append(args, versionID)
	}
	query += ` ORDER BY c.ordering, c.name`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Database().Error("Failed to query evaluable versions", "error", err.Error(), "environmentId", environmentID)
		return nil, fmt.Errorf("failed to query evaluable versions: %w", err)
	}
	defer rows.Close()

	var result []*content.EvaluatedVersion
	for rows.Next() {
		var c content.Content
		var v content.Version
		var publishedID sql.NullString
		var configStr string

		err := rows.Scan(&c.ID, &c.EnvironmentID, &c.Name, &c.ContentType, &c.Ordering, &publishedID,
			&v.ID, &v.ContentID, &configStr, &v.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluable version: %w", err)
		}
		if publishedID.Valid {
			c.PublishedVersionID = &publishedID.String
		}

		var config content.VersionConfig
		if configStr != "" {
			if err := json.Unmarshal([]byte(configStr), &config); err != nil {
				r.logger.Database().Error("Invalid version config", "error", err.Error(), "versionId", v.ID)
				return nil, fmt.Errorf("failed to parse config for version %s: %w", v.ID, err)
			}
		}
		v.Config = &config

		result = append(result, &content.EvaluatedVersion{Content: &c, Version: &v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate evaluable versions: %w", err)
	}

	for _, ev := range result {
		steps, err := r.loadSteps(ev.Version.ID)
		if err != nil {
			return nil, err
		}
		ev.Steps = steps

		latest, err := r.loadLatestSession(environmentID, externalUserID, ev.Content.ID)
		if err != nil {
			return nil, err
		}
		ev.LatestSession = latest
	}

	r.logger.Database().Info("Evaluable versions loaded", "environmentId", environmentID, "contentType", contentType, "count", len(result), "duration", time.Since(start))
	return result, nil
}

// FindPublishedVersionID resolves a content id to its published version id.
// Unpublished or unknown content yields an empty id, not an error.
func (r *VersionRepository) FindPublishedVersionID(environmentID, contentID string) (string, error) {
	var versionID sql.NullString
	err := r.db.QueryRow(
		`SELECT published_version_id FROM contents WHERE environment_id = ? AND id = ?`,
		environmentID, contentID,
	).Scan(&versionID)
	if err == sql.ErrNoRows {
		r.logger.Database().Debug("Content not found", "environmentId", environmentID, "contentId", contentID)
		return "", nil
	}
	if err != nil {
		r.logger.Database().Error("Failed to resolve published version", "error", err.Error(), "contentId", contentID)
		return "", fmt.Errorf("failed to resolve published version: %w", err)
	}
	if !versionID.Valid {
		return "", nil
	}
	return versionID.String, nil
}

func (r *VersionRepository) loadSteps(versionID string) ([]*content.Step, error) {
	rows, err := r.db.Query(
		`SELECT id, version_id, seq, name, data FROM steps WHERE version_id = ? ORDER BY seq`,
		versionID,
	)
	if err != nil {
		r.logger.Database().Error("Failed to query steps", "error", err.Error(), "versionId", versionID)
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []*content.Step
	for rows.Next() {
		var step content.Step
		var dataStr string
		if err := rows.Scan(&step.ID, &step.VersionID, &step.Seq, &step.Name, &dataStr); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if dataStr != "" && dataStr != "{}" {
			if err := json.Unmarshal([]byte(dataStr), &step.Data); err != nil {
				return nil, fmt.Errorf("failed to parse data for step %s: %w", step.ID, err)
			}
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

func (r *VersionRepository) loadLatestSession(environmentID, externalUserID, contentID string) (*content.BizSession, error) {
	row := r.db.QueryRow(
		`SELECT id, environment_id, content_id, version_id, external_user_id, state, current_step, created_at, updated_at
		 FROM biz_sessions
		 WHERE environment_id = ? AND external_user_id = ? AND content_id = ?
		 ORDER BY updated_at DESC LIMIT 1`,
		environmentID, externalUserID, contentID,
	)

	var s content.BizSession
	err := row.Scan(&s.ID, &s.EnvironmentID, &s.ContentID, &s.VersionID, &s.ExternalUserID, &s.State, &s.CurrentStep, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Database().Error("Failed to scan latest session", "error", err.Error(), "contentId", contentID)
		return nil, fmt.Errorf("failed to scan latest session: %w", err)
	}
	return &s, nil
}
