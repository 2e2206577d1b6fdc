// Package user provides audience data access: attribute snapshots, segments
// and business sessions.
package user

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/audience"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/rules"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
)

// AttributeRepository reads and merges user/company attribute snapshots and
// loads segment definitions for membership evaluation.
type AttributeRepository struct {
	db     *sql.DB
	logger *logging.ChanneledLogger
}

func NewAttributeRepository(db *sql.DB, logger *logging.ChanneledLogger) *AttributeRepository {
	return &AttributeRepository{
		db:     db,
		logger: logger,
	}
}

// LoadProfile assembles the targeting snapshot for one external user. A
// missing user or company row contributes an empty attribute map.
func (r *AttributeRepository) LoadProfile(environmentID, externalUserID, externalCompanyID string) (*audience.Profile, error) {
	start := time.Now()

	userAttrs, err := r.loadAttributes("users", environmentID, externalUserID)
	if err != nil {
		return nil, err
	}

	var companyAttrs map[string]any
	if externalCompanyID != "" {
		companyAttrs, err = r.loadAttributes("companies", environmentID, externalCompanyID)
		if err != nil {
			return nil, err
		}
	}

	segments, err := r.loadSegments(environmentID)
	if err != nil {
		return nil, err
	}

	r.logger.Database().Debug("Profile loaded", "environmentId", environmentID, "externalUserId", externalUserID, "segments", len(segments), "duration", time.Since(start))
	return &audience.Profile{
		UserAttributes:    userAttrs,
		CompanyAttributes: companyAttrs,
		Segments:          segments,
	}, nil
}

// MergeUserAttributes upserts the user row, merging incoming attributes over
// the stored snapshot. Incoming keys win; absent keys are preserved.
func (r *AttributeRepository) MergeUserAttributes(environmentID, externalID string, attributes map[string]any) error {
	return r.mergeAttributes("users", environmentID, externalID, attributes)
}

// MergeCompanyAttributes upserts the company row the same way.
func (r *AttributeRepository) MergeCompanyAttributes(environmentID, externalID string, attributes map[string]any) error {
	return r.mergeAttributes("companies", environmentID, externalID, attributes)
}

func (r *AttributeRepository) loadAttributes(table, environmentID, externalID string) (map[string]any, error) {
	var attrStr string
	err := r.db.QueryRow(
		`SELECT attributes FROM `+table+` WHERE environment_id = ? AND external_id = ?`,
		environmentID, externalID,
	).Scan(&attrStr)
	if err == sql.ErrNoRows {
		return map[string]any{}, nil
	}
	if err != nil {
		r.logger.Database().Error("Failed to load attributes", "error", err.Error(), "table", table, "externalId", externalID)
		return nil, fmt.Errorf("failed to load %s attributes: %w", table, err)
	}

	attrs := map[string]any{}
	if attrStr != "" {
		if err := json.Unmarshal([]byte(attrStr), &attrs); err != nil {
			return nil, fmt.Errorf("failed to parse %s attributes: %w", table, err)
		}
	}
	return attrs, nil
}

func (r *AttributeRepository) mergeAttributes(table, environmentID, externalID string, attributes map[string]any) error {
	start := time.Now()

	existing, err := r.loadAttributes(table, environmentID, externalID)
	if err != nil {
		return err
	}
	for k, v := range attributes {
		existing[k] = v
	}

	merged, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("failed to encode %s attributes: %w", table, err)
	}

	_, err = r.db.Exec(
		`INSERT INTO `+table+` (environment_id, external_id, attributes, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(environment_id, external_id) DO UPDATE SET attributes = excluded.attributes, updated_at = CURRENT_TIMESTAMP`,
		environmentID, externalID, string(merged),
	)
	if err != nil {
		r.logger.Database().Error("Attribute merge failed", "error", err.Error(), "table", table, "externalId", externalID)
		return fmt.Errorf("failed to merge %s attributes: %w", table, err)
	}

	r.logger.Database().Info("Attributes merged", "table", table, "externalId", externalID, "keys", len(attributes), "duration", time.Since(start))
	return nil
}

func (r *AttributeRepository) loadSegments(environmentID string) ([]*audience.Segment, error) {
	rows, err := r.db.Query(
		`SELECT id, environment_id, name, rules FROM segments WHERE environment_id = ?`,
		environmentID,
	)
	if err != nil {
		r.logger.Database().Error("Failed to query segments", "error", err.Error(), "environmentId", environmentID)
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	var segments []*audience.Segment
	for rows.Next() {
		var seg audience.Segment
		var rulesStr string
		if err := rows.Scan(&seg.ID, &seg.EnvironmentID, &seg.Name, &rulesStr); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		if rulesStr != "" && rulesStr != "{}" {
			var node rules.Node
			if err := json.Unmarshal([]byte(rulesStr), &node); err != nil {
				return nil, fmt.Errorf("failed to parse rules for segment %s: %w", seg.ID, err)
			}
			seg.Rules = &node
		}
		segments = append(segments, &seg)
	}
	return segments, rows.Err()
}
