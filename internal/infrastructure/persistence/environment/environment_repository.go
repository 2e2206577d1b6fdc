// Package environment provides environment provisioning persistence
package environment

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/environment"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
)

// Repository stores provisioned environments and their activation state.
type Repository struct {
	db     *sql.DB
	logger *logging.ChanneledLogger
}

func NewRepository(db *sql.DB, logger *logging.ChanneledLogger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a freshly provisioned environment in pending status.
func (r *Repository) Create(env *environment.Environment) error {
	start := time.Now()

	_, err := r.db.Exec(
		`INSERT INTO environments (id, name, secret_hash, jwt_secret, status, activation_token, activation_expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		env.ID, env.Name, env.SecretHash, env.JWTSecret, env.Status, env.ActivationToken, env.ActivationExpiresAt, env.CreatedAt,
	)
	if err != nil {
		r.logger.Database().Error("Environment insert failed", "error", err.Error(), "environmentId", env.ID)
		return fmt.Errorf("failed to insert environment: %w", err)
	}

	r.logger.Database().Info("Environment created", "environmentId", env.ID, "status", env.Status, "duration", time.Since(start))
	return nil
}

// FindByID loads one environment. Unknown ids yield nil, not an error.
func (r *Repository) FindByID(environmentID string) (*environment.Environment, error) {
	return r.findOne(`WHERE id = ?`, environmentID)
}

// FindByActivationToken resolves an activation link back to its environment.
func (r *Repository) FindByActivationToken(token string) (*environment.Environment, error) {
	return r.findOne(`WHERE activation_token = ?`, token)
}

// Activate completes provisioning: the environment becomes active and its
// activation token is consumed.
func (r *Repository) Activate(environmentID string) error {
	result, err := r.db.Exec(
		`UPDATE environments SET status = ?, activation_token = NULL, activation_expires_at = NULL WHERE id = ? AND status = ?`,
		environment.StatusActive, environmentID, environment.StatusPending,
	)
	if err != nil {
		r.logger.Database().Error("Environment activation failed", "error", err.Error(), "environmentId", environmentID)
		return fmt.Errorf("failed to activate environment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to activate environment: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("environment %s is not pending activation", environmentID)
	}

	r.logger.Environment().Info("Environment activated", "environmentId", environmentID)
	return nil
}

func (r *Repository) findOne(where string, arg any) (*environment.Environment, error) {
	row := r.db.QueryRow(
		`SELECT id, name, secret_hash, jwt_secret, status, activation_token, activation_expires_at, created_at
		 FROM environments `+where, arg,
	)

	var env environment.Environment
	var token sql.NullString
	var expiresAt sql.NullTime
	err := row.Scan(&env.ID, &env.Name, &env.SecretHash, &env.JWTSecret, &env.Status, &token, &expiresAt, &env.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan environment: %w", err)
	}
	if token.Valid {
		env.ActivationToken = token.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		env.ActivationExpiresAt = &t
	}
	return &env, nil
}
