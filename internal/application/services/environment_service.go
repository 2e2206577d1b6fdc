// Package services contains the orchestration business logic
package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	entity "github.com/GuideRail/guiderail-go/internal/domain/entities/environment"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/email"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
	envrepo "github.com/GuideRail/guiderail-go/internal/infrastructure/persistence/environment"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/security"
	"github.com/GuideRail/guiderail-go/pkg/config"
)

// EnvironmentService provisions environments, completes their activation and
// resolves handshake tokens to an environment at connection time.
type EnvironmentService struct {
	repo   *envrepo.Repository
	email  email.Service
	logger *logging.ChanneledLogger
}

func NewEnvironmentService(repo *envrepo.Repository, emailService email.Service, logger *logging.ChanneledLogger) *EnvironmentService {
	return &EnvironmentService{
		repo:   repo,
		email:  emailService,
		logger: logger,
	}
}

// Provision creates a pending environment and emails its activation link.
// The plaintext secret key is returned exactly once, to the caller.
func (s *EnvironmentService) Provision(name, adminEmail, activationBaseURL string) (*entity.Environment, string, error) {
	secretKey, err := security.GenerateSecureKey(48)
	if err != nil {
		return nil, "", err
	}
	secretHash, err := security.HashSecret(secretKey)
	if err != nil {
		return nil, "", err
	}
	jwtSecret, err := security.GenerateSecureKey(64)
	if err != nil {
		return nil, "", err
	}
	activationToken, err := security.GenerateSecureToken(32)
	if err != nil {
		return nil, "", err
	}

	expiresAt := time.Now().UTC().Add(config.ActivationTokenTTL)
	env := &entity.Environment{
		ID:                  security.GenerateULID(),
		Name:                name,
		SecretHash:          secretHash,
		JWTSecret:           jwtSecret,
		Status:              entity.StatusPending,
		ActivationToken:     activationToken,
		ActivationExpiresAt: &expiresAt,
		CreatedAt:           time.Now().UTC(),
	}

	if err := s.repo.Create(env); err != nil {
		return nil, "", err
	}

	activationURL := fmt.Sprintf("%s/api/v1/env/activation?token=%s", activationBaseURL, activationToken)
	if err := s.email.SendEnvironmentActivationEmail(adminEmail, env.ID, activationURL); err != nil {
		// The environment exists; the operator can re-trigger the email.
		s.logger.Environment().Error("Activation email failed", "error", err.Error(), "environmentId", env.ID)
	}

	s.logger.Environment().Info("Environment provisioned", "environmentId", env.ID, "name", name)
	return env, secretKey, nil
}

// Activate consumes an activation token and moves the environment to active.
func (s *EnvironmentService) Activate(token string) (*entity.Environment, error) {
	env, err := s.repo.FindByActivationToken(token)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, fmt.Errorf("activation token not recognized")
	}
	if env.ActivationExpiresAt != nil && time.Now().UTC().After(*env.ActivationExpiresAt) {
		return nil, fmt.Errorf("activation token expired")
	}

	if err := s.repo.Activate(env.ID); err != nil {
		return nil, err
	}
	env.Status = entity.StatusActive
	return env, nil
}

// ResolveConnectionToken verifies a handshake bearer token and returns the
// environment and external user it is scoped to. The environment id is read
// from the unverified claims first, then the signature is checked against
// that environment's own secret.
func (s *EnvironmentService) ResolveConnectionToken(tokenString string) (*entity.Environment, string, error) {
	var unverified jwt.MapClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &unverified); err != nil {
		return nil, "", fmt.Errorf("malformed token: %w", err)
	}
	environmentID, ok := security.EnvironmentFromClaims(unverified)
	if !ok {
		return nil, "", fmt.Errorf("token carries no environment")
	}

	env, err := s.repo.FindByID(environmentID)
	if err != nil {
		return nil, "", err
	}
	if env == nil || !env.Active() {
		return nil, "", fmt.Errorf("environment %s not active", environmentID)
	}

	claims, err := security.ValidateJWT(tokenString, env.JWTSecret)
	if err != nil {
		return nil, "", fmt.Errorf("token rejected: %w", err)
	}
	externalUserID, _ := claims["externalUserId"].(string)
	if externalUserID == "" {
		return nil, "", fmt.Errorf("token carries no external user")
	}

	return env, externalUserID, nil
}

// IssueConnectionToken signs a handshake token for an environment after the
// presented secret key verifies against the stored hash.
func (s *EnvironmentService) IssueConnectionToken(environmentID, secretKey, externalUserID string) (string, error) {
	env, err := s.repo.FindByID(environmentID)
	if err != nil {
		return "", err
	}
	if env == nil || !env.Active() {
		return "", fmt.Errorf("environment %s not active", environmentID)
	}
	if !security.VerifySecret(env.SecretHash, secretKey) {
		s.logger.Auth().Warn("Secret key rejected", "environmentId", environmentID)
		return "", fmt.Errorf("secret key rejected")
	}

	return security.GenerateConnectionToken(environmentID, externalUserID, env.JWTSecret, config.AdminTokenTTL)
}
