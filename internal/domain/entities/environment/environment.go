// Package environment defines the unit of isolation every connection,
// content and event belongs to.
package environment

import "time"

// Environment statuses
const (
	StatusPending = "pending"
	StatusActive  = "active"
)

// Environment is a provisioned isolation scope. SecretHash guards the admin
// surface; JWTSecret signs connection handshake tokens.
type Environment struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	SecretHash          string     `json:"-"`
	JWTSecret           string     `json:"-"`
	Status              string     `json:"status"`
	ActivationToken     string     `json:"-"`
	ActivationExpiresAt *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// Active reports whether the environment has completed activation.
func (e *Environment) Active() bool {
	return e.Status == StatusActive
}
