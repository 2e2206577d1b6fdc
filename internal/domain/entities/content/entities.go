// Package content defines the published content read model: contents,
// immutable versions, steps and the business sessions recorded against them.
package content

import (
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/rules"
)

// Business session states
const (
	SessionStateInProgress = 0
	SessionStateCompleted  = 1
	SessionStateDismissed  = 2
)

// Content is an authored flow, checklist or launcher within an environment.
// Ordering is the content authoring order used for auto-start tie-breaking.
type Content struct {
	ID                 string  `json:"id"`
	EnvironmentID      string  `json:"environmentId"`
	Name               string  `json:"name"`
	ContentType        string  `json:"contentType"`
	Ordering           int     `json:"ordering"`
	PublishedVersionID *string `json:"publishedVersionId,omitempty"`
}

// VersionConfig is the targeting configuration carried by a version.
type VersionConfig struct {
	AutoStartRules *rules.Node `json:"autoStartRules,omitempty"`
	HideRules      *rules.Node `json:"hideRules,omitempty"`
}

// Version is an immutable, steppable snapshot of a content's configuration.
type Version struct {
	ID        string         `json:"id"`
	ContentID string         `json:"contentId"`
	Config    *VersionConfig `json:"config"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Step is one step of a version. Data is the opaque authored payload.
type Step struct {
	ID        string         `json:"id"`
	VersionID string         `json:"versionId"`
	Seq       int            `json:"seq"`
	Name      string         `json:"name"`
	Data      map[string]any `json:"data,omitempty"`
}

// BizSession is a specific user's run through a content version.
type BizSession struct {
	ID             string    `json:"id"`
	EnvironmentID  string    `json:"environmentId"`
	ContentID      string    `json:"contentId"`
	VersionID      string    `json:"versionId"`
	ExternalUserID string    `json:"externalUserId"`
	State          int       `json:"state"`
	CurrentStep    int       `json:"currentStep"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Terminal reports whether the session can no longer be resumed.
func (b *BizSession) Terminal() bool {
	return b.State != SessionStateInProgress
}

// EvaluatedVersion is a published version joined with the user's latest
// business session (if any) and the outcome of rule evaluation.
type EvaluatedVersion struct {
	Content       *Content
	Version       *Version
	Steps         []*Step
	LatestSession *BizSession
	AutoStart     rules.Evaluation
	Hide          rules.Evaluation
}
