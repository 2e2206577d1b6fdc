// Package events defines the analytics event value recorded by the
// fire-and-forget tracking sink.
package events

import "time"

// Event verbs
const (
	VerbSessionStarted   = "SESSION_STARTED"
	VerbSessionEnded     = "SESSION_ENDED"
	VerbSessionDismissed = "SESSION_DISMISSED"
	VerbStepSeen         = "STEP_SEEN"
	VerbQuestionAnswered = "QUESTION_ANSWERED"
	VerbTaskClicked      = "TASK_CLICKED"
	VerbTaskCompleted    = "TASK_COMPLETED"
	VerbTargetMissing    = "TARGET_MISSING"
)

// Event is a single tracked occurrence against a content session.
type Event struct {
	ID             string         `json:"id"`
	EnvironmentID  string         `json:"environmentId"`
	ExternalUserID string         `json:"externalUserId"`
	SessionID      string         `json:"sessionId,omitempty"`
	ContentID      string         `json:"contentId,omitempty"`
	VersionID      string         `json:"versionId,omitempty"`
	Verb           string         `json:"verb"`
	Data           map[string]any `json:"data,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}
