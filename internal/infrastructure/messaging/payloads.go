package messaging

import "github.com/GuideRail/guiderail-go/internal/domain/entities/session"

// SessionPayload carries a content session push (set/add events).
type SessionPayload struct {
	Session *session.ContentSession `json:"session"`
}

// UnsetPayload carries a session teardown (unset/remove events).
type UnsetPayload struct {
	SessionID string `json:"sessionId"`
	ContentID string `json:"contentId,omitempty"`
}

// StepPayload carries a forced step change.
type StepPayload struct {
	SessionID string `json:"sessionId"`
	Step      int    `json:"step"`
}

// ConditionsPayload carries condition watch (or un-watch) instructions.
type ConditionsPayload struct {
	Conditions   []session.TrackCondition `json:"conditions,omitempty"`
	ConditionIDs []string                 `json:"conditionIds,omitempty"`
}

// TimerPayload carries a wait timer instruction. DelayMS is what the client
// schedules from; the server keeps the authoritative wall-clock fire time.
type TimerPayload struct {
	VersionID string `json:"versionId"`
	DelayMS   int64  `json:"delayMs,omitempty"`
}

// TaskPayload carries a checklist task completion.
type TaskPayload struct {
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId"`
}
