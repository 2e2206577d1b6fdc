// Package session defines per-connection ephemeral state and the content
// session structures synchronized across a user's room.
package session

import (
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/rules"
)

// Content types subject to the one-active-session-per-type invariant.
// Launchers are always-on and exempt.
const (
	ContentTypeFlow      = "flow"
	ContentTypeChecklist = "checklist"
	ContentTypeLauncher  = "launcher"
)

// Condition tracking types
const (
	ConditionTypeAutoStart = "auto-start"
	ConditionTypeHide      = "hide"
)

// ClientContext is the page/viewport context reported by the client.
type ClientContext struct {
	PageURL        string `json:"pageUrl"`
	ViewportWidth  int    `json:"viewportWidth"`
	ViewportHeight int    `json:"viewportHeight"`
}

// ContentSession is the unit broadcast to connections. ID is the underlying
// business session id and is reused across re-activations of the same
// in-progress session.
type ContentSession struct {
	ID          string `json:"id"`
	ContentID   string `json:"contentId"`
	ContentType string `json:"contentType"`
	VersionID   string `json:"versionId"`
	CurrentStep int    `json:"currentStep"`
	Hidden      bool   `json:"hidden,omitempty"`
}

// Equal compares the fields that matter for change propagation.
func (s *ContentSession) Equal(other *ContentSession) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.ID == other.ID &&
		s.ContentID == other.ContentID &&
		s.VersionID == other.VersionID &&
		s.CurrentStep == other.CurrentStep &&
		s.Hidden == other.Hidden
}

// ClientCondition is a rule leaf being watched client-side. ContentType
// records which content type's rules own the watch, so activating one type
// never disturbs another type's watches.
type ClientCondition struct {
	ConditionID string `json:"conditionId"`
	ContentType string `json:"contentType,omitempty"`
	IsActive    bool   `json:"isActive"`
}

// WaitTimerCondition is a delayed-activation timer armed for one content
// version. FireAt is wall-clock so timers survive the process that armed them.
type WaitTimerCondition struct {
	VersionID   string    `json:"versionId"`
	ContentType string    `json:"contentType,omitempty"`
	Activated   bool      `json:"activated"`
	FireAt      time.Time `json:"fireAt"`
}

// TrackCondition is a watch candidate emitted to a connection: the rule
// subtree to observe, whether it belongs to auto-start or hide rules, and the
// content type that owns it.
type TrackCondition struct {
	Condition   *rules.Node `json:"condition"`
	Type        string      `json:"type"`
	ContentType string      `json:"contentType,omitempty"`
}

// ConnectionState is the externally-owned record for one live connection,
// keyed by connection id and TTL-refreshed on every write. Handlers receive
// it by value (fresh load) and write it back explicitly.
type ConnectionState struct {
	ConnectionID      string         `json:"connectionId"`
	EnvironmentID     string         `json:"environmentId"`
	ExternalUserID    string         `json:"externalUserId"`
	ExternalCompanyID string         `json:"externalCompanyId,omitempty"`
	ClientContext     *ClientContext `json:"clientContext,omitempty"`
	Batching          bool           `json:"batching,omitempty"`

	FlowSession      *ContentSession   `json:"flowSession,omitempty"`
	ChecklistSession *ContentSession   `json:"checklistSession,omitempty"`
	LauncherSessions []*ContentSession `json:"launcherSessions,omitempty"`

	ClientConditions []ClientCondition    `json:"clientConditions,omitempty"`
	WaitTimers       []WaitTimerCondition `json:"waitTimerConditions,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RoomID returns the broadcast room key: all connections of one external
// user within one environment share a room.
func (s *ConnectionState) RoomID() string {
	return s.EnvironmentID + ":" + s.ExternalUserID
}

// SessionFor returns the active singleton session for a content type, or nil.
func (s *ConnectionState) SessionFor(contentType string) *ContentSession {
	switch contentType {
	case ContentTypeFlow:
		return s.FlowSession
	case ContentTypeChecklist:
		return s.ChecklistSession
	}
	return nil
}

// SetSessionFor installs (or clears, with nil) the singleton session for a
// content type. Launchers are managed separately and ignored here.
func (s *ConnectionState) SetSessionFor(contentType string, cs *ContentSession) {
	switch contentType {
	case ContentTypeFlow:
		s.FlowSession = cs
	case ContentTypeChecklist:
		s.ChecklistSession = cs
	}
}

// FindCondition returns the tracked condition entry for an id, if present.
func (s *ConnectionState) FindCondition(conditionID string) (ClientCondition, bool) {
	for _, c := range s.ClientConditions {
		if c.ConditionID == conditionID {
			return c, true
		}
	}
	return ClientCondition{}, false
}

// FindTimer returns the armed wait timer for a version, if present.
func (s *ConnectionState) FindTimer(versionID string) (WaitTimerCondition, bool) {
	for _, t := range s.WaitTimers {
		if t.VersionID == versionID {
			return t, true
		}
	}
	return WaitTimerCondition{}, false
}

// ActiveConditionSet returns tracked conditions as an id→isActive map for
// rule evaluation input.
func (s *ConnectionState) ActiveConditionSet() map[string]bool {
	if len(s.ClientConditions) == 0 {
		return nil
	}
	out := make(map[string]bool, len(s.ClientConditions))
	for _, c := range s.ClientConditions {
		out[c.ConditionID] = c.IsActive
	}
	return out
}

// Clone returns a deep copy so handlers can diff before/after states.
func (s *ConnectionState) Clone() *ConnectionState {
	if s == nil {
		return nil
	}
	out := *s
	if s.ClientContext != nil {
		ctx := *s.ClientContext
		out.ClientContext = &ctx
	}
	out.FlowSession = cloneSession(s.FlowSession)
	out.ChecklistSession = cloneSession(s.ChecklistSession)
	if len(s.LauncherSessions) > 0 {
		out.LauncherSessions = make([]*ContentSession, len(s.LauncherSessions))
		for i, ls := range s.LauncherSessions {
			out.LauncherSessions[i] = cloneSession(ls)
		}
	}
	if len(s.ClientConditions) > 0 {
		out.ClientConditions = append([]ClientCondition(nil), s.ClientConditions...)
	}
	if len(s.WaitTimers) > 0 {
		out.WaitTimers = append([]WaitTimerCondition(nil), s.WaitTimers...)
	}
	return &out
}

func cloneSession(cs *ContentSession) *ContentSession {
	if cs == nil {
		return nil
	}
	out := *cs
	return &out
}
