// Package messaging serializes and dispatches inbound client messages.
package messaging

import (
	"context"
	"encoding/json"

	"github.com/GuideRail/guiderail-go/internal/application/services"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/content"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/session"
	"github.com/GuideRail/guiderail-go/internal/domain/events"
	realtime "github.com/GuideRail/guiderail-go/internal/infrastructure/messaging"
)

type identifyPayload struct {
	ExternalCompanyID string         `json:"externalCompanyId,omitempty"`
	UserAttributes    map[string]any `json:"userAttributes,omitempty"`
	CompanyAttributes map[string]any `json:"companyAttributes,omitempty"`
}

type startContentPayload struct {
	ContentType string `json:"contentType,omitempty"`
	ContentID   string `json:"contentId,omitempty"`
}

type endContentPayload struct {
	SessionID string `json:"sessionId"`
	Dismissed bool   `json:"dismissed,omitempty"`
}

type togglePayload struct {
	ConditionID string `json:"conditionId"`
	IsActive    bool   `json:"isActive"`
}

type fireTimerPayload struct {
	VersionID string `json:"versionId"`
}

type gotoStepPayload struct {
	SessionID string `json:"sessionId"`
	Step      int    `json:"step"`
}

type answerPayload struct {
	SessionID  string `json:"sessionId"`
	QuestionID string `json:"questionId"`
	Answer     any    `json:"answer"`
}

type clickTaskPayload struct {
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId"`
	Completed bool   `json:"completed,omitempty"`
}

type missingTargetPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	Selector  string `json:"selector,omitempty"`
}

func (r *Router) handleIdentify(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	var payload identifyPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.logger.Orchestrator().Warn("Bad identify payload", "connectionId", state.ConnectionID, "error", err.Error())
		return false
	}

	if len(payload.UserAttributes) > 0 {
		if err := r.attributes.MergeUserAttributes(state.EnvironmentID, state.ExternalUserID, payload.UserAttributes); err != nil {
			r.logger.Orchestrator().Warn("User attribute merge failed", "connectionId", state.ConnectionID, "error", err.Error())
			return false
		}
	}
	if payload.ExternalCompanyID != "" {
		state.ExternalCompanyID = payload.ExternalCompanyID
	}
	if len(payload.CompanyAttributes) > 0 && state.ExternalCompanyID != "" {
		if err := r.attributes.MergeCompanyAttributes(state.EnvironmentID, state.ExternalCompanyID, payload.CompanyAttributes); err != nil {
			r.logger.Orchestrator().Warn("Company attribute merge failed", "connectionId", state.ConnectionID, "error", err.Error())
			return false
		}
	}

	return r.reselect(ctx, state)
}

func (r *Router) handleContext(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	var payload session.ClientContext
	if err := json.Unmarshal(data, &payload); err != nil {
		r.logger.Orchestrator().Warn("Bad context payload", "connectionId", state.ConnectionID, "error", err.Error())
		return false
	}

	state.ClientContext = &payload
	return r.reselect(ctx, state)
}

// handleBatchBegin suppresses intermediate selection runs so a burst of
// identify/context/toggle messages evaluates once, at batch-end.
func (r *Router) handleBatchBegin(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	state.Batching = true
	return true
}

func (r *Router) handleBatchEnd(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	state.Batching = false
	return r.reselect(ctx, state)
}

func (r *Router) handleStartContent(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	var payload startContentPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			r.logger.Orchestrator().Warn("Bad start-content payload", "connectionId", state.ConnectionID, "error", err.Error())
			return false
		}
	}
	contentType := payload.ContentType
	if contentType == "" {
		contentType = session.ContentTypeFlow
	}

	outcome, err := r.selection.SelectContent(state, contentType, services.SelectOptions{ContentID: payload.ContentID})
	if err != nil {
		r.logger.Orchestrator().Warn("Selection failed", "connectionId", state.ConnectionID, "error", err.Error())
		return false
	}
	return r.applyAndPropagate(ctx, state, contentType, outcome)
}

func (r *Router) handleEndContent(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	var payload endContentPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		r.logger.Orchestrator().Warn("Bad end-content payload", "connectionId", state.ConnectionID)
		return false
	}

	held := heldSession(state, payload.SessionID)
	if held == nil {
		return false
	}
	ended := *held

	// Teardown first. A failed durable write after it leaves the session
	// in-progress and resumable; writing completion before a failed teardown
	// would leave a completed session still live on the connection.
	if !r.lifecycle.Cancel(state, payload.SessionID) {
		return false
	}

	bizState := content.SessionStateCompleted
	verb := events.VerbSessionEnded
	if payload.Dismissed {
		bizState = content.SessionStateDismissed
		verb = events.VerbSessionDismissed
	}
	if err := r.progress.UpdateSessionState(payload.SessionID, bizState); err != nil {
		r.logger.Orchestrator().Warn("Session state update failed", "sessionId", payload.SessionID, "error", err.Error())
	}
	r.events.TrackSession(state, verb, &ended, nil)

	r.lifecycle.Propagate(ctx, state.EnvironmentID, state.RoomID(), state.ConnectionID, services.PropagateAction{
		Kind:      services.PropagateCancel,
		SessionID: payload.SessionID,
	})
	return true
}

func (r *Router) handleToggleCondition(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	var payload togglePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConditionID == "" {
		r.logger.Orchestrator().Warn("Bad toggle payload", "connectionId", state.ConnectionID)
		return false
	}

	if !r.tracking.Toggle(state, payload.ConditionID, payload.IsActive) {
		return false
	}
	return r.reselect(ctx, state)
}

func (r *Router) handleFireTimer(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	var payload fireTimerPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.VersionID == "" {
		r.logger.Orchestrator().Warn("Bad fire-timer payload", "connectionId", state.ConnectionID)
		return false
	}

	if !r.tracking.Fire(state, payload.VersionID) {
		return false
	}
	return r.reselect(ctx, state)
}

func (r *Router) handleGotoStep(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	var payload gotoStepPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" || payload.Step < 0 {
		r.logger.Orchestrator().Warn("Bad goto-step payload", "connectionId", state.ConnectionID)
		return false
	}

	held := heldSession(state, payload.SessionID)
	if held == nil {
		return false
	}

	held.CurrentStep = payload.Step
	if err := r.progress.UpdateSessionStep(payload.SessionID, payload.Step); err != nil {
		r.logger.Orchestrator().Warn("Step update failed", "sessionId", payload.SessionID, "error", err.Error())
		return false
	}
	r.events.TrackSession(state, events.VerbStepSeen, held, map[string]any{"step": payload.Step})

	r.lifecycle.Propagate(ctx, state.EnvironmentID, state.RoomID(), state.ConnectionID, services.PropagateAction{
		Kind:        services.PropagateActivate,
		ContentType: held.ContentType,
		Session:     held,
	})
	return true
}

func (r *Router) handleAnswer(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	var payload answerPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		r.logger.Orchestrator().Warn("Bad answer payload", "connectionId", state.ConnectionID)
		return false
	}

	held := heldSession(state, payload.SessionID)
	if held == nil {
		return false
	}
	r.events.TrackSession(state, events.VerbQuestionAnswered, held, map[string]any{
		"questionId": payload.QuestionID,
		"answer":     payload.Answer,
	})
	return true
}

func (r *Router) handleClickTask(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	var payload clickTaskPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		r.logger.Orchestrator().Warn("Bad click-task payload", "connectionId", state.ConnectionID)
		return false
	}

	held := heldSession(state, payload.SessionID)
	if held == nil {
		return false
	}

	verb := events.VerbTaskClicked
	if payload.Completed {
		verb = events.VerbTaskCompleted
		// Siblings render the checkmark too.
		for _, connectionID := range r.emitter.RoomConnectionIDs(state.EnvironmentID, state.RoomID()) {
			if connectionID == state.ConnectionID {
				continue
			}
			r.emitter.EmitTo(connectionID, realtime.Event{
				Kind: realtime.EventTaskCompleted,
				Data: realtime.TaskPayload{SessionID: payload.SessionID, TaskID: payload.TaskID},
			})
		}
	}
	r.events.TrackSession(state, verb, held, map[string]any{"taskId": payload.TaskID})
	return true
}

func (r *Router) handleHideChecklist(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	return r.setChecklistHidden(ctx, state, true)
}

func (r *Router) handleShowChecklist(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	return r.setChecklistHidden(ctx, state, false)
}

func (r *Router) handleMissingTarget(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool {
	var payload missingTargetPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return false
		}
	}

	held := heldSession(state, payload.SessionID)
	r.events.TrackSession(state, events.VerbTargetMissing, held, map[string]any{"selector": payload.Selector})
	r.logger.Orchestrator().Warn("Client reported missing target", "connectionId", state.ConnectionID, "sessionId", payload.SessionID, "selector", payload.Selector)
	return true
}

func (r *Router) setChecklistHidden(ctx context.Context, state *session.ConnectionState, hidden bool) bool {
	if state.ChecklistSession == nil || state.ChecklistSession.Hidden == hidden {
		return state.ChecklistSession != nil
	}
	state.ChecklistSession.Hidden = hidden

	r.lifecycle.Propagate(ctx, state.EnvironmentID, state.RoomID(), state.ConnectionID, services.PropagateAction{
		Kind:        services.PropagateActivate,
		ContentType: session.ContentTypeChecklist,
		Session:     state.ChecklistSession,
	})
	return true
}

// reselect re-runs content selection for both singleton content types and
// refreshes launchers. During a batch it is a no-op; batch-end runs it once.
func (r *Router) reselect(ctx context.Context, state *session.ConnectionState) bool {
	if state.Batching {
		return true
	}

	for _, contentType := range []string{session.ContentTypeFlow, session.ContentTypeChecklist} {
		outcome, err := r.selection.SelectContent(state, contentType, services.SelectOptions{})
		if err != nil {
			r.logger.Orchestrator().Warn("Selection failed", "connectionId", state.ConnectionID, "contentType", contentType, "error", err.Error())
			return false
		}
		if !r.applyAndPropagate(ctx, state, contentType, outcome) {
			return false
		}
	}

	launchers, err := r.selection.SelectLaunchers(state)
	if err != nil {
		r.logger.Orchestrator().Warn("Launcher selection failed", "connectionId", state.ConnectionID, "error", err.Error())
		return false
	}
	for _, launcher := range launchers {
		r.lifecycle.Activate(state, launcher, nil, -1)
	}
	return true
}

// applyAndPropagate applies an outcome locally, then replays an activation
// onto the room so every sibling converges on the same session.
func (r *Router) applyAndPropagate(ctx context.Context, state *session.ConnectionState, contentType string, outcome services.Outcome) bool {
	prev := state.SessionFor(contentType)

	if !r.lifecycle.ApplyOutcome(state, contentType, outcome) {
		return false
	}

	if outcome.Kind == services.OutcomeActivate && outcome.Session != nil {
		if prev == nil || prev.ID != outcome.Session.ID {
			r.events.TrackSession(state, events.VerbSessionStarted, outcome.Session, nil)
		}
		if !outcome.Session.Equal(prev) {
			r.lifecycle.Propagate(ctx, state.EnvironmentID, state.RoomID(), state.ConnectionID, services.PropagateAction{
				Kind:           services.PropagateActivate,
				ContentType:    contentType,
				Session:        outcome.Session,
				HideConditions: outcome.HideConditions,
			})
		}
	}
	return true
}

func heldSession(state *session.ConnectionState, sessionID string) *session.ContentSession {
	if state.FlowSession != nil && state.FlowSession.ID == sessionID {
		return state.FlowSession
	}
	if state.ChecklistSession != nil && state.ChecklistSession.ID == sessionID {
		return state.ChecklistSession
	}
	for _, ls := range state.LauncherSessions {
		if ls.ID == sessionID {
			return ls
		}
	}
	return nil
}
