// Package services contains the orchestration business logic
package services

import (
	"context"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/session"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/messaging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/statestore"
	"github.com/GuideRail/guiderail-go/pkg/config"
)

// Propagation action kinds
const (
	PropagateActivate = iota
	PropagateCancel
)

// PropagateAction is the room-wide replica of a state change made on the
// originating connection.
type PropagateAction struct {
	Kind           int
	ContentType    string
	Session        *session.ContentSession
	HideConditions []session.TrackCondition
	SessionID      string
}

// LifecycleService creates, activates and cancels content sessions on a
// connection, and fans the change out to every sibling connection in the
// user's room. The originating connection's own change is strictly atomic;
// sibling application is best-effort.
type LifecycleService struct {
	selection *SelectionService
	tracking  *TrackingService
	emitter   messaging.Emitter
	store     statestore.Store
	locker    statestore.Locker
	logger    *logging.ChanneledLogger
}

func NewLifecycleService(selection *SelectionService, tracking *TrackingService, emitter messaging.Emitter, store statestore.Store, locker statestore.Locker, logger *logging.ChanneledLogger) *LifecycleService {
	return &LifecycleService{
		selection: selection,
		tracking:  tracking,
		emitter:   emitter,
		store:     store,
		locker:    locker,
		logger:    logger,
	}
}

// ApplyOutcome applies a selection outcome to the connection's state,
// including any teardown the strategy chain performed on its way through.
func (l *LifecycleService) ApplyOutcome(state *session.ConnectionState, contentType string, outcome Outcome) bool {
	if outcome.TornDown != nil {
		l.teardown(state, outcome.TornDown)
	}

	switch outcome.Kind {
	case OutcomeActivate:
		return l.Activate(state, outcome.Session, outcome.HideConditions, outcome.ForceStep)
	case OutcomeTrackConditions:
		return l.tracking.Track(state, outcome.Conditions)
	case OutcomeArmTimers:
		return l.tracking.ArmTimers(state, outcome.Timers)
	}
	return true
}

// Activate writes the session into connection state, pushes it to the
// client, untracks now-irrelevant conditions, cancels timers belonging to
// other versions and arms the session's hide-rule watches. Pass a negative
// forceStep to leave the client's step position alone.
func (l *LifecycleService) Activate(state *session.ConnectionState, cs *session.ContentSession, hideConditions []session.TrackCondition, forceStep int) bool {
	if cs == nil {
		return false
	}

	prev := state.SessionFor(cs.ContentType)
	changed := !cs.Equal(prev)

	if cs.ContentType == session.ContentTypeLauncher {
		changed = l.installLauncher(state, cs)
	} else {
		state.SetSessionFor(cs.ContentType, cs)
	}

	if changed {
		kind := setEventKind(cs.ContentType)
		if !l.emitter.EmitTo(state.ConnectionID, messaging.Event{Kind: kind, Data: messaging.SessionPayload{Session: cs}}) {
			l.logger.Session().Warn("Session push not accepted", "connectionId", state.ConnectionID, "sessionId", cs.ID)
			return false
		}
		if forceStep >= 0 && cs.ContentType != session.ContentTypeLauncher {
			l.emitter.EmitTo(state.ConnectionID, messaging.Event{
				Kind: messaging.EventForceGoToStep,
				Data: messaging.StepPayload{SessionID: cs.ID, Step: forceStep},
			})
		}
	}

	// Only this content type's watches are rebuilt; another type's pending
	// auto-start or hide watches stay live.
	keepIDs := conditionIDs(hideConditions)
	l.tracking.Untrack(state, cs.ContentType, keepIDs)
	l.tracking.CancelTimers(state, cs.ContentType, cs.VersionID)
	l.tracking.Track(state, hideConditions)

	l.logger.Session().Info("Session active on connection", "connectionId", state.ConnectionID, "sessionId", cs.ID, "contentType", cs.ContentType, "changed", changed)
	return true
}

// Cancel tears down the session held at sessionID and immediately re-runs
// selection for its content type, excluding the cancelled content so a
// sibling piece of content can take the slot instead of leaving it empty.
func (l *LifecycleService) Cancel(state *session.ConnectionState, sessionID string) bool {
	held := l.findHeld(state, sessionID)
	if held == nil {
		l.logger.Session().Debug("Cancel for session not held", "connectionId", state.ConnectionID, "sessionId", sessionID)
		return false
	}

	l.teardown(state, held)

	if held.ContentType == session.ContentTypeLauncher {
		return true
	}

	outcome, err := l.selection.SelectContent(state, held.ContentType, SelectOptions{
		ExcludeContentIDs: []string{held.ContentID},
	})
	if err != nil {
		l.logger.Session().Error("Re-selection after cancel failed", "error", err.Error(), "connectionId", state.ConnectionID)
		return false
	}
	return l.ApplyOutcome(state, held.ContentType, outcome)
}

// Propagate replays an action onto every other live connection in the room.
// Oversized rooms are a configuration error: logged and skipped wholesale.
// Individual sibling failures are logged and skipped, never rolled back.
func (l *LifecycleService) Propagate(ctx context.Context, environmentID, roomID, exceptConnectionID string, action PropagateAction) {
	ids := l.emitter.RoomConnectionIDs(environmentID, roomID)
	if len(ids) > config.MaxRoomConnections {
		l.logger.Session().Error("Room exceeds fan-out cap, skipping propagation", "roomId", roomID, "connections", len(ids), "cap", config.MaxRoomConnections)
		return
	}

	for _, connectionID := range ids {
		if connectionID == exceptConnectionID {
			continue
		}
		if err := l.applyToSibling(ctx, connectionID, action); err != nil {
			l.logger.Session().Warn("Propagation to sibling failed", "roomId", roomID, "connectionId", connectionID, "error", err.Error())
		}
	}
}

// applyToSibling mutates one sibling connection under its own lock. A
// contended lock fails this sibling only; the next propagation or the
// sibling's own traffic converges it.
func (l *LifecycleService) applyToSibling(ctx context.Context, connectionID string, action PropagateAction) error {
	token, acquired, err := l.locker.Acquire(ctx, connectionID, config.LockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		l.logger.Session().Debug("Sibling lock contended, skipping", "connectionId", connectionID)
		return nil
	}
	defer l.locker.Release(ctx, connectionID, token)

	state, found, err := l.store.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	switch action.Kind {
	case PropagateActivate:
		held := state.SessionFor(action.ContentType)
		// A sibling already holding a different valid session keeps it.
		if held != nil && held.ID != action.Session.ID {
			return nil
		}
		if held != nil && action.Session.Equal(held) {
			return nil
		}
		replica := *action.Session
		if !l.Activate(state, &replica, action.HideConditions, -1) {
			return nil
		}
	case PropagateCancel:
		held := l.findHeld(state, action.SessionID)
		if held == nil {
			return nil
		}
		l.teardown(state, held)
	}

	return l.store.SaveConnection(ctx, state, true)
}

// teardown clears a session from state, pushes the unset event and disarms
// the watches that belonged to it.
func (l *LifecycleService) teardown(state *session.ConnectionState, cs *session.ContentSession) {
	if cs.ContentType == session.ContentTypeLauncher {
		l.removeLauncher(state, cs.ID)
	} else if held := state.SessionFor(cs.ContentType); held != nil && held.ID == cs.ID {
		state.SetSessionFor(cs.ContentType, nil)
	}

	l.emitter.EmitTo(state.ConnectionID, messaging.Event{
		Kind: unsetEventKind(cs.ContentType),
		Data: messaging.UnsetPayload{SessionID: cs.ID, ContentID: cs.ContentID},
	})

	l.tracking.Untrack(state, cs.ContentType, nil)
	l.tracking.CancelTimers(state, cs.ContentType, "")

	l.logger.Session().Info("Session torn down", "connectionId", state.ConnectionID, "sessionId", cs.ID, "contentType", cs.ContentType)
}

func (l *LifecycleService) findHeld(state *session.ConnectionState, sessionID string) *session.ContentSession {
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

func (l *LifecycleService) installLauncher(state *session.ConnectionState, cs *session.ContentSession) bool {
	for _, ls := range state.LauncherSessions {
		if ls.ID == cs.ID {
			return false
		}
	}
	state.LauncherSessions = append(state.LauncherSessions, cs)
	return true
}

func (l *LifecycleService) removeLauncher(state *session.ConnectionState, sessionID string) {
	var kept []*session.ContentSession
	for _, ls := range state.LauncherSessions {
		if ls.ID != sessionID {
			kept = append(kept, ls)
		}
	}
	state.LauncherSessions = kept
}

func setEventKind(contentType string) string {
	switch contentType {
	case session.ContentTypeChecklist:
		return messaging.EventSetChecklistSession
	case session.ContentTypeLauncher:
		return messaging.EventAddLauncher
	}
	return messaging.EventSetFlowSession
}

func unsetEventKind(contentType string) string {
	switch contentType {
	case session.ContentTypeChecklist:
		return messaging.EventUnsetChecklistSession
	case session.ContentTypeLauncher:
		return messaging.EventRemoveLauncher
	}
	return messaging.EventUnsetFlowSession
}

func conditionIDs(conditions []session.TrackCondition) []string {
	var ids []string
	for _, c := range conditions {
		if c.Condition != nil {
			ids = append(ids, c.Condition.ID)
		}
	}
	return ids
}
