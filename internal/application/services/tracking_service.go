// Package services contains the orchestration business logic
package services

import (
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/session"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/messaging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
)

// TrackingService manages the rules that cannot be resolved synchronously:
// client-watched conditions and armed wait timers. Every mutation works on
// the passed-in connection state; persisting it is the caller's job.
type TrackingService struct {
	emitter messaging.Emitter
	logger  *logging.ChanneledLogger
}

func NewTrackingService(emitter messaging.Emitter, logger *logging.ChanneledLogger) *TrackingService {
	return &TrackingService{
		emitter: emitter,
		logger:  logger,
	}
}

// Track diffs candidates against the already-tracked set by condition id and
// pushes only the delta to the connection. Re-tracked conditions keep their
// first-seen isActive flag untouched. The delta is merged into state only
// when the client accepted the push.
func (s *TrackingService) Track(state *session.ConnectionState, candidates []session.TrackCondition) bool {
	var delta []session.TrackCondition
	for _, candidate := range candidates {
		if candidate.Condition == nil {
			continue
		}
		if _, tracked := state.FindCondition(candidate.Condition.ID); tracked {
			continue
		}
		if containsCondition(delta, candidate.Condition.ID) {
			continue
		}
		delta = append(delta, candidate)
	}
	if len(delta) == 0 {
		return true
	}

	accepted := s.emitter.EmitTo(state.ConnectionID, messaging.Event{
		Kind: messaging.EventTrackConditions,
		Data: messaging.ConditionsPayload{Conditions: delta},
	})
	if !accepted {
		s.logger.Session().Warn("Condition tracking push not accepted", "connectionId", state.ConnectionID, "count", len(delta))
		return false
	}

	for _, candidate := range delta {
		state.ClientConditions = append(state.ClientConditions, session.ClientCondition{
			ConditionID: candidate.Condition.ID,
			ContentType: candidate.ContentType,
			IsActive:    false,
		})
	}
	s.logger.Session().Debug("Conditions tracked", "connectionId", state.ConnectionID, "added", len(delta), "total", len(state.ClientConditions))
	return true
}

// Toggle flips a previously tracked condition. Unknown condition ids report
// false; the caller decides whether that warrants a re-selection.
func (s *TrackingService) Toggle(state *session.ConnectionState, conditionID string, isActive bool) bool {
	for i := range state.ClientConditions {
		if state.ClientConditions[i].ConditionID == conditionID {
			state.ClientConditions[i].IsActive = isActive
			s.logger.Session().Debug("Condition toggled", "connectionId", state.ConnectionID, "conditionId", conditionID, "isActive", isActive)
			return true
		}
	}
	s.logger.Session().Debug("Toggle for untracked condition", "connectionId", state.ConnectionID, "conditionId", conditionID)
	return false
}

// Untrack removes tracked conditions owned by contentType, keeping any whose
// id appears in keepIDs, and pushes the un-watch delta to the connection.
// Conditions owned by other content types are untouched; an empty contentType
// removes across all types.
func (s *TrackingService) Untrack(state *session.ConnectionState, contentType string, keepIDs []string) bool {
	keep := make(map[string]bool, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = true
	}

	var kept []session.ClientCondition
	var removed []string
	for _, c := range state.ClientConditions {
		if keep[c.ConditionID] || (contentType != "" && c.ContentType != contentType) {
			kept = append(kept, c)
		} else {
			removed = append(removed, c.ConditionID)
		}
	}
	if len(removed) == 0 {
		return true
	}

	accepted := s.emitter.EmitTo(state.ConnectionID, messaging.Event{
		Kind: messaging.EventUntrackConditions,
		Data: messaging.ConditionsPayload{ConditionIDs: removed},
	})
	if !accepted {
		s.logger.Session().Warn("Condition untrack push not accepted", "connectionId", state.ConnectionID, "count", len(removed))
		return false
	}

	state.ClientConditions = kept
	s.logger.Session().Debug("Conditions untracked", "connectionId", state.ConnectionID, "removed", len(removed))
	return true
}

// ArmTimers arms wait timers not already held, keyed per content version,
// and pushes start-timer events carrying the remaining delay.
func (s *TrackingService) ArmTimers(state *session.ConnectionState, timers []session.WaitTimerCondition) bool {
	now := time.Now().UTC()
	ok := true
	for _, timer := range timers {
		if _, armed := state.FindTimer(timer.VersionID); armed {
			continue
		}

		delay := timer.FireAt.Sub(now).Milliseconds()
		if delay < 0 {
			delay = 0
		}
		accepted := s.emitter.EmitTo(state.ConnectionID, messaging.Event{
			Kind: messaging.EventStartTimer,
			Data: messaging.TimerPayload{VersionID: timer.VersionID, DelayMS: delay},
		})
		if !accepted {
			s.logger.Session().Warn("Timer push not accepted", "connectionId", state.ConnectionID, "versionId", timer.VersionID)
			ok = false
			continue
		}

		state.WaitTimers = append(state.WaitTimers, session.WaitTimerCondition{
			VersionID:   timer.VersionID,
			ContentType: timer.ContentType,
			FireAt:      timer.FireAt,
		})
		s.logger.Session().Debug("Timer armed", "connectionId", state.ConnectionID, "versionId", timer.VersionID, "fireAt", timer.FireAt)
	}
	return ok
}

// CancelTimers disarms timers owned by contentType except the one for
// keepVersionID (pass an empty id to disarm all of that type), pushing
// cancel-timer events. Timers owned by other content types stay armed; an
// empty contentType disarms across all types.
func (s *TrackingService) CancelTimers(state *session.ConnectionState, contentType, keepVersionID string) bool {
	var kept []session.WaitTimerCondition
	ok := true
	for _, timer := range state.WaitTimers {
		if timer.VersionID == keepVersionID || (contentType != "" && timer.ContentType != contentType) {
			kept = append(kept, timer)
			continue
		}
		accepted := s.emitter.EmitTo(state.ConnectionID, messaging.Event{
			Kind: messaging.EventCancelTimer,
			Data: messaging.TimerPayload{VersionID: timer.VersionID},
		})
		if !accepted {
			s.logger.Session().Warn("Timer cancel push not accepted", "connectionId", state.ConnectionID, "versionId", timer.VersionID)
			kept = append(kept, timer)
			ok = false
			continue
		}
		s.logger.Session().Debug("Timer cancelled", "connectionId", state.ConnectionID, "versionId", timer.VersionID)
	}
	state.WaitTimers = kept
	return ok
}

// Fire marks an armed timer as activated. The client schedules from delayMs
// locally, so the report is validated against the server's wall-clock fire
// time; early reports are rejected.
func (s *TrackingService) Fire(state *session.ConnectionState, versionID string) bool {
	for i := range state.WaitTimers {
		if state.WaitTimers[i].VersionID != versionID {
			continue
		}
		if time.Now().UTC().Before(state.WaitTimers[i].FireAt.Add(-timerFireSlack)) {
			s.logger.Session().Warn("Timer fired early", "connectionId", state.ConnectionID, "versionId", versionID, "fireAt", state.WaitTimers[i].FireAt)
			return false
		}
		state.WaitTimers[i].Activated = true
		s.logger.Session().Debug("Timer fired", "connectionId", state.ConnectionID, "versionId", versionID)
		return true
	}
	return false
}

// timerFireSlack absorbs clock skew between client and server.
const timerFireSlack = 2 * time.Second

func containsCondition(candidates []session.TrackCondition, id string) bool {
	for _, c := range candidates {
		if c.Condition != nil && c.Condition.ID == id {
			return true
		}
	}
	return false
}
