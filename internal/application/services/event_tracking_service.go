// Package services contains the orchestration business logic
package services

import (
	"github.com/GuideRail/guiderail-go/internal/domain/entities/session"
	"github.com/GuideRail/guiderail-go/internal/domain/events"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
)

// EventRecorder appends events to the durable sink.
type EventRecorder interface {
	Record(event *events.Event) error
}

// EventTrackingService is the fire-and-forget recording path for session
// lifecycle and interaction events. Sink failures are logged and swallowed;
// they never fail the client operation that produced them.
type EventTrackingService struct {
	events EventRecorder
	logger *logging.ChanneledLogger
}

func NewEventTrackingService(events EventRecorder, logger *logging.ChanneledLogger) *EventTrackingService {
	return &EventTrackingService{
		events: events,
		logger: logger,
	}
}

// TrackSession records a verb against a content session.
func (s *EventTrackingService) TrackSession(state *session.ConnectionState, verb string, cs *session.ContentSession, data map[string]any) {
	event := &events.Event{
		EnvironmentID:  state.EnvironmentID,
		ExternalUserID: state.ExternalUserID,
		Verb:           verb,
		Data:           data,
	}
	if cs != nil {
		event.SessionID = cs.ID
		event.ContentID = cs.ContentID
		event.VersionID = cs.VersionID
	}
	s.record(event)
}

// TrackConnection records a verb with no session attached.
func (s *EventTrackingService) TrackConnection(state *session.ConnectionState, verb string, data map[string]any) {
	s.record(&events.Event{
		EnvironmentID:  state.EnvironmentID,
		ExternalUserID: state.ExternalUserID,
		Verb:           verb,
		Data:           data,
	})
}

func (s *EventTrackingService) record(event *events.Event) {
	if err := s.events.Record(event); err != nil {
		s.logger.Content().Warn("Event sink write failed", "error", err.Error(), "verb", event.Verb)
	}
}
