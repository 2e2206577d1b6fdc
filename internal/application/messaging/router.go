// Package messaging serializes and dispatches inbound client messages.
package messaging

import (
	"context"
	"encoding/json"

	"github.com/GuideRail/guiderail-go/internal/application/services"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/session"
	realtime "github.com/GuideRail/guiderail-go/internal/infrastructure/messaging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/statestore"
)

// Inbound message kinds
const (
	KindIdentify        = "identify"
	KindContext         = "context"
	KindBatchBegin      = "batch-begin"
	KindBatchEnd        = "batch-end"
	KindStartContent    = "start-content"
	KindEndContent      = "end-content"
	KindToggleCondition = "toggle-condition"
	KindFireTimer       = "fire-timer"
	KindGotoStep        = "goto-step"
	KindAnswer          = "answer"
	KindClickTask       = "click-task"
	KindHideChecklist   = "hide-checklist"
	KindShowChecklist   = "show-checklist"
	KindMissingTarget   = "missing-target"
)

// AttributeWriter merges identity payloads into the audience snapshots.
type AttributeWriter interface {
	MergeUserAttributes(environmentID, externalID string, attributes map[string]any) error
	MergeCompanyAttributes(environmentID, externalID string, attributes map[string]any) error
}

// ProgressWriter records step and state changes on business sessions.
type ProgressWriter interface {
	UpdateSessionStep(sessionID string, step int) error
	UpdateSessionState(sessionID string, state int) error
}

type handlerFunc func(ctx context.Context, state *session.ConnectionState, data json.RawMessage) bool

// Router maps inbound message kinds to handlers. Every dispatch runs under
// the concurrency guard with freshly loaded connection state; the state is
// written back only when the handler reports success. Unknown kinds and
// missing state both resolve to a clean false.
type Router struct {
	guard      *Guard
	store      statestore.Store
	selection  *services.SelectionService
	lifecycle  *services.LifecycleService
	tracking   *services.TrackingService
	events     *services.EventTrackingService
	attributes AttributeWriter
	progress   ProgressWriter
	emitter    realtime.Emitter
	logger     *logging.ChanneledLogger
	handlers   map[string]handlerFunc
}

func NewRouter(
	guard *Guard,
	store statestore.Store,
	selection *services.SelectionService,
	lifecycle *services.LifecycleService,
	tracking *services.TrackingService,
	events *services.EventTrackingService,
	attributes AttributeWriter,
	progress ProgressWriter,
	emitter realtime.Emitter,
	logger *logging.ChanneledLogger,
) *Router {
	r := &Router{
		guard:      guard,
		store:      store,
		selection:  selection,
		lifecycle:  lifecycle,
		tracking:   tracking,
		events:     events,
		attributes: attributes,
		progress:   progress,
		emitter:    emitter,
		logger:     logger,
	}
	r.handlers = map[string]handlerFunc{
		KindIdentify:        r.handleIdentify,
		KindContext:         r.handleContext,
		KindBatchBegin:      r.handleBatchBegin,
		KindBatchEnd:        r.handleBatchEnd,
		KindStartContent:    r.handleStartContent,
		KindEndContent:      r.handleEndContent,
		KindToggleCondition: r.handleToggleCondition,
		KindFireTimer:       r.handleFireTimer,
		KindGotoStep:        r.handleGotoStep,
		KindAnswer:          r.handleAnswer,
		KindClickTask:       r.handleClickTask,
		KindHideChecklist:   r.handleHideChecklist,
		KindShowChecklist:   r.handleShowChecklist,
		KindMissingTarget:   r.handleMissingTarget,
	}
	return r
}

// Handle dispatches one inbound message. The boolean is the only thing the
// protocol reports back; every failure path lands here as false plus a log
// line, never a panic or an error payload.
func (r *Router) Handle(ctx context.Context, connectionID, kind string, data json.RawMessage) bool {
	handler, known := r.handlers[kind]
	if !known {
		r.logger.Orchestrator().Warn("Unknown message kind", "connectionId", connectionID, "kind", kind)
		return false
	}

	handled := false
	err := r.guard.WithLock(ctx, connectionID, func(ctx context.Context) error {
		// Always re-read: another process may have mutated this connection
		// between messages.
		state, found, err := r.store.GetConnection(ctx, connectionID)
		if err != nil {
			return err
		}
		if !found {
			r.logger.Orchestrator().Debug("No state for connection", "connectionId", connectionID, "kind", kind)
			return nil
		}

		if !handler(ctx, state, data) {
			return nil
		}
		if err := r.store.SaveConnection(ctx, state, true); err != nil {
			return err
		}
		handled = true
		return nil
	})
	if err != nil {
		r.logger.Orchestrator().Warn("Message handling failed", "connectionId", connectionID, "kind", kind, "error", err.Error())
		return false
	}
	return handled
}
