// Package messaging defines the outbound push contract between the
// orchestration services and live client connections.
package messaging

// Outbound event kinds
const (
	EventSetFlowSession       = "set-flow-session"
	EventUnsetFlowSession     = "unset-flow-session"
	EventSetChecklistSession  = "set-checklist-session"
	EventUnsetChecklistSession = "unset-checklist-session"
	EventForceGoToStep        = "force-goto-step"
	EventTrackConditions      = "track-conditions"
	EventUntrackConditions    = "untrack-conditions"
	EventStartTimer           = "start-timer"
	EventCancelTimer          = "cancel-timer"
	EventAddLauncher          = "add-launcher"
	EventRemoveLauncher       = "remove-launcher"
	EventTaskCompleted        = "task-completed"
)

// Event is a single outbound push to a connection.
type Event struct {
	Kind string `json:"kind"`
	Data any    `json:"data,omitempty"`
}

// Conn is one live client connection. Emit is synchronous at this boundary:
// it reports whether the event was accepted for delivery.
type Conn interface {
	ID() string
	Emit(event Event) bool
	Close()
}

// Emitter is the push surface consumed by the orchestration services.
type Emitter interface {
	EmitTo(connectionID string, event Event) bool
	RoomConnectionIDs(environmentID, roomID string) []string
}
