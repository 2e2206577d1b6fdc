// Package messaging provides the concrete implementation of the room broadcaster.
package messaging

import (
	"sync"

	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
)

// RoomBroadcaster manages environment-scoped, room-grouped live connections.
// A room is every connection of one external user within one environment.
type RoomBroadcaster struct {
	rooms  map[string]map[string]map[string]Conn // environmentId -> roomId -> connectionId -> conn
	byID   map[string]Conn                       // connectionId -> conn
	mu     sync.Mutex
	logger *logging.ChanneledLogger
}

// NewRoomBroadcaster creates the broadcaster instance.
func NewRoomBroadcaster(logger *logging.ChanneledLogger) *RoomBroadcaster {
	return &RoomBroadcaster{
		rooms:  make(map[string]map[string]map[string]Conn),
		byID:   make(map[string]Conn),
		logger: logger,
	}
}

// AddConnection registers a live connection under its environment and room.
func (b *RoomBroadcaster) AddConnection(environmentID, roomID string, conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rooms[environmentID] == nil {
		b.rooms[environmentID] = make(map[string]map[string]Conn)
	}
	if b.rooms[environmentID][roomID] == nil {
		b.rooms[environmentID][roomID] = make(map[string]Conn)
	}
	b.rooms[environmentID][roomID][conn.ID()] = conn
	b.byID[conn.ID()] = conn

	b.logger.Realtime().Debug("Connection registered", "environmentId", environmentID, "roomId", roomID, "connectionId", conn.ID())
}

// RemoveConnection unregisters a connection, pruning empty rooms.
func (b *RoomBroadcaster) RemoveConnection(environmentID, roomID, connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.byID, connectionID)

	if envRooms, exists := b.rooms[environmentID]; exists {
		if room, exists := envRooms[roomID]; exists {
			delete(room, connectionID)
			if len(room) == 0 {
				delete(envRooms, roomID)
			}
		}
		if len(envRooms) == 0 {
			delete(b.rooms, environmentID)
		}
	}

	b.logger.Realtime().Debug("Connection unregistered", "environmentId", environmentID, "roomId", roomID, "connectionId", connectionID)
}

// EmitTo delivers one event to one connection, reporting acceptance. A
// connection that is no longer registered yields false, never an error.
func (b *RoomBroadcaster) EmitTo(connectionID string, event Event) bool {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Realtime().Error("Panic recovered in EmitTo", "error", r, "connectionId", connectionID)
		}
	}()

	b.mu.Lock()
	conn, exists := b.byID[connectionID]
	b.mu.Unlock()

	if !exists {
		b.logger.Realtime().Debug("Emit skipped, connection gone", "connectionId", connectionID, "kind", event.Kind)
		return false
	}

	ok := conn.Emit(event)
	if !ok {
		b.logger.Realtime().Warn("Emit not accepted", "connectionId", connectionID, "kind", event.Kind)
	}
	return ok
}

// RoomConnectionIDs returns the ids of every live connection in a room.
func (b *RoomBroadcaster) RoomConnectionIDs(environmentID, roomID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	room, exists := b.rooms[environmentID][roomID]
	if !exists {
		return nil
	}

	ids := make([]string, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	return ids
}

// RoomSize returns the number of live connections in a room.
func (b *RoomBroadcaster) RoomSize(environmentID, roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[environmentID][roomID])
}

// ConnectionCount returns the total number of live connections.
func (b *RoomBroadcaster) ConnectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byID)
}
