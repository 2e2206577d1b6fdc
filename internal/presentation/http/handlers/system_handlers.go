// Package handlers provides the HTTP and WebSocket entry points.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	realtime "github.com/GuideRail/guiderail-go/internal/infrastructure/messaging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/statestore"
	"github.com/GuideRail/guiderail-go/pkg/config"
)

// SystemHandlers exposes health and status summaries.
type SystemHandlers struct {
	broadcaster *realtime.RoomBroadcaster
	store       statestore.Store
	startedAt   time.Time
}

func NewSystemHandlers(broadcaster *realtime.RoomBroadcaster, store statestore.Store) *SystemHandlers {
	return &SystemHandlers{
		broadcaster: broadcaster,
		store:       store,
		startedAt:   time.Now().UTC(),
	}
}

// HandleHealth is the liveness probe.
func (h *SystemHandlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleStatus reports connection and store statistics for this process.
func (h *SystemHandlers) HandleStatus(c *gin.Context) {
	status := gin.H{
		"uptime":           time.Since(h.startedAt).String(),
		"connections":      h.broadcaster.ConnectionCount(),
		"stateStoreDriver": config.StateStoreDriver,
	}

	if counter, ok := h.store.(interface{ Count() int }); ok {
		status["stateRecords"] = counter.Count()
	}

	c.JSON(http.StatusOK, status)
}
