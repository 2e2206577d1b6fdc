// Package handlers provides the HTTP and WebSocket entry points.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GuideRail/guiderail-go/internal/application/services"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
)

// EnvironmentHandlers exposes environment provisioning and token issuance.
type EnvironmentHandlers struct {
	environments *services.EnvironmentService
	logger       *logging.ChanneledLogger
}

func NewEnvironmentHandlers(environments *services.EnvironmentService, logger *logging.ChanneledLogger) *EnvironmentHandlers {
	return &EnvironmentHandlers{
		environments: environments,
		logger:       logger,
	}
}

type provisionRequest struct {
	Name       string `json:"name" binding:"required"`
	AdminEmail string `json:"adminEmail" binding:"required,email"`
	BaseURL    string `json:"baseUrl" binding:"required"`
}

// HandleProvision creates a pending environment and emails its activation
// link. The secret key appears in this response and nowhere else.
func (h *EnvironmentHandlers) HandleProvision(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	env, secretKey, err := h.environments.Provision(req.Name, req.AdminEmail, req.BaseURL)
	if err != nil {
		h.logger.Environment().Error("Provisioning failed", "error", err.Error(), "name", req.Name)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provisioning failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"environmentId": env.ID,
		"status":        env.Status,
		"secretKey":     secretKey,
	})
}

// HandleActivation consumes an emailed activation token.
func (h *EnvironmentHandlers) HandleActivation(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}

	env, err := h.environments.Activate(token)
	if err != nil {
		h.logger.Environment().Warn("Activation rejected", "error", err.Error())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "activation rejected"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"environmentId": env.ID,
		"status":        env.Status,
	})
}

type tokenRequest struct {
	EnvironmentID  string `json:"environmentId" binding:"required"`
	SecretKey      string `json:"secretKey" binding:"required"`
	ExternalUserID string `json:"externalUserId" binding:"required"`
}

// HandleToken signs a connection token for a client, authenticated by the
// environment's secret key. Backends call this, never browsers.
func (h *EnvironmentHandlers) HandleToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.environments.IssueConnectionToken(req.EnvironmentID, req.SecretKey, req.ExternalUserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token issuance rejected"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
