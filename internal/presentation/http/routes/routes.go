// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/GuideRail/guiderail-go/internal/application/container"
	"github.com/GuideRail/guiderail-go/internal/presentation/http/handlers"
	"github.com/GuideRail/guiderail-go/internal/presentation/http/middleware"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	socketHandlers := handlers.NewSocketHandlers(container.Environments, container.Router, container.Broadcaster, container.StateStore, container.Logger)
	envHandlers := handlers.NewEnvironmentHandlers(container.Environments, container.Logger)
	systemHandlers := handlers.NewSystemHandlers(container.Broadcaster, container.StateStore)

	// The persistent duplex connection endpoint.
	r.GET("/ws", socketHandlers.HandleConnect)

	api := r.Group("/api/v1")
	{
		api.GET("/health", systemHandlers.HandleHealth)
		api.GET("/status", systemHandlers.HandleStatus)

		env := api.Group("/env")
		{
			env.POST("/provision", envHandlers.HandleProvision)
			env.POST("/activation", envHandlers.HandleActivation)
			env.GET("/activation", envHandlers.HandleActivation)
			env.POST("/token", envHandlers.HandleToken)
		}
	}

	return r
}
