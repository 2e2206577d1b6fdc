package middleware

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/GuideRail/guiderail-go/pkg/config"
)

// CORSMiddleware admits the admin dashboard origins. The embedded widget
// lives on arbitrary customer pages and talks over the socket endpoint with
// bearer-token auth, so origin allow-listing applies only to the REST surface.
func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: allowOrigin,
		AllowMethods: []string{
			"GET", "POST", "PUT", "DELETE", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"X-GuideRail-Environment-ID", "X-Requested-With",
			"Cache-Control",
		},
		AllowCredentials: true,
		ExposeHeaders: []string{
			"Content-Type", "Cache-Control", "Connection",
		},
	})
}

func allowOrigin(origin string) bool {
	for _, allowed := range config.DashboardOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}
