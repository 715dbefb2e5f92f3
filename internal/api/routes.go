package api

import (
	"github.com/gin-gonic/gin"

	"github.com/jroosing/dnsd/internal/api/handlers"
)

// RegisterRoutes mounts the read-only introspection endpoints. There is
// no authentication and no write endpoint: the API exists to observe
// the write-once provider registry and query counters, never to
// mutate them.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler) {
	v1 := r.Group("/api/v1")
	v1.GET("/health", h.Health)
	v1.GET("/stats", h.Stats)
	v1.GET("/providers", h.Providers)
}
