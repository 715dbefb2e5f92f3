// Package api provides the read-only introspection HTTP API: health,
// runtime/query stats, and the currently registered providers. It never
// persists or mutates server state.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/dnsd/internal/api/handlers"
	"github.com/jroosing/dnsd/internal/api/middleware"
	"github.com/jroosing/dnsd/internal/config"
	"github.com/jroosing/dnsd/internal/provider"
)

// Server is the introspection HTTP server.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
}

// New builds a Server bound to cfg.API.Host:cfg.API.Port. registryFunc
// and statsFunc are read on every request, not snapshotted at
// construction, since the registry is only populated once the DNS
// runner finishes starting up.
func New(cfg *config.Config, logger *slog.Logger, registryFunc func() *provider.Registry, statsFunc func() handlers.Snapshot) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(logger, registryFunc, statsFunc)
	RegisterRoutes(engine, h)

	addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: httpServer, engine: engine}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe blocks serving HTTP until Shutdown is called or the
// listener fails.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
