// Package handlers implements the Gin handlers backing the read-only
// introspection API: health, runtime stats, and the currently
// registered providers/zones/filters.
package handlers

import (
	"log/slog"
	"time"

	"github.com/jroosing/dnsd/internal/provider"
)

// Handler holds the dependencies shared by every introspection
// endpoint. It never mutates server state: every handler is a pure
// read of either the write-once provider registry or a concurrently
// safe stats collector.
type Handler struct {
	logger    *slog.Logger
	startTime time.Time

	registryFunc func() *provider.Registry
	statsFunc    func() Snapshot
}

// Snapshot mirrors server.DNSStatsSnapshot without internal/api
// depending on internal/server, keeping the dependency direction
// (server -> api) that cmd/dnsd wires at startup.
type Snapshot struct {
	QueriesTotal uint64
	QueriesUDP   uint64
	QueriesTCP   uint64
	ResponsesNX  uint64
	ResponsesErr uint64
	AvgLatencyMs float64
}

// New builds a Handler. registryFunc and statsFunc are called on every
// request rather than once at construction time, since the registry is
// only populated once Runner.Run has finished building it.
func New(logger *slog.Logger, registryFunc func() *provider.Registry, statsFunc func() Snapshot) *Handler {
	return &Handler{
		logger:       logger,
		startTime:    time.Now(),
		registryFunc: registryFunc,
		statsFunc:    statsFunc,
	}
}
