// Package server wires the protocol engine, session table, tool registry
// and audit sink into the explicit dispatch context every handler runs
// against (§9 Design Notes, "Global singletons"). No package-level global
// holds any of these; Context is constructed once in cmd/serve.go and
// passed by pointer.
package server

import (
	"log/slog"
	"sync"

	"github.com/ops-core/server/internal/audit"
	"github.com/ops-core/server/internal/config"
	"github.com/ops-core/server/internal/session"
	"github.com/ops-core/server/internal/tools"
)

// Context is the server-wide dependency bundle threaded through every
// protocol method handler.
type Context struct {
	Config   *config.Config
	Registry *tools.Registry
	Audit    audit.Sink
	Logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewContext builds a Context ready to serve requests.
func NewContext(cfg *config.Config, registry *tools.Registry, auditSink audit.Sink, logger *slog.Logger) *Context {
	return &Context{
		Config:   cfg,
		Registry: registry,
		Audit:    auditSink,
		Logger:   logger,
		sessions: make(map[string]*session.Session),
	}
}

// TrackSession registers s so it can be looked up later (HTTP's
// client-supplied-identifier case); stdio's single session doesn't need
// the lookup but registering it is harmless.
func (c *Context) TrackSession(id string, s *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[id] = s
}

func (c *Context) SessionByID(id string) (*session.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s, ok
}

// UntrackSession removes a closed session from the table.
func (c *Context) UntrackSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}
