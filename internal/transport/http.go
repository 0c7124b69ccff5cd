package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/ops-core/server/internal/protocol"
	"github.com/ops-core/server/internal/session"
)

const maxBodyBytes = 1 << 20

const eventRingCapacity = 256

// HTTP exposes the JSON-RPC engine over POST /rpc and a best-effort
// notification stream over GET /events. Unlike stdio, HTTP serves many
// concurrent clients: a request carrying X-Client-Id runs against that
// client's own session, and requests without one share a single ambient
// session for the process lifetime.
type HTTP struct {
	engine   *protocol.Engine
	sessions sessionTable
	ring     *eventRing
	logger   *slog.Logger

	ambientMu      sync.Mutex
	ambientSession *session.Session
}

// sessionTable is the minimal surface HTTP needs from
// internal/server.Context to look up or create a session by client id,
// kept narrow here so this package doesn't import server (server already
// imports protocol/session/tools and would cycle back).
type sessionTable interface {
	SessionByID(id string) (*session.Session, bool)
	TrackSession(id string, s *session.Session)
}

func NewHTTP(engine *protocol.Engine, sessions sessionTable, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{engine: engine, sessions: sessions, ring: newEventRing(eventRingCapacity), logger: logger}
}

// Handler builds the h2c-wrapped http.Handler for POST /rpc and GET
// /events, allowing HTTP/2 cleartext so /events connections don't pay for
// a new TCP+TLS handshake per reconnect in environments without TLS
// termination in front of this server.
func (h *HTTP) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc", h.handleRPC)
	mux.HandleFunc("GET /events", h.handleEvents)
	return h2c.NewHandler(mux, &http2.Server{})
}

// sessionFor resolves the session a request runs against. A client-supplied
// X-Client-Id gets its own tracked session, looked up or created in the
// shared table. Without one, every request shares a single lazily-created
// ambient session (spec.md: "for the stateless POST case a single ambient
// session suffices when the process is launched for one user"), so a
// sequence of initialize / initialized / tools/call calls with no client id
// still progresses through one state machine instead of restarting in
// Pre-Init on every request.
func (h *HTTP) sessionFor(r *http.Request) *session.Session {
	clientID := r.Header.Get("X-Client-Id")
	if clientID == "" {
		return h.ambientSessionFor()
	}
	if sess, ok := h.sessions.SessionByID(clientID); ok {
		return sess
	}
	sess := session.New()
	h.sessions.TrackSession(clientID, sess)
	return sess
}

func (h *HTTP) ambientSessionFor() *session.Session {
	h.ambientMu.Lock()
	defer h.ambientMu.Unlock()
	if h.ambientSession == nil {
		h.ambientSession = session.New()
	}
	return h.ambientSession
}

func (h *HTTP) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	sess := h.sessionFor(r)
	reqCtx := session.WithSession(r.Context(), sess)

	resp := h.engine.HandleMessage(reqCtx, body)
	w.Header().Set("Content-Type", "application/json")
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp); err != nil {
		h.logger.Error("writing rpc response", "error", err)
	}
}

// handleEvents streams ring-buffered notifications as SSE. A client
// reconnecting with Last-Event-ID gets whatever is still retained;
// anything older than the ring's capacity, or any malformed id, closes
// the connection cleanly rather than silently skipping events (§4.1).
func (h *HTTP) handleEvents(w http.ResponseWriter, r *http.Request) {
	writer, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	backlog, ok := h.ring.since(r.Header.Get("Last-Event-ID"))
	if !ok {
		return
	}
	for _, e := range backlog {
		if err := writer.writeEvent(e.id, e.event, e.payload); err != nil {
			return
		}
	}

	ctx := r.Context()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping := pingPayload{Timestamp: time.Now().UTC()}
			id := h.ring.publish("ping", ping)
			if err := writer.writeEvent(id, "ping", ping); err != nil {
				return
			}
		}
	}
}

type pingPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// Publish records a server-originated notification (e.g. a tool result
// becoming available asynchronously) so any currently-connected or
// future-reconnecting /events client observes it.
func (h *HTTP) Publish(ctx context.Context, event string, payload any) {
	h.ring.publish(event, payload)
}
