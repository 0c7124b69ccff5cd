// Package session implements the per-connection session state machine:
// Pre-Init -> Initializing -> Ready -> Closed, plus the scope filter and
// active-profile handle a session carries once ready.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/ops-core/server/internal/security"
)

// State is one of the four session lifecycle states.
type State int

const (
	PreInit State = iota
	Initializing
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case PreInit:
		return "pre-init"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotReady means a tools/call-class method arrived outside Ready.
	ErrNotReady = errors.New("session: not ready")
	// ErrAlreadyInitialized means a second initialize arrived.
	ErrAlreadyInitialized = errors.New("session: already initialized")
)

// ClientInfo identifies the connecting client, echoed back from initialize.
type ClientInfo struct {
	Name    string
	Version string
}

// View is the atomic policy snapshot a session carries: active profile name
// and the tool-name scope filter. It is replaced wholesale on profile
// switch, never mutated field-by-field, so no in-flight call can observe a
// half-switched state.
type View struct {
	ProfileName      string
	ScopeFilter      map[string]bool
	DefaultCluster   string
	DefaultNamespace string
	DefaultDocker    string
	Allowlist        *security.Allowlist
	Redactor         *security.Redactor
}

// Allows reports whether a tool name is in scope.
func (v *View) Allows(toolName string) bool {
	if v == nil {
		return false
	}
	return v.ScopeFilter[toolName]
}

// Session is one connected client's state, from initialize to transport
// close. All mutation happens through the methods below, which a single
// dispatch loop per connection is expected to call; readers elsewhere take
// the lock so HTTP's one-session-per-process shape and stdio's dedicated
// loop share the same type safely.
type Session struct {
	ID               uuid.UUID
	mu               sync.RWMutex
	state            State
	client           ClientInfo
	protocolVersion  string
	view             *View
}

// New creates a Pre-Init session.
func New() *Session {
	return &Session{ID: uuid.New(), state: PreInit}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// BeginInitialize transitions Pre-Init -> Initializing, recording the
// client's declared info and negotiated protocol version.
func (s *Session) BeginInitialize(client ClientInfo, protocolVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != PreInit {
		return ErrAlreadyInitialized
	}
	s.client = client
	s.protocolVersion = protocolVersion
	s.state = Initializing
	return nil
}

// CommitReady transitions Initializing -> Ready on receipt of the
// `initialized` notification, installing the initial scope filter.
func (s *Session) CommitReady(initialView *View) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Initializing {
		return ErrNotReady
	}
	s.view = initialView
	s.state = Ready
	return nil
}

// SwapView atomically replaces the active policy view, e.g. on a
// successful profile_set call. The caller builds the new View in full
// before calling this.
func (s *Session) SwapView(v *View) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return ErrNotReady
	}
	s.view = v
	return nil
}

// View returns a snapshot of the current policy view. Callers must not
// mutate the returned value.
func (s *Session) View() *View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Close transitions to Closed from any state. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Closed
}

// RequireReady returns ErrNotReady unless the session is in the Ready
// state, the gate every tools/call-class method must pass.
func (s *Session) RequireReady() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Ready {
		return ErrNotReady
	}
	return nil
}

func (s *Session) ClientInfo() ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Session) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

type contextKey struct{}

// WithSession attaches s to ctx so handlers reached through the generic
// tool dispatch (which only sees context.Context and decoded arguments) can
// still reach the session that issued the call, e.g. to read or swap its
// View on profile_set/context_show.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext retrieves the session attached by WithSession.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}
