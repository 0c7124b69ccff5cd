package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ops-core/server/internal/session"
)

type fakeSessionTable struct {
	byID map[string]*session.Session
}

func newFakeSessionTable() *fakeSessionTable {
	return &fakeSessionTable{byID: make(map[string]*session.Session)}
}

func (f *fakeSessionTable) SessionByID(id string) (*session.Session, bool) {
	s, ok := f.byID[id]
	return s, ok
}

func (f *fakeSessionTable) TrackSession(id string, s *session.Session) {
	f.byID[id] = s
}

func TestSessionForReusesAmbientSessionWithoutClientID(t *testing.T) {
	h := NewHTTP(nil, newFakeSessionTable(), nil)

	first := h.sessionFor(httptest.NewRequest(http.MethodPost, "/rpc", nil))
	second := h.sessionFor(httptest.NewRequest(http.MethodPost, "/rpc", nil))

	if first != second {
		t.Fatal("expected sessionFor to return the same ambient session across header-less requests")
	}
}

func TestSessionForAmbientSessionProgressesThroughLifecycle(t *testing.T) {
	h := NewHTTP(nil, newFakeSessionTable(), nil)

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	sess := h.sessionFor(req)
	if err := sess.BeginInitialize(session.ClientInfo{Name: "test-client"}, "2024-11-05"); err != nil {
		t.Fatalf("BeginInitialize: %v", err)
	}
	if err := sess.CommitReady(&session.View{ProfileName: "default"}); err != nil {
		t.Fatalf("CommitReady: %v", err)
	}

	// A subsequent header-less request must observe the same, now-Ready
	// session rather than a fresh one stuck in Pre-Init.
	again := h.sessionFor(httptest.NewRequest(http.MethodPost, "/rpc", nil))
	if err := again.RequireReady(); err != nil {
		t.Fatalf("expected the ambient session to already be ready, got: %v", err)
	}
}

func TestSessionForTracksDistinctSessionsPerClientID(t *testing.T) {
	h := NewHTTP(nil, newFakeSessionTable(), nil)

	reqA := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	reqA.Header.Set("X-Client-Id", "client-a")
	reqB := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	reqB.Header.Set("X-Client-Id", "client-b")

	sessA := h.sessionFor(reqA)
	sessB := h.sessionFor(reqB)
	if sessA == sessB {
		t.Fatal("expected distinct sessions for distinct client ids")
	}

	// Looking the same client id up again returns the tracked session, not
	// a new one.
	again := h.sessionFor(reqA)
	if again != sessA {
		t.Fatal("expected a repeated client id to reuse its tracked session")
	}
}
