package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ops-core/server/internal/adapters"
	"github.com/ops-core/server/internal/audit"
	"github.com/ops-core/server/internal/config"
	"github.com/ops-core/server/internal/log"
	"github.com/ops-core/server/internal/security"
	"github.com/ops-core/server/internal/session"
	"github.com/ops-core/server/internal/tools"
)

type recordingSink struct {
	mu      sync.Mutex
	records []audit.Record
	failing bool
}

func (s *recordingSink) Write(r audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("sink unavailable")
	}
	s.records = append(s.records, r)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) last() audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[len(s.records)-1]
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type echoInput struct {
	Text    string `json:"text"`
	Timeout int    `json:"timeout,omitempty"`
}

type echoOutput struct {
	Echoed string `json:"echoed"`
}

func echoDescriptor(t *testing.T) *tools.Descriptor {
	d, err := tools.NewTool("echo", "echoes its input", tools.ScopeCore, false, 5,
		func(ctx context.Context, in echoInput) (echoOutput, error) {
			return echoOutput{Echoed: in.Text}, nil
		})
	if err != nil {
		t.Fatalf("tools.NewTool: %v", err)
	}
	return d
}

func failingDescriptor(t *testing.T, err error) *tools.Descriptor {
	d, buildErr := tools.NewTool("failer", "always fails", tools.ScopeCore, false, 5,
		func(ctx context.Context, in echoInput) (echoOutput, error) {
			return echoOutput{}, err
		})
	if buildErr != nil {
		t.Fatalf("tools.NewTool: %v", buildErr)
	}
	return d
}

func readySession(t *testing.T, view *session.View) *session.Session {
	sess := session.New()
	if err := sess.BeginInitialize(session.ClientInfo{Name: "test-client"}, "2024-11-05"); err != nil {
		t.Fatalf("BeginInitialize: %v", err)
	}
	if err := sess.CommitReady(view); err != nil {
		t.Fatalf("CommitReady: %v", err)
	}
	return sess
}

func newTestContext(t *testing.T, descriptors ...*tools.Descriptor) (*Context, *recordingSink) {
	registry, err := tools.NewRegistry(descriptors...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	sink := &recordingSink{}
	ctx := NewContext(&config.Config{}, registry, sink, log.NewNop())
	return ctx, sink
}

func TestHandleToolsCallSuccessPath(t *testing.T) {
	srvCtx, sink := newTestContext(t, echoDescriptor(t))
	sess := readySession(t, &session.View{
		ProfileName: "default",
		ScopeFilter: map[string]bool{"echo": true},
		Allowlist:   security.NewAllowlist(config.Profile{}),
		Redactor:    security.NewRedactor(nil),
	})

	reqCtx := session.WithSession(context.Background(), sess)
	params, _ := json.Marshal(toolsCallParams{Name: "echo", Arguments: mustRaw(echoInput{Text: "hi"})})

	result, rpcErr := handleToolsCall(reqCtx, srvCtx, params)
	if rpcErr != nil {
		t.Fatalf("handleToolsCall: %v", rpcErr)
	}
	res, ok := result.(tools.Result)
	if !ok {
		t.Fatalf("result is %T, want tools.Result", result)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}

	if sink.count() != 1 {
		t.Fatalf("expected 1 audit record, got %d", sink.count())
	}
	if sink.last().StatusKind != "ok" {
		t.Errorf("StatusKind = %q, want ok", sink.last().StatusKind)
	}
}

func TestHandleToolsCallUnknownToolReturnsMethodNotFound(t *testing.T) {
	srvCtx, _ := newTestContext(t, echoDescriptor(t))
	sess := readySession(t, &session.View{ScopeFilter: map[string]bool{"echo": true}})
	reqCtx := session.WithSession(context.Background(), sess)

	params, _ := json.Marshal(toolsCallParams{Name: "nonexistent"})
	_, rpcErr := handleToolsCall(reqCtx, srvCtx, params)
	if rpcErr == nil {
		t.Fatal("expected an RPC error for an unknown tool")
	}
	if rpcErr.Code != -32601 {
		t.Errorf("Code = %d, want -32601", rpcErr.Code)
	}
}

func TestHandleToolsCallOutOfScopeReturnsPolicyError(t *testing.T) {
	srvCtx, sink := newTestContext(t, echoDescriptor(t))
	// echo is registered but not in this session's scope filter.
	sess := readySession(t, &session.View{ScopeFilter: map[string]bool{}, Allowlist: security.NewAllowlist(config.Profile{})})
	reqCtx := session.WithSession(context.Background(), sess)

	params, _ := json.Marshal(toolsCallParams{Name: "echo", Arguments: mustRaw(echoInput{Text: "hi"})})
	result, rpcErr := handleToolsCall(reqCtx, srvCtx, params)
	if rpcErr != nil {
		t.Fatalf("handleToolsCall returned an RPC error, want an isError result: %v", rpcErr)
	}
	res := result.(tools.Result)
	if !res.IsError {
		t.Fatal("expected IsError for an out-of-scope tool call")
	}

	if sink.count() != 1 || sink.last().StatusKind != "PolicyError" {
		t.Errorf("expected one PolicyError audit record, got %+v", sink.records)
	}
}

func TestHandleToolsCallNotReadySessionIsInvalidRequest(t *testing.T) {
	srvCtx, _ := newTestContext(t, echoDescriptor(t))
	sess := session.New() // Pre-Init, never committed Ready.
	reqCtx := session.WithSession(context.Background(), sess)

	params, _ := json.Marshal(toolsCallParams{Name: "echo"})
	_, rpcErr := handleToolsCall(reqCtx, srvCtx, params)
	if rpcErr == nil {
		t.Fatal("expected an RPC error for a not-ready session")
	}
	if rpcErr.Code != -32600 {
		t.Errorf("Code = %d, want -32600", rpcErr.Code)
	}
}

func TestHandleToolsCallAdapterErrorShapesIsErrorResult(t *testing.T) {
	adapterErr := adapters.NewError(adapters.KindUnreachable, "host unreachable", nil)
	srvCtx, sink := newTestContext(t, failingDescriptor(t, adapterErr))
	sess := readySession(t, &session.View{
		ScopeFilter: map[string]bool{"failer": true},
		Allowlist:   security.NewAllowlist(config.Profile{}),
		Redactor:    security.NewRedactor(nil),
	})
	reqCtx := session.WithSession(context.Background(), sess)

	params, _ := json.Marshal(toolsCallParams{Name: "failer", Arguments: mustRaw(echoInput{Text: "hi"})})
	result, rpcErr := handleToolsCall(reqCtx, srvCtx, params)
	if rpcErr != nil {
		t.Fatalf("handleToolsCall: %v", rpcErr)
	}
	res := result.(tools.Result)
	if !res.IsError {
		t.Fatal("expected IsError for an adapter fault")
	}
	if sink.last().StatusKind != string(adapters.KindUnreachable) {
		t.Errorf("StatusKind = %q, want %q", sink.last().StatusKind, adapters.KindUnreachable)
	}
}

func TestHandleToolsCallUnrecognizedFaultBecomesInternalError(t *testing.T) {
	srvCtx, sink := newTestContext(t, failingDescriptor(t, errors.New("boom")))
	sess := readySession(t, &session.View{
		ScopeFilter: map[string]bool{"failer": true},
		Allowlist:   security.NewAllowlist(config.Profile{}),
	})
	reqCtx := session.WithSession(context.Background(), sess)

	params, _ := json.Marshal(toolsCallParams{Name: "failer", Arguments: mustRaw(echoInput{Text: "hi"})})
	_, rpcErr := handleToolsCall(reqCtx, srvCtx, params)
	if rpcErr == nil {
		t.Fatal("expected an RPC error for an unrecognized handler fault")
	}
	if rpcErr.Code != -32603 {
		t.Errorf("Code = %d, want -32603", rpcErr.Code)
	}
	if sink.count() != 1 || sink.last().StatusKind != "InternalError" {
		t.Errorf("expected one InternalError audit record, got %+v", sink.records)
	}
}

func TestHandleToolsCallRedactsSecretsInOutput(t *testing.T) {
	d, err := tools.NewTool("leaky", "leaks a secret", tools.ScopeCore, false, 5,
		func(ctx context.Context, in echoInput) (echoOutput, error) {
			return echoOutput{Echoed: "password=supersecret"}, nil
		})
	if err != nil {
		t.Fatalf("NewTool: %v", err)
	}

	srvCtx, _ := newTestContext(t, d)
	sess := readySession(t, &session.View{
		ScopeFilter: map[string]bool{"leaky": true},
		Allowlist:   security.NewAllowlist(config.Profile{}),
		Redactor:    security.NewRedactor([]string{`password=\S+`}),
	})
	reqCtx := session.WithSession(context.Background(), sess)

	params, _ := json.Marshal(toolsCallParams{Name: "leaky", Arguments: mustRaw(echoInput{Text: "hi"})})
	result, rpcErr := handleToolsCall(reqCtx, srvCtx, params)
	if rpcErr != nil {
		t.Fatalf("handleToolsCall: %v", rpcErr)
	}
	res := result.(tools.Result)
	for _, block := range res.Content {
		if block.Type == "structured" {
			m, ok := block.Structured.(map[string]any)
			if !ok {
				t.Fatalf("structured block is %T", block.Structured)
			}
			if echoed, _ := m["echoed"].(string); echoed != "password="+security.RedactionSentinel {
				t.Errorf("echoed = %q, want the value replaced by the redaction sentinel and the key kept", echoed)
			}
		}
	}
}

func TestHandleToolsCallAuditFailureDoesNotFailTheCall(t *testing.T) {
	registry, err := tools.NewRegistry(echoDescriptor(t))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	sink := &recordingSink{failing: true}
	srvCtx := NewContext(&config.Config{}, registry, sink, log.NewNop())

	sess := readySession(t, &session.View{
		ScopeFilter: map[string]bool{"echo": true},
		Allowlist:   security.NewAllowlist(config.Profile{}),
		Redactor:    security.NewRedactor(nil),
	})
	reqCtx := session.WithSession(context.Background(), sess)

	params, _ := json.Marshal(toolsCallParams{Name: "echo", Arguments: mustRaw(echoInput{Text: "hi"})})
	result, rpcErr := handleToolsCall(reqCtx, srvCtx, params)
	if rpcErr != nil {
		t.Fatalf("handleToolsCall should succeed even when the audit sink fails: %v", rpcErr)
	}
	if result.(tools.Result).IsError {
		t.Fatal("unexpected error result despite a failing audit sink")
	}
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
