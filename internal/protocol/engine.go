package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// MethodFunc handles one already-routed JSON-RPC method. It returns either
// a result value (marshaled into Response.Result) or a non-nil *Error.
// Handlers never panic on purpose; a genuine panic is recovered by the
// engine and converted to CodeInternalError, matching the "no stack traces
// exposed to the client" rule.
type MethodFunc func(ctx context.Context, params json.RawMessage) (result any, rpcErr *Error)

// Engine holds the method dispatch table and implements the JSON-RPC 2.0
// envelope/batch semantics around it. It is built once at server startup
// and is safe for concurrent use — registration happens before Run, never
// after.
type Engine struct {
	methods map[string]MethodFunc
	logger  *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{methods: make(map[string]MethodFunc), logger: logger}
}

// Register binds a method name to its handler. Panics on duplicate
// registration — that is a startup-time programming error, not a runtime
// condition.
func (e *Engine) Register(method string, fn MethodFunc) {
	if _, exists := e.methods[method]; exists {
		panic(fmt.Sprintf("protocol: duplicate method registration: %s", method))
	}
	e.methods[method] = fn
}

// HandleMessage processes one raw wire payload (a single envelope or a
// batch array) and returns the raw bytes to write back, or nil if nothing
// should be written (a lone notification, or a batch consisting entirely
// of notifications).
func (e *Engine) HandleMessage(ctx context.Context, raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '[' {
		return e.handleBatch(ctx, trimmed)
	}
	resp := e.handleSingle(ctx, trimmed)
	if resp == nil {
		return nil
	}
	return mustMarshal(resp)
}

func (e *Engine) handleBatch(ctx context.Context, raw []byte) []byte {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return mustMarshal(errorResponse(nil, NewError(CodeParseError, "invalid batch: "+err.Error())))
	}
	if len(elements) == 0 {
		return mustMarshal(errorResponse(nil, NewError(CodeInvalidRequest, "empty batch")))
	}

	responses := make([]*Response, 0, len(elements))
	for _, el := range elements {
		if resp := e.handleSingle(ctx, el); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		return nil
	}
	return mustMarshal(responses)
}

// handleSingle parses and dispatches one envelope. Returns nil for every
// notification, including one whose handler fails (the failure is only
// logged); a notification that fails to parse at all
// still can't be identified as a notification, so malformed JSON always
// produces a CodeParseError response (its id, if recoverable, is echoed).
func (e *Engine) handleSingle(ctx context.Context, raw json.RawMessage) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(recoverID(raw), NewError(CodeParseError, "parse error: "+err.Error()))
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		if req.IsNotification() {
			e.logger.Warn("dropping malformed notification", "method", req.Method)
			return nil
		}
		return errorResponse(req.ID, NewError(CodeInvalidRequest, "invalid request envelope"))
	}

	fn, ok := e.methods[req.Method]
	if !ok {
		if req.IsNotification() {
			e.logger.Warn("unknown notification method", "method", req.Method)
			return nil
		}
		return errorResponse(req.ID, NewError(CodeMethodNotFound, "unknown method: "+req.Method))
	}

	result, rpcErr := e.invoke(ctx, fn, req.Method, req.Params)

	if req.IsNotification() {
		if rpcErr != nil {
			e.logger.Warn("notification handler error", "method", req.Method, "error", rpcErr.Message)
		}
		return nil
	}
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr)
	}
	return resultResponse(req.ID, result)
}

// invoke calls fn with panic recovery, converting any panic into
// CodeInternalError so a single misbehaving handler can never crash the
// process or leak a stack trace to the client.
func (e *Engine) invoke(ctx context.Context, fn MethodFunc, method string, params json.RawMessage) (result any, rpcErr *Error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in method handler", "method", method, "panic", r)
			rpcErr = NewError(CodeInternalError, "internal error")
			result = nil
		}
	}()
	return fn(ctx, params)
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// v is always one of our own Response/[]*Response types; a
		// marshal failure here means a handler returned an unmarshalable
		// result, which is a programming error we still must not crash on.
		fallback, _ := json.Marshal(errorResponse(nil, NewError(CodeInternalError, "failed to marshal response")))
		return fallback
	}
	return data
}

// recoverID best-efforts extraction of the id field from a raw envelope
// that failed full unmarshaling, so parse errors can still echo the
// client's id when the id itself was well-formed.
func recoverID(raw json.RawMessage) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}
	return probe.ID
}
