package tools

import (
	"errors"

	"github.com/ops-core/server/internal/adapters"
	"github.com/ops-core/server/internal/security"
)

// ContentBlock is one piece of a tool result (§3). "text" is the only
// required block type; a second block carries the optional structured
// payload mirroring the tool's declared output shape.
type ContentBlock struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Structured any    `json:"structured,omitempty"`
}

// Result is what tools/call returns in its JSON-RPC result field.
type Result struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

func TextResult(text string) Result {
	return Result{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func TextAndStructuredResult(text string, structured any) Result {
	return Result{Content: []ContentBlock{
		{Type: "text", Text: text},
		{Type: "structured", Structured: structured},
	}}
}

// ErrorResult shapes an isError: true result. The first text block always
// starts with a one-line summary naming the error sub-kind (§7 "User
// visible failure").
func ErrorResult(kind, summary string, structured any) Result {
	text := summary
	if kind != "" {
		text = "[" + kind + "] " + summary
	}
	r := Result{IsError: true}
	r.Content = append(r.Content, ContentBlock{Type: "text", Text: text})
	if structured != nil {
		r.Content = append(r.Content, ContentBlock{Type: "structured", Structured: structured})
	}
	return r
}

// ResultFromErr classifies a handler error into the right surface: a
// PolicyError/ValidationError/AdapterError each become an isError result
// with a stable error_kind; anything else is an unrecognized fault the
// dispatcher should instead convert to -32603 (ok is false in that case).
func ResultFromErr(err error) (Result, bool) {
	var policyErr *security.PolicyError
	if errors.As(err, &policyErr) {
		return ErrorResult("PolicyError", policyErr.Reason, map[string]any{"error_kind": "PolicyError"}), true
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ErrorResult("ValidationError", validationErr.Message, map[string]any{"error_kind": "ValidationError"}), true
	}

	var adapterErr *adapters.Error
	if errors.As(err, &adapterErr) {
		return ErrorResult(string(adapterErr.Kind), adapterErr.Message, map[string]any{"error_kind": string(adapterErr.Kind)}), true
	}

	return Result{}, false
}
