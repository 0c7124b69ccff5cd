// Package tools implements the tool registry and dispatcher: the catalog
// of tool descriptors, argument validation, handler invocation, and result
// shaping (§4.5).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Scope tags, duplicated here (rather than imported from session) because
// the registry is the source of truth the session package's ResolveScope
// consumes through the ToolCatalog interface — tools must not depend back
// on session.
const (
	ScopeCore     = "core"
	ScopeStandard = "standard"
	ScopeAll      = "all"
)

// Handler is the type-erased form every tool handler reduces to: decoded
// arguments in, a result value and adapter-kind error out. Concrete
// handlers are written against typed in/out structs via NewTool and
// erased here the same way the teacher's generic tool constructor does.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Descriptor is one immutable, registered tool. Descriptors are built at
// startup and never mutated afterward — safe for concurrent reads from
// every session.
type Descriptor struct {
	Name         string
	Description  string
	ScopeTag     string
	Mutating     bool
	DefaultTimeoutSeconds int
	InputSchema  *jsonschema.Schema
	resolved     *jsonschema.Resolved
	Handle       Handler

	// PolicyCheck, when non-nil, extracts the pass-through command family
	// and argv the allowlist must evaluate before the handler runs. Tools
	// with no pass-through surface (e.g. context_show) leave this nil.
	PolicyCheck func(raw json.RawMessage) *PolicyTarget
}

// PolicyTarget names the family/argv pair the allowlist checks for one
// tool invocation (§4.4).
type PolicyTarget struct {
	Family string
	Argv   []string
}

// NewTool builds a Descriptor from a typed handler, generating the input
// schema from In via reflection (jsonschema-go) once at registration time.
// This mirrors the teacher's NewTool[In, Out] generic constructor in
// internal/tools/tool.go, adapted to erase through encoding/json instead
// of an any-typed ToolContext.
func NewTool[In any, Out any](name, description, scopeTag string, mutating bool, defaultTimeoutSeconds int, fn func(ctx context.Context, in In) (Out, error)) (*Descriptor, error) {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, fmt.Errorf("tools: generating schema for %s: %w", name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("tools: resolving schema for %s: %w", name, err)
	}

	handle := func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in In
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, &ValidationError{Message: fmt.Sprintf("decoding arguments: %v", err)}
			}
		}
		return fn(ctx, in)
	}

	return &Descriptor{
		Name:                  name,
		Description:           description,
		ScopeTag:              scopeTag,
		Mutating:              mutating,
		DefaultTimeoutSeconds: defaultTimeoutSeconds,
		InputSchema:           schema,
		resolved:              resolved,
		Handle:                handle,
	}, nil
}

// ValidateArguments checks raw against the tool's resolved input schema
// (§4.5 step 3: required keys present, types/constraints satisfied) without
// invoking the handler. Returns the first offending instance path alongside
// the underlying error so the dispatcher can shape a -32602 with data.
func (d *Descriptor) ValidateArguments(raw json.RawMessage) (path string, err error) {
	var instance any
	if len(raw) == 0 {
		instance = map[string]any{}
	} else if uerr := json.Unmarshal(raw, &instance); uerr != nil {
		return "", uerr
	}
	if verr := d.resolved.Validate(instance); verr != nil {
		return firstOffendingPath(verr), verr
	}
	return "", nil
}

// firstOffendingPath extracts a best-effort JSON-pointer-ish path from a
// jsonschema-go validation error's message so tools/call's -32602 carries
// something more actionable than the raw error text alone.
func firstOffendingPath(err error) string {
	msg := err.Error()
	for _, marker := range []string{"at instance path ", "at \"", "property \""} {
		if idx := strings.Index(msg, marker); idx >= 0 {
			rest := msg[idx+len(marker):]
			if end := strings.IndexAny(rest, "\":,\n"); end >= 0 {
				rest = rest[:end]
			}
			if rest != "" {
				return rest
			}
		}
	}
	return msg
}

// ValidationError is a schema/argument validation failure caught inside a
// handler's decode step. Surfaced like a PolicyError: isError: true, never
// a JSON-RPC error, per §7.
type ValidationError struct {
	Message string
	Path    string
}

func (e *ValidationError) Error() string { return e.Message }
