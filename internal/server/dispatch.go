package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ops-core/server/internal/audit"
	"github.com/ops-core/server/internal/config"
	"github.com/ops-core/server/internal/protocol"
	"github.com/ops-core/server/internal/security"
	"github.com/ops-core/server/internal/session"
	"github.com/ops-core/server/internal/tools"
)

// newViewForProfile builds the atomic policy view a session commits to on
// ready or swaps to on profile_set: scope filter plus the profile's
// allowlist, redactor and infrastructure defaults bundled together so no
// call ever observes one half of a switch.
func newViewForProfile(profile *config.Profile, scopeFilter map[string]bool) *session.View {
	return &session.View{
		ProfileName:      profile.Name,
		ScopeFilter:      scopeFilter,
		DefaultCluster:   profile.DefaultCluster,
		DefaultNamespace: profile.DefaultNamespace,
		DefaultDocker:    profile.DefaultDocker,
		Allowlist:        security.NewAllowlist(*profile),
		Redactor:         security.NewRedactor(profile.RedactionRules),
	}
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall implements §4.5 steps 1-10.
func handleToolsCall(reqCtx context.Context, ctx *Context, rawParams json.RawMessage) (any, *protocol.Error) {
	sess, ok := session.FromContext(reqCtx)
	if !ok {
		return nil, protocol.NewError(protocol.CodeInternalError, "no session attached to request")
	}
	if err := sess.RequireReady(); err != nil {
		return nil, protocol.NewError(protocol.CodeInvalidRequest, err.Error())
	}

	var params toolsCallParams
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, protocol.NewError(protocol.CodeInvalidParams, "invalid tools/call params: "+err.Error())
	}
	if len(params.Arguments) == 0 || string(params.Arguments) == "null" {
		params.Arguments = json.RawMessage("{}")
	}

	// Step 1: resolve name.
	descriptor, ok := ctx.Registry.Lookup(params.Name)
	if !ok {
		return nil, protocol.NewError(protocol.CodeMethodNotFound, "unknown tool: "+params.Name)
	}

	view := sess.View()

	target := extractTarget(params.Arguments)
	bytesIn := len(params.Arguments)

	// Step 2: scope membership.
	if !view.Allows(params.Name) {
		result := tools.ErrorResult("PolicyError", fmt.Sprintf("tool %q is not in this session's scope", params.Name), map[string]any{"error_kind": "PolicyError"})
		ctx.writeAudit(audit.Record{
			Timestamp:  time.Now().UTC(),
			Profile:    view.ProfileName,
			Tool:       params.Name,
			Target:     target,
			RequestID:  uuid.NewString(),
			StatusKind: "PolicyError",
			BytesIn:    bytesIn,
		})
		return result, nil
	}

	// Step 3: schema validation. A failure here is a genuine JSON-RPC
	// protocol error (-32602), not an isError result, per §4.2/§7.
	if path, verr := descriptor.ValidateArguments(params.Arguments); verr != nil {
		ctx.writeAudit(audit.Record{
			Timestamp:  time.Now().UTC(),
			Profile:    view.ProfileName,
			Tool:       params.Name,
			Target:     target,
			RequestID:  uuid.NewString(),
			StatusKind: "ValidationError",
			BytesIn:    bytesIn,
		})
		return nil, protocol.NewErrorWithData(protocol.CodeInvalidParams, "invalid arguments: "+verr.Error(), map[string]any{"path": path})
	}

	// Step 5 (pass-through pre-check happens before invocation, but the
	// argument decode needed to extract family/argv happens here so a
	// malformed-argument policy target just skips the check rather than
	// erroring twice).
	if descriptor.PolicyCheck != nil {
		if target := descriptor.PolicyCheck(params.Arguments); target != nil && view.Allowlist != nil {
			if err := view.Allowlist.Check(target.Family, target.Argv); err != nil {
				result, _ := tools.ResultFromErr(err)
				ctx.writeAudit(audit.Record{
					Timestamp:  time.Now().UTC(),
					Profile:    view.ProfileName,
					Tool:       params.Name,
					Target:     extractTarget(params.Arguments),
					RequestID:  uuid.NewString(),
					StatusKind: "PolicyError",
					BytesIn:    bytesIn,
				})
				return result, nil
			}
		}
	}

	// Step 6: timeout derivation.
	timeoutSeconds := descriptor.DefaultTimeoutSeconds
	if t, ok := extractTimeout(params.Arguments); ok {
		timeoutSeconds = tools.ClampTimeoutSeconds(t)
	}
	callCtx, cancel := context.WithTimeout(reqCtx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	rawResult, handlerErr := descriptor.Handle(callCtx, params.Arguments)
	duration := time.Since(start)

	fingerprint := audit.Fingerprint(params.Arguments)
	requestID := uuid.NewString()

	var result tools.Result
	statusKind := "ok"

	if handlerErr != nil {
		shaped, recognized := tools.ResultFromErr(handlerErr)
		if !recognized {
			ctx.Logger.Error("unrecognized tool handler fault", "tool", params.Name, "request_id", requestID, "error", handlerErr)
			ctx.writeAudit(audit.Record{
				Timestamp:      time.Now().UTC(),
				Profile:        view.ProfileName,
				Tool:           params.Name,
				Target:         target,
				ArgFingerprint: fingerprint,
				RequestID:      requestID,
				StatusKind:     "InternalError",
				BytesIn:        bytesIn,
				DurationMillis: duration.Milliseconds(),
			})
			return nil, protocol.NewErrorWithData(protocol.CodeInternalError, "internal error", map[string]any{"correlation_id": requestID})
		}
		result = shaped
		statusKind = errorKindOf(result)
	} else {
		result = tools.TextAndStructuredResult(summarizeSuccess(params.Name, rawResult), rawResult)
	}

	// Step 7: redaction, applied to every text and structured payload.
	if view.Redactor != nil {
		for i, block := range result.Content {
			if block.Type == "text" {
				result.Content[i].Text = view.Redactor.RedactText(block.Text)
			}
			if block.Structured != nil {
				result.Content[i].Structured = redactStructuredAny(view.Redactor, block.Structured)
			}
		}
	}

	// Step 9: audit.
	ctx.writeAudit(audit.Record{
		Timestamp:      time.Now().UTC(),
		Profile:        view.ProfileName,
		Tool:           params.Name,
		Target:         target,
		ArgFingerprint: fingerprint,
		RequestID:      requestID,
		StatusKind:     statusKind,
		ExitCode:       extractExitCode(rawResult),
		BytesIn:        bytesIn,
		BytesOut:       resultBytesOut(result),
		DurationMillis: duration.Milliseconds(),
	})

	return result, nil
}

// extractTarget best-effort pulls the infrastructure context an audit
// record should name (§3 "target context (host/cluster/namespace)") out of
// the raw arguments, checking the field names the catalog's schemas use for
// this across every tool family.
func extractTarget(raw json.RawMessage) string {
	var probe struct {
		Server     string `json:"server"`
		Container  string `json:"container"`
		Pod        string `json:"pod"`
		Name       string `json:"name"`
		Deployment string `json:"deployment"`
		Cluster    string `json:"cluster"`
		Namespace  string `json:"namespace"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	parts := make([]string, 0, 2)
	switch {
	case probe.Server != "":
		parts = append(parts, probe.Server)
	case probe.Container != "":
		parts = append(parts, probe.Container)
	case probe.Pod != "":
		parts = append(parts, probe.Pod)
	case probe.Deployment != "":
		parts = append(parts, probe.Deployment)
	case probe.Name != "":
		parts = append(parts, probe.Name)
	case probe.Cluster != "":
		parts = append(parts, probe.Cluster)
	}
	if probe.Namespace != "" {
		parts = append(parts, probe.Namespace)
	}
	return strings.Join(parts, "/")
}

// extractExitCode pulls a process exit code out of a raw handler result
// when the tool's output schema carries one (currently only ssh_execute),
// for the audit record's optional exit_code field.
func extractExitCode(rawResult any) *int {
	data, err := json.Marshal(rawResult)
	if err != nil {
		return nil
	}
	var probe struct {
		ExitCode *int `json:"exit_code"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil
	}
	return probe.ExitCode
}

// resultBytesOut sums the byte length of every text block in the shaped
// result, an approximation of "bytes out" good enough for audit purposes
// without re-marshaling the whole structured payload.
func resultBytesOut(result tools.Result) int {
	total := 0
	for _, block := range result.Content {
		total += len(block.Text)
	}
	return total
}

// extractTimeout reads a generic "timeout" field out of the raw arguments
// without needing the tool-specific typed struct (§4.5 step 6). Every tool
// that accepts "timeout" has it read here as the call deadline, including
// docker_stop_container, where the same field is also the stop grace period.
func extractTimeout(raw json.RawMessage) (int, bool) {
	var probe struct {
		Timeout int `json:"timeout"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Timeout == 0 {
		return 0, false
	}
	return probe.Timeout, true
}

// errorKindOf pulls the error_kind string ResultFromErr attached as the
// structured block's sentinel field, for the audit record's status_kind.
func errorKindOf(result tools.Result) string {
	if len(result.Content) < 2 {
		return "Error"
	}
	if m, ok := result.Content[1].Structured.(map[string]any); ok {
		if kind, ok := m["error_kind"].(string); ok {
			return kind
		}
	}
	return "Error"
}

// summarizeSuccess renders the one-line human summary every successful
// result's first text block carries (§7 "first text block must start with
// a one-line human summary" applies symmetrically to success and failure
// paths in this implementation, for a consistent client UX).
func summarizeSuccess(toolName string, out any) string {
	return fmt.Sprintf("%s completed", toolName)
}

// redactStructuredAny marshals/unmarshals a typed struct result into a
// generic JSON value so the recursive string-leaf redactor in
// internal/security can walk it uniformly, then returns the redacted
// generic value (the wire encoding is unaffected since json.Marshal of
// the resulting map[string]any/[]any tree round-trips identically).
func redactStructuredAny(r *security.Redactor, v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return v
	}
	return r.RedactStructured(generic)
}

// writeAudit writes a record and logs (never fails the call) if the sink
// errors, matching §4.4 "writes MUST be flushed before the response is
// sent" while keeping a broken audit sink from taking the server down.
func (c *Context) writeAudit(r audit.Record) {
	if c.Audit == nil {
		return
	}
	if err := c.Audit.Write(r); err != nil {
		c.Logger.Error("audit write failed", "tool", r.Tool, "request_id", r.RequestID, "error", err)
	}
}
