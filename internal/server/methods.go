package server

import (
	"context"
	"encoding/json"

	"github.com/ops-core/server/internal/protocol"
	"github.com/ops-core/server/internal/session"
)

const serverName = "ops-core"

// ServerVersion is the build-time server version string, overridable at
// link time the same way the teacher's cmd/version.go does for its own CLI
// version.
var ServerVersion = "dev"

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ClientInfo      clientInfo      `json:"clientInfo"`
}

type toolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

type capabilities struct {
	Tools toolsCapability `json:"tools"`
}

type initializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    capabilities `json:"capabilities"`
	ServerInfo      clientInfo   `json:"serverInfo"`
}

// RegisterMethods binds initialize, initialized, ping, tools/list and tools/call
// into engine, each closing over ctx. The session each call operates on
// travels with the request's context.Context, attached by the transport
// before HandleMessage is invoked (session.WithSession).
func RegisterMethods(engine *protocol.Engine, ctx *Context) {
	engine.Register("initialize", func(reqCtx context.Context, params json.RawMessage) (any, *protocol.Error) {
		return handleInitialize(reqCtx, params)
	})
	engine.Register("initialized", func(reqCtx context.Context, _ json.RawMessage) (any, *protocol.Error) {
		return handleInitialized(reqCtx, ctx)
	})
	engine.Register("ping", func(_ context.Context, _ json.RawMessage) (any, *protocol.Error) {
		return struct{}{}, nil
	})
	engine.Register("tools/list", func(reqCtx context.Context, _ json.RawMessage) (any, *protocol.Error) {
		return handleToolsList(reqCtx, ctx)
	})
	engine.Register("tools/call", func(reqCtx context.Context, params json.RawMessage) (any, *protocol.Error) {
		return handleToolsCall(reqCtx, ctx, params)
	})
}

func handleInitialize(reqCtx context.Context, params json.RawMessage) (any, *protocol.Error) {
	sess, ok := session.FromContext(reqCtx)
	if !ok {
		return nil, protocol.NewError(protocol.CodeInternalError, "no session attached to request")
	}

	var in initializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, protocol.NewError(protocol.CodeInvalidParams, "invalid initialize params: "+err.Error())
		}
	}

	if err := sess.BeginInitialize(session.ClientInfo{Name: in.ClientInfo.Name, Version: in.ClientInfo.Version}, protocol.ProtocolVersion); err != nil {
		return nil, protocol.NewError(protocol.CodeInvalidRequest, err.Error())
	}

	return initializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    capabilities{Tools: toolsCapability{ListChanged: false}},
		ServerInfo:      clientInfo{Name: serverName, Version: ServerVersion},
	}, nil
}

func handleInitialized(reqCtx context.Context, ctx *Context) (any, *protocol.Error) {
	sess, ok := session.FromContext(reqCtx)
	if !ok {
		return nil, protocol.NewError(protocol.CodeInternalError, "no session attached to request")
	}

	scopeFilter, err := session.ResolveScope(ctx.Config.ToolsScope, ctx.Registry)
	if err != nil {
		return nil, protocol.NewError(protocol.CodeInvalidRequest, "resolving initial scope: "+err.Error())
	}

	profile, err := ctx.Config.ActiveProfile()
	if err != nil {
		return nil, protocol.NewError(protocol.CodeInternalError, "resolving active profile: "+err.Error())
	}

	view := newViewForProfile(profile, scopeFilter)
	if err := sess.CommitReady(view); err != nil {
		return nil, protocol.NewError(protocol.CodeInvalidRequest, err.Error())
	}
	return struct{}{}, nil
}

type toolDescriptorView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

func handleToolsList(reqCtx context.Context, ctx *Context) (any, *protocol.Error) {
	sess, ok := session.FromContext(reqCtx)
	if !ok {
		return nil, protocol.NewError(protocol.CodeInternalError, "no session attached to request")
	}
	if err := sess.RequireReady(); err != nil {
		return nil, protocol.NewError(protocol.CodeInvalidRequest, err.Error())
	}

	view := sess.View()
	descriptors := ctx.Registry.Filtered(view.ScopeFilter)

	out := make([]toolDescriptorView, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, toolDescriptorView{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}
	return struct {
		Tools []toolDescriptorView `json:"tools"`
	}{Tools: out}, nil
}
