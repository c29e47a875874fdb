// Package mcp serves the daemon's inbound protocol surface: one router for
// agent requests, reachable over stdio, WebSocket, and TCP.
package mcp

import (
	"context"
	"fmt"

	"github.com/atlaslab/agentd/src/agentd/controller/toolbox"
	"github.com/atlaslab/agentd/src/agentd/internal/wire"
	"github.com/atlaslab/agentd/src/agentd/mapper"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_serverName    = "agentd"
	_serverVersion = "0.1.0"

	// Inbound methods.
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// Router dispatches inbound agent traffic to the tool registry. It is shared
// by every inbound transport and safe for concurrent use.
type Router struct {
	toolbox toolbox.Controller
	logger  *zap.SugaredLogger
	stats   tally.Scope
}

// RouterParams are inbound parameters to build the router.
type RouterParams struct {
	fx.In

	Toolbox toolbox.Controller
	Logger  *zap.SugaredLogger
	Stats   tally.Scope
}

// NewRouter builds the shared request router.
func NewRouter(p RouterParams) *Router {
	return &Router{
		toolbox: p.Toolbox,
		logger:  p.Logger,
		stats:   p.Stats,
	}
}

// HandleRequest serves one agent request. Tool execution failures surface
// in-band in the result; the returned error is reserved for protocol-level
// failures such as unknown methods or malformed parameters.
func (r *Router) HandleRequest(ctx context.Context, req *wire.Request) (interface{}, error) {
	r.stats.Counter("requests").Inc(1)

	switch req.Method {
	case MethodInitialize:
		return mapper.NewInitializeResult(_serverName, _serverVersion), nil

	case MethodPing:
		return struct{}{}, nil

	case MethodToolsList:
		return mapper.ToolsListResult{Tools: r.toolbox.List(ctx)}, nil

	case MethodToolsCall:
		params, err := mapper.RequestToToolCallParams(req)
		if err != nil {
			return nil, err
		}
		result, err := r.toolbox.Call(ctx, params.Name, params.Arguments)
		if err != nil {
			return nil, mapper.ErrorToJSONRPC(err)
		}
		return result, nil

	default:
		return nil, jsonrpc2.NewError(jsonrpc2.MethodNotFound, fmt.Sprintf("method not supported: %s", req.Method))
	}
}

// HandleNotification consumes one agent notification.
func (r *Router) HandleNotification(ctx context.Context, notif *wire.Notification) {
	switch notif.Method {
	case MethodInitialized:
		r.logger.Debugw("agent initialized")
	default:
		r.logger.Debugw("ignoring notification", "method", notif.Method)
	}
}
