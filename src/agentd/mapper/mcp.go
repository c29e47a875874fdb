// Package mapper converts between wire payloads and the domain types the
// controllers work with.
package mapper

import (
	"encoding/json"
	"errors"

	"github.com/atlaslab/agentd/src/agentd/entity"
	ierrors "github.com/atlaslab/agentd/src/agentd/internal/errors"
	"github.com/atlaslab/agentd/src/agentd/internal/wire"
	"go.lsp.dev/jsonrpc2"
)

// ProtocolVersion is the agent protocol revision this daemon speaks.
const ProtocolVersion = "2024-11-05"

// InitializeResult is the reply to an agent's initialize request.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// ServerCapabilities advertises what this daemon supports.
type ServerCapabilities struct {
	Tools ToolsCapability `json:"tools"`
}

// ToolsCapability describes the tools capability block.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerInfo identifies the daemon to the agent.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsListResult is the reply to tools/list.
type ToolsListResult struct {
	Tools []entity.ToolDescriptor `json:"tools"`
}

// ToolCallParams are the parameters of tools/call.
type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// NewInitializeResult builds the initialize reply for this daemon.
func NewInitializeResult(name, version string) InitializeResult {
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ServerCapabilities{Tools: ToolsCapability{ListChanged: false}},
		ServerInfo:      ServerInfo{Name: name, Version: version},
	}
}

// RequestToToolCallParams maps the parameters from a request into ToolCallParams.
func RequestToToolCallParams(req *wire.Request) (*ToolCallParams, error) {
	params := ToolCallParams{}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, wrapErrParse(err)
		}
	}
	if params.Name == "" {
		return nil, jsonrpc2.NewError(jsonrpc2.InvalidParams, "tools/call requires a tool name")
	}
	if params.Arguments == nil {
		params.Arguments = map[string]interface{}{}
	}
	return &params, nil
}

// ErrorToJSONRPC maps a domain error onto the JSON-RPC error that should go
// out on the wire. Errors already carrying a code pass through unchanged.
func ErrorToJSONRPC(err error) *jsonrpc2.Error {
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if _, ok := ierrors.UnknownTool(err); ok {
		return jsonrpc2.NewError(jsonrpc2.InvalidParams, err.Error())
	}
	var decodeErr *wire.DecodeError
	if errors.As(err, &decodeErr) {
		return jsonrpc2.NewError(jsonrpc2.ParseError, err.Error())
	}
	return jsonrpc2.NewError(jsonrpc2.InternalError, err.Error())
}

func wrapErrParse(err error) error {
	return jsonrpc2.Errorf(jsonrpc2.ParseError, "parsing params: %v", err)
}
