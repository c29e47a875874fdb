package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/atlaslab/agentd/src/agentd/entity"
	ierrors "github.com/atlaslab/agentd/src/agentd/internal/errors"
	"github.com/atlaslab/agentd/src/agentd/internal/wire"
	"github.com/atlaslab/agentd/src/agentd/mapper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubToolbox answers greet and fail; anything else is unknown.
type stubToolbox struct{}

func (stubToolbox) List(ctx context.Context) []entity.ToolDescriptor {
	return []entity.ToolDescriptor{
		{Name: "greet", Description: "say hello"},
	}
}

func (stubToolbox) Call(ctx context.Context, name string, args map[string]interface{}) (entity.ToolResult, error) {
	switch name {
	case "greet":
		who, _ := args["who"].(string)
		return entity.TextResult(fmt.Sprintf("hello %s", who)), nil
	case "fail":
		return entity.ErrorResult("disk on fire"), nil
	default:
		return entity.ToolResult{}, &ierrors.UnknownToolError{Name: name}
	}
}

func newTestRouter() *Router {
	return NewRouter(RouterParams{
		Toolbox: stubToolbox{},
		Logger:  zap.NewNop().Sugar(),
		Stats:   tally.NoopScope,
	})
}

func request(t *testing.T, method string, params interface{}) *wire.Request {
	t.Helper()
	req, err := wire.NewRequest(jsonrpc2.NewNumberID(1), method, params)
	require.NoError(t, err)
	return req
}

func TestHandleRequestInitialize(t *testing.T) {
	result, err := newTestRouter().HandleRequest(context.Background(), request(t, MethodInitialize, nil))
	require.NoError(t, err)

	init, ok := result.(mapper.InitializeResult)
	require.True(t, ok)
	assert.Equal(t, mapper.ProtocolVersion, init.ProtocolVersion)
	assert.Equal(t, _serverName, init.ServerInfo.Name)
	assert.False(t, init.Capabilities.Tools.ListChanged)
}

func TestHandleRequestPing(t *testing.T) {
	result, err := newTestRouter().HandleRequest(context.Background(), request(t, MethodPing, nil))
	require.NoError(t, err)
	assert.Equal(t, struct{}{}, result)
}

func TestHandleRequestToolsList(t *testing.T) {
	result, err := newTestRouter().HandleRequest(context.Background(), request(t, MethodToolsList, nil))
	require.NoError(t, err)

	list, ok := result.(mapper.ToolsListResult)
	require.True(t, ok)
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "greet", list.Tools[0].Name)
}

func TestHandleRequestToolsCall(t *testing.T) {
	router := newTestRouter()

	t.Run("success", func(t *testing.T) {
		params := mapper.ToolCallParams{Name: "greet", Arguments: map[string]interface{}{"who": "world"}}
		result, err := router.HandleRequest(context.Background(), request(t, MethodToolsCall, params))
		require.NoError(t, err)

		callResult, ok := result.(entity.ToolResult)
		require.True(t, ok)
		assert.False(t, callResult.IsError)
		assert.Equal(t, "hello world", callResult.Content[0].Text)
	})

	t.Run("execution failure is in-band", func(t *testing.T) {
		params := mapper.ToolCallParams{Name: "fail"}
		result, err := router.HandleRequest(context.Background(), request(t, MethodToolsCall, params))
		require.NoError(t, err)

		callResult, ok := result.(entity.ToolResult)
		require.True(t, ok)
		assert.True(t, callResult.IsError)
	})

	t.Run("unknown tool is invalid params", func(t *testing.T) {
		params := mapper.ToolCallParams{Name: "nope"}
		_, err := router.HandleRequest(context.Background(), request(t, MethodToolsCall, params))
		require.Error(t, err)

		var rpcErr *jsonrpc2.Error
		require.True(t, errors.As(err, &rpcErr))
		assert.Equal(t, jsonrpc2.InvalidParams, rpcErr.Code)
	})

	t.Run("missing name is invalid params", func(t *testing.T) {
		_, err := router.HandleRequest(context.Background(), request(t, MethodToolsCall, map[string]interface{}{}))
		require.Error(t, err)

		var rpcErr *jsonrpc2.Error
		require.True(t, errors.As(err, &rpcErr))
		assert.Equal(t, jsonrpc2.InvalidParams, rpcErr.Code)
	})
}

func TestHandleRequestUnknownMethod(t *testing.T) {
	_, err := newTestRouter().HandleRequest(context.Background(), request(t, "resources/list", nil))
	require.Error(t, err)

	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc2.MethodNotFound, rpcErr.Code)
}
