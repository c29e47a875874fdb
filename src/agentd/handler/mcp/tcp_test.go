package mcp

import (
	"context"
	"net"
	"testing"

	"github.com/atlaslab/agentd/src/agentd/mapper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

func newTestTCPClient(t *testing.T) jsonrpc2.Conn {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	tcp := &TCP{
		router: newTestRouter(),
		logger: zap.NewNop().Sugar(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	serverConn := jsonrpc2.NewConn(jsonrpc2.NewStream(serverSide))
	done := make(chan struct{})
	go func() {
		defer close(done)
		tcp.ServeStream(ctx, serverConn)
	}()

	client := jsonrpc2.NewConn(jsonrpc2.NewStream(clientSide))
	client.Go(ctx, jsonrpc2.MethodNotFoundHandler)

	t.Cleanup(func() {
		client.Close()
		serverConn.Close()
		<-done
		cancel()
	})
	return client
}

func TestTCPServeStream(t *testing.T) {
	client := newTestTCPClient(t)

	var init mapper.InitializeResult
	_, err := client.Call(context.Background(), MethodInitialize, nil, &init)
	require.NoError(t, err)
	assert.Equal(t, mapper.ProtocolVersion, init.ProtocolVersion)

	require.NoError(t, client.Notify(context.Background(), MethodInitialized, nil))

	var list mapper.ToolsListResult
	_, err = client.Call(context.Background(), MethodToolsList, nil, &list)
	require.NoError(t, err)
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "greet", list.Tools[0].Name)
}

func TestTCPUnknownMethod(t *testing.T) {
	client := newTestTCPClient(t)

	var result interface{}
	_, err := client.Call(context.Background(), "resources/list", nil, &result)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not supported")
}
