package mcp

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/atlaslab/agentd/src/agentd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

func runStdio(t *testing.T, input string) []wire.Message {
	t.Helper()

	out := &bytes.Buffer{}
	s := &Stdio{
		router: newTestRouter(),
		logger: zap.NewNop().Sugar(),
		in:     strings.NewReader(input),
		out:    out,
	}
	require.NoError(t, s.Run(context.Background()))

	var replies []wire.Message
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		msg, err := wire.Decode(scanner.Bytes())
		require.NoError(t, err)
		replies = append(replies, msg)
	}
	return replies
}

func TestStdioRepliesInOrder(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"greet","arguments":{"who":"stdio"}}}`,
	}, "\n") + "\n"

	replies := runStdio(t, input)
	require.Len(t, replies, 3)

	first, ok := replies[0].(*wire.Response)
	require.True(t, ok)
	assert.Nil(t, first.Error)
	assert.Contains(t, string(first.Result), `"protocolVersion"`)

	second, ok := replies[1].(*wire.Response)
	require.True(t, ok)
	assert.Contains(t, string(second.Result), `"greet"`)

	third, ok := replies[2].(*wire.Response)
	require.True(t, ok)
	assert.Contains(t, string(third.Result), "hello stdio")
}

func TestStdioErrorReply(t *testing.T) {
	replies := runStdio(t, `{"jsonrpc":"2.0","id":7,"method":"resources/list"}`+"\n")
	require.Len(t, replies, 1)

	resp, ok := replies[0].(*wire.Response)
	require.True(t, ok)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "method not supported")
}

func TestStdioRejectsUndecodableMessages(t *testing.T) {
	// Valid JSON that is not a request, response, or notification. The
	// sender gets an error reply and the stream keeps serving.
	input := `{"jsonrpc":"2.0"}` + "\n" +
		`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n"

	replies := runStdio(t, input)
	require.Len(t, replies, 2)

	rejected, ok := replies[0].(*wire.Response)
	require.True(t, ok)
	require.NotNil(t, rejected.Error)
	assert.Equal(t, jsonrpc2.InvalidRequest, rejected.Error.Code)

	pong, ok := replies[1].(*wire.Response)
	require.True(t, ok)
	assert.Nil(t, pong.Error)
}
