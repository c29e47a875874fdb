package transport

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/atlaslab/agentd/src/agentd/internal/executor"
	"github.com/atlaslab/agentd/src/agentd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

func newTestLauncher(t *testing.T) executor.Launcher {
	t.Helper()
	return executor.NewLauncher()
}

func spec(command ...string) executor.Spec {
	return executor.Spec{Command: command}
}

// helperSpec re-executes the test binary as a minimal echo JSON-RPC server.
func helperSpec() executor.Spec {
	return executor.Spec{
		Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--"},
		Env:     append(os.Environ(), "GO_WANT_HELPER_PROCESS=1"),
	}
}

// TestHelperProcess is not a real test: it is the subprocess body used by
// the spawn tests. It answers every request with "pong" and exits on the
// exit notification or stdin EOF.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	framer := wire.ContentLengthFramer{}
	r := framer.Reader(os.Stdin)
	w := framer.Writer(os.Stdout)
	for {
		msg, err := r.Read()
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *wire.Request:
			resp, err := wire.NewResponse(m.ID, "pong", nil)
			if err != nil {
				return
			}
			if err := w.Write(resp); err != nil {
				return
			}
		case *wire.Notification:
			if m.Method == "exit" {
				return
			}
		}
	}
}

// stuckSpec re-executes the test binary as a child that ignores stdin close
// and holds its pipes open, so only a kill can end it.
func stuckSpec() executor.Spec {
	return executor.Spec{
		Command: []string{os.Args[0], "-test.run=TestStuckHelperProcess", "--"},
		Env:     append(os.Environ(), "GO_WANT_STUCK_HELPER=1"),
	}
}

// TestStuckHelperProcess is not a real test: it is the subprocess body for
// the force-kill test below.
func TestStuckHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_STUCK_HELPER") != "1" {
		return
	}
	defer os.Exit(0)
	time.Sleep(time.Minute)
}

func TestSubprocessRoundTrip(t *testing.T) {
	s := NewSubprocess(newTestLauncher(t), helperSpec(), zap.NewNop())

	received := make(chan wire.Message, 1)
	s.OnMessage(func(msg wire.Message) { received <- msg })
	s.OnClose(func(error) {})

	require.NoError(t, s.Start(context.Background()))
	assert.NotZero(t, s.Pid())

	req, err := wire.NewRequest(jsonrpc2.NewNumberID(1), "ping", nil)
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), req))

	select {
	case msg := <-received:
		resp, ok := msg.(*wire.Response)
		require.True(t, ok)
		assert.Equal(t, jsonrpc2.NewNumberID(1), resp.ID)
		assert.JSONEq(t, `"pong"`, string(resp.Result))
	case <-time.After(5 * time.Second):
		t.Fatal("no response from subprocess")
	}

	// Stop closes stdin; the helper exits within the grace period.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSubprocessExitSignalsClose(t *testing.T) {
	s := NewSubprocess(newTestLauncher(t), helperSpec(), zap.NewNop())

	closed := make(chan error, 1)
	s.OnMessage(func(wire.Message) {})
	s.OnClose(func(err error) { closed <- err })

	require.NoError(t, s.Start(context.Background()))

	// The helper exits on the exit notification; the transport must observe
	// the death rather than hang.
	notif, err := wire.NewNotification("exit", nil)
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), notif))

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close callback did not fire after process exit")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSubprocessStopKillsStuckChild(t *testing.T) {
	s := NewSubprocess(newTestLauncher(t), stuckSpec(), zap.NewNop(),
		WithShutdownGrace(200*time.Millisecond))

	closed := make(chan error, 1)
	s.OnMessage(func(wire.Message) {})
	s.OnClose(func(err error) { closed <- err })

	require.NoError(t, s.Start(context.Background()))

	// The child never reacts to stdin close, so Stop must fall through to
	// the kill once the grace period expires rather than wait it out.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, s.Stop(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close callback did not fire after kill")
	}
}
