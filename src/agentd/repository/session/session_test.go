package session

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/atlaslab/agentd/src/agentd/entity"
	ierrors "github.com/atlaslab/agentd/src/agentd/internal/errors"
	"github.com/atlaslab/agentd/src/agentd/internal/executor"
	"github.com/atlaslab/agentd/src/agentd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx/fxtest"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubProcess backs one launched stub server with in-memory pipes.
type stubProcess struct {
	stdin    io.WriteCloser
	stdout   io.Reader
	done     chan struct{}
	doneOnce sync.Once
}

func (p *stubProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *stubProcess) Stdout() io.Reader     { return p.stdout }
func (p *stubProcess) Pid() int              { return 1 }
func (p *stubProcess) Done() <-chan struct{} { return p.done }
func (p *stubProcess) Err() error            { return nil }
func (p *stubProcess) Kill() error           { p.exit(); return nil }
func (p *stubProcess) exit()                 { p.doneOnce.Do(func() { close(p.done) }) }

// stubLauncher spawns a fresh minimal language server per Launch.
type stubLauncher struct {
	mu       sync.Mutex
	launched int
	wg       sync.WaitGroup
}

func (l *stubLauncher) Launch(ctx context.Context, spec executor.Spec) (executor.Process, error) {
	l.mu.Lock()
	l.launched++
	l.mu.Unlock()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	proc := &stubProcess{stdin: inW, stdout: outR, done: make(chan struct{})}

	framer := wire.ContentLengthFramer{}
	reader := framer.Reader(inR)
	writer := framer.Writer(outW)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer proc.exit()
		defer outW.Close()
		for {
			msg, err := reader.Read()
			if err != nil {
				return
			}
			switch m := msg.(type) {
			case *wire.Request:
				switch m.Method {
				case protocol.MethodInitialize:
					resp, _ := wire.NewResponse(m.ID, protocol.InitializeResult{}, nil)
					_ = writer.Write(resp)
				default:
					resp, _ := wire.NewResponse(m.ID, nil, nil)
					_ = writer.Write(resp)
				}
			case *wire.Notification:
				if m.Method == protocol.MethodExit {
					return
				}
			}
		}
	}()
	return proc, nil
}

func (l *stubLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched
}

const _testConfig = `
languages:
  go:
    command: ["gopls"]
  python:
    command: ["pyright-langserver", "--stdio"]
session:
  requestTimeoutSeconds: 5
  shutdownGraceSeconds: 2
`

func newTestRepository(t *testing.T) (Repository, *stubLauncher) {
	t.Helper()

	provider, err := config.NewYAML(config.Source(strings.NewReader(_testConfig)))
	require.NoError(t, err)

	launcher := &stubLauncher{}
	lifecycle := fxtest.NewLifecycle(t)
	repo, err := New(Params{
		Config:    provider,
		Launcher:  launcher,
		Logger:    zap.NewNop(),
		Stats:     tally.NoopScope,
		Lifecycle: lifecycle,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, repo.ShutdownAll(context.Background()))
		launcher.wg.Wait()
	})
	return repo, launcher
}

func TestGetOrCreate(t *testing.T) {
	repo, launcher := newTestRepository(t)
	ctx := context.Background()

	t.Run("unknown language", func(t *testing.T) {
		_, err := repo.GetOrCreate(ctx, "/ws", "cobol")
		var unknown *ierrors.UnknownLanguageError
		assert.ErrorAs(t, err, &unknown)
	})

	t.Run("lazy create and reuse", func(t *testing.T) {
		first, err := repo.GetOrCreate(ctx, "/ws", protocol.GoLanguage)
		require.NoError(t, err)
		assert.Equal(t, entity.StateReady, first.State())

		again, err := repo.GetOrCreate(ctx, "/ws", protocol.GoLanguage)
		require.NoError(t, err)
		assert.Same(t, first, again)
		assert.Equal(t, 1, launcher.launchCount())
	})

	t.Run("distinct pairs get distinct sessions", func(t *testing.T) {
		goSession, err := repo.GetOrCreate(ctx, "/ws", protocol.GoLanguage)
		require.NoError(t, err)
		pySession, err := repo.GetOrCreate(ctx, "/ws", protocol.PythonLanguage)
		require.NoError(t, err)
		otherWs, err := repo.GetOrCreate(ctx, "/elsewhere", protocol.GoLanguage)
		require.NoError(t, err)

		assert.NotSame(t, goSession, pySession)
		assert.NotSame(t, goSession, otherWs)
		assert.Equal(t, 3, repo.SessionCount())
	})
}

func TestTerminatedSessionReplaced(t *testing.T) {
	repo, launcher := newTestRepository(t)
	ctx := context.Background()

	first, err := repo.GetOrCreate(ctx, "/ws", protocol.GoLanguage)
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(ctx))
	require.Equal(t, entity.StateTerminated, first.State())

	second, err := repo.GetOrCreate(ctx, "/ws", protocol.GoLanguage)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, entity.StateReady, second.State())
	assert.Equal(t, 2, launcher.launchCount())
}

func TestConcurrentGetOrCreateSharesOneSession(t *testing.T) {
	repo, launcher := newTestRepository(t)
	ctx := context.Background()

	const callers = 8
	sessions := make([]interface{}, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := repo.GetOrCreate(ctx, "/ws", protocol.GoLanguage)
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
	assert.Equal(t, 1, launcher.launchCount())
}

func TestShutdownAll(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	goSession, err := repo.GetOrCreate(ctx, "/ws", protocol.GoLanguage)
	require.NoError(t, err)
	pySession, err := repo.GetOrCreate(ctx, "/ws", protocol.PythonLanguage)
	require.NoError(t, err)

	require.NoError(t, repo.ShutdownAll(ctx))
	assert.Equal(t, 0, repo.SessionCount())
	assert.Equal(t, entity.StateTerminated, goSession.State())
	assert.Equal(t, entity.StateTerminated, pySession.State())

	// The pool recreates on demand after a full shutdown.
	recreated, err := repo.GetOrCreate(ctx, "/ws", protocol.GoLanguage)
	require.NoError(t, err)
	assert.Equal(t, entity.StateReady, recreated.State())
}
