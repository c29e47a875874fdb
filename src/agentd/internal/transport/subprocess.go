package transport

import (
	"context"
	"sync"
	"time"

	ierrors "github.com/atlaslab/agentd/src/agentd/internal/errors"
	"github.com/atlaslab/agentd/src/agentd/internal/executor"
	"github.com/atlaslab/agentd/src/agentd/internal/wire"
	"go.uber.org/zap"
)

// DefaultShutdownGrace bounds how long Stop waits for a child process to
// exit after its stdin closes before force-killing it.
const DefaultShutdownGrace = 3 * time.Second

// Subprocess is a Transport that spawns a child process and speaks
// Content-Length framed JSON-RPC over its piped stdin/stdout. Stderr is
// drained to the logger by the launcher.
type Subprocess struct {
	launcher executor.Launcher
	spec     executor.Spec
	grace    time.Duration
	logger   *zap.Logger

	handler Handler
	closeFn CloseHandler

	mu     sync.Mutex
	stream *Stream
	proc   executor.Process
}

var _ Transport = (*Subprocess)(nil)

// SubprocessOption customizes a Subprocess transport.
type SubprocessOption func(*Subprocess)

// WithShutdownGrace overrides the grace period used by Stop.
func WithShutdownGrace(d time.Duration) SubprocessOption {
	return func(s *Subprocess) {
		s.grace = d
	}
}

// NewSubprocess builds a transport that will launch the given command on
// Start. The process's lifetime is bounded by the transport's.
func NewSubprocess(launcher executor.Launcher, spec executor.Spec, logger *zap.Logger, opts ...SubprocessOption) *Subprocess {
	s := &Subprocess{
		launcher: launcher,
		spec:     spec,
		grace:    DefaultShutdownGrace,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnMessage registers the inbound message handler. Must be called before Start.
func (s *Subprocess) OnMessage(h Handler) {
	s.handler = h
}

// OnClose registers the close callback. Must be called before Start.
func (s *Subprocess) OnClose(h CloseHandler) {
	s.closeFn = h
}

// Start spawns the subprocess and begins the read loop over its stdout.
// A missing executable or immediate launch failure surfaces as *SpawnError.
func (s *Subprocess) Start(ctx context.Context) error {
	proc, err := s.launcher.Launch(ctx, s.spec)
	if err != nil {
		return &ierrors.SpawnError{Command: s.spec.Command, Err: err}
	}

	stream := NewStream(proc.Stdout(), proc.Stdin(), proc.Stdin(), wire.ContentLengthFramer{}, s.logger)
	stream.OnMessage(s.handler)
	stream.OnClose(s.closeFn)

	s.mu.Lock()
	s.proc = proc
	s.stream = stream
	s.mu.Unlock()

	if err := stream.Start(ctx); err != nil {
		proc.Kill()
		return err
	}

	s.logger.Info("language server started",
		zap.Strings("command", s.spec.Command),
		zap.Int("pid", proc.Pid()),
	)
	return nil
}

// Send writes one framed message to the subprocess's stdin.
func (s *Subprocess) Send(ctx context.Context, msg wire.Message) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return &ierrors.ConnClosedError{}
	}
	return stream.Send(ctx, msg)
}

// Pid returns the child process id, or 0 before Start.
func (s *Subprocess) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid()
}

// Stop closes the child's stdin, waits up to the grace period for it to
// exit, then force-kills it. Never hangs on a stuck child.
func (s *Subprocess) Stop(ctx context.Context) error {
	s.mu.Lock()
	stream := s.stream
	proc := s.proc
	s.mu.Unlock()

	// Close stdin without waiting for the read loop: a stuck child keeps
	// stdout open, and the grace timer below must still be reachable.
	if stream != nil {
		stream.close(nil)
	}
	if proc == nil {
		return nil
	}

	select {
	case <-proc.Done():
	case <-time.After(s.grace):
		s.logger.Warn("language server did not exit, killing",
			zap.Strings("command", s.spec.Command),
			zap.Int("pid", proc.Pid()),
		)
		if err := proc.Kill(); err != nil {
			return err
		}
		<-proc.Done()
	}

	// The child is gone, so stdout is at EOF and the read loop drains out.
	if stream != nil {
		return stream.Stop(ctx)
	}
	return nil
}
