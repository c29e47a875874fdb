// Package executor wraps the spawning of long-running subprocesses to allow
// adding logs to each launch and to make transports easier to test.
package executor

import (
	"bufio"
	"context"
	"io"
	"os/exec"

	ierrors "github.com/atlaslab/agentd/src/agentd/internal/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:generate mockgen -source=executor.go -destination=executormock/executor_mock.go -package=executormock

// Module provides a module to inject using fx.
var Module = fx.Options(
	fx.Provide(func(logger *zap.SugaredLogger) Launcher {
		return NewLauncher(WithLogger(logger))
	}),
)

// Spec describes one subprocess to be launched.
type Spec struct {
	// Command is the argv; Command[0] is resolved via PATH.
	Command []string
	// Dir is the working directory for the subprocess.
	Dir string
	// Env is the environment; nil inherits the host environment.
	Env []string
}

// Process is a handle to a running subprocess with piped stdio.
type Process interface {
	// Stdin is the pipe connected to the subprocess's standard input.
	Stdin() io.WriteCloser
	// Stdout is the pipe connected to the subprocess's standard output.
	Stdout() io.Reader
	// Pid returns the OS process id.
	Pid() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err returns the exit error. Valid only after Done is closed.
	Err() error
	// Kill forcibly terminates the process.
	Kill() error
}

// Launcher starts subprocesses with piped stdin/stdout. Stderr output is
// drained to the logger line by line.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Process, error)
}

type launcherImpl struct {
	Logger *zap.SugaredLogger
}

// Option defines options to customize the launcher's behavior.
type Option func(*launcherImpl)

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *launcherImpl) {
		l.Logger = logger
	}
}

// NewLauncher creates a Launcher with the given options applied.
func NewLauncher(opts ...Option) Launcher {
	l := &launcherImpl{
		Logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch logs the Path/Dir/Args and starts the subprocess.
func (l *launcherImpl) Launch(ctx context.Context, spec Spec) (Process, error) {
	if len(spec.Command) == 0 {
		return nil, ierrors.New("empty command")
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	l.Logger.Infow("Launch",
		"Path", cmd.Path,
		"Dir", cmd.Dir,
		"Args", cmd.Args[1:],
	)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		done:   make(chan struct{}),
	}

	go l.drainStderr(spec.Command[0], stderr)
	go func() {
		p.exitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

func (l *launcherImpl) drainStderr(name string, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		l.Logger.Debugw("subprocess stderr", "command", name, "line", scanner.Text())
	}
}

type process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.Reader
	done    chan struct{}
	exitErr error
}

func (p *process) Stdin() io.WriteCloser { return p.stdin }

func (p *process) Stdout() io.Reader { return p.stdout }

func (p *process) Pid() int { return p.cmd.Process.Pid }

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Err() error { return p.exitErr }

func (p *process) Kill() error { return p.cmd.Process.Kill() }
