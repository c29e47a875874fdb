// Package langserver manages one language server subprocess: its lifecycle
// handshake, document synchronization, feature requests, and the diagnostics
// it pushes back.
package langserver

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/atlaslab/agentd/src/agentd/entity"
	ierrors "github.com/atlaslab/agentd/src/agentd/internal/errors"
	"github.com/atlaslab/agentd/src/agentd/internal/executor"
	"github.com/atlaslab/agentd/src/agentd/internal/rpc"
	"github.com/atlaslab/agentd/src/agentd/internal/transport"
	"github.com/atlaslab/agentd/src/agentd/internal/watcher"
	"github.com/atlaslab/agentd/src/agentd/internal/wire"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
)

const _clientName = "agentd"

// Session drives a single language server over its stdio transport. All
// methods are safe for concurrent use; feature calls for distinct requests
// proceed in parallel over the shared connection.
type Session struct {
	launcher      executor.Launcher
	config        entity.LanguageServerConfig
	workspaceRoot string
	language      protocol.LanguageIdentifier
	logger        *zap.Logger
	stats         tally.Scope

	requestTimeout time.Duration
	shutdownGrace  time.Duration
	watchFiles     bool

	transport *transport.Subprocess
	conn      *rpc.Conn
	watcher   *watcher.Watcher

	mu          sync.Mutex
	state       entity.SessionState
	caps        protocol.ServerCapabilities
	docs        map[uri.URI]*document
	diagnostics map[uri.URI][]protocol.Diagnostic
}

type document struct {
	version int32
	text    string
}

// Option customizes a Session.
type Option func(*Session)

// WithRequestTimeout bounds each feature call.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.requestTimeout = d
	}
}

// WithShutdownGrace bounds how long Shutdown waits for the subprocess to
// exit before killing it.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Session) {
		s.shutdownGrace = d
	}
}

// WithStats attaches a metrics scope.
func WithStats(stats tally.Scope) Option {
	return func(s *Session) {
		s.stats = stats
	}
}

// WithFileWatching forwards workspace file changes to the server as
// workspace/didChangeWatchedFiles notifications while the session is ready.
func WithFileWatching() Option {
	return func(s *Session) {
		s.watchFiles = true
	}
}

// New creates a Session for one (workspace, language) pair. Start must be
// called before any other method.
func New(launcher executor.Launcher, config entity.LanguageServerConfig, workspaceRoot string, language protocol.LanguageIdentifier, logger *zap.Logger, opts ...Option) *Session {
	s := &Session{
		launcher:       launcher,
		config:         config,
		workspaceRoot:  workspaceRoot,
		language:       language,
		logger:         logger.With(zap.String("language", string(language))),
		stats:          tally.NoopScope,
		requestTimeout: rpc.DefaultRequestTimeout,
		shutdownGrace:  transport.DefaultShutdownGrace,
		state:          entity.StateUninitialized,
		docs:           make(map[uri.URI]*document),
		diagnostics:    make(map[uri.URI][]protocol.Diagnostic),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the current lifecycle state.
func (s *Session) State() entity.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Language reports the language this session serves.
func (s *Session) Language() protocol.LanguageIdentifier {
	return s.language
}

// WorkspaceRoot reports the workspace this session serves.
func (s *Session) WorkspaceRoot() string {
	return s.workspaceRoot
}

// Capabilities returns the capabilities the server announced during the
// initialize handshake. Zero value before the session is ready.
func (s *Session) Capabilities() protocol.ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// Start spawns the server subprocess and runs the initialize handshake.
// On success the session is ready for document and feature calls; on any
// failure it is left failed with the subprocess stopped.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != entity.StateUninitialized {
		state := s.state
		s.mu.Unlock()
		return &ierrors.NotReadyError{State: state}
	}
	s.state = entity.StateInitializing
	s.mu.Unlock()

	s.transport = transport.NewSubprocess(
		s.launcher,
		executor.Spec{Command: s.config.Command, Dir: s.workspaceRoot},
		s.logger,
		transport.WithShutdownGrace(s.shutdownGrace),
	)
	s.conn = rpc.New(s.transport, s.logger,
		rpc.WithRequestTimeout(s.requestTimeout),
		rpc.WithStats(s.stats),
		rpc.WithNotificationHandler(s.handleNotification),
		rpc.WithCloseHandler(s.handleConnClosed),
	)

	if err := s.transport.Start(ctx); err != nil {
		s.setState(entity.StateFailed)
		return err
	}

	result, err := s.initialize(ctx)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.caps = result.Capabilities
	s.state = entity.StateReady
	s.mu.Unlock()

	if s.watchFiles {
		s.watcher = watcher.New(s.workspaceRoot, s.forwardFileEvents, s.logger.Sugar())
		if err := s.watcher.Start(); err != nil {
			s.logger.Warn("starting workspace watcher", zap.Error(err))
			s.watcher = nil
		}
	}

	s.logger.Info("language server ready",
		zap.String("workspaceRoot", s.workspaceRoot),
		zap.Int("pid", s.transport.Pid()))
	return nil
}

func (s *Session) initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	params := protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		ClientInfo: &protocol.ClientInfo{
			Name: _clientName,
		},
		RootURI: uri.File(s.workspaceRoot),
		WorkspaceFolders: []protocol.WorkspaceFolder{
			{URI: string(uri.File(s.workspaceRoot)), Name: s.workspaceRoot},
		},
		Capabilities:          clientCapabilities(),
		InitializationOptions: s.config.InitializationOptions,
	}

	var result protocol.InitializeResult
	if err := s.conn.Call(ctx, protocol.MethodInitialize, &params, &result); err != nil {
		return nil, err
	}
	if err := s.conn.Notify(ctx, protocol.MethodInitialized, &protocol.InitializedParams{}); err != nil {
		return nil, err
	}
	return &result, nil
}

func clientCapabilities() protocol.ClientCapabilities {
	return protocol.ClientCapabilities{
		TextDocument: &protocol.TextDocumentClientCapabilities{
			Synchronization: &protocol.TextDocumentSyncClientCapabilities{
				DidSave: true,
			},
			PublishDiagnostics: &protocol.PublishDiagnosticsClientCapabilities{
				RelatedInformation: true,
			},
			DocumentSymbol: &protocol.DocumentSymbolClientCapabilities{
				HierarchicalDocumentSymbolSupport: true,
			},
		},
		Workspace: &protocol.WorkspaceClientCapabilities{
			WorkspaceFolders: true,
			DidChangeWatchedFiles: &protocol.DidChangeWatchedFilesWorkspaceClientCapabilities{
				DynamicRegistration: false,
			},
		},
	}
}

// Shutdown runs the orderly exit sequence. It is idempotent and tolerates a
// server that already disconnected.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case entity.StateUninitialized:
		s.state = entity.StateTerminated
		s.mu.Unlock()
		return nil
	case entity.StateShuttingDown, entity.StateTerminated:
		s.mu.Unlock()
		return nil
	}
	s.state = entity.StateShuttingDown
	s.mu.Unlock()

	if s.watcher != nil {
		s.watcher.Stop()
	}

	// The server may already be gone; the exit path continues regardless.
	if err := s.conn.Call(ctx, protocol.MethodShutdown, nil, nil); err != nil {
		s.logger.Debug("shutdown request", zap.Error(err))
	}
	if err := s.conn.Notify(ctx, protocol.MethodExit, nil); err != nil {
		s.logger.Debug("exit notification", zap.Error(err))
	}

	err := s.transport.Stop(ctx)
	s.setState(entity.StateTerminated)
	s.logger.Info("language server terminated", zap.String("workspaceRoot", s.workspaceRoot))
	return err
}

// Diagnostics returns the latest diagnostics the server published for a
// document. Nil when none were published.
func (s *Session) Diagnostics(docURI uri.URI) []protocol.Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diagnostics[docURI]
}

func (s *Session) setState(state entity.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// fail marks the session failed and tears the subprocess down.
func (s *Session) fail(err error) {
	s.setState(entity.StateFailed)
	s.logger.Warn("language server failed", zap.Error(err))

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace)
	defer cancel()
	if serr := s.transport.Stop(ctx); serr != nil {
		s.logger.Debug("stopping failed session transport", zap.Error(serr))
	}
}

// handleConnClosed runs when the subprocess disconnects. A disconnect during
// an orderly shutdown is expected; any other disconnect fails the session.
func (s *Session) handleConnClosed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || s.state == entity.StateShuttingDown {
		return
	}
	s.state = entity.StateFailed
	s.logger.Warn("language server disconnected", zap.Error(err))
}

func (s *Session) handleNotification(ctx context.Context, notif *wire.Notification) {
	switch notif.Method {
	case protocol.MethodTextDocumentPublishDiagnostics:
		var params protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(notif.Params, &params); err != nil {
			s.logger.Warn("decoding diagnostics", zap.Error(err))
			return
		}
		s.mu.Lock()
		s.diagnostics[params.URI] = params.Diagnostics
		s.mu.Unlock()
	case protocol.MethodWindowLogMessage:
		var params protocol.LogMessageParams
		if err := json.Unmarshal(notif.Params, &params); err != nil {
			return
		}
		switch params.Type {
		case protocol.MessageTypeError:
			s.logger.Warn("server message", zap.String("message", params.Message))
		default:
			s.logger.Debug("server message", zap.String("message", params.Message))
		}
	default:
		s.logger.Debug("unhandled server notification", zap.String("method", notif.Method))
	}
}

// forwardFileEvents relays a debounced watcher batch while the session is
// ready.
func (s *Session) forwardFileEvents(changes []protocol.FileEvent) {
	if s.State() != entity.StateReady {
		return
	}

	params := protocol.DidChangeWatchedFilesParams{
		Changes: make([]*protocol.FileEvent, 0, len(changes)),
	}
	for i := range changes {
		params.Changes = append(params.Changes, &changes[i])
	}
	if err := s.conn.Notify(context.Background(), protocol.MethodWorkspaceDidChangeWatchedFiles, &params); err != nil {
		s.logger.Debug("forwarding file events", zap.Error(err))
	}
}

// requireReady guards feature and document calls.
func (s *Session) requireReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != entity.StateReady {
		return &ierrors.NotReadyError{State: s.state}
	}
	return nil
}

// requireOpen guards document-scoped feature calls.
func (s *Session) requireOpen(docURI uri.URI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != entity.StateReady {
		return &ierrors.NotReadyError{State: s.state}
	}
	if _, ok := s.docs[docURI]; !ok {
		return &ierrors.DocumentNotOpenError{URI: docURI}
	}
	return nil
}
