// Package session pools language server sessions, one per workspace and
// language pair, creating them lazily and replacing dead ones on demand.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/atlaslab/agentd/src/agentd/entity"
	langserver "github.com/atlaslab/agentd/src/agentd/gateway/lang-server"
	ierrors "github.com/atlaslab/agentd/src/agentd/internal/errors"
	"github.com/atlaslab/agentd/src/agentd/internal/executor"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Module provides the Repository and ties pool shutdown to the app lifecycle.
var Module = fx.Options(
	fx.Provide(New),
)

const _configKeyLanguages = "languages"
const _configKeySession = "session"

// Config tunes all pooled sessions.
type Config struct {
	RequestTimeoutSeconds int  `yaml:"requestTimeoutSeconds"`
	ShutdownGraceSeconds  int  `yaml:"shutdownGraceSeconds"`
	WatchFiles            bool `yaml:"watchFiles"`
}

// Repository is a pool of language server sessions.
type Repository interface {
	// GetOrCreate returns the live session for the pair, starting one if none
	// exists. Failed or terminated entries are replaced transparently.
	GetOrCreate(ctx context.Context, workspaceRoot string, language protocol.LanguageIdentifier) (*langserver.Session, error)
	// SessionCount reports the number of pooled sessions.
	SessionCount() int
	// ShutdownAll terminates every pooled session and empties the pool.
	ShutdownAll(ctx context.Context) error
}

// Params defines the dependencies of this repository.
type Params struct {
	fx.In

	Config    config.Provider
	Launcher  executor.Launcher
	Logger    *zap.Logger
	Stats     tally.Scope
	Lifecycle fx.Lifecycle
}

type poolKey struct {
	workspaceRoot string
	language      protocol.LanguageIdentifier
}

// entry guards one session's creation so concurrent callers for the same
// pair share a single handshake.
type entry struct {
	once sync.Once

	mu      sync.Mutex
	session *langserver.Session
	err     error
}

func (e *entry) get() (*langserver.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, e.err
}

func (e *entry) set(session *langserver.Session, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = session
	e.err = err
}

type repository struct {
	languages entity.LanguageServerConfigs
	cfg       Config
	launcher  executor.Launcher
	logger    *zap.Logger
	stats     tally.Scope

	mu   sync.Mutex
	pool map[poolKey]*entry
}

// New creates the session pool from the language command table in config.
func New(p Params) (Repository, error) {
	var languages entity.LanguageServerConfigs
	if err := p.Config.Get(_configKeyLanguages).Populate(&languages); err != nil {
		return nil, err
	}

	var cfg Config
	if value := p.Config.Get(_configKeySession); value.HasValue() {
		if err := value.Populate(&cfg); err != nil {
			return nil, err
		}
	}

	r := &repository{
		languages: languages,
		cfg:       cfg,
		launcher:  p.Launcher,
		logger:    p.Logger,
		stats:     p.Stats,
		pool:      make(map[poolKey]*entry),
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return r.ShutdownAll(ctx)
		},
	})
	return r, nil
}

func (r *repository) GetOrCreate(ctx context.Context, workspaceRoot string, language protocol.LanguageIdentifier) (*langserver.Session, error) {
	lsConfig, ok := r.languages[language]
	if !ok {
		return nil, &ierrors.UnknownLanguageError{Language: language}
	}

	key := poolKey{workspaceRoot: workspaceRoot, language: language}

	r.mu.Lock()
	e, ok := r.pool[key]
	if ok {
		if existing, _ := e.get(); existing != nil && existing.State().Terminal() {
			// Replace a dead session on next use.
			delete(r.pool, key)
			ok = false
		}
	}
	if !ok {
		e = &entry{}
		r.pool[key] = e
		r.stats.Gauge("active_sessions").Update(float64(len(r.pool)))
	}
	r.mu.Unlock()

	e.once.Do(func() {
		created := langserver.New(r.launcher, lsConfig, workspaceRoot, language, r.logger, r.sessionOptions()...)
		err := created.Start(ctx)
		e.set(created, err)
		if err != nil {
			r.remove(key, e)
		}
	})

	session, err := e.get()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *repository) sessionOptions() []langserver.Option {
	opts := []langserver.Option{
		langserver.WithStats(r.stats),
	}
	if r.cfg.RequestTimeoutSeconds > 0 {
		opts = append(opts, langserver.WithRequestTimeout(time.Duration(r.cfg.RequestTimeoutSeconds)*time.Second))
	}
	if r.cfg.ShutdownGraceSeconds > 0 {
		opts = append(opts, langserver.WithShutdownGrace(time.Duration(r.cfg.ShutdownGraceSeconds)*time.Second))
	}
	if r.cfg.WatchFiles {
		opts = append(opts, langserver.WithFileWatching())
	}
	return opts
}

func (r *repository) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pool)
}

// ShutdownAll terminates every pooled session, aggregating any errors. No
// subprocess outlives the pool.
func (r *repository) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.pool))
	for _, e := range r.pool {
		entries = append(entries, e)
	}
	r.pool = make(map[poolKey]*entry)
	r.stats.Gauge("active_sessions").Update(0)
	r.mu.Unlock()

	var err error
	for _, e := range entries {
		session, _ := e.get()
		if session == nil {
			continue
		}
		err = multierr.Append(err, session.Shutdown(ctx))
	}
	return err
}

func (r *repository) remove(key poolKey, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool[key] == e {
		delete(r.pool, key)
		r.stats.Gauge("active_sessions").Update(float64(len(r.pool)))
	}
}
