// Package serverinfofile maintains a small JSON state file describing the
// running daemon (pid, listen addresses) so agents and tooling can find it.
package serverinfofile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const _configKeyInfoFile = "serverInfoFilePath"

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// ServerInfoFile manages the contents of the daemon's state file. Fields are
// written as they become known during startup; the file is removed on stop.
type ServerInfoFile interface {
	UpdateField(key string, value string) error
}

type module struct {
	infofile     string
	logger       *zap.SugaredLogger
	fileContents map[string]string
	mu           sync.Mutex
}

// Params define values to be used by ServerInfoFile.
type Params struct {
	fx.In

	Config    config.Provider
	Lifecycle fx.Lifecycle
	Logger    *zap.SugaredLogger
}

// New creates a ServerInfoFile and records the daemon's pid in it. The path
// comes from config, defaulting to ~/.agentd/agentd.json.
func New(p Params) (ServerInfoFile, error) {
	m := module{
		logger:       p.Logger,
		fileContents: make(map[string]string),
	}

	if err := m.processConfig(p.Config); err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.UpdateField("pid", strconv.Itoa(os.Getpid()))
		},
		OnStop: m.OnStop,
	})

	return &m, nil
}

func (m *module) OnStop(ctx context.Context) error {
	if m.infofile != "" {
		if err := os.Remove(m.infofile); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (m *module) UpdateField(key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fileContents[key] = value
	jsonOutput, err := json.Marshal(m.fileContents)
	if err != nil {
		return fmt.Errorf("marshalling json: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.infofile), 0755); err != nil {
		return fmt.Errorf("creating info file directory: %w", err)
	}
	if err := os.WriteFile(m.infofile, jsonOutput, 0644); err != nil {
		return fmt.Errorf("writing info file: %w", err)
	}
	m.logger.Debugw("server info saved", zap.String("file", m.infofile), zap.String(key, value))
	return nil
}

func (m *module) processConfig(cfg config.Provider) error {
	if value := cfg.Get(_configKeyInfoFile); value.HasValue() {
		if err := value.Populate(&m.infofile); err != nil {
			return fmt.Errorf("getting config field %q: %w", _configKeyInfoFile, err)
		}
	}

	if m.infofile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		m.infofile = filepath.Join(home, ".agentd", "agentd.json")
	}
	return nil
}
