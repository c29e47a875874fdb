package serverinfofile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/config"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func providerFromYAML(t *testing.T, yaml string) config.Provider {
	t.Helper()
	provider, err := config.NewYAML(config.Source(strings.NewReader(yaml)))
	require.NoError(t, err)
	return provider
}

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentd.json")
	lifecycle := fxtest.NewLifecycle(t)

	info, err := New(Params{
		Config:    providerFromYAML(t, "serverInfoFilePath: "+path+"\n"),
		Lifecycle: lifecycle,
		Logger:    zap.NewNop().Sugar(),
	})
	require.NoError(t, err)

	lifecycle.RequireStart()

	// The start hook records the pid.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	contents := map[string]string{}
	require.NoError(t, json.Unmarshal(data, &contents))
	assert.NotEmpty(t, contents["pid"])

	require.NoError(t, info.UpdateField("tcp-address", "127.0.0.1:27883"))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &contents))
	assert.Equal(t, "127.0.0.1:27883", contents["tcp-address"])

	lifecycle.RequireStop()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOnStopMissingFileTolerated(t *testing.T) {
	m := module{
		logger:   zap.NewNop().Sugar(),
		infofile: filepath.Join(t.TempDir(), "never-written.json"),
	}
	assert.NoError(t, m.OnStop(context.Background()))
}
