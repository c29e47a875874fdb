package toolbox

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atlaslab/agentd/src/agentd/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/config"
)

func newTestMemoryStore(t *testing.T) *memoryStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.yaml")
	provider, err := config.NewYAML(config.Source(strings.NewReader("memory:\n  path: " + path + "\n")))
	require.NoError(t, err)

	store, err := newMemoryStore(provider, fs.New())
	require.NoError(t, err)
	return store
}

func TestMemoryTools(t *testing.T) {
	store := newTestMemoryStore(t)
	storeTool := NewMemoryStoreTool(store)
	recallTool := NewMemoryRecallTool(store)
	ctx := context.Background()

	t.Run("recall before any store", func(t *testing.T) {
		text, err := recallTool.Execute(ctx, map[string]interface{}{})
		require.NoError(t, err)
		assert.Equal(t, "no notes stored", text)
	})

	t.Run("store and recall", func(t *testing.T) {
		_, err := storeTool.Execute(ctx, map[string]interface{}{
			"name":    "build",
			"content": "use make generate before building",
		})
		require.NoError(t, err)

		text, err := recallTool.Execute(ctx, map[string]interface{}{"name": "build"})
		require.NoError(t, err)
		assert.Equal(t, "use make generate before building", text)
	})

	t.Run("overwrite", func(t *testing.T) {
		_, err := storeTool.Execute(ctx, map[string]interface{}{"name": "build", "content": "updated"})
		require.NoError(t, err)

		text, err := recallTool.Execute(ctx, map[string]interface{}{"name": "build"})
		require.NoError(t, err)
		assert.Equal(t, "updated", text)
	})

	t.Run("list names", func(t *testing.T) {
		_, err := storeTool.Execute(ctx, map[string]interface{}{"name": "deploy", "content": "x"})
		require.NoError(t, err)

		text, err := recallTool.Execute(ctx, map[string]interface{}{})
		require.NoError(t, err)
		assert.Equal(t, []string{"build", "deploy"}, strings.Split(text, "\n"))
	})

	t.Run("unknown note", func(t *testing.T) {
		_, err := recallTool.Execute(ctx, map[string]interface{}{"name": "missing"})
		assert.Error(t, err)
	})
}

func TestMemoryStoreSurvivesReload(t *testing.T) {
	store := newTestMemoryStore(t)
	require.NoError(t, store.store("note", "content"))

	// A fresh store over the same file sees the persisted note.
	reloaded := &memoryStore{fs: fs.New(), path: store.path}
	text, err := reloaded.recall("note")
	require.NoError(t, err)
	assert.Equal(t, "content", text)
}
