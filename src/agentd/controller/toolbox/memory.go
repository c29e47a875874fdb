package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atlaslab/agentd/src/agentd/entity"
	"github.com/atlaslab/agentd/src/agentd/internal/fs"
	"go.uber.org/config"
	"gopkg.in/yaml.v3"
)

const _configKeyMemoryPath = "memory.path"

// memoryNote is one named note in the memory file.
type memoryNote struct {
	Content   string    `yaml:"content"`
	UpdatedAt time.Time `yaml:"updatedAt"`
}

type memoryFile struct {
	Notes map[string]memoryNote `yaml:"notes"`
}

// memoryStore persists named notes as YAML. Shared by the memory tools so
// concurrent calls serialize on one mutex.
type memoryStore struct {
	fs   fs.AgentFS
	path string
	mu   sync.Mutex
}

// newMemoryStore resolves the memory file path from config, defaulting to
// ~/.agentd/memory.yaml.
func newMemoryStore(provider config.Provider, agentFS fs.AgentFS) (*memoryStore, error) {
	var path string
	if value := provider.Get(_configKeyMemoryPath); value.HasValue() {
		if err := value.Populate(&path); err != nil {
			return nil, err
		}
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".agentd", "memory.yaml")
	}
	return &memoryStore{fs: agentFS, path: path}, nil
}

func (s *memoryStore) load() (*memoryFile, error) {
	file := &memoryFile{Notes: map[string]memoryNote{}}
	exists, err := s.fs.FileExists(s.path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return file, nil
	}
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("memory file %s is corrupt: %w", s.path, err)
	}
	if file.Notes == nil {
		file.Notes = map[string]memoryNote{}
	}
	return file, nil
}

func (s *memoryStore) store(name, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return err
	}
	file.Notes[name] = memoryNote{Content: content, UpdatedAt: time.Now().UTC()}

	data, err := yaml.Marshal(file)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path)); err != nil {
		return err
	}
	return s.fs.WriteFile(s.path, string(data))
}

func (s *memoryStore) recall(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return "", err
	}

	if name == "" {
		if len(file.Notes) == 0 {
			return "no notes stored", nil
		}
		names := make([]string, 0, len(file.Notes))
		for n := range file.Notes {
			names = append(names, n)
		}
		sort.Strings(names)
		return strings.Join(names, "\n"), nil
	}

	note, ok := file.Notes[name]
	if !ok {
		return "", fmt.Errorf("no note named %q", name)
	}
	return note.Content, nil
}

type memoryStoreTool struct {
	store *memoryStore
}

// NewMemoryStoreTool returns the memory_store tool.
func NewMemoryStoreTool(store *memoryStore) entity.Tool {
	return &memoryStoreTool{store: store}
}

func (t *memoryStoreTool) Descriptor() entity.ToolDescriptor {
	return entity.ToolDescriptor{
		Name:        "memory_store",
		Description: "Persist a named note for later recall.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Name of the note."},
				"content": {"type": "string", "description": "Content to store."}
			},
			"required": ["name", "content"]
		}`),
	}
}

func (t *memoryStoreTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return "", err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return "", err
	}
	if err := t.store.store(name, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("stored note %q", name), nil
}

type memoryRecallTool struct {
	store *memoryStore
}

// NewMemoryRecallTool returns the memory_recall tool.
func NewMemoryRecallTool(store *memoryStore) entity.Tool {
	return &memoryRecallTool{store: store}
}

func (t *memoryRecallTool) Descriptor() entity.ToolDescriptor {
	return entity.ToolDescriptor{
		Name:        "memory_recall",
		Description: "Recall a stored note by name, or list all note names when no name is given.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Name of the note to recall. Omit to list all names."}
			}
		}`),
	}
}

func (t *memoryRecallTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	name, err := optionalStringArg(args, "name", "")
	if err != nil {
		return "", err
	}
	return t.store.recall(name)
}
