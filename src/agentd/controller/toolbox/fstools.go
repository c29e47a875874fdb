package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atlaslab/agentd/src/agentd/entity"
	"github.com/atlaslab/agentd/src/agentd/internal/fs"
)

type readFileTool struct {
	fs fs.AgentFS
}

// NewReadFileTool returns the read_file tool.
func NewReadFileTool(agentFS fs.AgentFS) entity.Tool {
	return &readFileTool{fs: agentFS}
}

func (t *readFileTool) Descriptor() entity.ToolDescriptor {
	return entity.ToolDescriptor{
		Name:        "read_file",
		Description: "Read the contents of a file.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Path of the file to read."}
			},
			"required": ["path"]
		}`),
	}
}

func (t *readFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	data, err := t.fs.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type writeFileTool struct {
	fs fs.AgentFS
}

// NewWriteFileTool returns the write_file tool.
func NewWriteFileTool(agentFS fs.AgentFS) entity.Tool {
	return &writeFileTool{fs: agentFS}
}

func (t *writeFileTool) Descriptor() entity.ToolDescriptor {
	return entity.ToolDescriptor{
		Name:        "write_file",
		Description: "Write content to a file, creating it if it does not exist.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Path of the file to write."},
				"content": {"type": "string", "description": "Full content to write."}
			},
			"required": ["path", "content"]
		}`),
	}
}

func (t *writeFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return "", err
	}
	if err := t.fs.WriteFile(path, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

type listDirTool struct {
	fs fs.AgentFS
}

// NewListDirTool returns the list_dir tool.
func NewListDirTool(agentFS fs.AgentFS) entity.Tool {
	return &listDirTool{fs: agentFS}
}

func (t *listDirTool) Descriptor() entity.ToolDescriptor {
	return entity.ToolDescriptor{
		Name:        "list_dir",
		Description: "List the entries of a directory. Directories are suffixed with a slash.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Path of the directory to list."}
			},
			"required": ["path"]
		}`),
	}
}

func (t *listDirTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	entries, err := t.fs.ReadDir(path)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(entry.Name())
		if entry.IsDir() {
			b.WriteString("/")
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}
