// Package toolbox holds the tool registry: every tool the daemon exposes is
// registered here at startup, and all dispatch flows through Call.
package toolbox

import (
	"context"
	"fmt"
	"sort"

	"github.com/atlaslab/agentd/src/agentd/entity"
	ierrors "github.com/atlaslab/agentd/src/agentd/internal/errors"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the registry along with the bundled tools.
var Module = fx.Options(
	fx.Provide(New),
	fx.Provide(newMemoryStore),
	fx.Provide(
		fx.Annotated{Group: "tools", Target: NewReadFileTool},
		fx.Annotated{Group: "tools", Target: NewWriteFileTool},
		fx.Annotated{Group: "tools", Target: NewListDirTool},
		fx.Annotated{Group: "tools", Target: NewHoverTool},
		fx.Annotated{Group: "tools", Target: NewDefinitionTool},
		fx.Annotated{Group: "tools", Target: NewReferencesTool},
		fx.Annotated{Group: "tools", Target: NewDocumentSymbolsTool},
		fx.Annotated{Group: "tools", Target: NewMemoryStoreTool},
		fx.Annotated{Group: "tools", Target: NewMemoryRecallTool},
	),
)

// Controller dispatches tool calls by name.
type Controller interface {
	// List returns the descriptors of every registered tool, sorted by name.
	List(ctx context.Context) []entity.ToolDescriptor
	// Call executes one tool. Execution failures and panics are converted to
	// an error-flagged result; only an unknown name returns an error.
	Call(ctx context.Context, name string, args map[string]interface{}) (entity.ToolResult, error)
}

// Params are inbound parameters to build the registry.
type Params struct {
	fx.In

	Tools  []entity.Tool `group:"tools"`
	Logger *zap.SugaredLogger
	Stats  tally.Scope
}

type controller struct {
	tools  map[string]entity.Tool
	logger *zap.SugaredLogger
	stats  tally.Scope
}

// New builds the registry from the registered tools.
func New(p Params) (Controller, error) {
	tools := make(map[string]entity.Tool, len(p.Tools))
	for _, tool := range p.Tools {
		name := tool.Descriptor().Name
		if _, ok := tools[name]; ok {
			return nil, fmt.Errorf("duplicate tool name %q", name)
		}
		tools[name] = tool
	}
	return &controller{
		tools:  tools,
		logger: p.Logger,
		stats:  p.Stats,
	}, nil
}

func (c *controller) List(ctx context.Context) []entity.ToolDescriptor {
	descriptors := make([]entity.ToolDescriptor, 0, len(c.tools))
	for _, tool := range c.tools {
		descriptors = append(descriptors, tool.Descriptor())
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors
}

func (c *controller) Call(ctx context.Context, name string, args map[string]interface{}) (result entity.ToolResult, err error) {
	tool, ok := c.tools[name]
	if !ok {
		return entity.ToolResult{}, &ierrors.UnknownToolError{Name: name}
	}

	// A panicking tool must not take the serving loop down with it.
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorw("tool panicked", "tool", name, "panic", r)
			c.stats.Counter("tool_panics").Inc(1)
			result = entity.ErrorResult(fmt.Sprintf("tool %q panicked: %v", name, r))
			err = nil
		}
	}()

	text, execErr := tool.Execute(ctx, args)
	if execErr != nil {
		c.logger.Warnw("tool failed", "tool", name, "error", execErr)
		c.stats.Counter("tool_errors").Inc(1)
		return entity.ErrorResult(execErr.Error()), nil
	}
	return entity.TextResult(text), nil
}
