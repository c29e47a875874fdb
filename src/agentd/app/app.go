// Package app assembles the agentd daemon from its Fx modules.
package app

import (
	"context"
	"time"

	"github.com/atlaslab/agentd/src/agentd/controller/toolbox"
	"github.com/atlaslab/agentd/src/agentd/handler/mcp"
	"github.com/atlaslab/agentd/src/agentd/internal/core"
	"github.com/atlaslab/agentd/src/agentd/internal/executor"
	"github.com/atlaslab/agentd/src/agentd/internal/fs"
	"github.com/atlaslab/agentd/src/agentd/internal/serverinfofile"
	"github.com/atlaslab/agentd/src/agentd/repository/session"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/fx"
)

// Module defines the agentd application module.
var Module = fx.Options(
	mcp.Module, // inbounds
	toolbox.Module,
	session.Module,
	fs.Module,
	executor.Module,
	serverinfofile.Module,
	core.ConfigModule,
	core.LoggerModule,
	fx.Provide(func(lc fx.Lifecycle) tally.Scope {
		rs, closer := tally.NewRootScope(tally.ScopeOptions{
			Tags: map[string]string{
				"service": "agentd",
			},
		}, 1*time.Second)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})

		return rs
	}),
)
