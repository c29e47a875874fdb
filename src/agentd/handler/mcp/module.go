package mcp

import (
	"go.uber.org/fx"
)

// Module provides the inbound protocol surface into an Fx application.
var Module = fx.Options(
	fx.Provide(NewRouter),
	fx.Provide(NewStdio),
	fx.Provide(NewWebSocket),
	fx.Provide(NewTCP),
	fx.Invoke(func(s *Stdio) {}),
	fx.Invoke(func(s *WebSocket) {}),
	fx.Invoke(func(t *TCP) {}),
)
