package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	ierrors "github.com/atlaslab/agentd/src/agentd/internal/errors"
	"github.com/atlaslab/agentd/src/agentd/internal/wire"
	"github.com/atlaslab/agentd/src/agentd/mapper"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const _configKeyStdio = "server.stdio"

// Stdio serves the agent protocol over the daemon's own stdin/stdout as
// newline-delimited JSON. Requests are handled strictly in arrival order, so
// replies never interleave.
type Stdio struct {
	router  *Router
	logger  *zap.SugaredLogger
	enabled bool

	in  io.Reader
	out io.Writer
}

// StdioParams are inbound parameters for the stdio inbound.
type StdioParams struct {
	fx.In

	Config config.Provider
	Router *Router
	Logger *zap.SugaredLogger
}

// NewStdio builds the stdio inbound. It serves only when server.stdio is
// enabled in config.
func NewStdio(p StdioParams, lc fx.Lifecycle, shutdowner fx.Shutdowner) (*Stdio, error) {
	s := &Stdio{
		router: p.Router,
		logger: p.Logger,
		in:     os.Stdin,
		out:    os.Stdout,
	}
	if value := p.Config.Get(_configKeyStdio); value.HasValue() {
		if err := value.Populate(&s.enabled); err != nil {
			return nil, err
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !s.enabled {
				return nil
			}
			go func() {
				if err := s.Run(context.Background()); err != nil {
					s.logger.Errorw("stdio inbound failed", "error", err)
				}
				// stdin EOF means the host is gone; wind the daemon down.
				if err := shutdowner.Shutdown(); err != nil {
					s.logger.Warnw("shutdown request failed", "error", err)
				}
			}()
			return nil
		},
	})
	return s, nil
}

// Run reads messages until the input stream ends. Exported for tests; the
// lifecycle hook runs it against the real stdio.
func (s *Stdio) Run(ctx context.Context) error {
	framer := wire.NDJSONFramer{}
	reader := framer.Reader(s.in)
	writer := framer.Writer(s.out)

	s.logger.Infow("serving agent protocol on stdio")
	for {
		msg, err := reader.Read()
		if err != nil {
			if ierrors.IsClosed(err) {
				return nil
			}
			var decodeErr *wire.DecodeError
			if errors.As(err, &decodeErr) {
				// No request ID to echo back; the error response carries a
				// zero ID per JSON-RPC convention.
				s.logger.Warnw("rejecting undecodable message", "error", err)
				resp := &wire.Response{Error: mapper.ErrorToJSONRPC(err)}
				if werr := writer.Write(resp); werr != nil {
					return werr
				}
				continue
			}
			return err
		}

		switch m := msg.(type) {
		case *wire.Request:
			result, herr := s.router.HandleRequest(ctx, m)
			resp, rerr := wire.NewResponse(m.ID, result, herr)
			if rerr != nil {
				s.logger.Errorw("building response", "error", rerr)
				continue
			}
			if werr := writer.Write(resp); werr != nil {
				return werr
			}
		case *wire.Notification:
			s.router.HandleNotification(ctx, m)
		case *wire.Response:
			s.logger.Debugw("ignoring unexpected response", "id", fmt.Sprint(m.ID))
		}
	}
}
