package mcp

import (
	"context"
	"errors"
	"net"

	"github.com/atlaslab/agentd/src/agentd/entity"
	"github.com/atlaslab/agentd/src/agentd/internal/serverinfofile"
	"github.com/atlaslab/agentd/src/agentd/internal/wire"
	"github.com/gofrs/uuid"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyTCPAddress = "server.tcp.address"
	_infoKeyTCPAddress   = "tcp-address"
)

// TCP serves the agent protocol over raw TCP with Content-Length framing,
// for clients that speak LSP-style byte streams rather than WebSocket.
type TCP struct {
	router  *Router
	logger  *zap.SugaredLogger
	info    serverinfofile.ServerInfoFile
	address string

	ln *net.TCPListener
}

// TCPParams are inbound parameters for the TCP inbound.
type TCPParams struct {
	fx.In

	Config         config.Provider
	Router         *Router
	Logger         *zap.SugaredLogger
	ServerInfoFile serverinfofile.ServerInfoFile
}

// NewTCP builds the TCP inbound. It listens only when server.tcp.address is
// configured.
func NewTCP(p TCPParams, lc fx.Lifecycle) (*TCP, error) {
	t := &TCP{
		router: p.Router,
		logger: p.Logger,
		info:   p.ServerInfoFile,
	}
	if value := p.Config.Get(_configKeyTCPAddress); value.HasValue() {
		if err := value.Populate(&t.address); err != nil {
			return nil, err
		}
	}

	lc.Append(fx.Hook{
		OnStart: t.onStart,
		OnStop:  t.onStop,
	})
	return t, nil
}

func (t *TCP) onStart(ctx context.Context) error {
	if t.address == "" {
		return nil
	}

	addr, err := net.ResolveTCPAddr("tcp", t.address)
	if err != nil {
		return err
	}
	t.ln, err = net.ListenTCP("tcp", addr)
	if err != nil {
		return err
	}
	if err := t.info.UpdateField(_infoKeyTCPAddress, t.ln.Addr().String()); err != nil {
		return err
	}

	t.logger.Infow("serving agent protocol on TCP", "address", t.ln.Addr().String())
	go func() {
		if err := jsonrpc2.Serve(context.Background(), t.ln, t, 0); err != nil && !errors.Is(err, net.ErrClosed) {
			t.logger.Errorw("TCP inbound failed", "error", err)
		}
	}()
	return nil
}

func (t *TCP) onStop(ctx context.Context) error {
	if t.ln == nil {
		return nil
	}
	return t.ln.Close()
}

// ServeStream handles one accepted connection until the peer disconnects.
func (t *TCP) ServeStream(ctx context.Context, conn jsonrpc2.Conn) error {
	id := uuid.Must(uuid.NewV4())
	ctx = context.WithValue(ctx, entity.ConnectionContextKey, id)

	t.logger.Infow("agent connected", "uuid", id.String())
	conn.Go(ctx, t.handle)
	<-conn.Done()
	t.logger.Infow("agent disconnected", "uuid", id.String())
	return conn.Err()
}

// handle bridges one jsonrpc2 message into the shared router.
func (t *TCP) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	call, ok := req.(*jsonrpc2.Call)
	if !ok {
		t.router.HandleNotification(ctx, &wire.Notification{Method: req.Method(), Params: req.Params()})
		return reply(ctx, nil, nil)
	}

	result, err := t.router.HandleRequest(ctx, &wire.Request{
		ID:     call.ID(),
		Method: req.Method(),
		Params: req.Params(),
	})
	return reply(ctx, result, err)
}
