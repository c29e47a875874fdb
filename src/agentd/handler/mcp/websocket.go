package mcp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/atlaslab/agentd/src/agentd/entity"
	"github.com/atlaslab/agentd/src/agentd/internal/serverinfofile"
	"github.com/atlaslab/agentd/src/agentd/internal/wire"
	"github.com/atlaslab/agentd/src/agentd/mapper"
	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyWebSocketAddress = "server.websocket.address"
	_webSocketPath             = "/mcp"
	_infoKeyWebSocketAddress   = "websocket-address"
)

var _upgrader = websocket.Upgrader{
	// The daemon is a local development tool; agents connect from anywhere
	// on the host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocket serves the agent protocol at /mcp, one connection per agent.
// Messages on one connection are dispatched concurrently; replies are
// serialized per connection.
type WebSocket struct {
	router  *Router
	logger  *zap.SugaredLogger
	stats   tally.Scope
	info    serverinfofile.ServerInfoFile
	address string

	server *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	wg    sync.WaitGroup
}

// WebSocketParams are inbound parameters for the WebSocket inbound.
type WebSocketParams struct {
	fx.In

	Config         config.Provider
	Router         *Router
	Logger         *zap.SugaredLogger
	Stats          tally.Scope
	ServerInfoFile serverinfofile.ServerInfoFile
}

// NewWebSocket builds the WebSocket inbound. It listens only when
// server.websocket.address is configured.
func NewWebSocket(p WebSocketParams, lc fx.Lifecycle) (*WebSocket, error) {
	s := &WebSocket{
		router: p.Router,
		logger: p.Logger,
		stats:  p.Stats,
		info:   p.ServerInfoFile,
		conns:  make(map[*websocket.Conn]struct{}),
	}
	if value := p.Config.Get(_configKeyWebSocketAddress); value.HasValue() {
		if err := value.Populate(&s.address); err != nil {
			return nil, err
		}
	}

	lc.Append(fx.Hook{
		OnStart: s.onStart,
		OnStop:  s.onStop,
	})
	return s, nil
}

func (s *WebSocket) onStart(ctx context.Context) error {
	if s.address == "" {
		return nil
	}

	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	if err := s.info.UpdateField(_infoKeyWebSocketAddress, ln.Addr().String()); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(_webSocketPath, s.handleUpgrade)
	s.server = &http.Server{Handler: mux}

	s.logger.Infow("serving agent protocol on WebSocket", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("WebSocket inbound failed", "error", err)
		}
	}()
	return nil
}

func (s *WebSocket) onStop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)

	// Shutdown does not touch hijacked connections; close them explicitly.
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *WebSocket) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := _upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("upgrade failed", "error", err)
		return
	}

	id := uuid.Must(uuid.NewV4())
	ctx := context.WithValue(context.Background(), entity.ConnectionContextKey, id)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.stats.Gauge("websocket_connections").Update(float64(len(s.conns)))
	s.mu.Unlock()
	s.logger.Infow("agent connected", "uuid", id.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serveConn(ctx, conn)

		s.mu.Lock()
		delete(s.conns, conn)
		s.stats.Gauge("websocket_connections").Update(float64(len(s.conns)))
		s.mu.Unlock()
		s.logger.Infow("agent disconnected", "uuid", id.String())
	}()
}

// serveConn pumps one connection. Each request is handled on its own
// goroutine; a write mutex keeps replies whole.
func (s *WebSocket) serveConn(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	var writeMu sync.Mutex
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			s.logger.Warnw("rejecting undecodable message", "error", err)
			resp := &wire.Response{Error: mapper.ErrorToJSONRPC(err)}
			payload, eerr := wire.Encode(resp)
			if eerr != nil {
				s.logger.Errorw("encoding error response", "error", eerr)
				continue
			}
			writeMu.Lock()
			if werr := conn.WriteMessage(websocket.TextMessage, payload); werr != nil {
				s.logger.Debugw("writing error response", "error", werr)
			}
			writeMu.Unlock()
			continue
		}

		switch m := msg.(type) {
		case *wire.Request:
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				result, herr := s.router.HandleRequest(ctx, m)
				resp, rerr := wire.NewResponse(m.ID, result, herr)
				if rerr != nil {
					s.logger.Errorw("building response", "error", rerr)
					return
				}
				payload, eerr := wire.Encode(resp)
				if eerr != nil {
					s.logger.Errorw("encoding response", "error", eerr)
					return
				}
				writeMu.Lock()
				defer writeMu.Unlock()
				if werr := conn.WriteMessage(websocket.TextMessage, payload); werr != nil {
					s.logger.Debugw("writing response", "error", werr)
				}
			}()
		case *wire.Notification:
			s.router.HandleNotification(ctx, m)
		case *wire.Response:
			s.logger.Debugw("ignoring unexpected response", "id", fmt.Sprint(m.ID))
		}
	}
}
