// Package rpc implements the request multiplexer: it correlates asynchronous
// responses to their originating requests via monotonically allocated IDs,
// enforces per-request deadlines, and routes peer-initiated traffic.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	ierrors "github.com/atlaslab/agentd/src/agentd/internal/errors"
	"github.com/atlaslab/agentd/src/agentd/internal/transport"
	"github.com/atlaslab/agentd/src/agentd/internal/wire"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

// DefaultRequestTimeout applies to calls whose context carries no deadline.
const DefaultRequestTimeout = 30 * time.Second

// MethodCancelRequest is the LSP notification sent on local timeout so the
// server can stop working on an abandoned request. Best effort only; the
// local deadline is always enforced regardless.
const MethodCancelRequest = "$/cancelRequest"

// NotificationHandler receives peer notifications in wire order.
type NotificationHandler func(ctx context.Context, notif *wire.Notification)

// RequestHandler serves peer-initiated requests. The returned value or error
// becomes the response.
type RequestHandler func(ctx context.Context, req *wire.Request) (interface{}, error)

// Conn multiplexes concurrent calls over a single Transport.
type Conn struct {
	transport transport.Transport
	logger    *zap.Logger
	stats     tally.Scope
	timeout   time.Duration

	notifHandler NotificationHandler
	reqHandler   RequestHandler
	closeHandler func(err error)

	mu       sync.Mutex
	nextID   int32
	pending  map[jsonrpc2.ID]*pendingCall
	closed   bool
	closeErr error
}

// pendingCall is one in-flight outbound request. It is resolved exactly
// once; late deliveries are dropped by the once guard and by removal from
// the pending table.
type pendingCall struct {
	method      string
	submittedAt time.Time

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func (p *pendingCall) resolve(result json.RawMessage, err error) bool {
	resolved := false
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
		resolved = true
	})
	return resolved
}

// Option customizes a Conn.
type Option func(*Conn)

// WithRequestTimeout overrides the default per-call timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.timeout = d
	}
}

// WithStats attaches a metrics scope for in-flight and timeout counters.
func WithStats(stats tally.Scope) Option {
	return func(c *Conn) {
		c.stats = stats
	}
}

// WithNotificationHandler routes peer notifications (e.g. diagnostics).
func WithNotificationHandler(h NotificationHandler) Option {
	return func(c *Conn) {
		c.notifHandler = h
	}
}

// WithRequestHandler routes peer-initiated requests.
func WithRequestHandler(h RequestHandler) Option {
	return func(c *Conn) {
		c.reqHandler = h
	}
}

// WithCloseHandler is invoked once after the transport closes and every
// outstanding call has been failed.
func WithCloseHandler(h func(err error)) Option {
	return func(c *Conn) {
		c.closeHandler = h
	}
}

// New builds a Conn bound to the transport's message and close callbacks.
// The caller starts and stops the transport; the Conn never outlives it.
func New(t transport.Transport, logger *zap.Logger, opts ...Option) *Conn {
	c := &Conn{
		transport: t,
		logger:    logger,
		stats:     tally.NoopScope,
		timeout:   DefaultRequestTimeout,
		pending:   make(map[jsonrpc2.ID]*pendingCall),
	}
	for _, opt := range opts {
		opt(c)
	}
	t.OnMessage(c.handleMessage)
	t.OnClose(c.handleClose)
	return c
}

// Call sends a request and suspends the caller until the matching response
// arrives, the deadline elapses, or the transport closes. A non-nil result
// receives the unmarshaled response payload. Remote failures are returned
// as *jsonrpc2.Error values.
func (c *Conn) Call(ctx context.Context, method string, params, result interface{}) error {
	req, p, err := c.register(method, params)
	if err != nil {
		return err
	}

	if err := c.transport.Send(ctx, req); err != nil {
		c.remove(req.ID)
		p.resolve(nil, err)
		return err
	}

	timeout := c.timeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		c.remove(req.ID)
		tErr := &ierrors.CallTimeoutError{Method: method, Timeout: timeout}
		if p.resolve(nil, tErr) {
			c.stats.Counter("request_timeouts").Inc(1)
			c.cancelRemote(req.ID)
		}
		<-p.done
	case <-ctx.Done():
		c.remove(req.ID)
		// A caller deadline is a timeout like any other; cancellation is not.
		fail := ctx.Err()
		if errors.Is(fail, context.DeadlineExceeded) {
			fail = &ierrors.CallTimeoutError{Method: method, Timeout: time.Since(p.submittedAt)}
		}
		if p.resolve(nil, fail) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				c.stats.Counter("request_timeouts").Inc(1)
			}
			c.cancelRemote(req.ID)
		}
		<-p.done
	}

	if p.err != nil {
		return p.err
	}
	if result == nil || p.result == nil || bytes.Equal(p.result, []byte("null")) {
		return nil
	}
	return json.Unmarshal(p.result, result)
}

// Notify sends a notification without suspending.
func (c *Conn) Notify(ctx context.Context, method string, params interface{}) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &ierrors.ConnClosedError{Err: c.closeErr}
	}
	c.mu.Unlock()

	notif, err := wire.NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, notif)
}

// register allocates the next ID and records the pending call atomically so
// a fast response can never beat the bookkeeping.
func (c *Conn) register(method string, params interface{}) (*wire.Request, *pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, &ierrors.ConnClosedError{Err: c.closeErr}
	}

	c.nextID++
	id := jsonrpc2.NewNumberID(c.nextID)

	req, err := wire.NewRequest(id, method, params)
	if err != nil {
		return nil, nil, err
	}

	p := &pendingCall{
		method:      method,
		submittedAt: time.Now(),
		done:        make(chan struct{}),
	}
	c.pending[id] = p
	c.stats.Gauge("pending_calls").Update(float64(len(c.pending)))
	return req, p, nil
}

func (c *Conn) remove(id jsonrpc2.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	c.stats.Gauge("pending_calls").Update(float64(len(c.pending)))
}

// cancelRemote tells the server to abandon a timed-out request.
func (c *Conn) cancelRemote(id jsonrpc2.ID) {
	notif, err := wire.NewNotification(MethodCancelRequest, map[string]interface{}{"id": id})
	if err != nil {
		return
	}
	if err := c.transport.Send(context.Background(), notif); err != nil {
		c.logger.Debug("sending cancel", zap.Error(err))
	}
}

// handleMessage is invoked by the transport's read loop.
func (c *Conn) handleMessage(msg wire.Message) {
	switch m := msg.(type) {
	case *wire.Response:
		c.handleResponse(m)
	case *wire.Notification:
		if c.notifHandler != nil {
			c.notifHandler(context.Background(), m)
		}
	case *wire.Request:
		go c.handleRequest(m)
	}
}

func (c *Conn) handleResponse(resp *wire.Response) {
	c.mu.Lock()
	p, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
		c.stats.Gauge("pending_calls").Update(float64(len(c.pending)))
	}
	c.mu.Unlock()

	if !ok {
		// Late or duplicate response; the pending entry is already gone.
		c.logger.Debug("dropping response with no pending call", zap.String("id", fmt.Sprint(resp.ID)))
		return
	}

	var delivered bool
	if resp.Error != nil {
		delivered = p.resolve(nil, resp.Error)
	} else {
		delivered = p.resolve(resp.Result, nil)
	}
	if !delivered {
		c.logger.Debug("dropping response for already resolved call", zap.String("id", fmt.Sprint(resp.ID)))
	}
}

// handleRequest serves a peer-initiated request on its own goroutine so a
// slow handler cannot stall the read loop.
func (c *Conn) handleRequest(req *wire.Request) {
	ctx := context.Background()

	var result interface{}
	var err error
	if c.reqHandler != nil {
		result, err = c.reqHandler(ctx, req)
	} else {
		err = jsonrpc2.NewError(jsonrpc2.MethodNotFound, "no handler for peer requests")
	}

	resp, rerr := wire.NewResponse(req.ID, result, err)
	if rerr != nil {
		c.logger.Warn("building response", zap.Error(rerr))
		return
	}
	if serr := c.transport.Send(ctx, resp); serr != nil {
		c.logger.Debug("sending response", zap.Error(serr))
	}
}

// handleClose fails every outstanding call when the transport dies.
func (c *Conn) handleClose(err error) {
	c.mu.Lock()
	c.closed = true
	c.closeErr = err
	outstanding := c.pending
	c.pending = make(map[jsonrpc2.ID]*pendingCall)
	c.stats.Gauge("pending_calls").Update(0)
	c.mu.Unlock()

	for _, p := range outstanding {
		p.resolve(nil, &ierrors.ConnClosedError{Err: err})
	}

	if c.closeHandler != nil {
		c.closeHandler(err)
	}
}
