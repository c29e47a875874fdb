// Package transport owns the byte-level channel carrying encoded messages:
// a framed stream plus a background read loop, and a subprocess variant that
// binds the stream to a spawned language server.
package transport

import (
	"context"
	"io"
	"sync"

	ierrors "github.com/atlaslab/agentd/src/agentd/internal/errors"
	"github.com/atlaslab/agentd/src/agentd/internal/wire"
	"go.uber.org/zap"
)

// Handler receives each decoded inbound message, in wire order, from the
// read loop goroutine.
type Handler func(msg wire.Message)

// CloseHandler is invoked exactly once when the transport stops delivering
// messages. err is nil for an explicit Stop and non-nil when the stream
// failed or the peer went away.
type CloseHandler func(err error)

// Transport is a running duplex message channel.
type Transport interface {
	// Start begins the background read loop. Register handlers first.
	Start(ctx context.Context) error
	// Send writes one message. Frames of concurrent senders never interleave.
	Send(ctx context.Context, msg wire.Message) error
	// Stop closes the channel and releases resources. Idempotent.
	Stop(ctx context.Context) error
	// OnMessage registers the inbound message handler.
	OnMessage(h Handler)
	// OnClose registers the close callback.
	OnClose(h CloseHandler)
}

// Stream is a Transport over an arbitrary byte stream and framing.
type Stream struct {
	reader wire.Reader
	writer wire.Writer
	closer io.Closer
	logger *zap.Logger

	writeMu sync.Mutex
	handler Handler
	closeFn CloseHandler

	mu        sync.Mutex
	started   bool
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

var _ Transport = (*Stream)(nil)

// NewStream builds a Stream over the given reader/writer pair. closer is
// closed on Stop and may be nil.
func NewStream(r io.Reader, w io.Writer, closer io.Closer, framer wire.Framer, logger *zap.Logger) *Stream {
	return &Stream{
		reader: framer.Reader(r),
		writer: framer.Writer(w),
		closer: closer,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// OnMessage registers the inbound message handler. Must be called before Start.
func (s *Stream) OnMessage(h Handler) {
	s.handler = h
}

// OnClose registers the close callback. Must be called before Start.
func (s *Stream) OnClose(h CloseHandler) {
	s.closeFn = h
}

// Start launches the background read loop.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &ierrors.ConnClosedError{}
	}
	if s.started {
		return ierrors.New("transport already started")
	}
	s.started = true
	go s.readLoop()
	return nil
}

// readLoop delivers inbound messages until the stream closes or fails.
func (s *Stream) readLoop() {
	defer close(s.done)
	for {
		msg, err := s.reader.Read()
		if err != nil {
			if ierrors.IsClosed(err) {
				s.close(nil)
			} else {
				s.logger.Warn("read loop terminating", zap.Error(err))
				s.close(err)
			}
			return
		}
		if s.handler != nil {
			s.handler(msg)
		}
	}
}

// Send writes one message under the write mutex so that a message's frame is
// never interleaved with another sender's.
func (s *Stream) Send(ctx context.Context, msg wire.Message) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return &ierrors.ConnClosedError{}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writer.Write(msg)
}

// Stop closes the underlying stream. The read loop then drains out and the
// close callback fires.
func (s *Stream) Stop(ctx context.Context) error {
	s.close(nil)
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Done is closed once the read loop has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) close(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.closer != nil {
			if cerr := s.closer.Close(); cerr != nil {
				s.logger.Debug("closing stream", zap.Error(cerr))
			}
		}
		if s.closeFn != nil {
			s.closeFn(err)
		}
	})
}
