package sink

import (
	"context"
	"log/slog"
	"market-chat/domain"
	"market-chat/domain/event"
	"market-chat/errors"
	"market-chat/observability"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	DefaultBufferSize   = 64
	DefaultWriteTimeout = 5 * time.Second
)

// Transport is the network side of a connection.
type Transport interface {
	Write(ctx context.Context, e event.Event) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

type wsTransport struct {
	conn *websocket.Conn
}

// NewWebsocketTransport writes events as JSON text frames on conn.
func NewWebsocketTransport(conn *websocket.Conn) Transport {
	return wsTransport{conn: conn}
}

func (t wsTransport) Write(ctx context.Context, e event.Event) error {
	return wsjson.Write(ctx, t.conn, e)
}

func (t wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t wsTransport) Close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}

type Options struct {
	BufferSize   int
	WriteTimeout time.Duration
	// PingInterval disables keep-alive pings when zero.
	PingInterval time.Duration
}

// WebsocketSink decouples event producers from the socket of one connection.
// Consume only enqueues into a bounded buffer; a single writer goroutine (Run)
// drains it to the transport, so frames reach the client in Consume order.
// A connection whose buffer is full is closed instead of slowing down the
// producers.
type WebsocketSink struct {
	id         domain.ConnectionID
	transport  Transport
	log        *slog.Logger
	monitoring *observability.MonitoringManager
	opts       Options

	// outbound is never closed; ctx tells producers and the writer to stop.
	outbound  chan event.Event
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func NewWebsocketSink(
	id domain.ConnectionID,
	transport Transport,
	log *slog.Logger,
	monitoring *observability.MonitoringManager,
	opts Options,
) *WebsocketSink {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebsocketSink{
		id:         id,
		transport:  transport,
		log:        log.With("connection_id", id),
		monitoring: monitoring,
		opts:       opts,
		outbound:   make(chan event.Event, opts.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (s *WebsocketSink) ID() domain.ConnectionID {
	return s.id
}

// Consume enqueues e without blocking.
func (s *WebsocketSink) Consume(_ context.Context, e event.Event) error {
	if s.ctx.Err() != nil {
		return errors.ErrConnectionClosed
	}
	select {
	case s.outbound <- e:
		return nil
	default:
		s.monitoring.IncrSlowConsumer()
		s.log.Warn("Outbound buffer full, closing connection", "buffer", s.opts.BufferSize)
		go func() { _ = s.closeWith(websocket.StatusPolicyViolation, "slow consumer") }()
		return errors.ErrSlowConsumer
	}
}

// Run writes queued events until the sink is closed, ctx is cancelled or the
// transport fails.
func (s *WebsocketSink) Run(ctx context.Context) error {
	defer close(s.done)

	var ping <-chan time.Time
	if s.opts.PingInterval > 0 {
		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = s.closeWith(websocket.StatusGoingAway, "server shutting down")
			return nil
		case <-s.ctx.Done():
			return nil
		case e := <-s.outbound:
			if err := s.write(e); err != nil {
				if s.ctx.Err() == nil {
					s.log.Debug("Write failed, closing connection", "error", err)
				}
				_ = s.closeWith(websocket.StatusInternalError, "write failed")
				return err
			}
		case <-ping:
			pingCtx, cancel := context.WithTimeout(s.ctx, s.opts.WriteTimeout)
			err := s.transport.Ping(pingCtx)
			cancel()
			if err != nil {
				s.log.Debug("Ping failed, closing connection", "error", err)
				_ = s.closeWith(websocket.StatusPolicyViolation, "ping timeout")
				return err
			}
		}
	}
}

func (s *WebsocketSink) write(e event.Event) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.WriteTimeout)
	defer cancel()
	return s.transport.Write(ctx, e)
}

// Close stops the writer and closes the transport. Calling it again is a no-op.
func (s *WebsocketSink) Close() error {
	return s.closeWith(websocket.StatusNormalClosure, "")
}

func (s *WebsocketSink) closeWith(code websocket.StatusCode, reason string) error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.transport.Close(code, reason)
	})
	return s.closeErr
}

// Done is closed once Run has returned.
func (s *WebsocketSink) Done() <-chan struct{} {
	return s.done
}
