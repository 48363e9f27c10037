package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/paserver/internal/observability"
	"github.com/ent0n29/paserver/internal/protocol"
)

const (
	maxFrameBytes = 2 << 20
	readTimeout   = 120 * time.Second
	writeTimeout  = 10 * time.Second
	pingInterval  = 45 * time.Second
	outboundQueue = 64
)

var errConnClosed = errors.New("connection closed")

// wsConn is one websocket client. All writes go through a single writer
// goroutine so frames leave in the order Emit accepted them.
type wsConn struct {
	id      string
	ws      *websocket.Conn
	metrics *observability.Metrics
	logger  *slog.Logger

	out       chan protocol.Outbound
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, metrics *observability.Metrics, logger *slog.Logger) *wsConn {
	return &wsConn{
		id:      uuid.NewString(),
		ws:      ws,
		metrics: metrics,
		logger:  logger,
		out:     make(chan protocol.Outbound, outboundQueue),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Emit queues one frame, waiting while the queue is full.
func (c *wsConn) Emit(ctx context.Context, event protocol.Event, data any) error {
	select {
	case <-c.closing:
		return errConnClosed
	default:
	}
	select {
	case c.out <- protocol.Outbound{Event: event, Data: data}:
		return nil
	case <-c.closing:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting frames. Frames already queued are flushed before the
// socket closes. Safe to call more than once.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	return nil
}

// Done is closed once the writer has shut the socket.
func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) writeLoop() {
	defer close(c.done)
	defer c.ws.Close()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				c.logger.Debug("websocket write failed", "conn", c.id, "event", msg.Event, "error", err)
				c.Close()
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.Close()
				return
			}
		case <-c.closing:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (c *wsConn) flush() {
	for {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(msg protocol.Outbound) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.WSMessages.WithLabelValues("outbound", string(msg.Event)).Inc()
	}
	return nil
}
