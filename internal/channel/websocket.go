package channel

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	zenerrors "zen/internal/errors"
	"zen/internal/event"
	"zen/internal/logging"
)

const (
	defaultSendQueueSize = 64
	defaultWriteTimeout  = 10 * time.Second
	pingInterval         = 30 * time.Second
)

// WebSocketChannel is the gorilla/websocket EventChannel. A single writer
// goroutine drains the send queue, so Send never touches the conn directly
// and concurrent senders keep FIFO order per channel.
type WebSocketChannel struct {
	conn     *websocket.Conn
	clientID string
	userID   string
	threadID string

	sendQueue    chan event.Event
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       logging.Logger
}

// WebSocketOption configures a WebSocketChannel.
type WebSocketOption func(*WebSocketChannel)

// WithSendQueueSize bounds the outbound queue.
func WithSendQueueSize(n int) WebSocketOption {
	return func(c *WebSocketChannel) {
		if n > 0 {
			c.sendQueue = make(chan event.Event, n)
		}
	}
}

// WithWriteTimeout sets the per-send deadline.
func WithWriteTimeout(d time.Duration) WebSocketOption {
	return func(c *WebSocketChannel) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithChannelLogger sets the channel logger.
func WithChannelLogger(logger logging.Logger) WebSocketOption {
	return func(c *WebSocketChannel) { c.logger = logging.OrNop(logger) }
}

// NewWebSocketChannel wraps an upgraded connection for the given owner and
// starts the writer goroutine. The channel takes ownership of the conn's
// write side.
func NewWebSocketChannel(conn *websocket.Conn, clientID, userID, threadID string, opts ...WebSocketOption) *WebSocketChannel {
	c := &WebSocketChannel{
		conn:         conn,
		clientID:     clientID,
		userID:       userID,
		threadID:     threadID,
		sendQueue:    make(chan event.Event, defaultSendQueueSize),
		done:         make(chan struct{}),
		writeTimeout: defaultWriteTimeout,
		logger:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.writePump()
	return c
}

// Send enqueues the event for transmission. It fails with
// ChannelClosedError once the channel is closed and ChannelTimeoutError when
// the queue stays full past the write timeout.
func (c *WebSocketChannel) Send(ctx context.Context, ev event.Event) error {
	select {
	case <-c.done:
		return &zenerrors.ChannelClosedError{UserID: c.userID, ThreadID: c.threadID}
	default:
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.sendQueue <- ev:
		return nil
	case <-c.done:
		return &zenerrors.ChannelClosedError{UserID: c.userID, ThreadID: c.threadID}
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &zenerrors.ChannelTimeoutError{UserID: c.userID, ThreadID: c.threadID, Timeout: c.writeTimeout}
	}
}

// Close shuts the channel down and releases the connection. Idempotent.
func (c *WebSocketChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
		c.logger.Debug("channel closed: client=%s user=%s thread=%s", c.clientID, c.userID, c.threadID)
	})
	return nil
}

// Done reports channel shutdown.
func (c *WebSocketChannel) Done() <-chan struct{} { return c.done }

// ClientID returns the connection identifier.
func (c *WebSocketChannel) ClientID() string { return c.clientID }

func (c *WebSocketChannel) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.sendQueue:
			data, err := ev.Marshal()
			if err != nil {
				c.logger.Error("dropping unserializable event %s: %v", ev.ID, err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("write failed for client %s: %v", c.clientID, err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed for client %s: %v", c.clientID, err)
				c.Close()
				return
			}
		}
	}
}
