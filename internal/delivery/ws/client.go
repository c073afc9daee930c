package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/domain"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// ClientOptions tunes a single connection
type ClientOptions struct {
	QueueSize      int
	MaxMessageSize int64
	FeedInterval   time.Duration // zero disables the telemetry feed
}

// Client represents a single websocket connection. It implements
// domain.Transport: Send only enqueues, the write pump does the I/O.
type Client struct {
	conn *websocket.Conn
	opts ClientOptions

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new Client
func NewClient(conn *websocket.Conn, opts ClientOptions) *Client {
	if opts.QueueSize <= 0 {
		opts.QueueSize = domain.SendQueueSize
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = domain.MaxMessageSize
	}
	return &Client{
		conn: conn,
		opts: opts,
		send: make(chan []byte, opts.QueueSize),
		done: make(chan struct{}),
	}
}

// Send adds a message to the client's send queue. It never blocks.
func (c *Client) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops the pumps. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Run pumps the connection until either side ends it. onFrame is called
// for every inbound text frame, in arrival order, from a single goroutine.
// feed, when set, is polled every FeedInterval and its frame written to
// this connection only.
func (c *Client) Run(ctx context.Context, onFrame func([]byte), feed func() ([]byte, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return c.readPump(gctx, onFrame)
	})
	g.Go(func() error {
		defer cancel()
		return c.writePump(gctx, feed)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-c.done:
			cancel()
		}
		// unblocks the pending ReadMessage
		c.conn.Close()
		return nil
	})
	return g.Wait()
}

// readPump pumps messages from the websocket connection to onFrame
func (c *Client) readPump(ctx context.Context, onFrame func([]byte)) error {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		onFrame(message)
	}
}

// writePump pumps queued messages and feed frames to the websocket connection
func (c *Client) writePump(ctx context.Context, feed func() ([]byte, error)) error {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var tick <-chan time.Time
	if feed != nil && c.opts.FeedInterval > 0 {
		t := time.NewTicker(c.opts.FeedInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return nil

		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return err
			}

		case <-tick:
			frame, err := feed()
			if err != nil {
				slog.Warn("ws: telemetry frame failed", "err", err)
				continue
			}
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return err
			}

		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
	return nil
}
