// Package ws implements the transport contract over a WebSocket connection.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/manash/maskopt/internal/transport"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultOutboxSize   = 64
)

type Config struct {
	URL          string
	Token        string
	PingInterval time.Duration
	WriteTimeout time.Duration
	OutboxSize   int
	Dialer       *websocket.Dialer
	Logger       zerolog.Logger
}

// Client is a WebSocket transport. Writes go through a single writer
// goroutine; reads are delivered to the registered handler in arrival order.
type Client struct {
	id     string
	conn   *websocket.Conn
	cfg    Config
	log    zerolog.Logger
	outbox chan []byte

	mu      sync.RWMutex
	handler transport.Handler

	// closeMu orders Send against Close: no frame is queued once done is closed.
	closeMu   sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Client)(nil)

// Dial connects to the generation server.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("server URL is required")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = DefaultOutboxSize
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s (status %d): %w", cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}

	id := uuid.New().String()
	c := &Client{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		log:    cfg.Logger.With().Str("conn_id", id).Logger(),
		outbox: make(chan []byte, cfg.OutboxSize),
		done:   make(chan struct{}),
	}
	c.log.Info().Str("url", cfg.URL).Msg("connected")
	return c, nil
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) OnMessage(h transport.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Send frames and queues a command without blocking.
func (c *Client) Send(command string, payload any) error {
	frame, err := transport.EncodeCommand(command, payload)
	if err != nil {
		return err
	}

	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.isClosed() {
		return transport.ErrClosed
	}

	select {
	case c.outbox <- frame:
		c.log.Debug().Str("command", command).Int("bytes", len(frame)).Msg("command queued")
		return nil
	default:
		return fmt.Errorf("%w: dropping %s", transport.ErrOutboxFull, command)
	}
}

// Run pumps the connection until ctx is cancelled or the connection fails.
// It returns nil on a local shutdown or a normal server close.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			c.Close()
		case <-c.done:
		}
		return nil
	})
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(c.readLoop)

	return g.Wait()
}

func (c *Client) readLoop() error {
	pongWait := 2 * c.cfg.PingInterval
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.isClosed() {
				c.log.Info().Msg("connection closed")
				c.Close()
				return nil
			}
			c.log.Error().Err(err).Msg("read failed")
			return fmt.Errorf("read failed: %w", err)
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		c.mu.RLock()
		h := c.handler
		c.mu.RUnlock()
		if h == nil {
			c.log.Warn().Msg("message received before a handler was registered")
			continue
		}
		h(data)
	}
}

func (c *Client) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case frame := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if c.isClosed() {
					return nil
				}
				c.log.Error().Err(err).Msg("write failed")
				return fmt.Errorf("write failed: %w", err)
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if c.isClosed() {
					return nil
				}
				return fmt.Errorf("ping failed: %w", err)
			}
		}
	}
}

// Close sends a close frame and tears down the connection. Safe to call twice.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		close(c.done)
		c.closeMu.Unlock()
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"), deadline)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
