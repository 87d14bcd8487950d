// Package stream implements the WebSocket bar feed.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"BarPulse/internal/domain/models"
	domrepo "BarPulse/internal/domain/repository"
	"BarPulse/pkg/logger"
	"BarPulse/pkg/util"
)

// Client implements BarStream over a WebSocket feed that pushes closed bars
// as JSON frames.
type Client struct {
	token          string
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

var _ domrepo.BarStream = (*Client)(nil)

// New creates a bar stream client.
func New(token, websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) *Client {
	return &Client{
		token:          token,
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := c.websocketURL
	if c.token != "" {
		u = fmt.Sprintf("%s?token=%s", c.websocketURL, c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	if c.log != nil {
		c.log.Info("bar stream connected", logger.String("url", c.websocketURL))
	}
	return nil
}

// Subscribe subscribes to bars for the configured symbols on every supported
// timeframe.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	ok := c.connected
	c.mu.Unlock()
	if conn == nil || !ok {
		return fmt.Errorf("stream not connected")
	}
	for _, s := range c.symbols {
		msg := map[string]interface{}{
			"type":       "subscribe",
			"symbol":     s,
			"timeframes": timeframeStrings(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		if c.log != nil {
			c.log.Info("subscribed", logger.String("symbol", s))
		}
	}
	return nil
}

func timeframeStrings() []string {
	tfs := domrepo.AllTimeframes()
	out := make([]string, len(tfs))
	for i, tf := range tfs {
		out[i] = string(tf)
	}
	return out
}

type wsFrame struct {
	Type string       `json:"type"`
	Data []models.Bar `json:"data"`
}

// Read streams bar events and errors. Both channels close when the read loop
// exits; the caller decides whether to Reconnect.
func (c *Client) Read(ctx context.Context) (<-chan *models.Bar, <-chan error) {
	bars := make(chan *models.Bar, 1024)
	errs := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				conn := c.conn
				c.mu.Unlock()
				if conn != nil {
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	go func() {
		defer close(bars)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				errs <- fmt.Errorf("stream conn nil")
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("stream read: %w", err)
				return
			}
			var frame wsFrame
			if err := json.Unmarshal(b, &frame); err != nil {
				// ignore non-bar frames
				continue
			}
			if frame.Type != "bar" {
				continue
			}
			for i := range frame.Data {
				bar := frame.Data[i]
				if bar.Timestamp > 1e12 {
					bar.Timestamp /= 1000 // ms feed
				}
				// Some feeds stamp bars with the close tick, not the bar
				// open. Snap to the timeframe boundary so ring timestamps
				// stay aligned.
				aligned, _ := util.AlignFromTo(bar.Time(), bar.Time(), bar.Timeframe)
				bar.Timestamp = aligned.Unix()
				select {
				case bars <- &bar:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return bars, errs
}

// Reconnect closes and reconnects, then resubscribes.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected reports connection status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
