package usecase

import (
	"context"
	"sync"

	"BarPulse/internal/domain/models"
	domrepo "BarPulse/internal/domain/repository"
	"BarPulse/pkg/logger"
)

// Acceptor is where collected bars go (the ingest guard).
type Acceptor interface {
	Accept(ctx context.Context, bar *models.Bar) error
}

// BarCollector drives the WebSocket feed: connect, subscribe, read, and
// reconnect on stream failure until the context is cancelled.
type BarCollector struct {
	stream domrepo.BarStream
	accept Acceptor
	log    *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewBarCollector wires the stream to the ingest guard.
func NewBarCollector(stream domrepo.BarStream, accept Acceptor, log *logger.Logger) *BarCollector {
	return &BarCollector{stream: stream, accept: accept, log: log}
}

// Start connects and blocks reading bars until ctx is cancelled. Stream
// errors trigger reconnection rather than exit.
func (c *BarCollector) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.stopped = make(chan struct{})
	c.mu.Unlock()
	defer close(c.stopped)

	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}

	for {
		bars, errs := c.stream.Read(ctx)
	readLoop:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case bar, ok := <-bars:
				if !ok {
					break readLoop
				}
				if bar == nil {
					continue
				}
				if err := c.accept.Accept(ctx, bar); err != nil && c.log != nil {
					c.log.Debug("bar not accepted",
						logger.String("symbol", bar.Symbol),
						logger.Error(err),
					)
				}
			case err, ok := <-errs:
				if !ok {
					break readLoop
				}
				if err != nil && c.log != nil {
					c.log.Warn("stream error", logger.Error(err))
				}
				break readLoop
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if c.log != nil {
			c.log.Info("reconnecting bar stream")
		}
		if err := c.stream.Reconnect(ctx); err != nil {
			if c.log != nil {
				c.log.Error("reconnect failed", logger.Error(err))
			}
			// Reconnect sleeps internally; loop and try again.
		}
	}
}

// Shutdown stops the read loop and closes the stream.
func (c *BarCollector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	stopped := c.stopped
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		select {
		case <-stopped:
		case <-ctx.Done():
		}
	}
	return c.stream.Close()
}
