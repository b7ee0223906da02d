// Package transport maintains the persistent websocket channel to the analysis backend.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"livemeet/internal/protocol"
)

var (
	// ErrTransportClosed is returned when sending without a ready connection.
	ErrTransportClosed = errors.New("transport is closed")
	// ErrSendQueueFull is returned when the outbound queue cannot take another message.
	ErrSendQueueFull = errors.New("transport send queue is full")
	// ErrChannelShutdown is returned by Connect after Close.
	ErrChannelShutdown = errors.New("transport channel has been shut down")
)

// ReconnectConfig controls exponential backoff for Reconnect.
type ReconnectConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Config controls the websocket channel.
type Config struct {
	URL          string
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	Reconnect    ReconnectConfig
	Dialer       *websocket.Dialer
}

// Channel is a single logical websocket connection. It implements ports.Transport.
type Channel struct {
	cfg    Config
	logger zerolog.Logger

	inbound chan protocol.Inbound
	loops   sync.WaitGroup

	mu            sync.Mutex
	current       *connection
	shutdown      bool
	onStateChange func(ready bool)
}

func New(cfg Config, logger zerolog.Logger) *Channel {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 8
	}
	if cfg.Reconnect.MaxRetries <= 0 {
		cfg.Reconnect.MaxRetries = 5
	}
	if cfg.Reconnect.BaseDelay <= 0 {
		cfg.Reconnect.BaseDelay = time.Second
	}
	if cfg.Reconnect.MaxDelay <= 0 {
		cfg.Reconnect.MaxDelay = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Channel{
		cfg:     cfg,
		logger:  logger.With().Str("component", "transport").Logger(),
		inbound: make(chan protocol.Inbound, 64),
	}
}

// OnStateChange registers a callback invoked whenever readiness flips.
func (c *Channel) OnStateChange(fn func(ready bool)) {
	c.mu.Lock()
	c.onStateChange = fn
	c.mu.Unlock()
}

// Inbound delivers decoded backend messages in arrival order. It is closed by Close.
func (c *Channel) Inbound() <-chan protocol.Inbound {
	return c.inbound
}

func (c *Channel) Ready() bool {
	c.mu.Lock()
	conn := c.current
	c.mu.Unlock()
	return conn != nil && !conn.isClosed()
}

// Connect dials the backend if no connection is ready.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return ErrChannelShutdown
	}
	if c.current != nil && !c.current.isClosed() {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ws, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to backend websocket: %w", err)
	}

	conn := &connection{
		ws:       ws,
		outbound: make(chan []byte, c.cfg.SendBuffer),
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrChannelShutdown
	}
	if c.current != nil && !c.current.isClosed() {
		c.mu.Unlock()
		_ = ws.Close()
		return nil
	}
	c.current = conn
	notify := c.onStateChange
	c.loops.Add(2)
	c.mu.Unlock()

	conn.wg.Add(2)
	go c.readLoop(conn)
	go c.writeLoop(conn)
	go func() {
		conn.wg.Wait()
		c.mu.Lock()
		if c.current == conn {
			c.current = nil
		}
		notify := c.onStateChange
		c.mu.Unlock()

		if err := conn.waitErr(); err != nil {
			c.logger.Warn().Err(err).Msg("backend connection closed")
		} else {
			c.logger.Info().Msg("backend connection closed")
		}
		if notify != nil {
			notify(false)
		}
	}()

	c.logger.Info().Str("url", c.cfg.URL).Msg("backend connection established")
	if notify != nil {
		notify(true)
	}
	return nil
}

// Reconnect retries Connect with exponential backoff until it succeeds,
// retries are exhausted, or ctx ends.
func (c *Channel) Reconnect(ctx context.Context) error {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrChannelShutdown) {
			return err
		}

		attempts++
		if attempts > c.cfg.Reconnect.MaxRetries {
			return fmt.Errorf("reconnect failed after %d attempts: %w", c.cfg.Reconnect.MaxRetries, err)
		}

		delay := backoff(attempts, c.cfg.Reconnect)
		c.logger.Warn().Err(err).Int("attempt", attempts).Dur("delay", delay).Msg("retrying backend connection")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// backoff returns base * 2^(attempt-1), capped at max.
func backoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	if delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}

// Send enqueues msg without blocking.
func (c *Channel) Send(msg protocol.Outbound) error {
	c.mu.Lock()
	conn := c.current
	c.mu.Unlock()
	if conn == nil || conn.isClosed() {
		return ErrTransportClosed
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}

	select {
	case <-conn.done:
		return ErrTransportClosed
	default:
	}
	select {
	case conn.outbound <- payload:
		return nil
	case <-conn.done:
		return ErrTransportClosed
	default:
		return ErrSendQueueFull
	}
}

// Close closes the current connection and the inbound channel. The channel
// cannot be reconnected afterwards.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	conn := c.current
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.closeGracefully(c.cfg.WriteTimeout)
	}
	c.loops.Wait()
	close(c.inbound)
	return err
}

func (c *Channel) readLoop(conn *connection) {
	defer c.loops.Done()
	defer conn.wg.Done()
	defer conn.shutdown()

	_ = conn.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			if !conn.isClosed() {
				conn.setErr("failed to read backend message", err)
			}
			return
		}

		msg, err := protocol.DecodeInbound(payload)
		if err != nil {
			c.logger.Warn().Err(err).Int("bytes", len(payload)).Msg("skipping malformed backend message")
			continue
		}

		select {
		case c.inbound <- msg:
		case <-conn.done:
			return
		}
	}
}

func (c *Channel) writeLoop(conn *connection) {
	defer c.loops.Done()
	defer conn.wg.Done()
	defer conn.shutdown()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-conn.outbound:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				conn.setErr("failed to send message", err)
				return
			}
		case <-ticker.C:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.setErr("failed to send ping", err)
				return
			}
		case <-conn.done:
			return
		}
	}
}

type connection struct {
	ws       *websocket.Conn
	outbound chan []byte
	done     chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (c *connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *connection) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *connection) closeGracefully(timeout time.Duration) error {
	if c.ws != nil && !c.isClosed() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	}
	c.shutdown()
	c.wg.Wait()
	return c.waitErr()
}

func (c *connection) waitErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *connection) setErr(op string, err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = fmt.Errorf("%s: %w", op, err)
	}
}
