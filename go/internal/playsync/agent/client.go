package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/playsync/go/internal/playsync/events"
)

// ErrNotConnected is returned by Publish while the relay is unreachable
var ErrNotConnected = errors.New("not connected to relay")

// Config holds configuration for the relay client
type Config struct {
	URL    string
	RoomID string

	HandshakeTimeout time.Duration
	// ReadTimeout is 0 by default since a quiet room sends nothing for long
	// stretches; relay pings keep the connection alive.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8888/ws",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		MinBackoff:       time.Second,
		MaxBackoff:       30 * time.Second,
	}
}

// SyncHandler receives the payload of every receive-sync frame
type SyncHandler func(ctx context.Context, data []byte)

// Client keeps one agent connected to its room on the relay. It redials with
// exponential backoff and rejoins the room after every reconnect.
type Client struct {
	cfg   Config
	clock clockwork.Clock

	onSync   SyncHandler
	onJoined func(roomID string)

	mu   sync.Mutex
	conn *Conn
}

// NewClient constructs a client. Use DefaultConfig() as a starting point.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
	}
}

// OnSync registers the receive-sync callback. Set it before Run.
func (c *Client) OnSync(fn SyncHandler) { c.onSync = fn }

// OnJoined registers a callback invoked when the relay acknowledges a join.
// Set it before Run.
func (c *Client) OnJoined(fn func(roomID string)) { c.onJoined = fn }

// Connected reports whether a relay session is currently open
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Publish sends ev to the relay. It implements leader.Publisher.
func (c *Client) Publish(ctx context.Context, ev events.SyncEvent) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := events.NewSendSync(ev)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(ctx, frame); err != nil {
		return fmt.Errorf("send sync event: %w", err)
	}
	return nil
}

// Run keeps the client connected until ctx is done
func (c *Client) Run(ctx context.Context) error {
	if c.cfg.URL == "" {
		return errors.New("empty relay URL")
	}
	if _, err := url.Parse(c.cfg.URL); err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}

	backoff := c.cfg.MinBackoff
	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			backoff = c.cfg.MinBackoff
		}

		log.Warn().
			Err(err).
			Str("relay_url", c.cfg.URL).
			Dur("retry_in", backoff).
			Msg("relay connection lost")

		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(backoff):
		}

		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// session dials, joins the room and reads until the connection ends. It
// reports whether the connection was established at all.
func (c *Client) session(ctx context.Context) (bool, error) {
	dialCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial relay: %w", err)
	}
	conn := NewConn(ws, c.cfg.ReadTimeout, c.cfg.WriteTimeout)

	if err := conn.WriteFrame(ctx, events.NewJoinRoom(c.cfg.RoomID)); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "join failed")
		return false, fmt.Errorf("join room: %w", err)
	}

	c.setConn(conn)
	defer func() {
		c.setConn(nil)
		_ = conn.Close(websocket.StatusNormalClosure, "client close")
	}()

	log.Info().
		Str("relay_url", c.cfg.URL).
		Str("room_id", c.cfg.RoomID).
		Msg("connected to relay")

	return true, c.readLoop(ctx, conn)
}

func (c *Client) setConn(conn *Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) readLoop(ctx context.Context, conn *Conn) error {
	for {
		f, err := conn.ReadFrame(ctx)
		if err != nil {
			if isExpectedDisconnect(ctx, err) {
				return fmt.Errorf("relay closed connection: %w", err)
			}
			return fmt.Errorf("read from relay: %w", err)
		}
		c.dispatch(ctx, f)
	}
}

func (c *Client) dispatch(ctx context.Context, f events.Frame) {
	switch f.Type {
	case events.FrameReceiveSync:
		if c.onSync != nil {
			c.onSync(ctx, f.Data)
		}

	case events.FrameJoined:
		log.Info().Str("room_id", f.RoomID).Msg("joined room")
		if c.onJoined != nil {
			c.onJoined(f.RoomID)
		}

	case events.FrameError:
		evt := log.Warn()
		if f.Error != nil {
			evt = evt.Str("code", f.Error.Code).Str("message", f.Error.Message)
		}
		evt.Msg("relay rejected a frame")

	default:
		log.Debug().Str("type", string(f.Type)).Msg("ignoring unexpected frame from relay")
	}
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
