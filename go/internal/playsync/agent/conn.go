package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/playsync/go/internal/playsync/events"
)

// ErrIdleTimeout is returned by ReadFrame when the relay sent nothing within
// the read timeout. The underlying connection is closed by then.
var ErrIdleTimeout = errors.New("relay connection idle")

// Conn is a relay connection that exchanges JSON frames. A zero timeout
// disables it.
type Conn struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewConn(ws *websocket.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{ws: ws, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

// ReadFrame blocks until the relay sends a frame, ctx ends or the read
// timeout passes.
func (c *Conn) ReadFrame(ctx context.Context) (events.Frame, error) {
	readCtx := ctx
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}

	var f events.Frame
	if err := wsjson.Read(readCtx, c.ws, &f); err != nil {
		if ctx.Err() == nil && errors.Is(readCtx.Err(), context.DeadlineExceeded) {
			log.Warn().Dur("read_timeout", c.readTimeout).Msg("no frame from relay within read timeout")
			return events.Frame{}, fmt.Errorf("%w: %v", ErrIdleTimeout, err)
		}
		return events.Frame{}, err
	}
	return f, nil
}

func (c *Conn) WriteFrame(ctx context.Context, f events.Frame) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	if err := wsjson.Write(ctx, c.ws, f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

// Close sends a close frame. Closing a connection that is already gone is
// not an error.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	err := c.ws.Close(code, reason)
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	log.Debug().Err(err).Str("reason", reason).Msg("relay connection close failed")
	return err
}
