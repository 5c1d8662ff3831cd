package mpd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/playsync/go/internal/playsync/provider"
)

// conn is the subset of *mpd.Client the provider uses
type conn interface {
	Status() (mpd.Attrs, error)
	CurrentSong() (mpd.Attrs, error)
	Clear() error
	Add(uri string) error
	Play(pos int) error
	Pause(pause bool) error
	SeekCur(d time.Duration, relative bool) error
	Close() error
}

// Config holds MPD connection settings
type Config struct {
	Network  string // "tcp" or "unix"
	Address  string
	Password string
	Timeout  time.Duration
}

// DefaultConfig returns settings for a local MPD on its default port
func DefaultConfig() Config {
	return Config{
		Network: "tcp",
		Address: "localhost:6600",
		Timeout: 3 * time.Second,
	}
}

// Client drives a Music Player Daemon. Every operation dials a short-lived
// connection so a restarted MPD is picked up on the next call. The song's
// file path is used as the track URI.
type Client struct {
	cfg  Config
	dial func() (conn, error)
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates an MPD provider
func NewClient(cfg Config) *Client {
	c := &Client{cfg: cfg}
	c.dial = func() (conn, error) {
		if cfg.Password != "" {
			return mpd.DialAuthenticated(cfg.Network, cfg.Address, cfg.Password)
		}
		return mpd.Dial(cfg.Network, cfg.Address)
	}
	return c
}

// do runs fn on a fresh connection, bounded by ctx and the configured timeout
func (c *Client) do(ctx context.Context, op string, fn func(conn) error) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	cl, err := c.dial()
	if err != nil {
		return &provider.Error{Op: op, Kind: provider.ErrNetwork, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(cl)
	}()

	select {
	case err := <-done:
		if cerr := cl.Close(); cerr != nil {
			log.Debug().Err(cerr).Str("op", op).Msg("closing mpd connection")
		}
		if err != nil {
			return &provider.Error{Op: op, Kind: provider.ErrNetwork, Err: err}
		}
		return nil
	case <-ctx.Done():
		cl.Close()
		return &provider.Error{Op: op, Kind: provider.ErrNetwork, Err: ctx.Err()}
	}
}

// GetCurrentPlayback reads status and current song. A stopped player reports
// no active item.
func (c *Client) GetCurrentPlayback(ctx context.Context) (provider.Playback, error) {
	var pb provider.Playback
	err := c.do(ctx, "get playback", func(cl conn) error {
		status, err := cl.Status()
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		if status["state"] == "stop" || status["state"] == "" {
			return nil
		}

		song, err := cl.CurrentSong()
		if err != nil {
			return fmt.Errorf("current song: %w", err)
		}

		pb.TrackURI = song["file"]
		pb.IsPlaying = status["state"] == "play"
		pb.PositionMs = elapsedMs(status["elapsed"])
		return nil
	})
	if err != nil {
		return provider.Playback{}, err
	}
	return pb, nil
}

// StartPlayback replaces the queue with trackURI and plays it from positionMs
func (c *Client) StartPlayback(ctx context.Context, trackURI string, positionMs int64) error {
	return c.do(ctx, "start playback", func(cl conn) error {
		if err := cl.Clear(); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		if err := cl.Add(trackURI); err != nil {
			return fmt.Errorf("add %s: %w", trackURI, err)
		}
		if err := cl.Play(0); err != nil {
			return fmt.Errorf("play: %w", err)
		}
		if positionMs > 0 {
			if err := cl.SeekCur(time.Duration(positionMs)*time.Millisecond, false); err != nil {
				return fmt.Errorf("seek: %w", err)
			}
		}
		return nil
	})
}

// Seek moves the current song to positionMs
func (c *Client) Seek(ctx context.Context, positionMs int64) error {
	return c.do(ctx, "seek", func(cl conn) error {
		return cl.SeekCur(time.Duration(positionMs)*time.Millisecond, false)
	})
}

// Resume unpauses the current song
func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, "resume", func(cl conn) error {
		return cl.Pause(false)
	})
}

// Pause pauses the current song
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, "pause", func(cl conn) error {
		return cl.Pause(true)
	})
}

func elapsedMs(raw string) int64 {
	if raw == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return int64(secs * 1000)
}
