package mpd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fhs/gompd/v2/mpd"

	"github.com/mcdev12/playsync/go/internal/playsync/provider"
)

type fakeConn struct {
	status mpd.Attrs
	song   mpd.Attrs
	calls  []string
	failOn string
	block  chan struct{}
	closed bool
}

func (f *fakeConn) record(call string) error {
	f.calls = append(f.calls, call)
	if f.block != nil {
		<-f.block
	}
	if f.failOn != "" && strings.HasPrefix(call, f.failOn) {
		return errors.New("ACK [50@0] {add} No such directory")
	}
	return nil
}

func (f *fakeConn) Status() (mpd.Attrs, error)      { return f.status, f.record("status") }
func (f *fakeConn) CurrentSong() (mpd.Attrs, error) { return f.song, f.record("currentsong") }
func (f *fakeConn) Clear() error                    { return f.record("clear") }
func (f *fakeConn) Add(uri string) error            { return f.record("add " + uri) }
func (f *fakeConn) Play(pos int) error              { return f.record(fmt.Sprintf("play %d", pos)) }
func (f *fakeConn) Pause(pause bool) error          { return f.record(fmt.Sprintf("pause %t", pause)) }
func (f *fakeConn) SeekCur(d time.Duration, relative bool) error {
	return f.record(fmt.Sprintf("seekcur %d", d.Milliseconds()))
}
func (f *fakeConn) Close() error { f.closed = true; return nil }

func newFakeClient(fc *fakeConn) *Client {
	c := NewClient(DefaultConfig())
	c.dial = func() (conn, error) { return fc, nil }
	return c
}

func TestGetCurrentPlayback(t *testing.T) {
	fc := &fakeConn{
		status: mpd.Attrs{"state": "play", "elapsed": "12.345"},
		song:   mpd.Attrs{"file": "albums/a/01.flac"},
	}

	pb, err := newFakeClient(fc).GetCurrentPlayback(context.Background())
	if err != nil {
		t.Fatalf("GetCurrentPlayback() error = %v", err)
	}
	want := provider.Playback{TrackURI: "albums/a/01.flac", IsPlaying: true, PositionMs: 12345}
	if pb != want {
		t.Fatalf("GetCurrentPlayback() = %+v, want %+v", pb, want)
	}
	if !fc.closed {
		t.Fatalf("expected connection to be closed")
	}
}

func TestGetCurrentPlaybackStopped(t *testing.T) {
	fc := &fakeConn{status: mpd.Attrs{"state": "stop"}}

	pb, err := newFakeClient(fc).GetCurrentPlayback(context.Background())
	if err != nil {
		t.Fatalf("GetCurrentPlayback() error = %v", err)
	}
	if pb.HasActiveItem() {
		t.Fatalf("stopped player should have no active item, got %+v", pb)
	}
}

func TestStartPlayback(t *testing.T) {
	fc := &fakeConn{}
	if err := newFakeClient(fc).StartPlayback(context.Background(), "x.mp3", 11500); err != nil {
		t.Fatalf("StartPlayback() error = %v", err)
	}

	want := []string{"clear", "add x.mp3", "play 0", "seekcur 11500"}
	if strings.Join(fc.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", fc.calls, want)
	}
}

func TestCommandErrorIsProviderError(t *testing.T) {
	fc := &fakeConn{failOn: "add"}
	err := newFakeClient(fc).StartPlayback(context.Background(), "missing.mp3", 0)
	if !errors.Is(err, provider.ErrNetwork) {
		t.Fatalf("StartPlayback() error = %v, want ErrNetwork", err)
	}
}

func TestTimeout(t *testing.T) {
	fc := &fakeConn{block: make(chan struct{})}
	defer close(fc.block)

	c := newFakeClient(fc)
	c.cfg.Timeout = 10 * time.Millisecond

	if err := c.Pause(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Pause() error = %v, want deadline exceeded", err)
	}
}

func TestElapsedMs(t *testing.T) {
	for raw, want := range map[string]int64{"": 0, "1.5": 1500, "bogus": 0, "-3": 0} {
		if got := elapsedMs(raw); got != want {
			t.Fatalf("elapsedMs(%q) = %d, want %d", raw, got, want)
		}
	}
}
