package follower

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/playsync/go/internal/playsync/provider"
)

// fakeProvider records commands and tracks concurrent use
type fakeProvider struct {
	mu       sync.Mutex
	local    provider.Playback
	calls    []Command
	failKind CommandKind
	getErr   error

	hold     chan struct{} // when set, commands wait on it
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (p *fakeProvider) GetCurrentPlayback(ctx context.Context) (provider.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local, p.getErr
}

func (p *fakeProvider) command(cmd Command) error {
	if p.inFlight.Add(1) > 1 {
		p.overlap.Store(true)
	}
	defer p.inFlight.Add(-1)

	if p.hold != nil {
		<-p.hold
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cmd.Kind == p.failKind {
		return &provider.Error{Op: string(cmd.Kind), Kind: provider.ErrRateLimited}
	}
	p.calls = append(p.calls, cmd)
	return nil
}

func (p *fakeProvider) StartPlayback(ctx context.Context, uri string, pos int64) error {
	return p.command(Command{Kind: CommandStart, TrackURI: uri, PositionMs: pos})
}
func (p *fakeProvider) Seek(ctx context.Context, pos int64) error {
	return p.command(Command{Kind: CommandSeek, PositionMs: pos})
}
func (p *fakeProvider) Resume(ctx context.Context) error { return p.command(Command{Kind: CommandResume}) }
func (p *fakeProvider) Pause(ctx context.Context) error  { return p.command(Command{Kind: CommandPause}) }

func (p *fakeProvider) issued() []Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Command(nil), p.calls...)
}

func newTestFollower(local provider.Playback) (*Follower, *fakeProvider, *clockwork.FakeClock) {
	prov := &fakeProvider{local: local}
	cfg := DefaultConfig()
	cfg.RoomID = "r"
	f := NewFollower(prov, cfg)
	clock := clockwork.NewFakeClockAt(t0)
	f.clock = clock
	return f, prov, clock
}

func TestReconcileTrackMismatchIssuesOnlyStart(t *testing.T) {
	f, prov, clock := newTestFollower(provider.Playback{TrackURI: "old", IsPlaying: false, PositionMs: 5})
	clock.Advance(1500 * time.Millisecond)

	if _, err := f.Reconcile(context.Background(), event("new", true, 10000)); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	got := prov.issued()
	if len(got) != 1 || got[0] != (Command{Kind: CommandStart, TrackURI: "new", PositionMs: 11500}) {
		t.Fatalf("issued = %+v, want a single start at 11500", got)
	}
}

func TestReconcileResumeOnly(t *testing.T) {
	f, prov, _ := newTestFollower(provider.Playback{TrackURI: "t", IsPlaying: false, PositionMs: 20500})

	if _, err := f.Reconcile(context.Background(), event("t", true, 20000)); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if got := prov.issued(); len(got) != 1 || got[0].Kind != CommandResume {
		t.Fatalf("issued = %+v, want exactly one resume", got)
	}
}

func TestReconcilePauseAfterLeaderPaused(t *testing.T) {
	// leader observed (track1, false) at t=10000 with position 10000;
	// the follower receives it 150ms later.
	f, prov, clock := newTestFollower(provider.Playback{TrackURI: "track1", IsPlaying: true, PositionMs: 10900})
	clock.Advance(150 * time.Millisecond)

	ev := event("track1", false, 10000)
	if _, err := f.Reconcile(context.Background(), ev); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if got := prov.issued(); len(got) != 1 || got[0].Kind != CommandPause {
		t.Fatalf("issued = %+v, want exactly one pause", got)
	}
}

func TestReconcileStopsOnCommandError(t *testing.T) {
	f, prov, _ := newTestFollower(provider.Playback{TrackURI: "t", IsPlaying: true, PositionMs: 90000})
	prov.failKind = CommandSeek

	issued, err := f.Reconcile(context.Background(), event("t", false, 1000))
	if !errors.Is(err, provider.ErrRateLimited) {
		t.Fatalf("Reconcile() error = %v, want ErrRateLimited", err)
	}
	if len(issued) != 0 || len(prov.issued()) != 0 {
		t.Fatalf("no command should follow a failed seek, got %+v", prov.issued())
	}
}

func TestReconcileLocalQueryError(t *testing.T) {
	f, prov, _ := newTestFollower(provider.Playback{})
	prov.getErr = &provider.Error{Op: "get playback", Kind: provider.ErrNetwork}

	if _, err := f.Reconcile(context.Background(), event("t", true, 0)); !errors.Is(err, provider.ErrNetwork) {
		t.Fatalf("Reconcile() error = %v, want ErrNetwork", err)
	}
	if len(prov.issued()) != 0 {
		t.Fatalf("no commands expected")
	}
}

func TestSetDriftThreshold(t *testing.T) {
	f, prov, _ := newTestFollower(provider.Playback{TrackURI: "t", IsPlaying: true, PositionMs: 51500})

	f.SetDriftThreshold(time.Second)
	if f.DriftThreshold() != time.Second {
		t.Fatalf("DriftThreshold() = %v", f.DriftThreshold())
	}
	if _, err := f.Reconcile(context.Background(), event("t", true, 50000)); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if got := prov.issued(); len(got) != 1 || got[0].Kind != CommandSeek {
		t.Fatalf("issued = %+v, want a seek under the tighter threshold", got)
	}
}

func TestEnqueueRejectsOtherRooms(t *testing.T) {
	f, _, _ := newTestFollower(provider.Playback{})

	ev := event("t", true, 0)
	ev.RoomID = "elsewhere"
	if err := f.Enqueue(context.Background(), ev); !errors.Is(err, ErrRoomMismatch) {
		t.Fatalf("Enqueue() error = %v, want ErrRoomMismatch", err)
	}
}

func TestHandlePayloadDiscardsMalformed(t *testing.T) {
	f, _, _ := newTestFollower(provider.Playback{})

	f.HandlePayload(context.Background(), []byte(`{"roomId":"r","uri":"t"}`))
	if len(f.queue) != 0 {
		t.Fatalf("malformed payload must not be queued")
	}

	f.HandlePayload(context.Background(), []byte(`{"roomId":"r","uri":"t","isPlaying":true,"position":1,"timestamp":2}`))
	if len(f.queue) != 1 {
		t.Fatalf("valid payload should be queued")
	}
}

func TestRunProcessesSeriallyInOrder(t *testing.T) {
	f, prov, _ := newTestFollower(provider.Playback{TrackURI: "none"})
	prov.hold = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	for _, uri := range []string{"a", "b", "c"} {
		if err := f.Enqueue(ctx, event(uri, true, 0)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		prov.hold <- struct{}{}
	}

	deadline := time.After(5 * time.Second)
	for len(prov.issued()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("timed out, issued %+v", prov.issued())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if prov.overlap.Load() {
		t.Fatalf("provider commands overlapped")
	}
	got := prov.issued()
	for i, uri := range []string{"a", "b", "c"} {
		if got[i].TrackURI != uri {
			t.Fatalf("command %d = %+v, want start of %s", i, got[i], uri)
		}
	}
}
