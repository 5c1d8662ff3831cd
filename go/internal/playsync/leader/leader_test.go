package leader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/playsync/go/internal/playsync/events"
	"github.com/mcdev12/playsync/go/internal/playsync/provider"
)

type sample struct {
	pb  provider.Playback
	err error
}

// scriptedProvider returns one sample per GetCurrentPlayback call and repeats
// the last one once the script runs out.
type scriptedProvider struct {
	mu      sync.Mutex
	samples []sample
	calls   int
	polled  chan struct{}
}

func (p *scriptedProvider) GetCurrentPlayback(ctx context.Context) (provider.Playback, error) {
	p.mu.Lock()
	i := p.calls
	if i >= len(p.samples) {
		i = len(p.samples) - 1
	}
	p.calls++
	s := p.samples[i]
	p.mu.Unlock()

	if p.polled != nil {
		defer func() { p.polled <- struct{}{} }()
	}
	return s.pb, s.err
}

func (p *scriptedProvider) StartPlayback(context.Context, string, int64) error { return nil }
func (p *scriptedProvider) Seek(context.Context, int64) error                  { return nil }
func (p *scriptedProvider) Resume(context.Context) error                       { return nil }
func (p *scriptedProvider) Pause(context.Context) error                        { return nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.SyncEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.SyncEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) snapshot() []events.SyncEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.SyncEvent(nil), p.events...)
}

func playing(uri string, pos int64) sample {
	return sample{pb: provider.Playback{TrackURI: uri, IsPlaying: true, PositionMs: pos}}
}

func paused(uri string, pos int64) sample {
	return sample{pb: provider.Playback{TrackURI: uri, IsPlaying: false, PositionMs: pos}}
}

func newTestLeader(samples ...sample) (*Leader, *scriptedProvider, *recordingPublisher, *clockwork.FakeClock) {
	prov := &scriptedProvider{samples: samples}
	pub := &recordingPublisher{}
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))

	l := NewLeader(prov, pub, Config{RoomID: "room-1", PollInterval: 5 * time.Second})
	l.clock = clock
	return l, prov, pub, clock
}

func pollN(t *testing.T, l *Leader, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		l.Poll(context.Background())
	}
}

func TestSteadyStateEmitsOnce(t *testing.T) {
	l, _, pub, _ := newTestLeader(
		playing("track1", 0),
		playing("track1", 5000),
		playing("track1", 10000),
		playing("track1", 999999),
	)

	pollN(t, l, 4)

	got := pub.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected exactly one event for a steady state, got %d", len(got))
	}
	if got[0].TrackURI != "track1" || !got[0].IsPlaying {
		t.Fatalf("unexpected event: %+v", got[0])
	}
}

func TestTrackChangeEmitsSingleEvent(t *testing.T) {
	l, _, pub, _ := newTestLeader(
		playing("uriA", 1000),
		playing("uriB", 200),
		playing("uriB", 5200),
	)

	pollN(t, l, 3)

	got := pub.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[1].TrackURI != "uriB" || got[1].PositionMs != 200 {
		t.Fatalf("second event should carry uriB, got %+v", got[1])
	}
}

func TestEventCarriesSampleTime(t *testing.T) {
	l, _, pub, clock := newTestLeader(playing("t", 4321))

	if emitted, err := l.Poll(context.Background()); err != nil || !emitted {
		t.Fatalf("Poll() = %v, %v", emitted, err)
	}

	ev := pub.snapshot()[0]
	if ev.TimestampMs != clock.Now().UnixMilli() {
		t.Fatalf("timestamp = %d, want %d", ev.TimestampMs, clock.Now().UnixMilli())
	}
	if ev.RoomID != "room-1" || ev.PositionMs != 4321 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestNoActiveItemSkips(t *testing.T) {
	l, _, pub, _ := newTestLeader(
		sample{pb: provider.Playback{}},
		playing("t", 0),
	)

	emitted, err := l.Poll(context.Background())
	if err != nil || emitted {
		t.Fatalf("Poll() with no item = %v, %v; want false, nil", emitted, err)
	}
	if emitted, _ := l.Poll(context.Background()); !emitted {
		t.Fatalf("expected emission once an item appears")
	}
	if len(pub.snapshot()) != 1 {
		t.Fatalf("expected one event")
	}
}

func TestProviderErrorKeepsPendingTransition(t *testing.T) {
	l, _, pub, _ := newTestLeader(
		playing("t", 0),
		sample{err: &provider.Error{Op: "get playback", Kind: provider.ErrAuthExpired}},
		paused("t", 7000),
	)

	pollN(t, l, 1)

	_, err := l.Poll(context.Background())
	if !errors.Is(err, provider.ErrAuthExpired) {
		t.Fatalf("Poll() error = %v, want ErrAuthExpired", err)
	}

	emitted, err := l.Poll(context.Background())
	if err != nil || !emitted {
		t.Fatalf("Poll() after error = %v, %v; want true, nil", emitted, err)
	}
	if got := pub.snapshot(); len(got) != 2 || got[1].IsPlaying {
		t.Fatalf("expected pause event after recovery, got %+v", got)
	}
}

func TestPublishFailureRetriesTransition(t *testing.T) {
	l, _, pub, _ := newTestLeader(playing("t", 0), playing("t", 5000))

	pub.err = errors.New("relay down")
	if _, err := l.Poll(context.Background()); err == nil {
		t.Fatalf("expected publish error")
	}

	pub.err = nil
	emitted, err := l.Poll(context.Background())
	if err != nil || !emitted {
		t.Fatalf("Poll() = %v, %v; the unpublished transition should be re-emitted", emitted, err)
	}
	if got := pub.snapshot(); got[0].PositionMs != 5000 {
		t.Fatalf("expected fresh sample in retried event, got %+v", got[0])
	}
}

func TestRunLoopPollsOnInterval(t *testing.T) {
	l, prov, pub, clock := newTestLeader(
		playing("track1", 0),
		playing("track1", 5000),
		paused("track1", 10000),
	)
	prov.polled = make(chan struct{}, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := l.Start(ctx); err == nil {
		t.Fatalf("second Start() should fail")
	}

	waitPoll := func() {
		t.Helper()
		select {
		case <-prov.polled:
		case <-ctx.Done():
			t.Fatalf("timed out waiting for poll")
		}
	}

	waitPoll() // t=0
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("ticker never registered: %v", err)
	}
	clock.Advance(5 * time.Second)
	waitPoll() // t=5000, unchanged
	clock.Advance(5 * time.Second)
	waitPoll() // t=10000, paused

	if err := l.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	got := pub.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(got), got)
	}
	if got[1].IsPlaying || got[1].PositionMs != 10000 {
		t.Fatalf("unexpected pause event: %+v", got[1])
	}
}
