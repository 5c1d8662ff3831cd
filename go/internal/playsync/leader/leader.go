package leader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/playsync/go/internal/playsync/events"
	"github.com/mcdev12/playsync/go/internal/playsync/provider"
)

// Publisher delivers sync events to the relay
type Publisher interface {
	Publish(ctx context.Context, ev events.SyncEvent) error
}

type Config struct {
	RoomID       string
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
	}
}

// observedState is the (track, playing) pair used for change detection.
// Position is deliberately not part of it.
type observedState struct {
	trackURI  string
	isPlaying bool
}

// Leader samples ground-truth playback and emits an event on every
// transition of track or play/pause state.
type Leader struct {
	provider  provider.Provider
	publisher Publisher
	config    Config
	clock     clockwork.Clock

	// only touched by the polling goroutine (or a direct Poll caller)
	last observedState

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewLeader(p provider.Provider, publisher Publisher, cfg Config) *Leader {
	return &Leader{
		provider:  p,
		publisher: publisher,
		config:    cfg,
		clock:     clockwork.NewRealClock(),
		stopChan:  make(chan struct{}),
	}
}

// Poll runs one sampling cycle and reports whether an event was emitted.
// On any error lastObserved is left as it was so the next successful poll
// still sees the pending transition.
func (l *Leader) Poll(ctx context.Context) (bool, error) {
	pb, err := l.provider.GetCurrentPlayback(ctx)
	if err != nil {
		return false, fmt.Errorf("get current playback: %w", err)
	}
	sampledAt := l.clock.Now()

	if !pb.HasActiveItem() {
		log.Debug().Str("room_id", l.config.RoomID).Msg("no active item, skipping cycle")
		return false, nil
	}

	current := observedState{trackURI: pb.TrackURI, isPlaying: pb.IsPlaying}
	if current == l.last {
		log.Debug().
			Str("track_uri", pb.TrackURI).
			Int64("position_ms", pb.PositionMs).
			Msg("playback unchanged")
		return false, nil
	}

	ev := events.NewSyncEvent(l.config.RoomID, pb.TrackURI, pb.IsPlaying, pb.PositionMs, sampledAt)
	if err := l.publisher.Publish(ctx, ev); err != nil {
		return false, fmt.Errorf("publish sync event: %w", err)
	}

	log.Info().
		Str("room_id", ev.RoomID).
		Str("track_uri", ev.TrackURI).
		Bool("is_playing", ev.IsPlaying).
		Int64("position_ms", ev.PositionMs).
		Str("previous_track_uri", l.last.trackURI).
		Bool("previous_is_playing", l.last.isPlaying).
		Msg("leader state change emitted")

	l.last = current
	return true, nil
}

func (l *Leader) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("leader already running")
	}
	l.running = true
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run(ctx)

	log.Info().
		Str("room_id", l.config.RoomID).
		Dur("poll_interval", l.config.PollInterval).
		Msg("leader started")

	return nil
}

func (l *Leader) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return fmt.Errorf("leader not running")
	}
	l.running = false
	l.mu.Unlock()

	close(l.stopChan)
	l.wg.Wait()

	log.Info().Str("room_id", l.config.RoomID).Msg("leader stopped")
	return nil
}

// Wait blocks until the polling goroutine has exited
func (l *Leader) Wait() {
	l.wg.Wait()
}

func (l *Leader) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := l.clock.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	// Poll immediately on start
	l.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case <-ticker.Chan():
			l.pollOnce(ctx)
		}
	}
}

func (l *Leader) pollOnce(ctx context.Context) {
	if _, err := l.Poll(ctx); err != nil {
		evt := log.Error()
		if provider.IsTransient(err) {
			evt = log.Warn()
		}
		evt.Err(err).Str("room_id", l.config.RoomID).Msg("leader poll failed, skipping cycle")
	}
}
