package follower

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/playsync/go/internal/playsync/events"
	"github.com/mcdev12/playsync/go/internal/playsync/provider"
)

// ErrRoomMismatch is returned for events addressed to another room
var ErrRoomMismatch = errors.New("event is for another room")

type Config struct {
	RoomID         string
	DriftThreshold time.Duration
	CommandTimeout time.Duration // 0 disables
	QueueSize      int
}

func DefaultConfig() Config {
	return Config{
		DriftThreshold: 2 * time.Second,
		CommandTimeout: 10 * time.Second,
		QueueSize:      64,
	}
}

// Follower reconciles local playback to incoming sync events, one event at a
// time and in arrival order.
type Follower struct {
	provider provider.Provider
	config   Config
	clock    clockwork.Clock

	thresholdMs atomic.Int64
	queue       chan events.SyncEvent
}

func NewFollower(p provider.Provider, cfg Config) *Follower {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	f := &Follower{
		provider: p,
		config:   cfg,
		clock:    clockwork.NewRealClock(),
		queue:    make(chan events.SyncEvent, cfg.QueueSize),
	}
	f.thresholdMs.Store(cfg.DriftThreshold.Milliseconds())
	return f
}

// SetDriftThreshold changes the seek hysteresis for subsequent events
func (f *Follower) SetDriftThreshold(d time.Duration) {
	old := f.thresholdMs.Swap(d.Milliseconds())
	log.Info().
		Int64("old_threshold_ms", old).
		Int64("threshold_ms", d.Milliseconds()).
		Msg("drift threshold updated")
}

// DriftThreshold returns the current seek hysteresis
func (f *Follower) DriftThreshold() time.Duration {
	return time.Duration(f.thresholdMs.Load()) * time.Millisecond
}

// HandlePayload decodes a receive-sync payload and queues it. Malformed
// payloads and events for other rooms are logged and discarded.
func (f *Follower) HandlePayload(ctx context.Context, data []byte) {
	ev, err := events.DecodeSyncEvent(data)
	if err != nil {
		log.Warn().Err(err).RawJSON("payload", data).Msg("discarding malformed sync event")
		return
	}
	if err := f.Enqueue(ctx, ev); err != nil {
		if errors.Is(err, ErrRoomMismatch) {
			log.Debug().Str("room_id", ev.RoomID).Msg("ignoring sync event for another room")
			return
		}
		log.Warn().Err(err).Str("room_id", ev.RoomID).Msg("sync event not queued")
	}
}

// Enqueue hands ev to the reconciliation loop. When the queue is full it
// blocks until there is room or ctx is done; events are never dropped.
func (f *Follower) Enqueue(ctx context.Context, ev events.SyncEvent) error {
	if f.config.RoomID != "" && ev.RoomID != f.config.RoomID {
		return fmt.Errorf("%w: %s", ErrRoomMismatch, ev.RoomID)
	}
	select {
	case f.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the single consumer of the event queue. It returns when ctx is done.
func (f *Follower) Run(ctx context.Context) error {
	log.Info().
		Str("room_id", f.config.RoomID).
		Dur("drift_threshold", f.DriftThreshold()).
		Msg("follower started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("room_id", f.config.RoomID).Msg("follower shutting down")
			return nil
		case ev := <-f.queue:
			if _, err := f.Reconcile(ctx, ev); err != nil {
				evt := log.Error()
				if provider.IsTransient(err) {
					evt = log.Warn()
				}
				evt.Err(err).
					Str("room_id", ev.RoomID).
					Str("track_uri", ev.TrackURI).
					Msg("reconciliation failed, waiting for next sync event")
			}
		}
	}
}

// Reconcile applies one event and returns the commands that were issued.
// The first failing command aborts the rest; nothing is retried.
func (f *Follower) Reconcile(ctx context.Context, ev events.SyncEvent) ([]Command, error) {
	if f.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.CommandTimeout)
		defer cancel()
	}

	now := f.clock.Now()

	local, err := f.provider.GetCurrentPlayback(ctx)
	if err != nil {
		return nil, fmt.Errorf("get local playback: %w", err)
	}

	cmds := Plan(ev, local, now, f.DriftThreshold())
	if len(cmds) == 0 {
		log.Debug().
			Str("track_uri", ev.TrackURI).
			Int64("target_ms", TargetPosition(ev, now)).
			Int64("local_ms", local.PositionMs).
			Msg("follower already in sync")
		return nil, nil
	}

	issued := make([]Command, 0, len(cmds))
	for _, cmd := range cmds {
		if err := f.execute(ctx, cmd); err != nil {
			return issued, fmt.Errorf("%s: %w", cmd.Kind, err)
		}
		issued = append(issued, cmd)

		log.Info().
			Str("command", string(cmd.Kind)).
			Str("track_uri", ev.TrackURI).
			Int64("position_ms", cmd.PositionMs).
			Int64("local_ms", local.PositionMs).
			Msg("follower correction issued")
	}
	return issued, nil
}

func (f *Follower) execute(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CommandStart:
		return f.provider.StartPlayback(ctx, cmd.TrackURI, cmd.PositionMs)
	case CommandSeek:
		return f.provider.Seek(ctx, cmd.PositionMs)
	case CommandResume:
		return f.provider.Resume(ctx)
	case CommandPause:
		return f.provider.Pause(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd.Kind)
	}
}
