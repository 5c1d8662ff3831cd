package follower

import (
	"reflect"
	"testing"
	"time"

	"github.com/mcdev12/playsync/go/internal/playsync/events"
	"github.com/mcdev12/playsync/go/internal/playsync/provider"
)

const threshold = 2 * time.Second

var t0 = time.UnixMilli(1_700_000_000_000)

func event(uri string, isPlaying bool, pos int64) events.SyncEvent {
	return events.SyncEvent{RoomID: "r", TrackURI: uri, IsPlaying: isPlaying, PositionMs: pos, TimestampMs: t0.UnixMilli()}
}

func TestTargetPosition(t *testing.T) {
	ev := event("t", true, 10000)

	if got := TargetPosition(ev, t0.Add(1500*time.Millisecond)); got != 11500 {
		t.Fatalf("TargetPosition() = %d, want 11500", got)
	}
	// receiver clock behind the sender
	if got := TargetPosition(ev, t0.Add(-800*time.Millisecond)); got != 10000 {
		t.Fatalf("TargetPosition() with negative delay = %d, want 10000", got)
	}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name  string
		ev    events.SyncEvent
		local provider.Playback
		now   time.Time
		want  []Command
	}{
		{
			name:  "within hysteresis",
			ev:    event("t", true, 50000),
			local: provider.Playback{TrackURI: "t", IsPlaying: true, PositionMs: 51500},
			now:   t0,
			want:  nil,
		},
		{
			name:  "exactly at threshold",
			ev:    event("t", true, 50000),
			local: provider.Playback{TrackURI: "t", IsPlaying: true, PositionMs: 52000},
			now:   t0,
			want:  nil,
		},
		{
			name:  "drifted ahead",
			ev:    event("t", true, 50000),
			local: provider.Playback{TrackURI: "t", IsPlaying: true, PositionMs: 52500},
			now:   t0,
			want:  []Command{{Kind: CommandSeek, PositionMs: 50000}},
		},
		{
			name:  "drifted behind with elapsed delay",
			ev:    event("t", true, 50000),
			local: provider.Playback{TrackURI: "t", IsPlaying: true, PositionMs: 40000},
			now:   t0.Add(300 * time.Millisecond),
			want:  []Command{{Kind: CommandSeek, PositionMs: 50300}},
		},
		{
			name:  "track mismatch starts at target only",
			ev:    event("b", false, 10000),
			local: provider.Playback{TrackURI: "a", IsPlaying: true, PositionMs: 99999},
			now:   t0.Add(1500 * time.Millisecond),
			want:  []Command{{Kind: CommandStart, TrackURI: "b", PositionMs: 11500}},
		},
		{
			name:  "nothing playing locally",
			ev:    event("b", true, 0),
			local: provider.Playback{},
			now:   t0,
			want:  []Command{{Kind: CommandStart, TrackURI: "b", PositionMs: 0}},
		},
		{
			name:  "resume without seek",
			ev:    event("t", true, 30000),
			local: provider.Playback{TrackURI: "t", IsPlaying: false, PositionMs: 30500},
			now:   t0,
			want:  []Command{{Kind: CommandResume}},
		},
		{
			name:  "paused follower is seeked but not resumed",
			ev:    event("t", false, 30000),
			local: provider.Playback{TrackURI: "t", IsPlaying: false, PositionMs: 1000},
			now:   t0,
			want:  []Command{{Kind: CommandSeek, PositionMs: 30000}},
		},
		{
			name:  "seek then pause",
			ev:    event("t", false, 30000),
			local: provider.Playback{TrackURI: "t", IsPlaying: true, PositionMs: 90000},
			now:   t0,
			want:  []Command{{Kind: CommandSeek, PositionMs: 30000}, {Kind: CommandPause}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.ev, tt.local, tt.now, threshold)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Plan() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
