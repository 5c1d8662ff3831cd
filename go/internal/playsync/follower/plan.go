package follower

import (
	"time"

	"github.com/mcdev12/playsync/go/internal/playsync/events"
	"github.com/mcdev12/playsync/go/internal/playsync/provider"
)

// CommandKind names a provider command issued during reconciliation
type CommandKind string

const (
	CommandStart  CommandKind = "start"
	CommandSeek   CommandKind = "seek"
	CommandResume CommandKind = "resume"
	CommandPause  CommandKind = "pause"
)

// Command is one corrective provider call
type Command struct {
	Kind       CommandKind
	TrackURI   string
	PositionMs int64
}

// TargetPosition projects the sender's sampled position forward to now.
// A negative delay (receiver clock behind sender) counts as zero.
func TargetPosition(ev events.SyncEvent, now time.Time) int64 {
	delay := now.UnixMilli() - ev.TimestampMs
	if delay < 0 {
		delay = 0
	}
	return ev.PositionMs + delay
}

// Plan returns the minimal commands that bring local playback to the state
// described by ev. A track mismatch is fixed by a single start command that
// sets track and position together. Otherwise a seek is issued only when
// drift exceeds threshold, and play/pause is corrected independently of it.
func Plan(ev events.SyncEvent, local provider.Playback, now time.Time, threshold time.Duration) []Command {
	target := TargetPosition(ev, now)

	if local.TrackURI != ev.TrackURI {
		return []Command{{Kind: CommandStart, TrackURI: ev.TrackURI, PositionMs: target}}
	}

	var cmds []Command
	if drift(local.PositionMs, target) > threshold.Milliseconds() {
		cmds = append(cmds, Command{Kind: CommandSeek, PositionMs: target})
	}

	switch {
	case ev.IsPlaying && !local.IsPlaying:
		cmds = append(cmds, Command{Kind: CommandResume})
	case !ev.IsPlaying && local.IsPlaying:
		cmds = append(cmds, Command{Kind: CommandPause})
	}
	return cmds
}

func drift(local, target int64) int64 {
	if local > target {
		return local - target
	}
	return target - local
}
