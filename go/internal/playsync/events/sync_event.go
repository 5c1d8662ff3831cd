package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformed is returned when a payload is not valid JSON for the expected shape
	ErrMalformed = errors.New("malformed payload")
	// ErrMissingField is returned when a required field is absent or empty
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidField is returned when a field is present but out of range
	ErrInvalidField = errors.New("invalid field")
)

// SyncEvent is the only entity that travels between agents. PositionMs and
// TimestampMs are sampled at the same instant on the sender.
type SyncEvent struct {
	RoomID      string `json:"roomId"`
	TrackURI    string `json:"uri"`
	IsPlaying   bool   `json:"isPlaying"`
	PositionMs  int64  `json:"position"`
	TimestampMs int64  `json:"timestamp"`
}

// wireSyncEvent mirrors SyncEvent with pointers so absent fields can be told
// apart from zero values.
type wireSyncEvent struct {
	RoomID      *string `json:"roomId"`
	TrackURI    *string `json:"uri"`
	IsPlaying   *bool   `json:"isPlaying"`
	PositionMs  *int64  `json:"position"`
	TimestampMs *int64  `json:"timestamp"`
}

// NewSyncEvent builds an event for a playback sample taken at sampledAt
func NewSyncEvent(roomID, trackURI string, isPlaying bool, positionMs int64, sampledAt time.Time) SyncEvent {
	return SyncEvent{
		RoomID:      roomID,
		TrackURI:    trackURI,
		IsPlaying:   isPlaying,
		PositionMs:  positionMs,
		TimestampMs: sampledAt.UnixMilli(),
	}
}

// SampledAt returns the sender's wall-clock time at which the position was sampled
func (e SyncEvent) SampledAt() time.Time {
	return time.UnixMilli(e.TimestampMs)
}

// Validate checks the invariants a receiver relies on
func (e SyncEvent) Validate() error {
	switch {
	case e.RoomID == "":
		return fmt.Errorf("%w: roomId", ErrMissingField)
	case e.TrackURI == "":
		return fmt.Errorf("%w: uri", ErrMissingField)
	case e.PositionMs < 0:
		return fmt.Errorf("%w: position %d is negative", ErrInvalidField, e.PositionMs)
	case e.TimestampMs <= 0:
		return fmt.Errorf("%w: timestamp %d is not a wall-clock time", ErrInvalidField, e.TimestampMs)
	}
	return nil
}

// DecodeSyncEvent parses and validates a SyncEvent. All five fields are required.
func DecodeSyncEvent(data []byte) (SyncEvent, error) {
	var w wireSyncEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return SyncEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	missing := func(name string) error { return fmt.Errorf("%w: %s", ErrMissingField, name) }
	switch {
	case w.RoomID == nil:
		return SyncEvent{}, missing("roomId")
	case w.TrackURI == nil:
		return SyncEvent{}, missing("uri")
	case w.IsPlaying == nil:
		return SyncEvent{}, missing("isPlaying")
	case w.PositionMs == nil:
		return SyncEvent{}, missing("position")
	case w.TimestampMs == nil:
		return SyncEvent{}, missing("timestamp")
	}

	ev := SyncEvent{
		RoomID:      *w.RoomID,
		TrackURI:    *w.TrackURI,
		IsPlaying:   *w.IsPlaying,
		PositionMs:  *w.PositionMs,
		TimestampMs: *w.TimestampMs,
	}
	if err := ev.Validate(); err != nil {
		return SyncEvent{}, err
	}
	return ev, nil
}
