package provider

import "context"

// Playback is a snapshot of what a provider is currently doing.
// TrackURI is empty when nothing is loaded.
type Playback struct {
	TrackURI   string
	IsPlaying  bool
	PositionMs int64
}

// HasActiveItem reports whether the provider has a current item
func (p Playback) HasActiveItem() bool {
	return p.TrackURI != ""
}

// Provider is the media playback service an agent drives
type Provider interface {
	GetCurrentPlayback(ctx context.Context) (Playback, error)
	StartPlayback(ctx context.Context, trackURI string, positionMs int64) error
	Seek(ctx context.Context, positionMs int64) error
	Resume(ctx context.Context) error
	Pause(ctx context.Context) error
}
