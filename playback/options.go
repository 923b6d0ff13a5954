package playback

import "go.uber.org/zap"

// PlaybackOptions controls the virtual clock and prefetch window.
//
// Defaults are prefetch_seconds=10, playback_speed=1.0, loop=true. The
// source this was distilled from has a latent inconsistency between its
// documented default (30) and its constructor's actual default (10); 10 is
// treated as authoritative here, matching SPEC_FULL.md §9.
type PlaybackOptions struct {
	PrefetchSeconds float64
	PlaybackSpeed   float64
	Loop            bool
}

// DefaultPlaybackOptions returns the options a freshly opened Bag starts
// with.
func DefaultPlaybackOptions() PlaybackOptions {
	return PlaybackOptions{
		PrefetchSeconds: 10,
		PlaybackSpeed:   1.0,
		Loop:            true,
	}
}

// OptionsPatch is a partial update to PlaybackOptions; nil fields are left
// unchanged. UpdateOptions merges a patch onto the current options and
// takes effect on the next tick.
type OptionsPatch struct {
	PrefetchSeconds *float64
	PlaybackSpeed   *float64
	Loop            *bool
}

func (p OptionsPatch) apply(o PlaybackOptions) PlaybackOptions {
	if p.PrefetchSeconds != nil {
		o.PrefetchSeconds = *p.PrefetchSeconds
	}
	if p.PlaybackSpeed != nil {
		o.PlaybackSpeed = *p.PlaybackSpeed
	}
	if p.Loop != nil {
		o.Loop = *p.Loop
	}
	return o
}

// Option configures a Bag at Open time.
type Option func(*Bag)

// WithOptions overrides the default PlaybackOptions a Bag starts with.
func WithOptions(opts PlaybackOptions) Option {
	return func(b *Bag) {
		b.state.Options = opts
	}
}

// WithLogger attaches a zap logger used for per-message and per-chunk
// warnings, propagated to the underlying chunkcache.Decoder.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bag) {
		b.logger = logger
	}
}
