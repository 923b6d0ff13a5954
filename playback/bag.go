// Package playback implements the virtual-clock orchestrator that drives a
// loaded rosbag through time: a 33ms tick advances current_bag_time, a
// bounded-concurrency prefetch pool keeps the chunk cache ahead of
// playback, and seek replaces any in-flight prefetch with exhaust-map
// semantics.
//
// Grounded on golang.org/x/sync/errgroup's SetLimit pattern (the pack's
// go/cli/mcap module pulls it in transitively) standing in for the
// source's mergeMap(concurrency=2), and on context.Context cancellation
// standing in for exhaustMap/takeUntil.
package playback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ziadastih/rosbag-rx/chunkcache"
	"github.com/ziadastih/rosbag-rx/rosbag"
)

const (
	tickInterval        = 33 * time.Millisecond
	tickIntervalSeconds = 0.033
	prefetchConcurrency = 2
)

// Bag is one loaded ROS bag file driven by a virtual clock. Open starts a
// background tick goroutine immediately; Close must be called to stop it.
type Bag struct {
	decoder *chunkcache.Decoder
	logger  *zap.Logger

	mu              sync.Mutex
	state           State
	wallStart       time.Time
	bagAnchor       rosbag.Time
	lastPrefetchSec float64
	seekGeneration  uint64
	prefetchCancel  context.CancelFunc
	closed          bool

	stateCh    chan State
	messagesCh chan []rosbag.RosbagMessage

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// Open inspects src's metadata, builds a chunk decoder over it, and starts
// the tick loop. The returned Bag begins paused at metadata.StartTime with
// an initial prefetch already triggered.
func Open(ctx context.Context, src rosbag.Source, opts ...Option) (*Bag, error) {
	metadata, err := rosbag.Inspect(ctx, src)
	if err != nil {
		return nil, err
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	b := &Bag{
		logger:     zap.NewNop(),
		stateCh:    make(chan State, 1),
		messagesCh: make(chan []rosbag.RosbagMessage, 8),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		state: State{
			CurrentTime: metadata.StartTime,
			Metadata:    metadata,
			Options:     DefaultPlaybackOptions(),
			IsPlaying:   false,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.decoder = chunkcache.NewDecoder(src, b.logger)

	b.publishState()
	b.triggerPrefetch(metadata.StartTime)

	go b.tickLoop()
	return b, nil
}

// Metadata returns the bag's inspected metadata (immutable after Open, per
// SPEC_FULL.md §5).
func (b *Bag) Metadata() *rosbag.BagMetadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Metadata
}

// currentState returns a snapshot of the current state without consuming
// from StateStream, for callers (tests) that need a race-free read
// alongside the broadcast channel.
func (b *Bag) currentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// StateStream yields combined state snapshots: current time, metadata,
// options and is_playing. The channel is buffered to depth 1 and always
// holds only the latest snapshot — a slow consumer sees the newest state,
// never a backlog.
func (b *Bag) StateStream() <-chan State {
	return b.stateCh
}

// MessagesStream yields one batch of decoded messages per tick or seek
// preview, ordered by time ascending within the batch.
func (b *Bag) MessagesStream() <-chan []rosbag.RosbagMessage {
	return b.messagesCh
}

// Play starts (or resumes) the virtual clock from the current position.
func (b *Bag) Play() {
	b.mu.Lock()
	if b.closed || b.state.IsPlaying {
		b.mu.Unlock()
		return
	}
	b.state.IsPlaying = true
	b.wallStart = time.Now()
	b.bagAnchor = b.state.CurrentTime
	b.mu.Unlock()
	b.publishState()
}

// Pause stops the virtual clock; current_bag_time is left where it was at
// the most recent tick.
func (b *Bag) Pause() {
	b.mu.Lock()
	if b.closed || !b.state.IsPlaying {
		b.mu.Unlock()
		return
	}
	b.state.IsPlaying = false
	b.mu.Unlock()
	b.publishState()
}

// Seek cancels any outstanding prefetch, snaps current_bag_time to t,
// prefetches around t, and either resumes playback (if it was active) or
// emits a preview batch drawn from cache. Seeks are serialized with
// exhaust-map semantics: if a newer Seek arrives before this one's
// prefetch/preview completes, this one's preview is discarded.
func (b *Bag) Seek(t rosbag.Time) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.seekGeneration++
	generation := b.seekGeneration
	wasPlaying := b.state.IsPlaying
	metadata := b.state.Metadata
	opts := b.state.Options
	b.state.CurrentTime = t
	if wasPlaying {
		b.wallStart = time.Now()
		b.bagAnchor = t
	}
	b.mu.Unlock()
	b.publishState()

	ctx := b.replacePrefetchContext()

	go func() {
		b.prefetch(ctx, t, metadata, opts)

		b.mu.Lock()
		stale := generation != b.seekGeneration
		b.mu.Unlock()
		if stale || ctx.Err() != nil {
			return
		}
		if !wasPlaying {
			start := rosbag.Add(t, -tickIntervalSeconds)
			if rosbag.Compare(start, t) > 0 {
				start = metadata.StartTime
			}
			msgs := b.collectWindow(start, t, metadata)
			b.publishMessages(b.rootCtx, msgs)
		}
	}()
}

// UpdateOptions partially merges patch onto the current options; the
// change takes effect on the next tick.
func (b *Bag) UpdateOptions(patch OptionsPatch) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.state.Options = patch.apply(b.state.Options)
	b.mu.Unlock()
	b.publishState()
}

// Close pauses the clock, cancels any outstanding prefetch, and clears the
// chunk cache and schema registry. Further calls on a closed Bag are
// no-ops.
func (b *Bag) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.state.IsPlaying = false
	b.mu.Unlock()

	b.cancelPrefetch()
	b.rootCancel()
	b.decoder.Reset()
	return nil
}

func (b *Bag) tickLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.rootCtx.Done():
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

// tick implements SPEC_FULL.md §4.7's clock step: advance current_bag_time,
// handle end-of-bag/loop, publish state before the message batch for this
// tick, and gate periodic prefetch.
func (b *Bag) tick() {
	b.mu.Lock()
	if b.closed || !b.state.IsPlaying {
		b.mu.Unlock()
		return
	}
	opts := b.state.Options
	metadata := b.state.Metadata
	wallStart := b.wallStart
	bagAnchor := b.bagAnchor
	lastPrefetchSec := b.lastPrefetchSec
	b.mu.Unlock()

	elapsed := time.Since(wallStart).Seconds()
	newBagTime := rosbag.Add(bagAnchor, elapsed*opts.PlaybackSpeed)
	previousBagTime := rosbag.Add(bagAnchor, elapsed-tickIntervalSeconds)
	// elapsed can be smaller than one tick interval (the ticker's phase is
	// independent of when Play/Seek last reset the anchor), which would
	// otherwise underflow previousBagTime below bagAnchor and, since Time's
	// Sec is unsigned, wrap around to a huge value. Clamp to bagAnchor
	// instead of letting the window invert.
	if rosbag.Compare(previousBagTime, newBagTime) > 0 {
		previousBagTime = bagAnchor
	}

	if rosbag.Compare(newBagTime, metadata.EndTime) >= 0 {
		b.handleEndOfBag(metadata, opts)
		return
	}

	b.mu.Lock()
	b.state.CurrentTime = newBagTime
	b.mu.Unlock()
	b.publishState()

	msgs := b.collectWindow(previousBagTime, newBagTime, metadata)
	b.publishMessages(b.rootCtx, msgs)

	newTimeSec := float64(newBagTime.Sec) + float64(newBagTime.Nsec)/1e9
	if newTimeSec-lastPrefetchSec > opts.PrefetchSeconds/2 {
		b.mu.Lock()
		b.lastPrefetchSec = newTimeSec
		b.mu.Unlock()
		b.triggerPrefetch(newBagTime)
	}
}

// handleEndOfBag either loops back to start_time (without emitting the
// trailing messages past end_time for this tick) or pauses and rewinds.
func (b *Bag) handleEndOfBag(metadata *rosbag.BagMetadata, opts PlaybackOptions) {
	b.mu.Lock()
	b.state.CurrentTime = metadata.StartTime
	if opts.Loop {
		b.wallStart = time.Now()
		b.bagAnchor = metadata.StartTime
	} else {
		b.state.IsPlaying = false
	}
	b.mu.Unlock()
	b.publishState()
	if opts.Loop {
		b.triggerPrefetch(metadata.StartTime)
	}
}

// collectWindow gathers cached messages whose time falls in
// [start, end] (inclusive both ends), scanning chunks in time-sort order
// and skipping chunks that are not yet cached, per spec.md §4.7 step 5.
func (b *Bag) collectWindow(start, end rosbag.Time, metadata *rosbag.BagMetadata) []rosbag.RosbagMessage {
	var out []rosbag.RosbagMessage
	for _, info := range metadata.ChunksInfo {
		if rosbag.Compare(info.StartTime, end) > 0 || rosbag.Compare(info.EndTime, start) < 0 {
			continue
		}
		if !b.decoder.IsCached(info.Idx) {
			continue
		}
		messages, err := b.decoder.ReadChunk(b.rootCtx, info, metadata.Connections)
		if err != nil {
			continue
		}
		for _, m := range messages {
			if rosbag.Compare(m.Time, start) >= 0 && rosbag.Compare(m.Time, end) <= 0 {
				out = append(out, m)
			}
		}
	}
	return out
}

// triggerPrefetch cancels any prior prefetch and starts a new one anchored
// at t, running asynchronously.
func (b *Bag) triggerPrefetch(t rosbag.Time) {
	b.mu.Lock()
	metadata := b.state.Metadata
	opts := b.state.Options
	b.mu.Unlock()

	ctx := b.replacePrefetchContext()
	go b.prefetch(ctx, t, metadata, opts)
}

func (b *Bag) replacePrefetchContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prefetchCancel != nil {
		b.prefetchCancel()
	}
	ctx, cancel := context.WithCancel(b.rootCtx)
	b.prefetchCancel = cancel
	return ctx
}

func (b *Bag) cancelPrefetch() {
	b.mu.Lock()
	cancel := b.prefetchCancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// prefetch reads every not-yet-cached chunk overlapping [t, t+prefetch_seconds]
// (clamped to metadata.EndTime) with bounded concurrency. A chunk-level
// read failure is logged and leaves that chunk uncached; it does not
// cancel the rest of the batch, matching spec.md §7's "playback continues
// with the chunk treated as uncached".
func (b *Bag) prefetch(ctx context.Context, t rosbag.Time, metadata *rosbag.BagMetadata, opts PlaybackOptions) {
	tEnd := rosbag.Add(t, opts.PrefetchSeconds)
	if rosbag.Compare(tEnd, metadata.EndTime) > 0 {
		tEnd = metadata.EndTime
	}

	var pending []*rosbag.ChunkInfo
	for _, info := range metadata.ChunksInfo {
		if rosbag.Compare(info.EndTime, t) < 0 || rosbag.Compare(info.StartTime, tEnd) > 0 {
			continue
		}
		if b.decoder.IsCached(info.Idx) {
			continue
		}
		pending = append(pending, info)
	}
	if len(pending) == 0 {
		return
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(prefetchConcurrency)
	for _, info := range pending {
		info := info
		group.Go(func() error {
			if _, err := b.decoder.ReadChunk(gctx, info, metadata.Connections); err != nil && gctx.Err() == nil {
				b.logger.Warn("prefetch chunk failed",
					zap.Int("chunk", info.Idx),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = group.Wait()
}

func (b *Bag) publishState() {
	b.mu.Lock()
	snapshot := b.state
	b.mu.Unlock()
	for {
		select {
		case b.stateCh <- snapshot:
			return
		default:
		}
		select {
		case <-b.stateCh:
		default:
		}
	}
}

func (b *Bag) publishMessages(ctx context.Context, msgs []rosbag.RosbagMessage) {
	if len(msgs) == 0 {
		return
	}
	select {
	case b.messagesCh <- msgs:
	case <-ctx.Done():
	}
}
