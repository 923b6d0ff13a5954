package playback

import "github.com/ziadastih/rosbag-rx/rosbag"

// State is a single combined snapshot of everything state_stream() observes:
// current playback position, the loaded file's metadata, the active
// options, and whether the clock is running.
type State struct {
	CurrentTime rosbag.Time
	Metadata    *rosbag.BagMetadata
	Options     PlaybackOptions
	IsPlaying   bool
}
