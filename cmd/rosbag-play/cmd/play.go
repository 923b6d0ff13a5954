package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ziadastih/rosbag-rx/playback"
	"github.com/ziadastih/rosbag-rx/rosbag"
)

var (
	playSpeed    float64
	playLoop     bool
	playPrefetch float64
)

var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Drive playback of a ROS bag headlessly, printing each message batch",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filename := args[0]
		src, err := rosbag.OpenFileSource(filename)
		if err != nil {
			die("failed to open %s: %v", filename, err)
		}
		defer src.Close()

		opts := playback.DefaultPlaybackOptions()
		if !cmd.Flags().Changed("speed") {
			playSpeed = viper.GetFloat64("playback_speed")
		}
		if !cmd.Flags().Changed("loop") {
			playLoop = viper.GetBool("loop")
		}
		if !cmd.Flags().Changed("prefetch") {
			playPrefetch = viper.GetFloat64("prefetch_seconds")
		}
		opts.PlaybackSpeed = playSpeed
		opts.Loop = playLoop
		opts.PrefetchSeconds = playPrefetch

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		bag, err := playback.Open(ctx, src, playback.WithOptions(opts))
		if err != nil {
			die("failed to open %s: %v", filename, err)
		}
		defer bag.Close()

		metadata := bag.Metadata()
		totalNs := durationNs(metadata.StartTime, metadata.EndTime)
		bar := progressbar.NewOptions64(totalNs,
			progressbar.OptionSetDescription(fmt.Sprintf("playing %s", filename)),
			progressbar.OptionShowCount(),
		)

		bag.Play()
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-bag.StateStream():
				if !ok {
					return
				}
				_ = bar.Set64(durationNs(metadata.StartTime, st.CurrentTime))
				if !st.IsPlaying && rosbag.Compare(st.CurrentTime, metadata.EndTime) >= 0 {
					return
				}
			case msgs, ok := <-bag.MessagesStream():
				if !ok {
					return
				}
				for _, m := range msgs {
					fmt.Printf("%s %s\n", m.Time, m.Topic)
				}
			}
		}
	},
}

// durationNs returns the number of whole nanoseconds between a and b
// (b assumed not before a), for progress-bar accounting.
func durationNs(a, b rosbag.Time) int64 {
	return (int64(b.Sec)-int64(a.Sec))*1_000_000_000 + (int64(b.Nsec) - int64(a.Nsec))
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().Float64Var(&playSpeed, "speed", 1.0, "playback speed multiplier")
	playCmd.Flags().BoolVar(&playLoop, "loop", true, "loop playback at end of bag")
	playCmd.Flags().Float64Var(&playPrefetch, "prefetch", 10.0, "prefetch window in seconds")
}
