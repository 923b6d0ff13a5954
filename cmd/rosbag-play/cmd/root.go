// Package cmd implements the rosbag-play command-line tool: inspect a ROS
// bag v2.0 file's header and index, or drive playback of it headlessly.
//
// Grounded on github.com/foxglove/mcap/go/cli/mcap/cmd's cobra root command
// plus viper config loading (cmd/root.go's PersistentFlags/initConfig
// wiring, cobra.OnInitialize pattern).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rosbag-play",
	Short: "Inspect and play back ROS bag v2.0 files",
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func die(format string, args ...any) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(format, args...))
	os.Exit(1)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rosbag-play.yaml)")
	rootCmd.InitDefaultVersionFlag()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rosbag-play")
	}
	viper.SetDefault("prefetch_seconds", 10.0)
	viper.SetDefault("playback_speed", 1.0)
	viper.SetDefault("loop", true)
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}
