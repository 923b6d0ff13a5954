package main

import "github.com/ziadastih/rosbag-rx/cmd/rosbag-play/cmd"

func main() {
	cmd.Execute()
}
