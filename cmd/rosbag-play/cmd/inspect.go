package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ziadastih/rosbag-rx/rosbag"
)

// humanBytes formats a byte count the way go/cli/mcap/cmd/info.go's
// humanBytes does: binary prefixes, two decimal places, falling back to
// the largest unit once the value exceeds it.
func humanBytes(numBytes uint64) string {
	prefixes := []string{"B", "KiB", "MiB", "GiB"}
	for index, p := range prefixes {
		displayedValue := float64(numBytes) / math.Pow(1024, float64(index))
		if displayedValue <= 1024 {
			return fmt.Sprintf("%.2f %s", displayedValue, p)
		}
	}
	lastIndex := len(prefixes) - 1
	displayedValue := float64(numBytes) / math.Pow(1024, float64(lastIndex))
	return fmt.Sprintf("%.2f %s", displayedValue, prefixes[lastIndex])
}

// printRows renders rows borderless, left-aligned, with leading-space
// trimmed (tablewriter pads a leading space on every line otherwise), the
// same post-processing go/cli/mcap/cmd/info.go's printSummaryRows applies.
func printRows(w io.Writer, header []string, rows [][]string) error {
	buf := &bytes.Buffer{}
	tw := tablewriter.NewWriter(buf)
	tw.SetBorder(false)
	tw.SetAutoWrapText(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetColumnSeparator("")
	if header != nil {
		tw.SetHeader(header)
	}
	tw.AppendBulk(rows)
	tw.Render()

	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		fmt.Fprintln(w, strings.TrimLeft(scanner.Text(), " "))
	}
	return scanner.Err()
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Print a ROS bag's header validity, connections and chunk index",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		filename := args[0]
		src, err := rosbag.OpenFileSource(filename)
		if err != nil {
			die("failed to open %s: %v", filename, err)
		}
		defer src.Close()

		metadata, err := rosbag.Inspect(context.Background(), src)
		if err != nil {
			die("failed to inspect %s: %v", filename, err)
		}

		fmt.Printf("magic: valid\n")
		fmt.Printf("start: %s\n", metadata.StartTime)
		fmt.Printf("end:   %s\n", metadata.EndTime)
		fmt.Printf("size:  %s\n\n", humanBytes(uint64(metadata.FileLength)))

		connIDs := make([]uint32, 0, len(metadata.Connections))
		for id := range metadata.Connections {
			connIDs = append(connIDs, id)
		}
		sort.Slice(connIDs, func(i, j int) bool { return connIDs[i] < connIDs[j] })

		var connRows [][]string
		for _, id := range connIDs {
			c := metadata.Connections[id]
			connRows = append(connRows, []string{
				fmt.Sprintf("%d", c.Conn),
				c.TopicName,
				c.MessageType,
			})
		}
		fmt.Println("connections:")
		if err := printRows(os.Stdout, []string{"conn", "topic", "type"}, connRows); err != nil {
			die("failed to print connections: %v", err)
		}

		var chunkRows [][]string
		for _, ci := range metadata.ChunksInfo {
			chunkRows = append(chunkRows, []string{
				fmt.Sprintf("%d", ci.Idx),
				ci.StartTime.String(),
				ci.EndTime.String(),
				humanBytes(ci.NextChunkPosition - ci.ChunkPosition),
			})
		}
		fmt.Println("\nchunks:")
		if err := printRows(os.Stdout, []string{"idx", "start", "end", "span"}, chunkRows); err != nil {
			die("failed to print chunks: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
