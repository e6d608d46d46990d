// Command crossbar-inspect lists recording bundles under a directory and
// dumps frame-level detail from a single bundle, without needing to know
// the body's serializer type. It replaces the host application's
// replay_catalog and replay_player tools, which served the same operator
// workflow (catalog a directory of artefacts, dump one artefact's frames)
// against the JSON/manifest replay format those tools were built for.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"crossbar/recording"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		runList(os.Args[2:])
	case "dump":
		runDump(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: crossbar-inspect list -dir <directory> [-json]")
	fmt.Fprintln(os.Stderr, "       crossbar-inspect dump -file <path> [-json]")
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dir := fs.String("dir", ".", "directory containing recording bundles")
	jsonOut := fs.Bool("json", false, "emit JSON instead of human-readable output")
	fs.Parse(args)

	bundles, err := recording.ListBundles(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(bundles); err != nil {
			fmt.Fprintln(os.Stderr, "encode error:", err)
			os.Exit(1)
		}
		return
	}

	for _, b := range bundles {
		fmt.Printf("%s (%d frames, %d bytes)\n", b.Path, b.FrameCount, b.Bytes)
		if b.Metadata != nil {
			fmt.Printf("  channel: %s  serializer: %s v%d.%d\n", b.Metadata.Channel, b.Metadata.Serializer.Name, b.Metadata.Serializer.Major, b.Metadata.Serializer.Minor)
		}
		if b.FirstFrame != nil && b.LastFrame != nil {
			fmt.Printf("  span: %s .. %s\n", b.FirstFrame.Format("2006-01-02T15:04:05Z07:00"), b.LastFrame.Format("2006-01-02T15:04:05Z07:00"))
		}
		if b.IndexPath != "" {
			fmt.Printf("  index: %s\n", b.IndexPath)
		}
	}
}

func runDump(args []string) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	path := fs.String("file", "", "path to a recording's frame file")
	jsonOut := fs.Bool("json", false, "emit JSON lines instead of human-readable output")
	fs.Parse(args)

	if *path == "" {
		fmt.Fprintln(os.Stderr, "file flag is required")
		os.Exit(1)
	}

	file, err := os.Open(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	defer file.Close()

	enc := json.NewEncoder(os.Stdout)
	err = recording.DumpFrames(file, func(frame recording.FrameSummary) error {
		if *jsonOut {
			return enc.Encode(frame)
		}
		fmt.Printf("id=%d ts=%s key=%q from=%q body_len=%d\n",
			frame.Id, frame.Timestamp.Format("2006-01-02T15:04:05Z07:00"), frame.Key, frame.From, frame.BodyLen)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(3)
	}
}
