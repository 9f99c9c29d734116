package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"voxelpipe.dev/internal/persistence/archive"
	"voxelpipe.dev/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "state":
			os.Exit(stateCmd(os.Args[2:], os.Stdout))
		case "archives":
			os.Exit(archivesCmd(os.Args[2:], os.Stdout))
		}
	}
	os.Exit(worldsCmd(os.Args[1:], os.Stdout))
}

// worldsCmd lists every world under the data dir with its newest snapshot.
func worldsCmd(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "worlds"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		return 1
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(*dataDir, "worlds", e.Name(), "snapshots")
		p, tick, ok, err := snapshot.LatestSnapshot(dir)
		switch {
		case err != nil:
			fmt.Fprintf(out, "%s\terror=%v\n", e.Name(), err)
		case !ok:
			fmt.Fprintf(out, "%s\tno snapshots\n", e.Name())
		default:
			fmt.Fprintf(out, "%s\ttick=%d\t%s\n", e.Name(), tick, p)
		}
	}
	return 0
}

// archivesCmd prints the milestone archives of one world, oldest first.
func archivesCmd(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "default", "world id")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		return 2
	}
	base := filepath.Join(*dataDir, "worlds", *worldID, "archives")
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(out, "no archives")
			return 0
		}
		fmt.Fprintln(os.Stderr, "read:", err)
		return 1
	}
	var metas []archive.Meta
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "tick_") {
			continue
		}
		m, err := archive.ReadMeta(filepath.Join(base, e.Name()))
		if err != nil {
			fmt.Fprintln(os.Stderr, "warn:", err)
			continue
		}
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Tick < metas[j].Tick })
	for _, m := range metas {
		fmt.Fprintf(out, "tick=%d\tseed=%d\tchunks=%d\tcreated=%s\t%s\n",
			m.Tick, m.Seed, m.Chunks, m.CreatedAt, filepath.Join(base, fmt.Sprintf("tick_%012d", m.Tick), m.Snapshot))
	}
	if len(metas) == 0 {
		fmt.Fprintln(out, "no archives")
	}
	return 0
}
