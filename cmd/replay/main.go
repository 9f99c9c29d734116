package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voxelpipe.dev/internal/persistence/indexdb"
	plog "voxelpipe.dev/internal/persistence/log"
	"voxelpipe.dev/internal/persistence/snapshot"
	"voxelpipe.dev/internal/sim/world"
)

func main() {
	var (
		dataDir  = flag.String("data", "./data", "runtime data directory")
		worldID  = flag.String("world", "default", "world id")
		snapPath = flag.String("snapshot", "", "snapshot to describe (default: latest in the world dir)")
		fromTick = flag.Uint64("from_tick", 0, "first tick to include")
		toTick   = flag.Uint64("to_tick", 0, "last tick to include (0 = no limit)")
		useIndex = flag.Bool("index", false, "also query the SQLite index")
		chunkArg = flag.String("chunk", "", "x,y,z: print the mesh history of one chunk from the index")
	)
	flag.Parse()

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)

	ticks := newTickSummary()
	err := plog.ReadTicks(worldDir, func(e world.TickLogEntry) error {
		ticks.add(e, *fromTick, *toTick)
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "read ticks:", err)
		os.Exit(1)
	}
	ticks.print(os.Stdout)

	audits := newAuditSummary()
	err = plog.ReadAudits(worldDir, func(e plog.EditAudit) error {
		if e.Tick >= *fromTick && (*toTick == 0 || e.Tick <= *toTick) {
			audits.add(e)
		}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	audits.print(os.Stdout)

	p := *snapPath
	if p == "" {
		latest, _, ok, err := snapshot.LatestSnapshot(filepath.Join(worldDir, "snapshots"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "scan snapshots:", err)
			os.Exit(1)
		}
		if ok {
			p = latest
		}
	}
	if p != "" {
		snap, err := snapshot.ReadSnapshot(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d world=%s tick=%d seed=%d chunk_size=%v edited_chunks=%d focus=%v\n",
			snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, snap.Seed, snap.ChunkSize, len(snap.Chunks), snap.Focus)
	}

	if !*useIndex && *chunkArg == "" {
		return
	}
	if err := queryIndex(filepath.Join(worldDir, "index", "world.sqlite"), *chunkArg); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}
}

func queryIndex(path, chunkArg string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer idx.Close()

	ctx := context.Background()
	n, last, err := idx.TickRange(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("index: ticks=%d last=%d\n", n, last)
	if sp, st, ok, err := idx.LatestSnapshot(ctx); err != nil {
		return err
	} else if ok {
		fmt.Printf("index: latest snapshot tick=%d path=%s\n", st, sp)
	}

	if chunkArg == "" {
		return nil
	}
	coord, err := parseCoord(chunkArg)
	if err != nil {
		return err
	}
	rows, err := idx.MeshHistory(ctx, coord)
	if err != nil {
		return err
	}
	fmt.Printf("chunk %v: %d mesh(es)\n", coord, len(rows))
	for _, r := range rows {
		fmt.Printf("  tick=%d vertices=%d triangles=%d\n", r.Tick, r.Vertices, r.Triangles)
	}
	return nil
}

func parseCoord(s string) ([3]int, error) {
	var c [3]int
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return c, fmt.Errorf("chunk %q: want x,y,z", s)
	}
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return c, fmt.Errorf("chunk %q: %w", s, err)
		}
		c[i] = v
	}
	return c, nil
}
