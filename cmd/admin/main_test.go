package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"voxelpipe.dev/internal/persistence/archive"
	"voxelpipe.dev/internal/persistence/snapshot"
)

func writeSnap(t *testing.T, dir, world string, tick uint64) string {
	t.Helper()
	p := snapshot.PathFor(filepath.Join(dir, "worlds", world, "snapshots"), tick)
	snap := snapshot.SnapshotV1{
		Header:    snapshot.Header{Version: snapshot.Version, WorldID: world, Tick: tick},
		Seed:      5,
		ChunkSize: [3]int{2, 2, 2},
		Chunks:    []snapshot.ChunkV1{{Coord: [3]int{1, 0, -1}, Blocks: make([]uint8, 8)}},
	}
	if err := snapshot.WriteSnapshot(p, snap); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if _, _, err := archive.ArchiveMilestone(filepath.Join(dir, "worlds", world), p, snap, 100); err != nil {
		t.Fatalf("archive: %v", err)
	}
	return p
}

func TestWorldsCmd(t *testing.T) {
	dir := t.TempDir()
	writeSnap(t, dir, "alpha", 100)
	latest := writeSnap(t, dir, "alpha", 150)

	var out bytes.Buffer
	if code := worldsCmd([]string{"-data", dir}, &out); code != 0 {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(out.String(), "alpha\ttick=150\t"+latest) {
		t.Fatalf("out = %q", out.String())
	}
}

func TestArchivesCmd(t *testing.T) {
	dir := t.TempDir()
	for _, tick := range []uint64{300, 100, 150} {
		writeSnap(t, dir, "w", tick)
	}
	var out bytes.Buffer
	if code := archivesCmd([]string{"-data", dir, "-world", "w"}, &out); code != 0 {
		t.Fatalf("exit = %d", code)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "tick=100\t") || !strings.HasPrefix(lines[1], "tick=300\t") {
		t.Fatalf("out = %q", out.String())
	}

	out.Reset()
	if code := archivesCmd([]string{"-data", dir, "-world", "missing"}, &out); code != 0 || !strings.Contains(out.String(), "no archives") {
		t.Fatalf("missing world: code=%d out=%q", code, out.String())
	}
}

func TestStateCmd(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/v1/state" {
			http.NotFound(rw, r)
			return
		}
		_, _ = rw.Write([]byte(`{"world_id":"w","tick":7}`))
	}))
	defer ts.Close()

	var out bytes.Buffer
	if code := stateCmd([]string{"-url", ts.URL + "/"}, &out); code != 0 {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(out.String(), "\n  \"tick\": 7") {
		t.Fatalf("out = %q", out.String())
	}
	out.Reset()
	if code := stateCmd([]string{"-url", ts.URL, "-raw"}, &out); code != 0 || out.String() != `{"world_id":"w","tick":7}` {
		t.Fatalf("raw: code=%d out=%q", code, out.String())
	}
	if code := stateCmd([]string{"-url", ts.URL + "/nope"}, &out); code != 1 {
		t.Fatalf("404 exit = %d", code)
	}
}
