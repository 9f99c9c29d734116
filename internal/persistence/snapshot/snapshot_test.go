package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := PathFor(dir, 42)

	in := SnapshotV1{
		Header:    Header{Version: Version, WorldID: "w1", Tick: 42},
		Seed:      7,
		ChunkSize: [3]int{16, 32, 16},
		Focus:     [3]float32{1.5, 40, -3},
		Chunks: []ChunkV1{
			{Coord: [3]int{-1, 0, 2}, Blocks: []uint8{0, 1, 2, 1}},
		},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Tick != 42 || h.WorldID != "w1" {
		t.Fatalf("header = %+v", h)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Seed != 7 || out.ChunkSize != in.ChunkSize || out.Focus != in.Focus {
		t.Fatalf("params = %+v", out)
	}
	if len(out.Chunks) != 1 || out.Chunks[0].Coord != in.Chunks[0].Coord || string(out.Chunks[0].Blocks) != string(in.Chunks[0].Blocks) {
		t.Fatalf("chunks = %+v", out.Chunks)
	}
}

func TestReadSnapshot_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.snap.zst")
	if err := WriteSnapshot(path, SnapshotV1{Header: Header{Version: 9}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	if _, _, ok, err := LatestSnapshot(filepath.Join(dir, "missing")); ok || err != nil {
		t.Fatalf("missing dir: ok=%v err=%v", ok, err)
	}

	for _, tick := range []uint64{5, 120, 30} {
		if err := WriteSnapshot(PathFor(dir, tick), SnapshotV1{Header: Header{Version: Version, Tick: tick}}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	path, tick, ok, err := LatestSnapshot(dir)
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if tick != 120 || path != PathFor(dir, 120) {
		t.Fatalf("latest = %s (%d)", path, tick)
	}
}
