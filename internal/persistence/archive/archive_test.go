package archive

import (
	"os"
	"path/filepath"
	"testing"

	"voxelpipe.dev/internal/persistence/snapshot"
)

func TestArchiveMilestone_CopiesOnlyMilestones(t *testing.T) {
	dataDir := t.TempDir()
	src := snapshot.PathFor(filepath.Join(dataDir, "snapshots"), 6000)
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(src, []byte("dummy"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, WorldID: "w1", Tick: 6000},
		Seed:   42,
		Chunks: []snapshot.ChunkV1{{Coord: [3]int{1, 0, 0}}},
	}
	if _, ok, err := ArchiveMilestone(dataDir, src, snap, 4000); err != nil || ok {
		t.Fatalf("tick 6000 archived=%v err=%v with every=4000", ok, err)
	}
	if _, ok, _ := ArchiveMilestone(dataDir, src, snap, 0); ok {
		t.Fatalf("archived with every=0")
	}

	dst, ok, err := ArchiveMilestone(dataDir, src, snap, 3000)
	if err != nil || !ok {
		t.Fatalf("archive: ok=%v err=%v", ok, err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "dummy" {
		t.Fatalf("archived content = %q err=%v", got, err)
	}
	meta, err := ReadMeta(filepath.Dir(dst))
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.Tick != 6000 || meta.Seed != 42 || meta.Chunks != 1 || meta.WorldID != "w1" || meta.Snapshot != filepath.Base(src) {
		t.Fatalf("meta = %+v", meta)
	}
	if MetaPath(dst) != filepath.Join(filepath.Dir(dst), "meta.json") {
		t.Fatalf("meta path = %s", MetaPath(dst))
	}
}

func TestPruneSnapshots_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	for _, tick := range []uint64{100, 2000, 300, 40} {
		if err := os.WriteFile(snapshot.PathFor(dir, tick), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// Not a snapshot; never touched.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	removed, err := PruneSnapshots(dir, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(removed) != 2 || removed[0] != snapshot.PathFor(dir, 100) || removed[1] != snapshot.PathFor(dir, 40) {
		t.Fatalf("removed = %v", removed)
	}
	for _, tick := range []uint64{2000, 300} {
		if _, err := os.Stat(snapshot.PathFor(dir, tick)); err != nil {
			t.Fatalf("snapshot %d missing: %v", tick, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("unrelated file removed")
	}

	if removed, _ := PruneSnapshots(dir, 0); removed != nil {
		t.Fatalf("keep=0 removed %v", removed)
	}
	if removed, err := PruneSnapshots(filepath.Join(dir, "missing"), 1); err != nil || removed != nil {
		t.Fatalf("missing dir: %v %v", removed, err)
	}
}
