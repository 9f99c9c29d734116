package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"voxelpipe.dev/internal/persistence/snapshot"
)

type Meta struct {
	WorldID   string `json:"world_id"`
	Tick      uint64 `json:"tick"`
	Seed      int64  `json:"seed"`
	Chunks    int    `json:"chunks"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// ArchiveMilestone copies a snapshot whose tick is a multiple of everyTicks
// into <dataDir>/archives/tick_<tick>/ next to a meta.json. Milestones are
// never pruned. archived is false when the tick is not a milestone.
func ArchiveMilestone(dataDir, snapPath string, snap snapshot.SnapshotV1, everyTicks uint64) (archivedPath string, archived bool, err error) {
	tick := snap.Header.Tick
	if everyTicks == 0 || tick == 0 || tick%everyTicks != 0 {
		return "", false, nil
	}
	dir := filepath.Join(dataDir, "archives", fmt.Sprintf("tick_%012d", tick))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(dir, filepath.Base(snapPath))
	if err := copyFile(snapPath, dst); err != nil {
		return "", false, err
	}
	meta := Meta{
		WorldID:   snap.Header.WorldID,
		Tick:      tick,
		Seed:      snap.Seed,
		Chunks:    len(snap.Chunks),
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(MetaPath(dst), b, 0o644); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// MetaPath is the meta.json written beside an archived snapshot.
func MetaPath(archivedPath string) string {
	return filepath.Join(filepath.Dir(archivedPath), "meta.json")
}

// ReadMeta loads the meta.json of an archive directory.
func ReadMeta(dir string) (Meta, error) {
	var m Meta
	b, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("%s: %w", dir, err)
	}
	return m, nil
}

// PruneSnapshots keeps the newest keep snapshots in dir and removes the rest.
// keep <= 0 disables pruning.
func PruneSnapshots(dir string, keep int) (removed []string, err error) {
	if keep <= 0 {
		return nil, nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type cand struct {
		path string
		tick uint64
	}
	var cands []cand
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapshot.Ext) {
			continue
		}
		t, perr := strconv.ParseUint(strings.TrimSuffix(name, snapshot.Ext), 10, 64)
		if perr != nil {
			continue
		}
		cands = append(cands, cand{path: filepath.Join(dir, name), tick: t})
	}
	if len(cands) <= keep {
		return nil, nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].tick > cands[j].tick })
	for _, c := range cands[keep:] {
		if err := os.Remove(c.path); err != nil {
			return removed, err
		}
		removed = append(removed, c.path)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
