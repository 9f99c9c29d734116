package world

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"voxelpipe.dev/internal/persistence/snapshot"
	"voxelpipe.dev/internal/sim/world/block"
	"voxelpipe.dev/internal/sim/world/logic/mathx"
	"voxelpipe.dev/internal/sim/world/terrain/chunk"
)

// ImportSnapshot restores edited chunks. Loaded chunks at the same coordinates
// are replaced and remeshed; the rest are used the next time their
// coordinate loads. The tick counter resumes at snapshot tick + 1.
func (m *Manager) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	if snap.Seed != m.cfg.Seed {
		return fmt.Errorf("snapshot seed %d does not match world seed %d", snap.Seed, m.cfg.Seed)
	}
	if snap.ChunkSize != m.cfg.ChunkSize.Array() {
		return fmt.Errorf("snapshot chunk size %v does not match world chunk size %v", snap.ChunkSize, m.cfg.ChunkSize.Array())
	}

	// Validate everything before touching state.
	restored := make(map[mathx.Vec3i]*chunk.Chunk, len(snap.Chunks))
	for _, cs := range snap.Chunks {
		coord := mathx.FromArray(cs.Coord)
		if _, dup := restored[coord]; dup {
			return fmt.Errorf("snapshot has duplicate chunk %v", coord)
		}
		if len(cs.Blocks) != m.cfg.ChunkSize.Volume() {
			return fmt.Errorf("chunk %v: %d blocks, want %d", coord, len(cs.Blocks), m.cfg.ChunkSize.Volume())
		}
		c := chunk.New(coord, m.cfg.Seed, m.cfg.ChunkSize)
		for i, b := range cs.Blocks {
			t := block.Type(b)
			if !t.Valid() {
				return fmt.Errorf("chunk %v: invalid block %d at %d", coord, b, i)
			}
			c.Blocks[i] = t
		}
		restored[coord] = c
	}

	for coord, c := range restored {
		if rec := m.loaded[coord]; rec != nil {
			rec.chunk = c
			rec.edited = true
			rec.needsMesh = true
			for _, d := range []mathx.Vec3i{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {Z: 1}, {Z: -1}} {
				if nb := m.loaded[coord.Add(d)]; nb != nil {
					nb.needsMesh = true
				}
			}
			continue
		}
		// A pending task may still return generated terrain; drop it so the
		// next load picks up the restored chunk.
		delete(m.generating, coord)
		m.retained[coord] = c
	}

	m.focus = mgl32.Vec3{snap.Focus[0], snap.Focus[1], snap.Focus[2]}
	// Resume on the next tick.
	m.tick.Store(snap.Header.Tick + 1)
	return nil
}

// LastFocus is the focus of the most recent Tick or imported snapshot.
func (m *Manager) LastFocus() mgl32.Vec3 { return m.focus }
