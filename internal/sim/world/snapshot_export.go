package world

import (
	"voxelpipe.dev/internal/persistence/snapshot"
	"voxelpipe.dev/internal/sim/world/logic/mathx"
	"voxelpipe.dev/internal/sim/world/terrain/chunk"
)

// ExportSnapshot captures every chunk that diverged from generated terrain,
// loaded or retained.
func (m *Manager) ExportSnapshot(tick uint64) snapshot.SnapshotV1 {
	chunks := map[mathx.Vec3i]*chunk.Chunk{}
	for coord, c := range m.retained {
		chunks[coord] = c
	}
	for coord, rec := range m.loaded {
		if rec.edited {
			chunks[coord] = rec.chunk
		}
	}

	out := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: m.cfg.ID,
			Tick:    tick,
		},
		Seed:      m.cfg.Seed,
		ChunkSize: m.cfg.ChunkSize.Array(),
		Focus:     [3]float32{m.focus.X(), m.focus.Y(), m.focus.Z()},
		Chunks:    make([]snapshot.ChunkV1, 0, len(chunks)),
	}
	for _, coord := range sortedKeys(chunks) {
		c := chunks[coord]
		blocks := make([]uint8, len(c.Blocks))
		for i, b := range c.Blocks {
			blocks[i] = uint8(b)
		}
		out.Chunks = append(out.Chunks, snapshot.ChunkV1{Coord: coord.Array(), Blocks: blocks})
	}
	return out
}
