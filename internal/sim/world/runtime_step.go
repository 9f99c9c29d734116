package world

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelpipe.dev/internal/sim/world/logic/mathx"
	"voxelpipe.dev/internal/sim/world/mesh"
	"voxelpipe.dev/internal/sim/world/terrain/chunk"
)

// Tick advances the pipeline by one step around focus: load, poll, edits,
// mesh, unload. A non-nil error means a generation task failed and the
// manager should not be ticked again.
func (m *Manager) Tick(focus mgl32.Vec3) (TickLogEntry, error) {
	stepStart := time.Now()
	nowTick := m.tick.Load()

	m.focus = focus
	fc := m.FocusChunk(focus)
	entry := TickLogEntry{
		Tick:       nowTick,
		Focus:      [3]float32{focus.X(), focus.Y(), focus.Z()},
		FocusChunk: fc.Array(),
	}

	m.stepLoad(fc, &entry)
	if err := m.stepPoll(fc, &entry); err != nil {
		return entry, err
	}
	m.stepEdits(&entry)
	m.stepMesh(&entry)
	m.stepUnload(fc, &entry)

	entry.Loaded = len(m.loaded)
	entry.Generating = len(m.generating)

	if ts, ok := m.sink.(TickSink); ok {
		ts.ObserveTick(entry)
	}
	if m.tickLogger != nil {
		if err := m.tickLogger.WriteTick(entry); err != nil {
			m.logger.Printf("warn: tick log: %v", err)
		}
	}

	// Snapshot every N ticks, starting after tick 0.
	if m.snapshotSink != nil && nowTick != 0 && m.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(m.cfg.SnapshotEveryTicks) == 0 {
			snap := m.ExportSnapshot(nowTick)
			select {
			case m.snapshotSink <- snap:
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	m.tick.Add(1)
	m.publishMetrics(entry, time.Since(stepStart))
	return entry, nil
}

func (m *Manager) stepLoad(fc mathx.Vec3i, entry *TickLogEntry) {
	d := m.cfg.LoadDistance()
	dy := m.cfg.VerticalLoadDistance()

	var want []mathx.Vec3i
	for x := -d + 1; x < d; x++ {
		for y := -dy + 1; y < dy; y++ {
			for z := -d + 1; z < d; z++ {
				c := fc.Add(mathx.Vec3i{X: x, Y: y, Z: z})
				if _, ok := m.loaded[c]; ok {
					continue
				}
				if _, ok := m.generating[c]; ok {
					continue
				}
				want = append(want, c)
			}
		}
	}
	sortNearest(want, fc)
	if limit := m.cfg.MaxDispatchPerTick; limit > 0 && len(want) > limit {
		want = want[:limit]
	}
	for _, c := range want {
		m.generating[c] = m.dispatch(c)
		entry.Dispatched++
	}
}

func (m *Manager) dispatch(coord mathx.Vec3i) Pending {
	seed := m.cfg.Seed
	gen := m.gen
	var saved *chunk.Chunk
	if c := m.retained[coord]; c != nil {
		// Workers get their own copy; the retained one stays until promotion.
		saved = c.Clone()
	}
	return m.spawner.Spawn(func() (*chunk.Chunk, error) {
		if saved != nil {
			return saved, nil
		}
		c := gen.Generate(coord, seed)
		if c == nil {
			return nil, fmt.Errorf("generator returned no chunk for %v", coord)
		}
		return c, nil
	})
}

func (m *Manager) stepPoll(fc mathx.Vec3i, entry *TickLogEntry) error {
	for _, coord := range sortedKeys(m.generating) {
		c, done, err := m.generating[coord].Poll()
		if !done {
			continue
		}
		delete(m.generating, coord)
		if err != nil {
			return fmt.Errorf("generate chunk %v: %w", coord, err)
		}
		if coord.Chebyshev(fc) > m.cfg.UnloadRadius {
			entry.Discarded++
			continue
		}
		if _, ok := m.loaded[coord]; ok {
			panic(fmt.Sprintf("world: chunk %v is both loaded and generating", coord))
		}
		_, edited := m.retained[coord]
		delete(m.retained, coord)
		m.loaded[coord] = &record{
			chunk:       c,
			state:       StateLoaded,
			needsMesh:   true,
			initialMesh: true,
			edited:      edited,
		}
		entry.Promoted++
	}
	return nil
}

func (m *Manager) stepEdits(entry *TickLogEntry) {
	if len(m.edits) == 0 {
		return
	}
	size := m.cfg.ChunkSize
	for _, coord := range sortedKeys(m.edits) {
		edits := m.edits[coord]
		rec := m.loaded[coord]
		if rec == nil {
			m.logger.Printf("warn: tried to edit %d block(s) in unloaded chunk %v", len(edits), coord)
			entry.EditsDropped += len(edits)
			continue
		}
		for _, ed := range edits {
			rec.chunk.Set(ed.Local, ed.Block)
			entry.EditsApplied++
			m.flagSeams(coord, ed.Local, size)
		}
		rec.needsMesh = true
		rec.edited = true
	}
	clear(m.edits)
}

// flagSeams marks loaded neighbors whose shared face touches local.
func (m *Manager) flagSeams(coord, local mathx.Vec3i, size chunk.Size) {
	touch := func(on bool, dir mathx.Vec3i) {
		if !on {
			return
		}
		if nb := m.loaded[coord.Add(dir)]; nb != nil {
			nb.needsMesh = true
		}
	}
	touch(local.X == 0, mesh.Dirs[mesh.Left])
	touch(local.X == size.X-1, mesh.Dirs[mesh.Right])
	touch(local.Y == 0, mesh.Dirs[mesh.Bottom])
	touch(local.Y == size.Y-1, mesh.Dirs[mesh.Top])
	touch(local.Z == 0, mesh.Dirs[mesh.Back])
	touch(local.Z == size.Z-1, mesh.Dirs[mesh.Front])
}

func (m *Manager) stepMesh(entry *TickLogEntry) {
	for _, coord := range sortedKeys(m.loaded) {
		rec := m.loaded[coord]
		if !rec.needsMesh {
			continue
		}
		n, ok := m.neighbors(coord)
		if !ok {
			entry.Deferred++
			continue
		}

		s := mesh.Build(rec.chunk, n, m.uv)
		if s != nil {
			m.sink.Attach(ChunkMesh{
				Coord:    coord,
				Origin:   rec.chunk.Origin(),
				Surface:  s,
				Collider: s.Collider(),
				Material: m.cfg.Material,
			})
			rec.attached = true
			rec.state = StateMeshed
			entry.Meshed++
			entry.Meshes = append(entry.Meshes, MeshRecord{
				Coord:     coord.Array(),
				Vertices:  s.VertexCount(),
				Triangles: s.TriangleCount(),
			})
		} else {
			if rec.attached {
				m.sink.Detach(coord)
				rec.attached = false
				entry.Removed = append(entry.Removed, coord.Array())
			}
			rec.state = StateEmpty
			entry.Empty++
		}

		rec.needsMesh = false
		if rec.initialMesh {
			rec.initialMesh = false
			rec.visible = true
		}
	}
}

func (m *Manager) neighbors(coord mathx.Vec3i) (mesh.Neighbors, bool) {
	var n mesh.Neighbors
	for f, d := range mesh.Dirs {
		rec := m.loaded[coord.Add(d)]
		if rec == nil {
			return n, false
		}
		n[f] = rec.chunk
	}
	return n, true
}

func (m *Manager) stepUnload(fc mathx.Vec3i, entry *TickLogEntry) {
	r := m.cfg.UnloadRadius
	for _, coord := range sortedKeys(m.loaded) {
		if coord.Chebyshev(fc) <= r {
			continue
		}
		rec := m.loaded[coord]
		if rec.attached {
			m.sink.Detach(coord)
			entry.Removed = append(entry.Removed, coord.Array())
		}
		if rec.edited {
			m.retained[coord] = rec.chunk.Clone()
		}
		delete(m.loaded, coord)
		entry.Evicted++
	}
	for coord := range m.generating {
		if coord.Chebyshev(fc) > r {
			// Not cancellable; the worker finishes and the result is dropped.
			delete(m.generating, coord)
			entry.Discarded++
		}
	}
}

func sortedKeys[V any](m map[mathx.Vec3i]V) []mathx.Vec3i {
	out := make([]mathx.Vec3i, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// sortNearest orders coords by Chebyshev distance to fc, then squared
// distance, then coordinate.
func sortNearest(coords []mathx.Vec3i, fc mathx.Vec3i) {
	sq := func(v mathx.Vec3i) int {
		d := v.Sub(fc)
		return d.X*d.X + d.Y*d.Y + d.Z*d.Z
	}
	sort.Slice(coords, func(i, j int) bool {
		a, b := coords[i], coords[j]
		if da, db := a.Chebyshev(fc), b.Chebyshev(fc); da != db {
			return da < db
		}
		if da, db := sq(a), sq(b); da != db {
			return da < db
		}
		return a.Less(b)
	})
}
