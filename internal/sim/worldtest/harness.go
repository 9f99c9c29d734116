package worldtest

import (
	"io"
	"log"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"voxelpipe.dev/internal/persistence/snapshot"
	"voxelpipe.dev/internal/sim/catalogs"
	"voxelpipe.dev/internal/sim/world"
	"voxelpipe.dev/internal/sim/world/block"
	"voxelpipe.dev/internal/sim/world/logic/mathx"
	"voxelpipe.dev/internal/sim/world/terrain/gen"
)

// Harness drives a Manager through exported APIs only:
// - Step/StepN tick around a focus point on the calling goroutine
// - Sink records what a renderer would currently show
// - Settle ticks until the pipeline stops doing work
//
// Generation runs inline, so every tick is deterministic.
type Harness struct {
	T     *testing.T
	Atlas *catalogs.Atlas
	Gen   *gen.Generator
	M     *world.Manager
	Sink  *Recorder

	Focus mgl32.Vec3
	Last  world.TickLogEntry
}

// ConfigsDir is the repo configs/ directory.
func ConfigsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "configs")
}

func NewHarness(t *testing.T, cfg world.Config, params gen.Params) *Harness {
	t.Helper()

	atlas, err := catalogs.Load(ConfigsDir())
	if err != nil {
		t.Fatalf("load atlas: %v", err)
	}
	if cfg.Material == "" {
		cfg.Material = atlas.Texture
	}
	g := gen.New(params, cfg.ChunkSize)
	rec := NewRecorder()
	m, err := world.New(cfg, g, atlas.Mapping, world.InlineSpawner{}, rec)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	m.SetLogger(log.New(io.Discard, "", 0))
	return &Harness{T: t, Atlas: atlas, Gen: g, M: m, Sink: rec}
}

func (h *Harness) Step(focus mgl32.Vec3) world.TickLogEntry {
	h.T.Helper()
	h.Focus = focus
	e, err := h.M.Tick(focus)
	if err != nil {
		h.T.Fatalf("tick %d: %v", e.Tick, err)
	}
	h.Last = e
	return e
}

func (h *Harness) StepN(focus mgl32.Vec3, n int) world.TickLogEntry {
	h.T.Helper()
	var e world.TickLogEntry
	for i := 0; i < n; i++ {
		e = h.Step(focus)
	}
	return e
}

// Settle ticks at focus until a tick dispatches, promotes and meshes nothing.
// It fails the test after limit ticks.
func (h *Harness) Settle(focus mgl32.Vec3, limit int) int {
	h.T.Helper()
	for i := 1; i <= limit; i++ {
		e := h.Step(focus)
		if e.Dispatched == 0 && e.Promoted == 0 && e.Meshed == 0 && e.Empty == 0 && e.Generating == 0 && e.Evicted == 0 {
			return i
		}
	}
	h.T.Fatalf("pipeline did not settle within %d ticks", limit)
	return limit
}

// ChunkCenter is the world position at the middle of the chunk at coord.
func (h *Harness) ChunkCenter(coord mathx.Vec3i) mgl32.Vec3 {
	s := h.M.Config().ChunkSize
	return mgl32.Vec3{
		(float32(coord.X) + 0.5) * float32(s.X),
		(float32(coord.Y) + 0.5) * float32(s.Y),
		(float32(coord.Z) + 0.5) * float32(s.Z),
	}
}

func (h *Harness) BlockAt(pos mathx.Vec3i) block.Type {
	h.T.Helper()
	t, ok := h.M.BlockAt(pos)
	if !ok {
		h.T.Fatalf("block %v is not loaded", pos)
	}
	return t
}

// SurfaceY is the world Y of the highest generated block in column (x, z).
func (h *Harness) SurfaceY(x, z int) int {
	return h.Gen.HeightAt(x, z, h.M.Config().Seed)
}

func (h *Harness) Snapshot() snapshot.SnapshotV1 {
	return h.M.ExportSnapshot(h.M.TickCount())
}

// Recorder is a world.Sink holding the current mesh per coordinate plus
// attach/detach counts.
type Recorder struct {
	Meshes   map[mathx.Vec3i]world.ChunkMesh
	Attaches map[mathx.Vec3i]int
	Detaches map[mathx.Vec3i]int
	Ticks    []world.TickLogEntry
}

func NewRecorder() *Recorder {
	return &Recorder{
		Meshes:   map[mathx.Vec3i]world.ChunkMesh{},
		Attaches: map[mathx.Vec3i]int{},
		Detaches: map[mathx.Vec3i]int{},
	}
}

func (r *Recorder) Attach(m world.ChunkMesh) {
	r.Meshes[m.Coord] = m
	r.Attaches[m.Coord]++
}

func (r *Recorder) Detach(coord mathx.Vec3i) {
	delete(r.Meshes, coord)
	r.Detaches[coord]++
}

func (r *Recorder) ObserveTick(e world.TickLogEntry) { r.Ticks = append(r.Ticks, e) }

// Coords lists the coordinates with a mesh attached, sorted.
func (r *Recorder) Coords() []mathx.Vec3i {
	out := make([]mathx.Vec3i, 0, len(r.Meshes))
	for c := range r.Meshes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
