package world

import (
	"fmt"

	"voxelpipe.dev/internal/sim/world/block"
	"voxelpipe.dev/internal/sim/world/logic/mathx"
	"voxelpipe.dev/internal/sim/world/terrain/chunk"
)

// State is the lifecycle position of one chunk coordinate.
type State int

const (
	StateUnloaded State = iota
	StateGenerating
	// Loaded and waiting for (re)meshing.
	StateLoaded
	StateMeshed
	// Meshed, but no face was visible.
	StateEmpty
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "UNLOADED"
	case StateGenerating:
		return "GENERATING"
	case StateLoaded:
		return "LOADED"
	case StateMeshed:
		return "MESHED"
	case StateEmpty:
		return "EMPTY"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Generator produces the terrain of one chunk. Implementations must be safe
// for concurrent use and deterministic in (coord, seed).
type Generator interface {
	Generate(coord mathx.Vec3i, seed int64) *chunk.Chunk
}

// Edit replaces one block inside a chunk.
type Edit struct {
	Local mathx.Vec3i
	Block block.Type
}

type record struct {
	chunk *chunk.Chunk
	state State

	needsMesh   bool
	initialMesh bool
	visible     bool
	attached    bool

	// Diverged from generated terrain; retained on eviction.
	edited bool
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// TickLogEntry summarizes one Tick. Counts are for this tick only, except
// Loaded and Generating which are the sizes after the tick.
type TickLogEntry struct {
	Tick       uint64     `json:"tick"`
	Focus      [3]float32 `json:"focus"`
	FocusChunk [3]int     `json:"focus_chunk"`

	Loaded     int `json:"loaded"`
	Generating int `json:"generating"`

	Dispatched   int `json:"dispatched"`
	Promoted     int `json:"promoted"`
	Discarded    int `json:"discarded"`
	Meshed       int `json:"meshed"`
	Empty        int `json:"empty"`
	Deferred     int `json:"deferred"`
	Evicted      int `json:"evicted"`
	EditsApplied int `json:"edits_applied"`
	EditsDropped int `json:"edits_dropped"`

	Meshes  []MeshRecord `json:"meshes,omitempty"`
	Removed [][3]int     `json:"removed,omitempty"`
}

type MeshRecord struct {
	Coord     [3]int `json:"coord"`
	Vertices  int    `json:"vertices"`
	Triangles int    `json:"triangles"`
}
