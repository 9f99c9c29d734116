package world

import (
	"voxelpipe.dev/internal/sim/world/logic/mathx"
	"voxelpipe.dev/internal/sim/world/mesh"
)

// ChunkMesh is the render and collision geometry of one chunk. Surface
// positions are chunk-local; Origin places them in the world.
type ChunkMesh struct {
	Coord    mathx.Vec3i
	Origin   mathx.Vec3i
	Surface  *mesh.Surface
	Collider mesh.Collider
	Material string
}

// Sink receives geometry from the tick goroutine. Attach replaces any mesh
// previously attached at the same coordinate.
type Sink interface {
	Attach(m ChunkMesh)
	Detach(coord mathx.Vec3i)
}

// TickSink is implemented by sinks that also want the per-tick summary.
type TickSink interface {
	ObserveTick(entry TickLogEntry)
}

// Sinks fans out to every element in order.
type Sinks []Sink

func (s Sinks) Attach(m ChunkMesh) {
	for _, k := range s {
		k.Attach(m)
	}
}

func (s Sinks) Detach(coord mathx.Vec3i) {
	for _, k := range s {
		k.Detach(coord)
	}
}

func (s Sinks) ObserveTick(entry TickLogEntry) {
	for _, k := range s {
		if ts, ok := k.(TickSink); ok {
			ts.ObserveTick(entry)
		}
	}
}

type nopSink struct{}

func (nopSink) Attach(ChunkMesh)   {}
func (nopSink) Detach(mathx.Vec3i) {}
