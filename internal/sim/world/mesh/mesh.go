// Package mesh turns a chunk and its six face neighbors into surface geometry.
package mesh

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"voxelpipe.dev/internal/sim/world/block"
	"voxelpipe.dev/internal/sim/world/logic/mathx"
	"voxelpipe.dev/internal/sim/world/terrain/chunk"
)

// Face indexes Neighbors and the per-face vertex tables.
type Face int

const (
	Top Face = iota
	Front
	Right
	Back
	Left
	Bottom

	numFaces
)

var faceNames = [numFaces]string{"top", "front", "right", "back", "left", "bottom"}

func (f Face) String() string {
	if f < 0 || f >= numFaces {
		return fmt.Sprintf("Face(%d)", int(f))
	}
	return faceNames[f]
}

// Dirs are the unit offsets of each face, in Face order.
var Dirs = [numFaces]mathx.Vec3i{
	Top:    {X: 0, Y: 1, Z: 0},
	Front:  {X: 0, Y: 0, Z: 1},
	Right:  {X: 1, Y: 0, Z: 0},
	Back:   {X: 0, Y: 0, Z: -1},
	Left:   {X: -1, Y: 0, Z: 0},
	Bottom: {X: 0, Y: -1, Z: 0},
}

// Neighbors holds the six face-adjacent chunks in Face order.
type Neighbors [numFaces]*chunk.Chunk

// corners are the unit-cube vertex offsets per face (TL, TR, BR, BL as seen
// from outside).
var corners = [numFaces][4]mgl32.Vec3{
	Top:    {{0, 1, 0}, {1, 1, 0}, {1, 1, 1}, {0, 1, 1}},
	Front:  {{0, 1, 1}, {1, 1, 1}, {1, 0, 1}, {0, 0, 1}},
	Right:  {{1, 1, 1}, {1, 1, 0}, {1, 0, 0}, {1, 0, 1}},
	Back:   {{1, 1, 0}, {0, 1, 0}, {0, 0, 0}, {1, 0, 0}},
	Left:   {{0, 1, 0}, {0, 1, 1}, {0, 0, 1}, {0, 0, 0}},
	Bottom: {{0, 0, 1}, {1, 0, 1}, {1, 0, 0}, {0, 0, 0}},
}

var quadIndices = [6]uint32{3, 1, 0, 3, 2, 1}

// Surface is the renderable buffer set of one chunk, in chunk-local space.
type Surface struct {
	Positions []mgl32.Vec3
	Indices   []uint32
	UVs       []mgl32.Vec2
}

func (s *Surface) VertexCount() int   { return len(s.Positions) }
func (s *Surface) TriangleCount() int { return len(s.Indices) / 3 }

// Collider is a static triangle mesh shaped exactly like the render surface.
type Collider struct {
	Vertices  []mgl32.Vec3
	Triangles [][3]uint32
}

func (s *Surface) Collider() Collider {
	tris := make([][3]uint32, 0, len(s.Indices)/3)
	for i := 0; i+2 < len(s.Indices); i += 3 {
		tris = append(tris, [3]uint32{s.Indices[i], s.Indices[i+1], s.Indices[i+2]})
	}
	return Collider{
		Vertices:  append([]mgl32.Vec3(nil), s.Positions...),
		Triangles: tris,
	}
}

// Build emits one quad per visible block face. It returns nil when no face is
// visible. Every neighbor must be present and uv must cover every non-Air
// block in c; violations panic.
func Build(c *chunk.Chunk, n Neighbors, uv *block.UvMapping) *Surface {
	for f, nb := range n {
		if nb == nil {
			panic(fmt.Sprintf("mesh: chunk %v built without %s neighbor", c.Coord, Face(f)))
		}
	}

	s := &Surface{}
	c.Each(func(p mathx.Vec3i, b block.Type) {
		if b == block.Air {
			return
		}
		var visible [numFaces]bool
		shown := false
		for f := Face(0); f < numFaces; f++ {
			if neighborAt(c, n, p, f).IsTransparent() {
				visible[f] = true
				shown = true
			}
		}
		if !shown {
			return
		}

		faces := uv.MustLookup(b)
		pos := mgl32.Vec3{float32(p.X), float32(p.Y), float32(p.Z)}
		for f := Face(0); f < numFaces; f++ {
			if visible[f] {
				s.appendFace(pos, f, faces)
			}
		}
	})

	if len(s.Indices) == 0 {
		return nil
	}
	return s
}

func (s *Surface) appendFace(pos mgl32.Vec3, f Face, faces block.Faces) {
	base := uint32(len(s.Positions))
	for _, off := range corners[f] {
		s.Positions = append(s.Positions, pos.Add(off))
	}
	for _, i := range quadIndices {
		s.Indices = append(s.Indices, base+i)
	}
	var quad block.UVs
	switch f {
	case Top:
		quad = faces.Top
	case Bottom:
		quad = faces.Bottom
	default:
		quad = faces.Side
	}
	s.UVs = append(s.UVs, quad[:]...)
}

// neighborAt reads the block across face f of p, crossing into the adjacent
// chunk at the wrapped coordinate when p sits on the boundary.
func neighborAt(c *chunk.Chunk, n Neighbors, p mathx.Vec3i, f Face) block.Type {
	q := p.Add(Dirs[f])
	if b, ok := c.Get(q); ok {
		return b
	}
	nb := n[f]
	w := mathx.Vec3i{
		X: mathx.Mod(q.X, nb.Size.X),
		Y: mathx.Mod(q.Y, nb.Size.Y),
		Z: mathx.Mod(q.Z, nb.Size.Z),
	}
	b, ok := nb.Get(w)
	if !ok {
		panic(fmt.Sprintf("mesh: %s neighbor of %v has no block at %v", f, c.Coord, w))
	}
	return b
}
