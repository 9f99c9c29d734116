package mesh

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"voxelpipe.dev/internal/sim/world/block"
	"voxelpipe.dev/internal/sim/world/logic/mathx"
	"voxelpipe.dev/internal/sim/world/terrain/chunk"
)

var testSize = chunk.Size{X: 4, Y: 4, Z: 4}

func testUVs() *block.UvMapping {
	return block.NewUvMapping(map[block.Type]block.Faces{
		block.Grass: {
			Top:    block.RectUVs(0, 0, 16, 16, 64, 16),
			Side:   block.RectUVs(16, 0, 16, 16, 64, 16),
			Bottom: block.RectUVs(32, 0, 16, 16, 64, 16),
		},
		block.Stone: {
			Top:    block.RectUVs(48, 0, 16, 16, 64, 16),
			Side:   block.RectUVs(48, 0, 16, 16, 64, 16),
			Bottom: block.RectUVs(48, 0, 16, 16, 64, 16),
		},
	})
}

func airNeighbors(coord mathx.Vec3i) Neighbors {
	var n Neighbors
	for f := range n {
		n[f] = chunk.New(coord.Add(Dirs[f]), 1, testSize)
	}
	return n
}

func solidNeighbors(coord mathx.Vec3i) Neighbors {
	n := airNeighbors(coord)
	for _, c := range n {
		c.Fill(block.Stone)
	}
	return n
}

func TestBuild_SingleBlockEmitsSixFaces(t *testing.T) {
	c := chunk.New(mathx.Vec3i{}, 1, testSize)
	c.Set(mathx.Vec3i{X: 1, Y: 1, Z: 1}, block.Grass)

	s := Build(c, airNeighbors(c.Coord), testUVs())
	if s == nil {
		t.Fatalf("expected surface")
	}
	if s.VertexCount() != 24 || len(s.Indices) != 36 || len(s.UVs) != 24 {
		t.Fatalf("verts=%d indices=%d uvs=%d", s.VertexCount(), len(s.Indices), len(s.UVs))
	}
	if s.TriangleCount() != 12 {
		t.Fatalf("triangles=%d", s.TriangleCount())
	}
	// First face is the top quad with indices {3,1,0,3,2,1}.
	wantTop := []mgl32.Vec3{{1, 2, 1}, {2, 2, 1}, {2, 2, 2}, {1, 2, 2}}
	for i, v := range wantTop {
		if !s.Positions[i].ApproxEqual(v) {
			t.Fatalf("top vertex %d = %v want %v", i, s.Positions[i], v)
		}
	}
	wantIdx := []uint32{3, 1, 0, 3, 2, 1, 7, 5, 4, 7, 6, 5}
	for i, v := range wantIdx {
		if s.Indices[i] != v {
			t.Fatalf("index %d = %d want %d", i, s.Indices[i], v)
		}
	}
}

func TestBuild_UVQuadPerFace(t *testing.T) {
	c := chunk.New(mathx.Vec3i{}, 1, testSize)
	c.Set(mathx.Vec3i{X: 2, Y: 2, Z: 2}, block.Grass)
	uv := testUVs()
	faces, _ := uv.Lookup(block.Grass)

	s := Build(c, airNeighbors(c.Coord), uv)
	want := [numFaces]block.UVs{
		Top: faces.Top, Front: faces.Side, Right: faces.Side,
		Back: faces.Side, Left: faces.Side, Bottom: faces.Bottom,
	}
	for f := Face(0); f < numFaces; f++ {
		for k := 0; k < 4; k++ {
			if got := s.UVs[int(f)*4+k]; !got.ApproxEqual(want[f][k]) {
				t.Fatalf("%s corner %d = %v want %v", f, k, got, want[f][k])
			}
		}
	}
}

func TestBuild_EmptyResults(t *testing.T) {
	air := chunk.New(mathx.Vec3i{}, 1, testSize)
	if s := Build(air, airNeighbors(air.Coord), testUVs()); s != nil {
		t.Fatalf("all-air chunk produced %d vertices", s.VertexCount())
	}

	solid := chunk.New(mathx.Vec3i{}, 1, testSize)
	solid.Fill(block.Stone)
	if s := Build(solid, solidNeighbors(solid.Coord), testUVs()); s != nil {
		t.Fatalf("enclosed solid chunk produced %d vertices", s.VertexCount())
	}
}

func TestBuild_HiddenInteriorSkipped(t *testing.T) {
	c := chunk.New(mathx.Vec3i{}, 1, testSize)
	c.Fill(block.Stone)
	s := Build(c, airNeighbors(c.Coord), testUVs())
	// Only the 6 outer 4x4 faces are visible.
	if got, want := s.VertexCount(), 6*16*4; got != want {
		t.Fatalf("vertices = %d want %d", got, want)
	}
}

func TestBuild_BoundarySymmetry(t *testing.T) {
	// Two adjacent solid chunks must not emit the shared seam on either side.
	a := chunk.New(mathx.Vec3i{}, 1, testSize)
	a.Fill(block.Stone)
	b := chunk.New(mathx.Vec3i{X: 1}, 1, testSize)
	b.Fill(block.Stone)

	na := airNeighbors(a.Coord)
	na[Right] = b
	nb := airNeighbors(b.Coord)
	nb[Left] = a

	for _, tc := range []struct {
		name string
		s    *Surface
		x    float32
	}{
		{"a right seam", Build(a, na, testUVs()), 4},
		{"b left seam", Build(b, nb, testUVs()), 0},
	} {
		if got, want := tc.s.VertexCount(), 5*16*4; got != want {
			t.Fatalf("%s: vertices = %d want %d", tc.name, got, want)
		}
		for i := 0; i < len(tc.s.Positions); i += 4 {
			q := tc.s.Positions[i : i+4]
			if q[0].X() == tc.x && q[1].X() == tc.x && q[2].X() == tc.x && q[3].X() == tc.x {
				t.Fatalf("%s: seam quad emitted at x=%v", tc.name, tc.x)
			}
		}
	}

	// Carving the seam block on a exposes exactly one face of b.
	a.Set(mathx.Vec3i{X: 3, Y: 1, Z: 1}, block.Air)
	s := Build(b, nb, testUVs())
	if got, want := s.VertexCount(), 5*16*4+4; got != want {
		t.Fatalf("after carve: vertices = %d want %d", got, want)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	c := chunk.New(mathx.Vec3i{X: -1, Y: 2, Z: 0}, 1, testSize)
	c.Set(mathx.Vec3i{X: 0, Y: 0, Z: 0}, block.Grass)
	c.Set(mathx.Vec3i{X: 0, Y: 1, Z: 0}, block.Stone)
	c.Set(mathx.Vec3i{X: 3, Y: 3, Z: 3}, block.Grass)
	n := airNeighbors(c.Coord)

	first := Build(c, n, testUVs())
	second := Build(c, n, testUVs())
	if len(first.Positions) != len(second.Positions) || len(first.Indices) != len(second.Indices) {
		t.Fatalf("sizes differ between builds")
	}
	for i := range first.Positions {
		if first.Positions[i] != second.Positions[i] || first.UVs[i] != second.UVs[i] {
			t.Fatalf("vertex %d differs", i)
		}
	}
	for i := range first.Indices {
		if first.Indices[i] != second.Indices[i] {
			t.Fatalf("index %d differs", i)
		}
	}
}

func TestSurface_ColliderMatchesBuffers(t *testing.T) {
	c := chunk.New(mathx.Vec3i{}, 1, testSize)
	c.Set(mathx.Vec3i{X: 0, Y: 0, Z: 0}, block.Grass)
	c.Set(mathx.Vec3i{X: 1, Y: 0, Z: 0}, block.Grass)
	s := Build(c, airNeighbors(c.Coord), testUVs())

	col := s.Collider()
	if len(col.Vertices) != s.VertexCount() || len(col.Triangles) != s.TriangleCount() {
		t.Fatalf("collider %d/%d surface %d/%d", len(col.Vertices), len(col.Triangles), s.VertexCount(), s.TriangleCount())
	}
	for i, tri := range col.Triangles {
		for k := 0; k < 3; k++ {
			if tri[k] != s.Indices[i*3+k] {
				t.Fatalf("triangle %d differs from indices", i)
			}
		}
	}
	// Two touching blocks share a hidden face pair.
	if s.VertexCount() != 10*4 {
		t.Fatalf("vertices = %d", s.VertexCount())
	}
}

func TestBuild_Panics(t *testing.T) {
	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		fn()
	}

	c := chunk.New(mathx.Vec3i{}, 1, testSize)
	c.Set(mathx.Vec3i{X: 1, Y: 1, Z: 1}, block.Placeholder)
	mustPanic("missing uv", func() { Build(c, airNeighbors(c.Coord), testUVs()) })

	n := airNeighbors(c.Coord)
	n[Back] = nil
	mustPanic("missing neighbor", func() { Build(c, n, testUVs()) })
}
