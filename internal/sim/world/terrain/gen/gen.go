package gen

import (
	"fmt"
	"sync"

	"github.com/ojrac/opensimplex-go"

	"voxelpipe.dev/internal/sim/world/block"
	"voxelpipe.dev/internal/sim/world/logic/mathx"
	"voxelpipe.dev/internal/sim/world/terrain/chunk"
)

// Params shape the summed-octave heightmap.
type Params struct {
	Octaves      int
	OctaveHeight float64
	BaseHeight   int
	BaseScale    float64

	// StoneDepth > 0 turns voxels deeper than this below the surface into Stone.
	StoneDepth int
}

func DefaultParams() Params {
	return Params{
		Octaves:      1,
		OctaveHeight: 20,
		BaseHeight:   20,
		BaseScale:    500,
	}
}

func (p Params) Validate() error {
	if p.Octaves < 1 {
		return fmt.Errorf("octaves must be >= 1, got %d", p.Octaves)
	}
	if p.BaseScale <= 0 {
		return fmt.Errorf("base_scale must be > 0, got %v", p.BaseScale)
	}
	if p.StoneDepth < 0 {
		return fmt.Errorf("stone_depth must be >= 0, got %d", p.StoneDepth)
	}
	return nil
}

// Generator fills chunks from (coord, seed). It is safe for concurrent use.
type Generator struct {
	params Params
	size   chunk.Size

	mu    sync.Mutex
	noise map[int64]opensimplex.Noise
}

func New(params Params, size chunk.Size) *Generator {
	return &Generator{
		params: params,
		size:   size,
		noise:  map[int64]opensimplex.Noise{},
	}
}

func (g *Generator) Params() Params   { return g.params }
func (g *Generator) Size() chunk.Size { return g.size }

func (g *Generator) noiseFor(seed int64) opensimplex.Noise {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.noise[seed]
	if !ok {
		n = opensimplex.New(seed)
		g.noise[seed] = n
	}
	return n
}

// HeightAt returns the terrain surface height of a world column.
func (g *Generator) HeightAt(wx, wz int, seed int64) int {
	return g.height(g.noiseFor(seed), wx, wz)
}

func (g *Generator) height(n opensimplex.Noise, wx, wz int) int {
	fx, fz := float64(wx), float64(wz)
	h := 0
	for octave := 1; octave <= g.params.Octaves; octave++ {
		o := float64(octave)
		scale := g.params.BaseScale / o
		// Each octave contributes a truncated integer step.
		h += int((g.params.OctaveHeight / o) * n.Eval2(fx/scale, fz/scale))
	}
	return h + g.params.BaseHeight
}

type column struct{ x, z int }

// Generate builds the chunk at coord. The result depends only on coord and seed.
func (g *Generator) Generate(coord mathx.Vec3i, seed int64) *chunk.Chunk {
	c := chunk.New(coord, seed, g.size)
	n := g.noiseFor(seed)

	heights := make(map[column]int, g.size.X*g.size.Z)
	for x := 0; x < g.size.X; x++ {
		for z := 0; z < g.size.Z; z++ {
			wx := x + coord.X*g.size.X
			wz := z + coord.Z*g.size.Z
			heights[column{x, z}] = g.height(n, wx, wz)
		}
	}

	baseY := coord.Y * g.size.Y
	for x := 0; x < g.size.X; x++ {
		for z := 0; z < g.size.Z; z++ {
			h, ok := heights[column{x, z}]
			if !ok {
				panic(fmt.Sprintf("gen: no height sample for column (%d,%d) of chunk %v", x, z, coord))
			}
			for y := 0; y < g.size.Y; y++ {
				wy := y + baseY
				if wy > h {
					continue
				}
				b := block.Grass
				if g.params.StoneDepth > 0 && h-wy > g.params.StoneDepth {
					b = block.Stone
				}
				c.Set(mathx.Vec3i{X: x, Y: y, Z: z}, b)
			}
		}
	}
	return c
}
