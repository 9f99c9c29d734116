package chunk

import (
	"crypto/sha256"
	"fmt"

	"voxelpipe.dev/internal/sim/world/block"
	"voxelpipe.dev/internal/sim/world/logic/mathx"
)

// Size holds the chunk edge lengths per axis.
type Size struct {
	X, Y, Z int
}

// DefaultSize is the 32^3 layout used by the terrain defaults.
var DefaultSize = Size{X: 32, Y: 32, Z: 32}

func (s Size) Volume() int { return s.X * s.Y * s.Z }

func (s Size) Vec() mathx.Vec3i { return mathx.Vec3i{X: s.X, Y: s.Y, Z: s.Z} }

func (s Size) Valid() bool { return s.X > 0 && s.Y > 0 && s.Z > 0 }

func (s Size) Array() [3]int { return [3]int{s.X, s.Y, s.Z} }

// Chunk is a dense cuboid of blocks at a chunk coordinate.
type Chunk struct {
	Coord mathx.Vec3i
	Seed  int64
	Size  Size

	// x-major, then y, then z; see index.
	Blocks []block.Type

	dirty bool
	hash  [32]byte
}

// New returns an all-Air chunk.
func New(coord mathx.Vec3i, seed int64, size Size) *Chunk {
	if !size.Valid() {
		panic(fmt.Sprintf("chunk: invalid size %+v", size))
	}
	return &Chunk{
		Coord:  coord,
		Seed:   seed,
		Size:   size,
		Blocks: make([]block.Type, size.Volume()),
		dirty:  true,
	}
}

func (c *Chunk) index(x, y, z int) int {
	return (x*c.Size.Y+y)*c.Size.Z + z
}

func (c *Chunk) InBounds(p mathx.Vec3i) bool {
	return p.X >= 0 && p.X < c.Size.X &&
		p.Y >= 0 && p.Y < c.Size.Y &&
		p.Z >= 0 && p.Z < c.Size.Z
}

// Get returns the block at a local position. ok is false outside the chunk;
// callers resolve those positions through the neighbor chunk.
func (c *Chunk) Get(p mathx.Vec3i) (block.Type, bool) {
	if !c.InBounds(p) {
		return block.Air, false
	}
	return c.Blocks[c.index(p.X, p.Y, p.Z)], true
}

// Set writes a block. Out of bounds positions are a programming error.
func (c *Chunk) Set(p mathx.Vec3i, b block.Type) {
	if !c.InBounds(p) {
		panic(fmt.Sprintf("chunk %v: set out of bounds at %v", c.Coord, p))
	}
	i := c.index(p.X, p.Y, p.Z)
	if c.Blocks[i] == b {
		return
	}
	c.Blocks[i] = b
	c.dirty = true
}

// Each visits every block in storage order.
func (c *Chunk) Each(fn func(p mathx.Vec3i, b block.Type)) {
	i := 0
	for x := 0; x < c.Size.X; x++ {
		for y := 0; y < c.Size.Y; y++ {
			for z := 0; z < c.Size.Z; z++ {
				fn(mathx.Vec3i{X: x, Y: y, Z: z}, c.Blocks[i])
				i++
			}
		}
	}
}

// Origin is the world position of the chunk's (0,0,0) corner.
func (c *Chunk) Origin() mathx.Vec3i {
	return mathx.Vec3i{X: c.Coord.X * c.Size.X, Y: c.Coord.Y * c.Size.Y, Z: c.Coord.Z * c.Size.Z}
}

// IsEmpty reports whether every block is Air.
func (c *Chunk) IsEmpty() bool {
	for _, b := range c.Blocks {
		if b != block.Air {
			return false
		}
	}
	return true
}

func (c *Chunk) Clone() *Chunk {
	cp := *c
	cp.Blocks = append([]block.Type(nil), c.Blocks...)
	return &cp
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		raw := make([]byte, len(c.Blocks))
		for i, b := range c.Blocks {
			raw[i] = byte(b)
		}
		c.hash = sha256.Sum256(raw)
		c.dirty = false
	}
	return c.hash
}

// Fill sets every block to b.
func (c *Chunk) Fill(b block.Type) {
	for i := range c.Blocks {
		c.Blocks[i] = b
	}
	c.dirty = true
}
