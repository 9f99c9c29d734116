package world

import (
	"fmt"

	"voxelpipe.dev/internal/sim/world/terrain/chunk"
)

type Config struct {
	ID         string
	TickRateHz int
	Seed       int64
	ChunkSize  chunk.Size

	// Load window: |dx|,|dz| < RenderDistance+1 and |dy| < (RenderDistance+1)/VerticalDivisor.
	RenderDistance  int
	VerticalDivisor int
	// Chunks farther than UnloadRadius (Chebyshev, in chunks) are evicted.
	UnloadRadius int

	// 0 = unlimited.
	MaxDispatchPerTick int

	// Operational parameters.
	SnapshotEveryTicks int
	InboxSize          int

	// Material is passed through to sinks with every mesh (usually the atlas texture).
	Material string
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = "default"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.ChunkSize == (chunk.Size{}) {
		c.ChunkSize = chunk.DefaultSize
	}
	if c.RenderDistance <= 0 {
		c.RenderDistance = 3
	}
	if c.VerticalDivisor <= 0 {
		c.VerticalDivisor = 2
	}
	if c.UnloadRadius <= 0 {
		c.UnloadRadius = 10
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 1024
	}
}

func (c Config) validate() error {
	if !c.ChunkSize.Valid() {
		return fmt.Errorf("invalid chunk size %+v", c.ChunkSize)
	}
	if c.MaxDispatchPerTick < 0 {
		return fmt.Errorf("max dispatch per tick must be >= 0, got %d", c.MaxDispatchPerTick)
	}
	if c.UnloadRadius < c.LoadDistance() {
		return fmt.Errorf("unload radius %d must be >= render distance + 1 (%d)", c.UnloadRadius, c.LoadDistance())
	}
	return nil
}

// LoadDistance is the exclusive horizontal bound of the load window.
func (c Config) LoadDistance() int { return c.RenderDistance + 1 }

// VerticalLoadDistance is the exclusive vertical bound of the load window. It
// never drops below 1 so the focus layer is always loaded.
func (c Config) VerticalLoadDistance() int {
	return max(1, c.LoadDistance()/c.VerticalDivisor)
}
