package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int   `yaml:"tick_rate_hz"`
	Seed       int64 `yaml:"seed"`
	ChunkSize  []int `yaml:"chunk_size"`

	RenderDistance     int `yaml:"render_distance"`
	VerticalDivisor    int `yaml:"vertical_divisor"`
	UnloadRadius       int `yaml:"unload_radius"`
	MaxDispatchPerTick int `yaml:"max_dispatch_per_tick"`
	Workers            int `yaml:"workers"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	// Rolling snapshots kept on disk; 0 keeps all.
	SnapshotKeep int `yaml:"snapshot_keep"`
	// Snapshots at multiples of this tick are archived permanently; 0 disables.
	ArchiveEveryTicks int `yaml:"archive_every_ticks"`

	Terrain   Terrain   `yaml:"terrain"`
	Observer  Observer  `yaml:"observer"`
	FocusPath FocusPath `yaml:"focus_path"`
	Edits     Edits     `yaml:"edits"`
}

type Terrain struct {
	Octaves      int     `yaml:"octaves"`
	OctaveHeight float64 `yaml:"octave_height"`
	BaseHeight   int     `yaml:"base_height"`
	BaseScale    float64 `yaml:"base_scale"`
	StoneDepth   int     `yaml:"stone_depth"`
}

type Observer struct {
	MaxClients int `yaml:"max_clients"`
	SendBuffer int `yaml:"send_buffer"`
}

// Edits limits POST /v1/edit per actor: at most RateMax requests per
// RateWindowTicks. Either set to 0 disables the limit.
type Edits struct {
	RateWindowTicks int `yaml:"rate_window_ticks"`
	RateMax         int `yaml:"rate_max"`
}

// FocusPath drives the scripted observer: a circle of Radius blocks around
// the origin at Height, Speed blocks per second.
type FocusPath struct {
	Radius float64 `yaml:"radius"`
	Speed  float64 `yaml:"speed"`
	Height float64 `yaml:"height"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         20,
		Seed:               1337,
		ChunkSize:          []int{32, 32, 32},
		RenderDistance:     3,
		VerticalDivisor:    2,
		UnloadRadius:       10,
		MaxDispatchPerTick: 0,
		Workers:            4,
		SnapshotEveryTicks: 3000,
		SnapshotKeep:       8,
		ArchiveEveryTicks:  72000,
		Terrain: Terrain{
			Octaves:      1,
			OctaveHeight: 20,
			BaseHeight:   20,
			BaseScale:    500,
		},
		Observer: Observer{
			MaxClients: 16,
			SendBuffer: 1024,
		},
		FocusPath: FocusPath{
			Radius: 96,
			Speed:  8,
			Height: 24,
		},
		Edits: Edits{
			RateWindowTicks: 20,
			RateMax:         20,
		},
	}
}

// Load reads path over Defaults; keys missing from the file keep their
// default value.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0, got %d", t.TickRateHz)
	}
	if len(t.ChunkSize) != 3 {
		return fmt.Errorf("chunk_size must have 3 elements, got %d", len(t.ChunkSize))
	}
	for i, v := range t.ChunkSize {
		if v <= 0 {
			return fmt.Errorf("chunk_size[%d] must be > 0, got %d", i, v)
		}
	}
	if t.RenderDistance < 1 {
		return fmt.Errorf("render_distance must be >= 1, got %d", t.RenderDistance)
	}
	if t.VerticalDivisor < 1 {
		return fmt.Errorf("vertical_divisor must be >= 1, got %d", t.VerticalDivisor)
	}
	if t.UnloadRadius < t.RenderDistance+1 {
		return fmt.Errorf("unload_radius %d must be >= render_distance + 1 (%d)", t.UnloadRadius, t.RenderDistance+1)
	}
	if t.MaxDispatchPerTick < 0 {
		return fmt.Errorf("max_dispatch_per_tick must be >= 0, got %d", t.MaxDispatchPerTick)
	}
	if t.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", t.Workers)
	}
	if t.SnapshotEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks must be >= 0, got %d", t.SnapshotEveryTicks)
	}
	if t.SnapshotKeep < 0 || t.ArchiveEveryTicks < 0 {
		return fmt.Errorf("snapshot_keep and archive_every_ticks must be >= 0")
	}
	if t.Terrain.Octaves < 1 {
		return fmt.Errorf("terrain.octaves must be >= 1, got %d", t.Terrain.Octaves)
	}
	if t.Terrain.BaseScale <= 0 {
		return fmt.Errorf("terrain.base_scale must be > 0, got %v", t.Terrain.BaseScale)
	}
	if t.Terrain.StoneDepth < 0 {
		return fmt.Errorf("terrain.stone_depth must be >= 0, got %d", t.Terrain.StoneDepth)
	}
	if t.Observer.MaxClients < 0 || t.Observer.SendBuffer < 1 {
		return fmt.Errorf("observer: max_clients must be >= 0 and send_buffer >= 1")
	}
	if t.Edits.RateWindowTicks < 0 || t.Edits.RateMax < 0 {
		return fmt.Errorf("edits: rate_window_ticks and rate_max must be >= 0")
	}
	return nil
}

// ChunkSizeXYZ returns chunk_size as three edge lengths. Call after Validate.
func (t Tuning) ChunkSizeXYZ() (x, y, z int) {
	return t.ChunkSize[0], t.ChunkSize[1], t.ChunkSize[2]
}
