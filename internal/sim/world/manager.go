package world

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"voxelpipe.dev/internal/persistence/snapshot"
	"voxelpipe.dev/internal/sim/world/block"
	"voxelpipe.dev/internal/sim/world/logic/mathx"
	"voxelpipe.dev/internal/sim/world/terrain/chunk"
)

// Manager keeps the window of loaded chunks around a moving focus point.
// Except for RequestBreak, RequestPlace, Metrics and TickCount, all methods
// must be called from the goroutine that drives Tick (usually Run).
type Manager struct {
	cfg     Config
	gen     Generator
	uv      *block.UvMapping
	spawner Spawner
	sink    Sink
	logger  *log.Logger

	tick atomic.Uint64

	focus      mgl32.Vec3
	loaded     map[mathx.Vec3i]*record
	generating map[mathx.Vec3i]Pending
	edits      map[mathx.Vec3i][]Edit

	// Edited chunks that are not loaded right now.
	retained map[mathx.Vec3i]*chunk.Chunk

	inbox chan editReq
	stop  chan struct{}

	// Optional (may be nil).
	tickLogger   TickLogger
	snapshotSink chan<- snapshot.SnapshotV1

	metrics atomic.Value
	totals  Totals
}

type editReq struct {
	pos   mathx.Vec3i
	block block.Type
}

var ErrInboxFull = errors.New("edit inbox full")

func errInvalidType(t block.Type) error { return fmt.Errorf("invalid block type %d", uint8(t)) }

func New(cfg Config, gen Generator, uv *block.UvMapping, spawner Spawner, sink Sink) (*Manager, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, errors.New("nil generator")
	}
	if sized, ok := gen.(interface{ Size() chunk.Size }); ok && sized.Size() != cfg.ChunkSize {
		return nil, fmt.Errorf("generator chunk size %+v does not match config %+v", sized.Size(), cfg.ChunkSize)
	}
	if uv == nil {
		return nil, errors.New("nil uv mapping")
	}
	if missing := uv.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("uv mapping missing block types %v", missing)
	}
	if spawner == nil {
		spawner = InlineSpawner{}
	}
	if sink == nil {
		sink = nopSink{}
	}
	m := &Manager{
		cfg:        cfg,
		gen:        gen,
		uv:         uv,
		spawner:    spawner,
		sink:       sink,
		logger:     log.New(os.Stdout, "[chunks] ", log.LstdFlags|log.Lmicroseconds),
		loaded:     map[mathx.Vec3i]*record{},
		generating: map[mathx.Vec3i]Pending{},
		edits:      map[mathx.Vec3i][]Edit{},
		retained:   map[mathx.Vec3i]*chunk.Chunk{},
		inbox:      make(chan editReq, cfg.InboxSize),
		stop:       make(chan struct{}),
	}
	m.metrics.Store(Metrics{})
	return m, nil
}

func (m *Manager) SetLogger(l *log.Logger)                       { m.logger = l }
func (m *Manager) SetTickLogger(l TickLogger)                    { m.tickLogger = l }
func (m *Manager) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { m.snapshotSink = ch }

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) ID() string { return m.cfg.ID }

// TickCount is the number of completed ticks. Safe from any goroutine.
func (m *Manager) TickCount() uint64 { return m.tick.Load() }

// State reports where coord is in the chunk lifecycle.
func (m *Manager) State(coord mathx.Vec3i) State {
	if rec := m.loaded[coord]; rec != nil {
		if rec.needsMesh {
			return StateLoaded
		}
		return rec.state
	}
	if _, ok := m.generating[coord]; ok {
		return StateGenerating
	}
	return StateUnloaded
}

// Chunk returns the loaded chunk at coord. The result is owned by the manager.
func (m *Manager) Chunk(coord mathx.Vec3i) (*chunk.Chunk, bool) {
	rec := m.loaded[coord]
	if rec == nil {
		return nil, false
	}
	return rec.chunk, true
}

func (m *Manager) LoadedCoords() []mathx.Vec3i     { return sortedKeys(m.loaded) }
func (m *Manager) GeneratingCoords() []mathx.Vec3i { return sortedKeys(m.generating) }

// IsVisible reports whether the chunk at coord has completed its first mesh.
func (m *Manager) IsVisible(coord mathx.Vec3i) bool {
	rec := m.loaded[coord]
	return rec != nil && rec.visible
}

// Attached reports whether coord currently has a mesh in the sink.
func (m *Manager) Attached(coord mathx.Vec3i) bool {
	rec := m.loaded[coord]
	return rec != nil && rec.attached
}

// BlockAt reads a world block position from the loaded set.
func (m *Manager) BlockAt(pos mathx.Vec3i) (block.Type, bool) {
	coord, local := mathx.Split(pos, m.cfg.ChunkSize.Vec())
	rec := m.loaded[coord]
	if rec == nil {
		return block.Air, false
	}
	return rec.chunk.Get(local)
}

// FocusChunk maps a world position to the chunk that contains it.
func (m *Manager) FocusChunk(focus mgl32.Vec3) mathx.Vec3i {
	s := m.cfg.ChunkSize
	return mathx.Vec3i{
		X: mathx.FloorCell(focus.X(), s.X),
		Y: mathx.FloorCell(focus.Y(), s.Y),
		Z: mathx.FloorCell(focus.Z(), s.Z),
	}
}

// BreakBlock queues an edit setting pos to Air. It is applied on the next Tick.
func (m *Manager) BreakBlock(pos mathx.Vec3i) {
	m.queueEdit(pos, block.Air)
}

// PlaceBlock queues an edit setting pos to t. It is applied on the next Tick.
func (m *Manager) PlaceBlock(pos mathx.Vec3i, t block.Type) error {
	if !t.Valid() {
		return errInvalidType(t)
	}
	m.queueEdit(pos, t)
	return nil
}

func (m *Manager) queueEdit(pos mathx.Vec3i, t block.Type) {
	coord, local := mathx.Split(pos, m.cfg.ChunkSize.Vec())
	m.edits[coord] = append(m.edits[coord], Edit{Local: local, Block: t})
}
