package world

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelpipe.dev/internal/sim/world/block"
	"voxelpipe.dev/internal/sim/world/logic/mathx"
)

type memTickLogger struct {
	mu      sync.Mutex
	entries []TickLogEntry
}

func (l *memTickLogger) WriteTick(e TickLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func TestRun_AppliesRequestsAndStopsOnCancel(t *testing.T) {
	m := newTestManager(t, Config{TickRateHz: 200, RenderDistance: 1}, nil, InlineSpawner{}, nil)
	tl := &memTickLogger{}
	m.SetTickLogger(tl)

	focus := FocusFunc(func() mgl32.Vec3 { return chunkCenter(mathx.Vec3i{}) })
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, focus) }()

	// Wait for the window to load before editing inside it.
	deadline := time.Now().Add(250 * time.Millisecond)
	for m.TickCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := m.RequestPlace(mathx.Vec3i{X: 1, Y: 3, Z: 1}, block.Stone); err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := <-done; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run returned %v", err)
	}
	if m.TickCount() < 2 {
		t.Fatalf("ticks = %d", m.TickCount())
	}
	if b, _ := m.BlockAt(mathx.Vec3i{X: 1, Y: 3, Z: 1}); b != block.Stone {
		t.Fatalf("requested block = %s", b)
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if uint64(len(tl.entries)) != m.TickCount() {
		t.Fatalf("logged %d entries for %d ticks", len(tl.entries), m.TickCount())
	}
	applied := 0
	for i, e := range tl.entries {
		if e.Tick != uint64(i) {
			t.Fatalf("entry %d has tick %d", i, e.Tick)
		}
		applied += e.EditsApplied
	}
	if applied != 1 {
		t.Fatalf("edits applied = %d", applied)
	}
}

func TestRun_StopReturnsNil(t *testing.T) {
	m := newTestManager(t, Config{TickRateHz: 100, RenderDistance: 1}, nil, InlineSpawner{}, nil)
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background(), FocusFunc(func() mgl32.Vec3 { return mgl32.Vec3{} })) }()
	m.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestRun_ReturnsGenerationError(t *testing.T) {
	m := newTestManager(t, Config{TickRateHz: 100, RenderDistance: 1}, panicGen{}, InlineSpawner{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := m.Run(ctx, FocusFunc(func() mgl32.Vec3 { return mgl32.Vec3{} }))
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run returned %v", err)
	}
}
