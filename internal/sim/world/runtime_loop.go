package world

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelpipe.dev/internal/sim/world/block"
	"voxelpipe.dev/internal/sim/world/logic/mathx"
)

// FocusProvider reports the observer position at each tick.
type FocusProvider interface {
	Focus() mgl32.Vec3
}

// FocusFunc adapts a function to FocusProvider.
type FocusFunc func() mgl32.Vec3

func (f FocusFunc) Focus() mgl32.Vec3 { return f() }

// Run ticks at TickRateHz until ctx is done, Stop is called or a tick fails.
func (m *Manager) Run(ctx context.Context, focus FocusProvider) error {
	interval := time.Second / time.Duration(m.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		case req := <-m.inbox:
			m.queueEdit(req.pos, req.block)
		case <-ticker.C:
			m.drainInbox()
			if _, err := m.Tick(focus.Focus()); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) Stop() { close(m.stop) }

func (m *Manager) drainInbox() {
	for {
		select {
		case req := <-m.inbox:
			m.queueEdit(req.pos, req.block)
		default:
			return
		}
	}
}

// RequestBreak asks the running loop to break the block at pos. Safe from any
// goroutine; never blocks.
func (m *Manager) RequestBreak(pos mathx.Vec3i) error {
	return m.request(editReq{pos: pos, block: block.Air})
}

// RequestPlace asks the running loop to place t at pos. Safe from any
// goroutine; never blocks.
func (m *Manager) RequestPlace(pos mathx.Vec3i, t block.Type) error {
	if !t.Valid() {
		return errInvalidType(t)
	}
	return m.request(editReq{pos: pos, block: t})
}

func (m *Manager) request(req editReq) error {
	select {
	case m.inbox <- req:
		return nil
	default:
		return ErrInboxFull
	}
}
