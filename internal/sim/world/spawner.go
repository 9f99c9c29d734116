package world

import (
	"fmt"

	"github.com/alitto/pond/v2"

	"voxelpipe.dev/internal/sim/world/terrain/chunk"
)

// Pending is the handle of a dispatched generation task.
type Pending interface {
	// Poll never blocks. done reports completion; err is set when the task failed.
	Poll() (c *chunk.Chunk, done bool, err error)
}

// Spawner runs generation tasks off the tick goroutine.
type Spawner interface {
	Spawn(task func() (*chunk.Chunk, error)) Pending
}

// PondSpawner runs tasks on a bounded pond result pool.
type PondSpawner struct {
	pool pond.ResultPool[*chunk.Chunk]
}

func NewPondSpawner(workers int) *PondSpawner {
	if workers <= 0 {
		workers = 1
	}
	return &PondSpawner{pool: pond.NewResultPool[*chunk.Chunk](workers)}
}

func (s *PondSpawner) Spawn(task func() (*chunk.Chunk, error)) Pending {
	return pondPending{res: s.pool.SubmitErr(func() (*chunk.Chunk, error) { return protect(task) })}
}

// Running reports the number of tasks currently executing.
func (s *PondSpawner) Running() int64 { return s.pool.RunningWorkers() }

// Stop waits for in-flight tasks and releases the workers.
func (s *PondSpawner) Stop() { s.pool.StopAndWait() }

type pondPending struct {
	res pond.Result[*chunk.Chunk]
}

func (p pondPending) Poll() (*chunk.Chunk, bool, error) {
	select {
	case <-p.res.Done():
		c, err := p.res.Wait()
		return c, true, err
	default:
		return nil, false, nil
	}
}

// InlineSpawner runs every task synchronously inside Spawn.
type InlineSpawner struct{}

func (InlineSpawner) Spawn(task func() (*chunk.Chunk, error)) Pending {
	c, err := protect(task)
	return donePending{c: c, err: err}
}

type donePending struct {
	c   *chunk.Chunk
	err error
}

func (p donePending) Poll() (*chunk.Chunk, bool, error) { return p.c, true, p.err }

// protect turns a generator panic into a task error.
func protect(task func() (*chunk.Chunk, error)) (c *chunk.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("generation panic: %v", r)
		}
	}()
	return task()
}
