package world

import "time"

// Metrics is a thread-safe read-only view of key pipeline signals.
// It is updated from the tick goroutine and read from HTTP handlers/tests.
type Metrics struct {
	Tick uint64 `json:"tick"`

	Loaded     int `json:"loaded"`
	Generating int `json:"generating"`
	Retained   int `json:"retained"`
	Attached   int `json:"attached"`
	InboxDepth int `json:"inbox_depth"`

	StepMS float64 `json:"step_ms"`

	Totals Totals `json:"totals"`
}

// Totals accumulate TickLogEntry counters since the manager was created.
type Totals struct {
	Dispatched   uint64 `json:"dispatched"`
	Promoted     uint64 `json:"promoted"`
	Discarded    uint64 `json:"discarded"`
	Meshed       uint64 `json:"meshed"`
	Empty        uint64 `json:"empty"`
	Deferred     uint64 `json:"deferred"`
	Evicted      uint64 `json:"evicted"`
	EditsApplied uint64 `json:"edits_applied"`
	EditsDropped uint64 `json:"edits_dropped"`
}

func (t *Totals) add(e TickLogEntry) {
	t.Dispatched += uint64(e.Dispatched)
	t.Promoted += uint64(e.Promoted)
	t.Discarded += uint64(e.Discarded)
	t.Meshed += uint64(e.Meshed)
	t.Empty += uint64(e.Empty)
	t.Deferred += uint64(e.Deferred)
	t.Evicted += uint64(e.Evicted)
	t.EditsApplied += uint64(e.EditsApplied)
	t.EditsDropped += uint64(e.EditsDropped)
}

func (m *Manager) Metrics() Metrics {
	if m == nil {
		return Metrics{}
	}
	v, _ := m.metrics.Load().(Metrics)
	return v
}

func (m *Manager) publishMetrics(e TickLogEntry, step time.Duration) {
	m.totals.add(e)
	attached := 0
	for _, rec := range m.loaded {
		if rec.attached {
			attached++
		}
	}
	m.metrics.Store(Metrics{
		Tick:       m.tick.Load(),
		Loaded:     len(m.loaded),
		Generating: len(m.generating),
		Retained:   len(m.retained),
		Attached:   attached,
		InboxDepth: len(m.inbox),
		StepMS:     float64(step.Microseconds()) / 1000.0,
		Totals:     m.totals,
	})
}
