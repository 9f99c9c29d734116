package main

import (
	"fmt"
	"io"
	"sort"

	plog "voxelpipe.dev/internal/persistence/log"
	"voxelpipe.dev/internal/sim/world"
)

type tickSummary struct {
	Ticks      int
	First      uint64
	Last       uint64
	MaxLoaded  int
	MaxStepGen int

	Dispatched   int
	Promoted     int
	Discarded    int
	Meshed       int
	Empty        int
	Deferred     int
	Evicted      int
	EditsApplied int
	EditsDropped int

	// Per-chunk mesh counts, and the latest vertex count per chunk.
	MeshesPerChunk map[[3]int]int
	LastVertices   map[[3]int]int
	Removed        int
	// Ticks whose number did not follow the previous entry.
	Gaps int
}

func newTickSummary() *tickSummary {
	return &tickSummary{MeshesPerChunk: map[[3]int]int{}, LastVertices: map[[3]int]int{}}
}

// add folds e into the summary; entries outside [from, to] are skipped
// (to == 0 means no upper bound).
func (s *tickSummary) add(e world.TickLogEntry, from, to uint64) {
	if e.Tick < from || (to != 0 && e.Tick > to) {
		return
	}
	if s.Ticks == 0 {
		s.First = e.Tick
	} else if e.Tick != s.Last+1 {
		s.Gaps++
	}
	s.Ticks++
	s.Last = e.Tick
	s.MaxLoaded = max(s.MaxLoaded, e.Loaded)
	s.MaxStepGen = max(s.MaxStepGen, e.Generating)

	s.Dispatched += e.Dispatched
	s.Promoted += e.Promoted
	s.Discarded += e.Discarded
	s.Meshed += e.Meshed
	s.Empty += e.Empty
	s.Deferred += e.Deferred
	s.Evicted += e.Evicted
	s.EditsApplied += e.EditsApplied
	s.EditsDropped += e.EditsDropped

	for _, m := range e.Meshes {
		s.MeshesPerChunk[m.Coord]++
		s.LastVertices[m.Coord] = m.Vertices
	}
	s.Removed += len(e.Removed)
}

// busiest returns up to n chunks with the most remeshes, ties by coordinate.
func (s *tickSummary) busiest(n int) [][3]int {
	out := make([][3]int, 0, len(s.MeshesPerChunk))
	for c := range s.MeshesPerChunk {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := s.MeshesPerChunk[out[i]], s.MeshesPerChunk[out[j]]
		if a != b {
			return a > b
		}
		for k := 0; k < 3; k++ {
			if out[i][k] != out[j][k] {
				return out[i][k] < out[j][k]
			}
		}
		return false
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (s *tickSummary) print(w io.Writer) {
	if s.Ticks == 0 {
		fmt.Fprintln(w, "ticks: none")
		return
	}
	fmt.Fprintf(w, "ticks: %d (%d..%d) gaps=%d max_loaded=%d max_generating=%d\n",
		s.Ticks, s.First, s.Last, s.Gaps, s.MaxLoaded, s.MaxStepGen)
	fmt.Fprintf(w, "pipeline: dispatched=%d promoted=%d discarded=%d meshed=%d empty=%d deferred=%d evicted=%d\n",
		s.Dispatched, s.Promoted, s.Discarded, s.Meshed, s.Empty, s.Deferred, s.Evicted)
	fmt.Fprintf(w, "edits: applied=%d dropped=%d\n", s.EditsApplied, s.EditsDropped)
	fmt.Fprintf(w, "chunks: meshed=%d detached=%d\n", len(s.MeshesPerChunk), s.Removed)
	for _, c := range s.busiest(5) {
		fmt.Fprintf(w, "  %v meshes=%d vertices=%d\n", c, s.MeshesPerChunk[c], s.LastVertices[c])
	}
}

type auditSummary struct {
	ByOp     map[string]int
	Rejected int
	Actors   map[string]int
}

func newAuditSummary() *auditSummary {
	return &auditSummary{ByOp: map[string]int{}, Actors: map[string]int{}}
}

func (s *auditSummary) add(e plog.EditAudit) {
	s.ByOp[e.Op]++
	s.Actors[e.Actor]++
	if e.Reason != "" {
		s.Rejected++
	}
}

func (s *auditSummary) print(w io.Writer) {
	total := 0
	ops := make([]string, 0, len(s.ByOp))
	for op, n := range s.ByOp {
		ops = append(ops, op)
		total += n
	}
	sort.Strings(ops)
	fmt.Fprintf(w, "audit: requests=%d rejected=%d actors=%d\n", total, s.Rejected, len(s.Actors))
	for _, op := range ops {
		fmt.Fprintf(w, "  %s=%d\n", op, s.ByOp[op])
	}
}
