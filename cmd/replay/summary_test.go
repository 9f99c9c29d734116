package main

import (
	"bytes"
	"strings"
	"testing"

	plog "voxelpipe.dev/internal/persistence/log"
	"voxelpipe.dev/internal/sim/world"
)

func TestTickSummary(t *testing.T) {
	s := newTickSummary()
	entries := []world.TickLogEntry{
		{Tick: 0, Loaded: 147, Promoted: 147, Meshed: 2, Meshes: []world.MeshRecord{{Coord: [3]int{0, 0, 0}, Vertices: 40}, {Coord: [3]int{1, 0, 0}, Vertices: 36}}},
		{Tick: 1, Loaded: 147, EditsApplied: 1, Meshed: 1, Meshes: []world.MeshRecord{{Coord: [3]int{0, 0, 0}, Vertices: 44}}},
		{Tick: 3, Loaded: 150, Evicted: 2, Removed: [][3]int{{1, 0, 0}}},
		{Tick: 9, Loaded: 999},
	}
	for _, e := range entries {
		s.add(e, 0, 3)
	}
	if s.Ticks != 3 || s.First != 0 || s.Last != 3 || s.Gaps != 1 {
		t.Fatalf("range = %+v", s)
	}
	if s.MaxLoaded != 150 || s.Meshed != 3 || s.Evicted != 2 || s.EditsApplied != 1 || s.Removed != 1 {
		t.Fatalf("totals = %+v", s)
	}
	if s.MeshesPerChunk[[3]int{0, 0, 0}] != 2 || s.LastVertices[[3]int{0, 0, 0}] != 44 {
		t.Fatalf("per chunk = %v %v", s.MeshesPerChunk, s.LastVertices)
	}
	if b := s.busiest(1); len(b) != 1 || b[0] != [3]int{0, 0, 0} {
		t.Fatalf("busiest = %v", b)
	}

	var buf bytes.Buffer
	s.print(&buf)
	if !strings.Contains(buf.String(), "ticks: 3 (0..3) gaps=1") {
		t.Fatalf("print:\n%s", buf.String())
	}
}

func TestTickSummary_Empty(t *testing.T) {
	var buf bytes.Buffer
	newTickSummary().print(&buf)
	if buf.String() != "ticks: none\n" {
		t.Fatalf("print = %q", buf.String())
	}
}

func TestAuditSummary(t *testing.T) {
	s := newAuditSummary()
	s.add(plog.EditAudit{Op: "break", Actor: "a"})
	s.add(plog.EditAudit{Op: "place", Actor: "a"})
	s.add(plog.EditAudit{Op: "place", Actor: "b", Reason: "edit inbox full"})
	var buf bytes.Buffer
	s.print(&buf)
	out := buf.String()
	for _, want := range []string{"requests=3 rejected=1 actors=2", "break=1", "place=2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestParseCoord(t *testing.T) {
	c, err := parseCoord("1, -2,3")
	if err != nil || c != [3]int{1, -2, 3} {
		t.Fatalf("parse = %v %v", c, err)
	}
	for _, bad := range []string{"1,2", "a,b,c", ""} {
		if _, err := parseCoord(bad); err == nil {
			t.Fatalf("%q parsed", bad)
		}
	}
}
