package main

import (
	"fmt"
	"io"

	"voxelpipe.dev/internal/persistence/indexdb"
	"voxelpipe.dev/internal/sim/world"
)

type metricsSource struct {
	worldID   string
	world     func() world.Metrics
	observers func() int
	index     runtimeIndex
	mirror    *mirrorRuntime
}

// writeMetrics renders the minimal Prometheus text exposition format.
func writeMetrics(w io.Writer, src metricsSource) {
	id := src.worldID
	m := src.world()

	gauge := func(name, help string) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n", name, help, name)
	}
	counter := func(name, help string) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
	}

	gauge("voxelpipe_world_tick", "Next tick to run.")
	fmt.Fprintf(w, "voxelpipe_world_tick{world=%q} %d\n", id, m.Tick)

	gauge("voxelpipe_chunks", "Chunks per lifecycle bucket.")
	fmt.Fprintf(w, "voxelpipe_chunks{world=%q,state=%q} %d\n", id, "loaded", m.Loaded)
	fmt.Fprintf(w, "voxelpipe_chunks{world=%q,state=%q} %d\n", id, "generating", m.Generating)
	fmt.Fprintf(w, "voxelpipe_chunks{world=%q,state=%q} %d\n", id, "retained", m.Retained)
	fmt.Fprintf(w, "voxelpipe_chunks{world=%q,state=%q} %d\n", id, "attached", m.Attached)

	gauge("voxelpipe_edit_inbox_depth", "Edit requests waiting for the tick loop.")
	fmt.Fprintf(w, "voxelpipe_edit_inbox_depth{world=%q} %d\n", id, m.InboxDepth)

	gauge("voxelpipe_step_ms", "Last tick duration in milliseconds.")
	fmt.Fprintf(w, "voxelpipe_step_ms{world=%q} %.3f\n", id, m.StepMS)

	counter("voxelpipe_pipeline_total", "Pipeline events since start.")
	for _, kv := range []struct {
		name string
		v    uint64
	}{
		{"dispatched", m.Totals.Dispatched},
		{"promoted", m.Totals.Promoted},
		{"discarded", m.Totals.Discarded},
		{"meshed", m.Totals.Meshed},
		{"empty", m.Totals.Empty},
		{"deferred", m.Totals.Deferred},
		{"evicted", m.Totals.Evicted},
		{"edits_applied", m.Totals.EditsApplied},
		{"edits_dropped", m.Totals.EditsDropped},
	} {
		fmt.Fprintf(w, "voxelpipe_pipeline_total{world=%q,event=%q} %d\n", id, kv.name, kv.v)
	}

	if src.observers != nil {
		gauge("voxelpipe_observer_clients", "Connected observer clients.")
		fmt.Fprintf(w, "voxelpipe_observer_clients{world=%q} %d\n", id, src.observers())
	}

	switch idx := src.index.(type) {
	case *indexdb.SQLiteIndex:
		s := idx.Stats()
		gauge("voxelpipe_index_queue_depth", "Index writer backlog.")
		fmt.Fprintf(w, "voxelpipe_index_queue_depth{world=%q} %d\n", id, s.QueueDepth)
		counter("voxelpipe_index_dropped_total", "Index rows dropped on a full queue.")
		fmt.Fprintf(w, "voxelpipe_index_dropped_total{world=%q,kind=%q} %d\n", id, "tick", s.DropTickTotal)
		fmt.Fprintf(w, "voxelpipe_index_dropped_total{world=%q,kind=%q} %d\n", id, "audit", s.DropAuditTotal)
		fmt.Fprintf(w, "voxelpipe_index_dropped_total{world=%q,kind=%q} %d\n", id, "snapshot", s.DropSnapshotTotal)
		fmt.Fprintf(w, "voxelpipe_index_dropped_total{world=%q,kind=%q} %d\n", id, "run", s.DropRunTotal)
		counter("voxelpipe_index_write_errors_total", "Failed index transactions.")
		fmt.Fprintf(w, "voxelpipe_index_write_errors_total{world=%q} %d\n", id, s.WriteErrTotal)
	case *indexdb.IngestIndex:
		s := idx.Stats()
		gauge("voxelpipe_index_queue_depth", "Index writer backlog.")
		fmt.Fprintf(w, "voxelpipe_index_queue_depth{world=%q} %d\n", id, s.QueueDepth)
		counter("voxelpipe_index_dropped_total", "Index events dropped on a full queue.")
		fmt.Fprintf(w, "voxelpipe_index_dropped_total{world=%q,kind=%q} %d\n", id, "any", s.QueueDroppedTotal)
		counter("voxelpipe_index_flush_fail_total", "Failed ingest flushes.")
		fmt.Fprintf(w, "voxelpipe_index_flush_fail_total{world=%q} %d\n", id, s.FlushFailTotal)
		counter("voxelpipe_index_sent_total", "Events accepted by the ingest endpoint.")
		fmt.Fprintf(w, "voxelpipe_index_sent_total{world=%q} %d\n", id, s.SentTotal)
	}

	if s, ok := src.mirror.Stats(); ok {
		gauge("voxelpipe_mirror_queue_depth", "Files waiting for upload.")
		fmt.Fprintf(w, "voxelpipe_mirror_queue_depth %d\n", s.QueueDepth)
		gauge("voxelpipe_mirror_queue_capacity", "Mirror queue capacity.")
		fmt.Fprintf(w, "voxelpipe_mirror_queue_capacity %d\n", s.QueueCapacity)
		counter("voxelpipe_mirror_files_total", "Mirror file outcomes.")
		fmt.Fprintf(w, "voxelpipe_mirror_files_total{result=%q} %d\n", "enqueued", s.EnqueuedTotal)
		fmt.Fprintf(w, "voxelpipe_mirror_files_total{result=%q} %d\n", "dropped", s.DroppedTotal)
		fmt.Fprintf(w, "voxelpipe_mirror_files_total{result=%q} %d\n", "uploaded", s.UploadedTotal)
		fmt.Fprintf(w, "voxelpipe_mirror_files_total{result=%q} %d\n", "failed", s.FailedTotal)
		gauge("voxelpipe_mirror_last_success_unix", "Unix time of the last successful upload.")
		fmt.Fprintf(w, "voxelpipe_mirror_last_success_unix %d\n", s.LastSuccessUnix)
		gauge("voxelpipe_mirror_last_error_unix", "Unix time of the last failed upload.")
		fmt.Fprintf(w, "voxelpipe_mirror_last_error_unix %d\n", s.LastErrorUnix)
	}
}
