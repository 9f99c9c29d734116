package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	plog "voxelpipe.dev/internal/persistence/log"
	"voxelpipe.dev/internal/persistence/snapshot"
	"voxelpipe.dev/internal/sim/catalogs"
	"voxelpipe.dev/internal/sim/tuning"
	"voxelpipe.dev/internal/sim/world"
)

type IngestConfig struct {
	Endpoint      string
	Token         string
	WorldID       string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

// IngestIndex ships index events to a remote HTTP collector in JSON batches.
// A batch that fails to send is kept and retried on the next flush.
type IngestIndex struct {
	cfg        IngestConfig
	httpClient *http.Client

	ch   chan ingestEvent
	wg   sync.WaitGroup
	once sync.Once

	closeMu sync.RWMutex
	closed  atomic.Bool

	dropped   atomic.Uint64
	flushFail atomic.Uint64
	sent      atomic.Uint64

	auditMu       sync.Mutex
	lastAuditTick uint64
	auditSeq      int
}

type ingestEvent struct {
	Kind    string `json:"kind"`
	WorldID string `json:"world_id"`
	Payload any    `json:"payload"`
}

type ingestAuditPayload struct {
	Seq int `json:"seq"`
	plog.EditAudit
}

type ingestSnapshotPayload struct {
	Tick   uint64 `json:"tick"`
	Path   string `json:"path"`
	Seed   int64  `json:"seed"`
	Chunks int    `json:"chunks"`
}

type ingestRunPayload struct {
	RunID     string `json:"run_id"`
	Seed      int64  `json:"seed"`
	StartedAt string `json:"started_at"`
}

type ingestCatalogPayload struct {
	catalogRow
	UpdatedAt string `json:"updated_at"`
}

type IngestStats struct {
	QueueDepth        int
	QueueDroppedTotal uint64
	FlushFailTotal    uint64
	SentTotal         uint64
}

const maxPendingEvents = 32768

func OpenIngest(cfg IngestConfig) (*IngestIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.WorldID = strings.TrimSpace(cfg.WorldID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty index ingest endpoint")
	}
	if cfg.WorldID == "" {
		return nil, fmt.Errorf("empty world id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	d := &IngestIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan ingestEvent, maxPendingEvents),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *IngestIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closeMu.Lock()
		d.closed.Store(true)
		close(d.ch)
		d.closeMu.Unlock()
		d.wg.Wait()
	})
	return nil
}

func (d *IngestIndex) Stats() IngestStats {
	if d == nil {
		return IngestStats{}
	}
	return IngestStats{
		QueueDepth:        len(d.ch),
		QueueDroppedTotal: d.dropped.Load(),
		FlushFailTotal:    d.flushFail.Load(),
		SentTotal:         d.sent.Load(),
	}
}

func (d *IngestIndex) WriteTick(entry world.TickLogEntry) error {
	d.enqueue("tick", entry)
	return nil
}

func (d *IngestIndex) WriteAudit(entry plog.EditAudit) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	d.enqueue("audit", ingestAuditPayload{Seq: d.nextAuditSeq(entry.Tick), EditAudit: entry})
	return nil
}

func (d *IngestIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	d.enqueue("snapshot", ingestSnapshotPayload{
		Tick:   snap.Header.Tick,
		Path:   path,
		Seed:   snap.Seed,
		Chunks: len(snap.Chunks),
	})
}

func (d *IngestIndex) RecordRun(runID, worldID string, seed int64) {
	if runID == "" {
		return
	}
	d.enqueue("run", ingestRunPayload{
		RunID:     runID,
		Seed:      seed,
		StartedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (d *IngestIndex) UpsertCatalogs(configDir string, atlas *catalogs.Atlas, tune tuning.Tuning) error {
	if d == nil || d.closed.Load() || atlas == nil {
		return nil
	}
	rows, err := catalogRows(configDir, atlas, tune)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range rows {
		d.enqueue("catalog", ingestCatalogPayload{catalogRow: r, UpdatedAt: now})
	}
	return nil
}

func (d *IngestIndex) nextAuditSeq(tick uint64) int {
	d.auditMu.Lock()
	defer d.auditMu.Unlock()
	if tick != d.lastAuditTick {
		d.lastAuditTick = tick
		d.auditSeq = 0
	}
	seq := d.auditSeq
	d.auditSeq++
	return seq
}

func (d *IngestIndex) enqueue(kind string, payload any) {
	if d == nil {
		return
	}
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed.Load() {
		return
	}
	select {
	case d.ch <- ingestEvent{Kind: kind, WorldID: d.cfg.WorldID, Payload: payload}:
	default:
		d.dropped.Add(1)
		d.printf("index ingest queue full; drop kind=%s world=%s", kind, d.cfg.WorldID)
	}
}

func (d *IngestIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]ingestEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("index ingest flush failed batch=%d err=%v", len(batch), err)
			// Keep the batch, but never grow past the queue bound.
			if over := len(batch) - maxPendingEvents; over > 0 {
				d.dropped.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.sent.Add(uint64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *IngestIndex) sendBatch(events []ingestEvent) error {
	body := struct {
		Events []ingestEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-vp-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *IngestIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
