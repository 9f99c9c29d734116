package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	plog "voxelpipe.dev/internal/persistence/log"
	"voxelpipe.dev/internal/persistence/snapshot"
	"voxelpipe.dev/internal/sim/catalogs"
	"voxelpipe.dev/internal/sim/tuning"
	"voxelpipe.dev/internal/sim/world"
)

const schemaVersion = "1"

// SQLiteIndex is a queryable secondary index over the tick log, edit audit
// and snapshot history. Writes are queued and applied in batched
// transactions by a single goroutine; the JSONL logs stay the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// closeMu orders senders against close(ch): enqueue holds it shared.
	closeMu sync.RWMutex
	closed  atomic.Bool

	dropTick     atomic.Uint64
	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
	dropRun      atomic.Uint64
	writeErrs    atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqSnapshot
	reqRun
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	audit    plog.EditAudit
	snapshot snapshotRow
	run      runRow
}

type snapshotRow struct {
	Tick   uint64
	Path   string
	Seed   int64
	Chunks int
}

type runRow struct {
	ID        string
	WorldID   string
	Seed      int64
	StartedAt string
}

// Stats reports queue pressure. Drops happen when the writer falls behind.
type Stats struct {
	QueueDepth    int
	QueueCapacity int

	DropTickTotal     uint64
	DropAuditTotal    uint64
	DropSnapshotTotal uint64
	DropRunTotal      uint64
	WriteErrTotal     uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Fast focus movement can emit hundreds of mesh rows per tick.
		ch: make(chan req, 262144),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			world_id TEXT NOT NULL,
			seed INTEGER NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			focus_x REAL NOT NULL,
			focus_y REAL NOT NULL,
			focus_z REAL NOT NULL,
			loaded INTEGER NOT NULL,
			generating INTEGER NOT NULL,
			dispatched INTEGER NOT NULL,
			promoted INTEGER NOT NULL,
			discarded INTEGER NOT NULL,
			meshed INTEGER NOT NULL,
			empty INTEGER NOT NULL,
			deferred INTEGER NOT NULL,
			evicted INTEGER NOT NULL,
			edits_applied INTEGER NOT NULL,
			edits_dropped INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS meshes (
			tick INTEGER NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			vertices INTEGER NOT NULL,
			triangles INTEGER NOT NULL,
			PRIMARY KEY (tick, cx, cy, cz)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_meshes_coord_tick ON meshes(cx, cz, cy, tick);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			op TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			block TEXT,
			reason TEXT,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_pos_tick ON audits(x, z, y, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			chunks INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, schemaVersion)
	return err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closeMu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.closeMu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropAuditTotal:    s.dropAudit.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		DropRunTotal:      s.dropRun.Load(),
		WriteErrTotal:     s.writeErrs.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil {
		return
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
		return
	default:
	}
	// Drop if the indexer falls behind.
	switch r.kind {
	case reqTick:
		s.dropTick.Add(1)
	case reqAudit:
		s.dropAudit.Add(1)
	case reqSnapshot:
		s.dropSnapshot.Add(1)
	case reqRun:
		s.dropRun.Add(1)
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	s.enqueue(req{kind: reqTick, tick: entry})
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry plog.EditAudit) error {
	s.enqueue(req{kind: reqAudit, audit: entry})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	r := snapshotRow{
		Tick:   snap.Header.Tick,
		Path:   path,
		Seed:   snap.Seed,
		Chunks: len(snap.Chunks),
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r})
}

func (s *SQLiteIndex) RecordRun(runID, worldID string, seed int64) {
	if runID == "" {
		return
	}
	r := runRow{
		ID:        runID,
		WorldID:   worldID,
		Seed:      seed,
		StartedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	s.enqueue(req{kind: reqRun, run: r})
}

// UpsertCatalogs stores the atlas and the applied tuning so a later reader
// can tell which configuration produced the indexed ticks. It writes
// synchronously, so call it before the first tick.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, atlas *catalogs.Atlas, tune tuning.Tuning) error {
	if s == nil || atlas == nil {
		return nil
	}
	rows, err := catalogRows(configDir, atlas, tune)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.Name, r.Digest, r.JSON, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,focus_x,focus_y,focus_z,loaded,generating,dispatched,promoted,discarded,meshed,empty,deferred,evicted,edits_applied,edits_dropped,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertMesh, _ := s.db.Prepare(`INSERT OR REPLACE INTO meshes(tick,cx,cy,cz,vertices,triangles) VALUES(?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(tick,seq,actor,op,x,y,z,block,reason) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,seed,chunks) VALUES(?,?,?,?)`)
	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,world_id,seed,started_at) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertMesh, insertAudit, insertSnapshot, insertRun} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrs.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrs.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErrs.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	// An idle writer still commits, so readers never wait on an open tx for
	// longer than commitMaxWait.
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-ticker.C:
			commit()
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			b, _ := json.Marshal(e)
			if !exec(insertTick,
				int64(e.Tick),
				float64(e.Focus[0]), float64(e.Focus[1]), float64(e.Focus[2]),
				e.Loaded, e.Generating,
				e.Dispatched, e.Promoted, e.Discarded,
				e.Meshed, e.Empty, e.Deferred, e.Evicted,
				e.EditsApplied, e.EditsDropped,
				string(b),
			) {
				continue
			}
			for _, m := range e.Meshes {
				if !exec(insertMesh, int64(e.Tick), m.Coord[0], m.Coord[1], m.Coord[2], m.Vertices, m.Triangles) {
					break
				}
			}

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			exec(insertAudit, int64(a.Tick), seq, a.Actor, a.Op, a.Pos[0], a.Pos[1], a.Pos[2], a.Block, a.Reason)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.Seed, sn.Chunks)

		case reqRun:
			ru := r.run
			exec(insertRun, ru.ID, ru.WorldID, ru.Seed, ru.StartedAt)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}
}

// MeshRow is one indexed mesh publication.
type MeshRow struct {
	Tick      uint64
	Vertices  int
	Triangles int
}

// MeshHistory lists every indexed mesh of the chunk at coord, oldest first.
func (s *SQLiteIndex) MeshHistory(ctx context.Context, coord [3]int) ([]MeshRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick, vertices, triangles FROM meshes WHERE cx=? AND cy=? AND cz=? ORDER BY tick`,
		coord[0], coord[1], coord[2])
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MeshRow
	for rows.Next() {
		var m MeshRow
		var tick int64
		if err := rows.Scan(&tick, &m.Vertices, &m.Triangles); err != nil {
			return nil, err
		}
		m.Tick = uint64(tick)
		out = append(out, m)
	}
	return out, rows.Err()
}

// TickRange reports how many ticks are indexed and the highest one.
func (s *SQLiteIndex) TickRange(ctx context.Context) (count int, last uint64, err error) {
	var maxTick sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(tick) FROM ticks`).Scan(&count, &maxTick); err != nil {
		return 0, 0, err
	}
	if maxTick.Valid {
		last = uint64(maxTick.Int64)
	}
	return count, last, nil
}

// LatestSnapshot returns the newest indexed snapshot path.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (path string, tick uint64, ok bool, err error) {
	var t int64
	err = s.db.QueryRowContext(ctx, `SELECT tick, path FROM snapshots ORDER BY tick DESC LIMIT 1`).Scan(&t, &path)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return path, uint64(t), true, nil
}
