package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"voxelpipe.dev/internal/observerproto"
	"voxelpipe.dev/internal/persistence/archive"
	plog "voxelpipe.dev/internal/persistence/log"
	"voxelpipe.dev/internal/persistence/snapshot"
	"voxelpipe.dev/internal/sim/catalogs"
	"voxelpipe.dev/internal/sim/tuning"
	"voxelpipe.dev/internal/sim/world"
	"voxelpipe.dev/internal/sim/world/logic/rates"
	"voxelpipe.dev/internal/sim/world/terrain/chunk"
	"voxelpipe.dev/internal/sim/world/terrain/gen"
	"voxelpipe.dev/internal/transport/observer"
)

type serverFlags struct {
	addr       string
	worldID    string
	configDir  string
	tuningPath string
	dataDir    string
	seed       int64
	seedSet    bool
	snapPath   string
	loadLatest bool
	disableDB  bool
}

func main() {
	var f serverFlags
	flag.StringVar(&f.addr, "addr", ":8080", "http listen address")
	flag.StringVar(&f.worldID, "world", "default", "world id")
	flag.StringVar(&f.configDir, "configs", "./configs", "config directory (atlas.json, tuning.yaml)")
	flag.StringVar(&f.tuningPath, "tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	flag.StringVar(&f.dataDir, "data", "./data", "runtime data directory")
	flag.Int64Var(&f.seed, "seed", 0, "world seed (default: tuning seed; ignored when resuming)")
	flag.StringVar(&f.snapPath, "snapshot", "", "path to snapshot to load (optional)")
	flag.BoolVar(&f.loadLatest, "load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	flag.BoolVar(&f.disableDB, "disable_db", false, "disable indexing (ticks, audits, catalogs, snapshot metadata)")
	flag.Parse()
	flag.Visit(func(fl *flag.Flag) {
		if fl.Name == "seed" {
			f.seedSet = true
		}
	})

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	if err := run(f, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(f serverFlags, logger *log.Logger) error {
	atlas, err := catalogs.Load(f.configDir)
	if err != nil {
		return fmt.Errorf("load atlas: %w", err)
	}
	tp := strings.TrimSpace(f.tuningPath)
	if tp == "" {
		tp = filepath.Join(f.configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("load tuning: %w", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	worldDir := filepath.Join(f.dataDir, "worlds", f.worldID)
	snapDir := filepath.Join(worldDir, "snapshots")
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return err
	}

	mirror, err := buildMirrorRuntime(f.dataDir, logger)
	if err != nil {
		return fmt.Errorf("init mirror: %w", err)
	}
	defer mirror.Close()

	// Optional read-model index (does not affect the pipeline).
	idx, err := openRuntimeIndex(worldDir, f.worldID, f.disableDB, logger)
	if err != nil {
		return fmt.Errorf("open index backend: %w", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(f.configDir, atlas, tune); err != nil {
			logger.Printf("warn: index upsert catalogs: %v", err)
		}
	}

	var resume *snapshot.SnapshotV1
	snapToLoad := strings.TrimSpace(f.snapPath)
	if snapToLoad == "" && f.loadLatest {
		p, _, ok, err := snapshot.LatestSnapshot(snapDir)
		if err != nil {
			return fmt.Errorf("scan snapshots: %w", err)
		}
		if ok {
			snapToLoad = p
		}
	}
	if snapToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapToLoad)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != f.worldID {
			return fmt.Errorf("snapshot world id mismatch: flag=%s snap=%s", f.worldID, snap.Header.WorldID)
		}
		resume = &snap
	}

	cfg := worldConfig(f, tune, atlas, resume)
	g := gen.New(gen.Params{
		Octaves:      tune.Terrain.Octaves,
		OctaveHeight: tune.Terrain.OctaveHeight,
		BaseHeight:   tune.Terrain.BaseHeight,
		BaseScale:    tune.Terrain.BaseScale,
		StoneDepth:   tune.Terrain.StoneDepth,
	}, cfg.ChunkSize)

	obs := observer.NewServer(observer.Options{
		WorldID: f.worldID,
		Params: observerproto.WorldParams{
			TickRateHz:      cfg.TickRateHz,
			ChunkSize:       cfg.ChunkSize.Array(),
			Seed:            cfg.Seed,
			RenderDistance:  cfg.RenderDistance,
			VerticalDivisor: cfg.VerticalDivisor,
			UnloadRadius:    cfg.UnloadRadius,
		},
		Palette:     atlas.Palette,
		Atlas:       observerproto.AtlasInfo{Texture: atlas.Texture, Size: atlas.Size, Digest: atlas.Digest},
		MaxClients:  tune.Observer.MaxClients,
		SendBuffer:  tune.Observer.SendBuffer,
		AllowRemote: envBool("VP_OBSERVER_ALLOW_REMOTE", false),
	}, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))

	spawner := world.NewPondSpawner(tune.Workers)
	defer spawner.Stop()

	m, err := world.New(cfg, g, atlas.Mapping, spawner, obs)
	if err != nil {
		return fmt.Errorf("world: %w", err)
	}
	m.SetLogger(log.New(os.Stdout, "[chunks] ", log.LstdFlags|log.Lmicroseconds))
	if resume != nil {
		if err := m.ImportSnapshot(*resume); err != nil {
			return fmt.Errorf("import snapshot: %w", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d edited_chunks=%d", filepath.Base(snapToLoad), m.TickCount(), len(resume.Chunks))
	}

	runID := uuid.NewString()
	if idx != nil {
		idx.RecordRun(runID, f.worldID, cfg.Seed)
	}
	logger.Printf("run=%s world=%s seed=%d chunk_size=%v render_distance=%d", runID, f.worldID, cfg.Seed, cfg.ChunkSize.Array(), cfg.RenderDistance)

	logOpts := plog.Options{}
	if mirror.enabled {
		logOpts.RotateLayout = mirror.rotateLayout
		logOpts.OnClose = mirror.Enqueue
	}
	tickLog := plog.NewTickLoggerWithOptions(worldDir, logOpts)
	auditLog := plog.NewAuditLoggerWithOptions(worldDir, logOpts)
	defer tickLog.Close()
	defer auditLog.Close()

	ticks := tickFanout{tickLog}
	audit := auditFanout{auditLog}
	if idx != nil {
		ticks = append(ticks, idx)
		audit = append(audit, idx)
	}
	m.SetTickLogger(ticks)

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	m.SetSnapshotSink(snapCh)
	var snapWG sync.WaitGroup
	snapWG.Add(1)
	go func() {
		defer snapWG.Done()
		for snap := range snapCh {
			persistSnapshot(worldDir, snap, tune, idx, mirror, logger)
		}
	}()

	focus := newOrbit(tune.FocusPath, cfg.TickRateHz, m.TickCount)
	runErr := make(chan error, 1)
	go func() {
		err := m.Run(ctx, focus)
		runErr <- err
		cancel()
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, metricsSource{
			worldID:   f.worldID,
			world:     m.Metrics,
			observers: obs.ClientCount,
			index:     idx,
			mirror:    mirror,
		})
	})
	mux.HandleFunc("/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obs.WSHandler())
	mux.HandleFunc("/v1/edit", loopbackOnly(envBool("VP_EDIT_ALLOW_REMOTE", false), editHandler(m, audit, rates.NewLimiter(uint64(tune.Edits.RateWindowTicks), tune.Edits.RateMax))))
	mux.HandleFunc("/admin/v1/state", loopbackOnly(false, func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, struct {
			WorldID string        `json:"world_id"`
			RunID   string        `json:"run_id"`
			Seed    int64         `json:"seed"`
			Metrics world.Metrics `json:"metrics"`
		}{
			WorldID: f.worldID,
			RunID:   runID,
			Seed:    cfg.Seed,
			Metrics: m.Metrics(),
		})
	}))
	if envBool("VP_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              f.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(ctx2); err != nil {
			logger.Printf("warn: http shutdown: %v", err)
		}
	}()

	logger.Printf("listening on %s", f.addr)
	listenErr := srv.ListenAndServe()
	cancel()
	// ListenAndServe returns as soon as the listener closes; handlers may still
	// be writing to the index and audit log closed by the deferred calls above.
	<-shutdownDone

	err = <-runErr
	close(snapCh)
	snapWG.Wait()

	if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", listenErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("world stopped at tick %d: %w", m.TickCount(), err)
	}
	logger.Printf("stopped at tick %d", m.TickCount())
	return nil
}

// worldConfig builds the Manager config. A resumed world keeps the seed and
// chunk size it was created with.
func worldConfig(f serverFlags, tune tuning.Tuning, atlas *catalogs.Atlas, resume *snapshot.SnapshotV1) world.Config {
	x, y, z := tune.ChunkSizeXYZ()
	cfg := world.Config{
		ID:                 f.worldID,
		TickRateHz:         tune.TickRateHz,
		Seed:               tune.Seed,
		ChunkSize:          chunk.Size{X: x, Y: y, Z: z},
		RenderDistance:     tune.RenderDistance,
		VerticalDivisor:    tune.VerticalDivisor,
		UnloadRadius:       tune.UnloadRadius,
		MaxDispatchPerTick: tune.MaxDispatchPerTick,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		Material:           atlas.Texture,
	}
	if f.seedSet {
		cfg.Seed = f.seed
	}
	if resume != nil {
		cfg.Seed = resume.Seed
		cfg.ChunkSize = chunk.Size{X: resume.ChunkSize[0], Y: resume.ChunkSize[1], Z: resume.ChunkSize[2]}
	}
	return cfg
}

func persistSnapshot(worldDir string, snap snapshot.SnapshotV1, tune tuning.Tuning, idx runtimeIndex, mirror *mirrorRuntime, logger *log.Logger) {
	dir := filepath.Join(worldDir, "snapshots")
	path := snapshot.PathFor(dir, snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		logger.Printf("warn: snapshot write: %v", err)
		return
	}
	mirror.Enqueue(path)
	if idx != nil {
		idx.RecordSnapshot(path, snap)
	}

	archived, ok, err := archive.ArchiveMilestone(worldDir, path, snap, uint64(tune.ArchiveEveryTicks))
	if err != nil {
		logger.Printf("warn: archive snapshot: %v", err)
	} else if ok {
		logger.Printf("archived snapshot tick=%d", snap.Header.Tick)
		mirror.Enqueue(archived)
		mirror.Enqueue(archive.MetaPath(archived))
	}

	if _, err := archive.PruneSnapshots(dir, tune.SnapshotKeep); err != nil {
		logger.Printf("warn: prune snapshots: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func loopbackOnly(allowRemote bool, h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !allowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
