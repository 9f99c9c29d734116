package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voxelpipe.dev/internal/persistence/indexdb"
	plog "voxelpipe.dev/internal/persistence/log"
	"voxelpipe.dev/internal/persistence/snapshot"
	"voxelpipe.dev/internal/sim/catalogs"
	"voxelpipe.dev/internal/sim/tuning"
	"voxelpipe.dev/internal/sim/world"
)

// runtimeIndex is what the server needs from an index backend.
type runtimeIndex interface {
	world.TickLogger
	auditWriter
	Close() error
	UpsertCatalogs(configDir string, atlas *catalogs.Atlas, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecordRun(runID, worldID string, seed int64)
}

// indexBackend resolves VP_INDEX_BACKEND; "" means indexing is off.
func indexBackend(disableDB bool, env string) (string, error) {
	if disableDB {
		return "", nil
	}
	switch b := strings.ToLower(strings.TrimSpace(env)); b {
	case "", "sqlite":
		return "sqlite", nil
	case "ingest":
		return b, nil
	case "none", "off", "disabled":
		return "", nil
	default:
		return "", fmt.Errorf("unsupported VP_INDEX_BACKEND: %s", b)
	}
}

func openRuntimeIndex(worldDir, worldID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	backend, err := indexBackend(disableDB, os.Getenv("VP_INDEX_BACKEND"))
	if err != nil || backend == "" {
		return nil, err
	}
	if backend == "sqlite" {
		idx, err := indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
		if err != nil {
			return nil, err
		}
		logger.Printf("index: sqlite %s", filepath.Join(worldDir, "index", "world.sqlite"))
		return idx, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("VP_INDEX_INGEST_URL"))
	if endpoint == "" {
		return nil, fmt.Errorf("VP_INDEX_BACKEND=ingest but VP_INDEX_INGEST_URL is empty")
	}
	idx, err := indexdb.OpenIngest(indexdb.IngestConfig{
		Endpoint:      endpoint,
		Token:         strings.TrimSpace(os.Getenv("VP_INDEX_INGEST_TOKEN")),
		WorldID:       worldID,
		BatchSize:     envInt("VP_INDEX_INGEST_BATCH_SIZE", 128),
		FlushInterval: time.Duration(envInt("VP_INDEX_INGEST_FLUSH_MS", 500)) * time.Millisecond,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Printf("index: ingest %s", endpoint)
	return idx, nil
}

// tickFanout writes each tick to every logger; nil entries are skipped.
type tickFanout []world.TickLogger

func (f tickFanout) WriteTick(entry world.TickLogEntry) error {
	var errs []error
	for _, l := range f {
		if l == nil {
			continue
		}
		if err := l.WriteTick(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type auditFanout []auditWriter

func (f auditFanout) WriteAudit(entry plog.EditAudit) error {
	var errs []error
	for _, w := range f {
		if w == nil {
			continue
		}
		if err := w.WriteAudit(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
