package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"voxelpipe.dev/internal/persistence/s3mirror"
)

type mirrorRuntime struct {
	enabled      bool
	rotateLayout string
	mirror       *s3mirror.Mirror
}

func buildMirrorRuntime(dataDir string, logger *log.Logger) (*mirrorRuntime, error) {
	if !envBool("VP_MIRROR", false) {
		return &mirrorRuntime{}, nil
	}

	client, err := s3mirror.New(s3mirror.Config{
		Endpoint:        os.Getenv("VP_MIRROR_ENDPOINT"),
		Bucket:          os.Getenv("VP_MIRROR_BUCKET"),
		Region:          os.Getenv("VP_MIRROR_REGION"),
		AccessKeyID:     os.Getenv("VP_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("VP_MIRROR_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("VP_MIRROR=true: %w", err)
	}
	mirror := s3mirror.NewMirror(client, dataDir, s3mirror.MirrorOptions{
		Prefix:        strings.TrimSpace(os.Getenv("VP_MIRROR_PREFIX")),
		Workers:       envInt("VP_MIRROR_UPLOAD_WORKERS", 2),
		QueueCapacity: envInt("VP_MIRROR_QUEUE", 1024),
		EnqueueWait:   time.Duration(envInt("VP_MIRROR_ENQUEUE_WAIT_MS", 25)) * time.Millisecond,
	}, logger)
	logger.Printf("mirroring %s to bucket %s", dataDir, client.Bucket())

	return &mirrorRuntime{
		enabled:      true,
		rotateLayout: "2006-01-02-15-04", // 1-minute log segments
		mirror:       mirror,
	}, nil
}

func (r *mirrorRuntime) Close() {
	if r == nil || r.mirror == nil {
		return
	}
	r.mirror.Close()
}

func (r *mirrorRuntime) Enqueue(localPath string) {
	if r == nil || !r.enabled {
		return
	}
	r.mirror.Enqueue(localPath)
}

func (r *mirrorRuntime) Stats() (s3mirror.Stats, bool) {
	if r == nil || !r.enabled {
		return s3mirror.Stats{}, false
	}
	return r.mirror.Stats(), true
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
