package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	plog "voxelpipe.dev/internal/persistence/log"
	"voxelpipe.dev/internal/sim/world"
	"voxelpipe.dev/internal/sim/world/block"
	"voxelpipe.dev/internal/sim/world/logic/mathx"
	"voxelpipe.dev/internal/sim/world/logic/rates"
)

type editRequest struct {
	Op    string `json:"op"` // "break" | "place"
	Pos   [3]int `json:"pos"`
	Block string `json:"block,omitempty"`
}

type editQueue interface {
	RequestBreak(pos mathx.Vec3i) error
	RequestPlace(pos mathx.Vec3i, t block.Type) error
	TickCount() uint64
}

type auditWriter interface {
	WriteAudit(entry plog.EditAudit) error
}

// editHandler serves POST /v1/edit. Accepted and rejected requests are both
// audited; rejections carry a reason. limit may be nil.
func editHandler(q editQueue, audit auditWriter, limit *rates.Limiter) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req editRequest
		dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 4*1024))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad json: " + err.Error()})
			return
		}

		entry := plog.EditAudit{
			Tick:  q.TickCount(),
			Actor: actorFor(r),
			Op:    strings.ToLower(strings.TrimSpace(req.Op)),
			Pos:   req.Pos,
			Block: req.Block,
		}
		if ok, cooldown := limit.Allow(remoteHost(r), entry.Tick); !ok {
			entry.Reason = "rate limited"
			if audit != nil {
				_ = audit.WriteAudit(entry)
			}
			writeJSON(rw, http.StatusTooManyRequests, map[string]any{"ok": false, "error": "rate limited", "retry_after_ticks": cooldown})
			return
		}
		status, err := applyEdit(q, entry.Op, req)
		if err != nil {
			entry.Reason = err.Error()
		}
		if audit != nil {
			_ = audit.WriteAudit(entry)
		}
		if err != nil {
			writeJSON(rw, status, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusAccepted, map[string]any{"ok": true, "tick": entry.Tick})
	}
}

func applyEdit(q editQueue, op string, req editRequest) (int, error) {
	pos := mathx.FromArray(req.Pos)
	var err error
	switch op {
	case "break":
		err = q.RequestBreak(pos)
	case "place":
		t, perr := block.Parse(req.Block)
		if perr != nil {
			return http.StatusBadRequest, perr
		}
		if t == block.Air {
			return http.StatusBadRequest, fmt.Errorf("use op=break to clear a block")
		}
		err = q.RequestPlace(pos, t)
	default:
		return http.StatusBadRequest, fmt.Errorf("unknown op %q", req.Op)
	}
	if errors.Is(err, world.ErrInboxFull) {
		return http.StatusServiceUnavailable, err
	}
	if err != nil {
		return http.StatusBadRequest, err
	}
	return http.StatusAccepted, nil
}

// actorFor names the caller in the audit log. X-Actor is client supplied, so
// it is never used as the rate-limit key.
func actorFor(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Actor")); v != "" {
		return v
	}
	return r.RemoteAddr
}

// remoteHost keys the edit limiter. The port is dropped so one host cannot
// get fresh windows by opening new connections.
func remoteHost(r *http.Request) string {
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return h
	}
	return r.RemoteAddr
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
