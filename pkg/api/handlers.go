package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/launcher/pkg/orchestrator"
	"github.com/openclaw/launcher/pkg/runtime"
	"github.com/openclaw/launcher/pkg/types"
)

// Log tail bounds. lines is clamped rather than rejected; the body is capped
// at the last logTailMaxChars characters regardless of line count.
const (
	logTailDefault  = 50
	logTailMin      = 1
	logTailMax      = 500
	logTailMaxChars = 5000
)

// Event feed bounds.
const (
	eventsDefault = 100
	eventsMax     = 500
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodePubkey reads the {"pubkey": "..."} body shared by the lifecycle
// endpoints and validates it. A false return means the response is written.
func decodePubkey(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	if !types.ValidPubkey(body.Pubkey) {
		writeError(w, http.StatusBadRequest, "invalid pubkey")
		return "", false
	}
	return body.Pubkey, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count := 0
	if view, err := s.store.Load(); err == nil {
		count = view.Count()
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "instances": count})
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.ctrl.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store read failed")
		return
	}
	if instances == nil {
		instances = []types.WireInstance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": instances})
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	pubkey, ok := decodePubkey(w, r)
	if !ok {
		return
	}

	inst, err := s.ctrl.Launch(r.Context(), pubkey)
	if err != nil {
		var conflict *orchestrator.ConflictError
		var apiErr *runtime.APIError
		switch {
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":    "instance already running",
				"instance": conflict.Instance,
			})
		case errors.Is(err, orchestrator.ErrCapacity):
			writeError(w, http.StatusTooManyRequests, "instance capacity reached")
		case errors.Is(err, runtime.ErrNotFound):
			writeError(w, http.StatusNotFound, "container not found")
		case errors.Is(err, runtime.ErrUnreachable):
			writeError(w, http.StatusServiceUnavailable, "docker_unreachable")
		case errors.As(err, &apiErr):
			writeError(w, http.StatusInternalServerError, apiErr.Message)
		default:
			writeError(w, http.StatusInternalServerError, "launch failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instance": inst})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	pubkey, ok := decodePubkey(w, r)
	if !ok {
		return
	}

	id, err := s.ctrl.Stop(r.Context(), pubkey)
	if err != nil {
		switch {
		case errors.Is(err, runtime.ErrNotFound):
			writeError(w, http.StatusNotFound, "container not found")
		default:
			writeError(w, http.StatusServiceUnavailable, "docker_unreachable")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "id": id})
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	pubkey, ok := decodePubkey(w, r)
	if !ok {
		return
	}

	// Destroy tolerates a missing container internally; anything surfaced
	// here means the daemon or the store got in the way.
	id, err := s.ctrl.Destroy(r.Context(), pubkey)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "docker_unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed", "id": id})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.ctrl.StatsFor(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "docker_unreachable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLogsTail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lines := clampInt(r.URL.Query().Get("lines"), logTailDefault, logTailMin, logTailMax)

	logs, err := s.tailer.TailLogs(r.Context(), orchestrator.ContainerName(id), lines)
	if err != nil {
		switch {
		case errors.Is(err, runtime.ErrNotFound):
			writeError(w, http.StatusNotFound, "container not found")
		default:
			writeError(w, http.StatusServiceUnavailable, "docker_unreachable")
		}
		return
	}
	if len(logs) > logTailMaxChars {
		logs = logs[len(logs)-logTailMaxChars:]
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(r.URL.Query().Get("limit"), eventsDefault, 1, eventsMax)

	evs := []types.Event{}
	if s.journal != nil {
		listed, err := s.journal.List(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "event journal read failed")
			return
		}
		if listed != nil {
			evs = listed
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

// clampInt parses a decimal query value, falling back to def when absent or
// malformed, and clamps the result into [min, max].
func clampInt(raw string, def, min, max int) int {
	n := def
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			n = parsed
		}
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
