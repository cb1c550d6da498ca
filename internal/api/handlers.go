package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Sophie-Williams/BerryBots/internal/replay"
	"github.com/Sophie-Williams/BerryBots/internal/runner"
	"github.com/Sophie-Williams/BerryBots/internal/sandbox"
	"github.com/Sophie-Williams/BerryBots/internal/storage"
)

// maxBodyBytes bounds request bodies; match requests are a few paths.
const maxBodyBytes = 64 << 10

type createMatchRequest struct {
	Stage string   `json:"stage"`
	Ships []string `json:"ships"`
	Live  bool     `json:"live"`
}

type validateRequest struct {
	Kind string `json:"kind"` // "ship" or "stage"
	Path string `json:"path"`
}

type validateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *routerHandlers) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Stage == "" || len(req.Ships) == 0 {
		writeError(w, "stage and at least one ship are required", http.StatusBadRequest)
		return
	}
	for _, p := range append([]string{req.Stage}, req.Ships...) {
		if _, err := h.loader.Resolve(p); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	job := runner.Job{Stage: req.Stage, Ships: req.Ships, Live: req.Live}
	id, err := h.runner.Submit(job)
	switch {
	case errors.Is(err, runner.ErrQueueFull), errors.Is(err, runner.ErrClosed):
		w.Header().Set("Retry-After", "5")
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	job.ID = id

	if _, err := h.store.Queue(r.Context(), job); err != nil {
		h.logger.Error().Err(err).Uint64("match", id).Msg("Recording queued match failed")
	}
	h.logger.Info().Uint64("match", id).Str("stage", req.Stage).Strs("ships", req.Ships).Msg("Match queued")

	w.Header().Set("Location", "/api/matches/"+strconv.FormatUint(id, 10))
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": storage.StatusQueued})
}

func (h *routerHandlers) handleListMatches(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			writeError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Listing matches failed")
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []storage.MatchRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// lookup resolves the {id} parameter to a record, writing the error
// response itself when it fails.
func (h *routerHandlers) lookup(w http.ResponseWriter, r *http.Request) (*storage.MatchRecord, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, "invalid match id", http.StatusBadRequest)
		return nil, false
	}
	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, "match not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.logger.Error().Err(err).Uint64("match", id).Msg("Loading match failed")
		writeError(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	return rec, true
}

func (h *routerHandlers) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *routerHandlers) handleGetReplay(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if rec.Replay == "" {
		writeError(w, "replay not available", http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		tmpl := h.template
		if tmpl == "" {
			tmpl = replay.DefaultTemplate()
		}
		page, err := replay.Embed(tmpl, rec.Replay)
		if err != nil {
			h.logger.Error().Err(err).Msg("Embedding replay failed")
			writeError(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(rec.Replay))
}

func (h *routerHandlers) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var kind sandbox.Kind
	switch req.Kind {
	case "ship", "":
		kind = sandbox.KindShip
	case "stage":
		kind = sandbox.KindStage
	default:
		writeError(w, `kind must be "ship" or "stage"`, http.StatusBadRequest)
		return
	}

	src, err := h.loader.Load(req.Path)
	if err == nil {
		err = sandbox.Validate(r.Context(), src, kind, h.sandbox)
	}
	resp := validateResponse{Valid: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *routerHandlers) handleLive(w http.ResponseWriter, r *http.Request) {
	e := h.runner.Live()
	if e == nil {
		writeError(w, "no live match", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, e.Snapshot())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}
