package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lexmex/scjnpipe/fetch"
)

// searchRequest is the POST /search body.
type searchRequest struct {
	Category   string `json:"category"`
	Scope      string `json:"scope"`
	Status     string `json:"status"`
	MaxResults int    `json:"max_results"`
	AllPages   bool   `json:"all_pages"`
}

// Router exposes the bridge over HTTP. All responses are JSON.
func Router(b *Bridge) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		snap, err := b.Status(req.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Get("/progress", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, b.Progress())
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, b.p.VectorStats())
	})

	r.Post("/search", func(w http.ResponseWriter, req *http.Request) {
		var body searchRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		q := fetch.Query{Category: body.Category, Scope: body.Scope, Status: body.Status}
		err := b.StartSearch(req.Context(), q, body.MaxResults, body.AllPages)
		switch {
		case errors.Is(err, ErrSearchRunning):
			writeError(w, http.StatusConflict, err)
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
		default:
			writeJSON(w, http.StatusAccepted, map[string]string{"session_id": b.p.SessionID()})
		}
	})

	r.Post("/pause", func(w http.ResponseWriter, req *http.Request) {
		control(w, req, b.PauseSearch)
	})
	r.Post("/resume", func(w http.ResponseWriter, req *http.Request) {
		control(w, req, b.ResumeSearch)
	})
	r.Post("/stop", func(w http.ResponseWriter, req *http.Request) {
		control(w, req, b.StopSearch)
	})

	return r
}

func control(w http.ResponseWriter, req *http.Request, fn func(context.Context) error) {
	if err := fn(req.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
