package statusd

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/GoSim-25-26J-441/prms-calibration/pkg/logger"
)

// HTTPServer serves calibration progress as JSON.
type HTTPServer struct {
	router *mux.Router
	store  *Store
}

// NewHTTPServer routes the progress API over store. A non-nil metrics
// handler is mounted at /metrics.
func NewHTTPServer(store *Store, metrics http.Handler) *HTTPServer {
	s := &HTTPServer{router: mux.NewRouter(), store: store}

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/progress", s.handleProgress).Methods(http.MethodGet)
	api.HandleFunc("/calibrations", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/calibrations/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/calibrations/{id}/archive", s.handleArchive).Methods(http.MethodGet)
	if metrics != nil {
		s.router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return s
}

// Handler returns the router wrapped with access logging to accessLog and
// panic recovery. A nil accessLog disables access logging.
func (s *HTTPServer) Handler(accessLog io.Writer) http.Handler {
	var h http.Handler = s.router
	if accessLog != nil {
		h = handlers.CombinedLoggingHandler(accessLog, h)
	}
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"running":   s.store.Running(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleProgress reports the running calibration, or the latest one when
// none is running.
func (s *HTTPServer) handleProgress(w http.ResponseWriter, _ *http.Request) {
	rec, ok := s.store.Current()
	if !ok {
		rec, ok = s.store.Latest()
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no calibration has started")
		return
	}
	out := map[string]any{
		"calibration": rec,
		"scenarios":   s.store.Scenarios(),
	}
	if best, ok := rec.Best(); ok {
		out["best"] = best
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"calibrations": s.store.List(limit)})
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "calibration not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *HTTPServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "calibration not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"primary_metric": rec.Primary, "archive": rec.Archive})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to encode response", "error", err)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(map[string]string{"error": "failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
