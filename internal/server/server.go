// Package server serves the static dashboard and a small read-only JSON API
// over the persisted dataset and run documents.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/report"
	"github.com/sells-group/nfp-revisions/internal/store"
	"github.com/sells-group/nfp-revisions/internal/table"
)

// Options configures the router.
type Options struct {
	Dataset        string
	DataDir        string
	DiagnosticsDir string
	DashboardDir   string
	AllowedOrigins []string
}

type handler struct {
	store store.Store
	opts  Options
	log   *zap.Logger
}

var seriesName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// NewRouter builds the HTTP handler.
func NewRouter(st store.Store, opts Options, log *zap.Logger) http.Handler {
	h := &handler{store: st, opts: opts, log: log.With(zap.String("component", "server"))}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/observations", h.observations)
	r.Get("/api/summary", h.summary)
	r.Get("/api/diagnostics/{series}", h.diagnostics)
	r.Get("/api/runs", h.runs)
	if opts.DashboardDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(opts.DashboardDir)))
	}
	return r
}

// observations returns the dataset as one JSON object per month; missing
// cells are null.
func (h *handler) observations(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Load(r.Context(), h.opts.Dataset)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "dataset not found")
		return
	}
	if err != nil {
		h.log.Error("load dataset", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load dataset")
		return
	}
	writeJSON(w, http.StatusOK, Rows(t))
}

// Rows renders a table as JSON-ready objects.
func Rows(t *table.Table) []map[string]any {
	names := t.Columns()
	cols := make([]*table.Column, len(names))
	for j, name := range names {
		cols[j], _ = t.Column(name)
	}
	out := make([]map[string]any, t.Len())
	for i := range out {
		row := make(map[string]any, len(cols)+1)
		row[table.DateColumn] = table.FormatDate(t.Date(i))
		for _, c := range cols {
			if !c.Valid(i) {
				row[c.Name] = nil
				continue
			}
			switch c.Kind {
			case table.KindFloat:
				row[c.Name] = c.Floats[i].V
			case table.KindBool:
				row[c.Name] = c.Bools[i].V
			default:
				row[c.Name] = c.Strings[i].V
			}
		}
		out[i] = row
	}
	return out
}

func (h *handler) summary(w http.ResponseWriter, _ *http.Request) {
	h.serveDocument(w, filepath.Join(h.opts.DataDir, report.SummaryFile))
}

func (h *handler) diagnostics(w http.ResponseWriter, r *http.Request) {
	series := chi.URLParam(r, "series")
	if !seriesName.MatchString(series) {
		writeError(w, http.StatusBadRequest, "invalid series")
		return
	}
	h.serveDocument(w, filepath.Join(h.opts.DiagnosticsDir, series+"_seasonal_diagnostics.json"))
}

func (h *handler) serveDocument(w http.ResponseWriter, path string) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		h.log.Error("read document", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read document")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(b) //nolint:errcheck
}

func (h *handler) runs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
