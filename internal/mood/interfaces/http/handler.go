package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	mood "workspace-mood-monitor/internal/mood/domain"
	"workspace-mood-monitor/internal/observability/metrics"
)

const (
	timeLayout           = time.RFC3339
	defaultLatestWindow  = time.Hour
	defaultHistoryWindow = 24 * time.Hour
)

// Handler serves mood queries and report exports.
type Handler struct {
	repo         mood.Repository
	latestWindow time.Duration
	logger       *log.Logger
	now          func() time.Time
}

// NewHandler constructs a mood handler. latestWindow bounds how old the
// record returned by /latest-mood may be.
func NewHandler(repo mood.Repository, latestWindow time.Duration, logger *log.Logger) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("mood handler: nil repository")
	}
	if latestWindow <= 0 {
		latestWindow = defaultLatestWindow
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		repo:         repo,
		latestWindow: latestWindow,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register mounts the handler routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/latest-mood", h.handleLatest)
	mux.HandleFunc("/api/v1/moods", h.handleHistory)
	mux.HandleFunc("/api/v1/exports/moods.pdf", h.handleExport)
	mux.HandleFunc("/api/v1/exports/moods.xlsx", h.handleExport)
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	room := strings.TrimSpace(r.URL.Query().Get("room"))
	rec, err := h.repo.Latest(r.Context(), room, h.now().Add(-h.latestWindow))
	if err != nil {
		h.logger.Printf("mood handler: latest: %v", err)
		http.Error(w, "query mood error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"latest": rec})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	room := strings.TrimSpace(r.URL.Query().Get("room"))
	from, to, err := parseRange(r, h.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, err := h.repo.List(r.Context(), room, from, to)
	if err != nil {
		h.logger.Printf("mood handler: history: %v", err)
		http.Error(w, "query mood error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []mood.MoodRecord{}
	}
	writeJSON(w, records)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	format := "pdf"
	if strings.HasSuffix(r.URL.Path, ".xlsx") {
		format = "xlsx"
	}

	room := strings.TrimSpace(r.URL.Query().Get("room"))
	from, to, err := parseRange(r, h.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, err := h.repo.List(r.Context(), room, from, to)
	if err != nil {
		h.logger.Printf("mood handler: export: %v", err)
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, "query mood error", http.StatusInternalServerError)
		return
	}

	summary := Summarize(room, from, to, records)
	var (
		body        []byte
		contentType string
	)
	switch format {
	case "xlsx":
		body, err = BuildMoodReportXLSX(summary, records)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		body, err = BuildMoodReportPDF(summary, records)
		contentType = "application/pdf"
	}
	if err != nil {
		h.logger.Printf("mood handler: render %s: %v", format, err)
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, "render report error", http.StatusInternalServerError)
		return
	}

	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=moods."+format)
	_, _ = w.Write(body)
}

// parseRange reads from/to as RFC3339, defaulting to the last 24 hours.
func parseRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	to := now
	from := now.Add(-defaultHistoryWindow)
	if value := r.URL.Query().Get("to"); value != "" {
		parsed, err := time.Parse(timeLayout, value)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC3339")
		}
		to = parsed.UTC()
		from = to.Add(-defaultHistoryWindow)
	}
	if value := r.URL.Query().Get("from"); value != "" {
		parsed, err := time.Parse(timeLayout, value)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC3339")
		}
		from = parsed.UTC()
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
