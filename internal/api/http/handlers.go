package apihttp

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"workspace-mood-monitor/internal/audit"
	"workspace-mood-monitor/internal/auth"
	ingestqueue "workspace-mood-monitor/internal/ingestqueue/domain"
	"workspace-mood-monitor/internal/observability/metrics"
	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

const (
	timeLayout           = time.RFC3339
	defaultExportWindow  = 24 * time.Hour
	defaultDeadLetterMax = 100
)

// ExportTelemetryCSVHandler serves telemetry CSV exports.
type ExportTelemetryCSVHandler struct {
	query telemetry.TelemetryQuery
	now   func() time.Time
}

// NewExportTelemetryCSVHandler constructs an ExportTelemetryCSVHandler.
func NewExportTelemetryCSVHandler(query telemetry.TelemetryQuery) *ExportTelemetryCSVHandler {
	return &ExportTelemetryCSVHandler{query: query, now: func() time.Time { return time.Now().UTC() }}
}

// ServeHTTP handles GET /api/v1/exports/telemetry.csv.
func (h *ExportTelemetryCSVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.query == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()

	to, err := parseTimeQuery(r, "to", h.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, err := parseTimeQuery(r, "from", to.Add(-defaultExportWindow))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	rows, err := h.query.QueryRoom(r.Context(), r.URL.Query().Get("room"), from, to)
	if err != nil {
		metrics.ObserveExport("csv", metrics.ResultError, time.Since(start))
		http.Error(w, "query telemetry error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"observed_at",
		"room",
		"desk",
		"device",
		"metric",
		"value",
		"unit",
		"parent_path",
		"content_id",
		"queue_entry_id",
	})
	for _, row := range rows {
		_ = writer.Write([]string{
			formatTime(row.ObservedAt),
			row.Room,
			row.Desk,
			row.Device,
			string(row.Metric),
			formatFloat(row.Value),
			row.Unit,
			row.Provenance.ParentPath,
			row.Provenance.ContentID,
			formatInt64(row.Provenance.QueueEntryID),
		})
	}
	writer.Flush()
	metrics.ObserveExport("csv", metrics.ResultSuccess, time.Since(start))
}

// DeadLetterHandler lists and requeues dead-lettered queue entries.
type DeadLetterHandler struct {
	store  ingestqueue.DeadLetterStore
	audit  audit.Logger
	logger *log.Logger
}

// NewDeadLetterHandler constructs a DeadLetterHandler.
func NewDeadLetterHandler(store ingestqueue.DeadLetterStore, logger *log.Logger) *DeadLetterHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &DeadLetterHandler{store: store, logger: logger}
}

// WithAudit records requeues to the given audit log.
func (h *DeadLetterHandler) WithAudit(auditLog audit.Logger) *DeadLetterHandler {
	h.audit = auditLog
	return h
}

// Register mounts the dead-letter and queue stats routes.
func (h *DeadLetterHandler) Register(router *mux.Router) {
	router.HandleFunc("/api/v1/deadletters", h.list).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/deadletters/{id:[0-9]+}/requeue", h.requeue).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/queue/stats", h.stats).Methods(http.MethodGet)
}

type deadLetterRow struct {
	ID         int64           `json:"id"`
	EntryID    int64           `json:"entry_id"`
	ReceivedAt time.Time       `json:"received_at"`
	FailedAt   time.Time       `json:"failed_at"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error"`
	Payload    json.RawMessage `json:"payload"`
}

func (h *DeadLetterHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeadLetterMax
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	letters, err := h.store.ListDeadLetters(r.Context(), limit)
	if err != nil {
		h.logger.Printf("api: list dead letters: %v", err)
		http.Error(w, "query dead letters error", http.StatusInternalServerError)
		return
	}
	rows := make([]deadLetterRow, 0, len(letters))
	for _, dl := range letters {
		rows = append(rows, deadLetterRow{
			ID:         dl.ID,
			EntryID:    dl.EntryID,
			ReceivedAt: dl.ReceivedAt.UTC(),
			FailedAt:   dl.FailedAt.UTC(),
			Attempts:   dl.Attempts,
			LastError:  dl.LastError,
			Payload:    dl.Payload,
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *DeadLetterHandler) requeue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	entryID, err := h.store.Requeue(r.Context(), id)
	if errors.Is(err, ingestqueue.ErrNotFound) {
		http.Error(w, "dead letter not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Printf("api: requeue dead letter %d: %v", id, err)
		http.Error(w, "requeue error", http.StatusInternalServerError)
		return
	}
	h.logger.Printf("api: dead letter %d requeued as entry %d", id, entryID)
	if h.audit != nil {
		meta, _ := json.Marshal(map[string]int64{"entry_id": entryID})
		err := h.audit.Log(r.Context(), audit.Entry{
			Actor:        auth.SubjectFromContext(r.Context()),
			Role:         string(auth.RoleFromContext(r.Context())),
			Action:       audit.ActionDeadLetterRequeue,
			ResourceType: "dead_letter",
			ResourceID:   strconv.FormatInt(id, 10),
			Metadata:     meta,
			IP:           r.RemoteAddr,
			UserAgent:    r.UserAgent(),
		})
		if err != nil {
			h.logger.Printf("api: audit requeue %d: %v", id, err)
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"dead_letter_id": id, "entry_id": entryID})
}

func (h *DeadLetterHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Printf("api: queue stats: %v", err)
		http.Error(w, "query stats error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"queued":       stats.Queued,
		"processing":   stats.Processing,
		"done":         stats.Done,
		"failed":       stats.Failed,
		"dead_letters": stats.DeadLetters,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseTimeQuery reads an RFC3339 query value, returning fallback when absent.
func parseTimeQuery(r *http.Request, key string, fallback time.Time) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func formatInt64(value int64) string {
	if value == 0 {
		return ""
	}
	return strconv.FormatInt(value, 10)
}
