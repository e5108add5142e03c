package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"workspace-mood-monitor/internal/observability/metrics"
	telemetryapp "workspace-mood-monitor/internal/telemetry/application"
)

const maxNotifyBody = 1 << 20

// Enqueuer durably accepts raw payloads.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload json.RawMessage) (int64, error)
}

// NotifyHandler accepts push notifications and queues them for the worker.
type NotifyHandler struct {
	queue  Enqueuer
	logger *log.Logger
}

// NewNotifyHandler constructs a notify handler.
func NewNotifyHandler(queue Enqueuer, logger *log.Logger) (*NotifyHandler, error) {
	if queue == nil {
		return nil, errors.New("notify handler: nil queue")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &NotifyHandler{queue: queue, logger: logger}, nil
}

// ServeHTTP queues one notification.
func (h *NotifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotifyBody))
	if err != nil {
		h.logger.Printf("notify: read body error: %v", err)
		h.reject(w, "read_body", start, http.StatusBadRequest, "read body error")
		return
	}
	defer r.Body.Close()

	if !json.Valid(body) {
		h.reject(w, "invalid_json", start, http.StatusBadRequest, "invalid json")
		return
	}
	if !isJSONObject(body) {
		h.reject(w, "not_object", start, http.StatusBadRequest, "json body must be an object")
		return
	}

	if telemetryapp.IsVerification(body) {
		h.logger.Printf("notify: verification request acknowledged")
		w.WriteHeader(http.StatusOK)
		metrics.ObserveIngest(metrics.IngestResultSuccess, time.Since(start))
		return
	}

	id, err := h.queue.Enqueue(r.Context(), json.RawMessage(body))
	if err != nil {
		h.logger.Printf("notify: enqueue error: %v", err)
		h.reject(w, "enqueue", start, http.StatusInternalServerError, "enqueue error")
		return
	}

	metrics.ObserveIngest(metrics.IngestResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "queued", "id": id})
}

// isJSONObject expects body to be valid JSON already.
func isJSONObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func (h *NotifyHandler) reject(w http.ResponseWriter, reason string, start time.Time, status int, msg string) {
	metrics.IncIngestError(reason)
	metrics.ObserveIngest(metrics.IngestResultError, time.Since(start))
	http.Error(w, msg, status)
}
