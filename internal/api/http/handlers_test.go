package apihttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"workspace-mood-monitor/internal/audit"
	"workspace-mood-monitor/internal/auth"
	ingestqueue "workspace-mood-monitor/internal/ingestqueue/domain"
	queuememory "workspace-mood-monitor/internal/ingestqueue/infrastructure/memory"
	telemetry "workspace-mood-monitor/internal/telemetry/domain"
	telemetrymemory "workspace-mood-monitor/internal/telemetry/infrastructure/memory"
)

func TestExportTelemetryCSV(t *testing.T) {
	repo := telemetrymemory.NewTelemetryRepository()
	observed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err := repo.AppendRecords(context.Background(), []telemetry.TelemetryRecord{
		{Room: "room1", Desk: "desk1", Metric: telemetry.MetricLux, Value: 420.5, Unit: telemetry.UnitLux, ObservedAt: observed,
			Provenance: telemetry.Provenance{QueueEntryID: 7, ParentPath: "/p", ContentID: "cin-1"}},
		{Room: "room2", Desk: "desk9", Metric: telemetry.MetricCO2, Value: 800, Unit: telemetry.UnitPPM, ObservedAt: observed},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	handler := NewExportTelemetryCSVHandler(repo)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/telemetry.csv?room=room1&from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one row, got %d", len(rows))
	}
	want := []string{"2026-03-01T10:00:00Z", "room1", "desk1", "", "lux", "420.5", "lx", "/p", "cin-1", "7"}
	if strings.Join(rows[1], ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected row %v", rows[1])
	}
}

func TestExportTelemetryCSV_BadRange(t *testing.T) {
	handler := NewExportTelemetryCSVHandler(telemetrymemory.NewTelemetryRepository())
	for _, query := range []string{"from=yesterday", "from=2026-03-02T00:00:00Z&to=2026-03-01T00:00:00Z"} {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/exports/telemetry.csv?"+query, nil))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, resp.Code)
		}
	}
}

func newDeadLetterRouter(t *testing.T) (*mux.Router, *queuememory.Store, int64) {
	t.Helper()
	store := queuememory.NewStore()
	ctx := context.Background()
	if _, err := store.Enqueue(ctx, json.RawMessage(`{"firmware":"1.2.0"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	entry, err := store.LeaseNext(ctx, time.Minute)
	if err != nil || entry == nil {
		t.Fatalf("lease: %v", err)
	}
	if err := store.DeadLetter(ctx, entry.Lease(), errors.New("normalize: empty")); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	letters, err := store.ListDeadLetters(ctx, 10)
	if err != nil || len(letters) != 1 {
		t.Fatalf("list: %v %d", err, len(letters))
	}

	router := mux.NewRouter()
	NewDeadLetterHandler(store, log.New(io.Discard, "", 0)).Register(router)
	return router, store, letters[0].ID
}

func TestDeadLetterHandler_ListAndRequeue(t *testing.T) {
	router, store, id := newDeadLetterRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/deadletters", nil))
	var rows []deadLetterRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].LastError != "normalize: empty" {
		t.Fatalf("unexpected rows %+v", rows)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/deadletters/"+formatInt64(id)+"/requeue", nil))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Queued != 1 {
		t.Fatalf("expected requeued entry, got %+v", stats)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/queue/stats", nil))
	var body map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if body["queued"] != 1 || body["failed"] != 1 {
		t.Fatalf("unexpected stats %v", body)
	}
}

func TestDeadLetterHandler_RequeueMissing(t *testing.T) {
	router, _, _ := newDeadLetterRouter(t)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/deadletters/999/requeue", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestDeadLetterHandler_InvalidLimit(t *testing.T) {
	router, _, _ := newDeadLetterRouter(t)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/deadletters?limit=-1", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

var _ ingestqueue.DeadLetterStore = (*queuememory.Store)(nil)

type recordingAudit struct {
	entries []audit.Entry
}

func (r *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func TestDeadLetterHandler_RequeueIsAudited(t *testing.T) {
	store := queuememory.NewStore()
	ctx := context.Background()
	_, _ = store.Enqueue(ctx, json.RawMessage(`{}`))
	entry, err := store.LeaseNext(ctx, time.Minute)
	if err != nil || entry == nil {
		t.Fatalf("lease: %v", err)
	}
	if err := store.DeadLetter(ctx, entry.Lease(), errors.New("normalize: empty")); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	letters, _ := store.ListDeadLetters(ctx, 1)

	recorder := &recordingAudit{}
	router := mux.NewRouter()
	NewDeadLetterHandler(store, log.New(io.Discard, "", 0)).WithAudit(recorder).Register(router)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deadletters/"+formatInt64(letters[0].ID)+"/requeue", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleOperator, "ops-1"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	if len(recorder.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(recorder.entries))
	}
	got := recorder.entries[0]
	if got.Actor != "ops-1" || got.Role != "operator" || got.Action != audit.ActionDeadLetterRequeue {
		t.Fatalf("unexpected audit entry %+v", got)
	}
	if got.ResourceID != formatInt64(letters[0].ID) {
		t.Fatalf("expected resource id %d, got %s", letters[0].ID, got.ResourceID)
	}
}
