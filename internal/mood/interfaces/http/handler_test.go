package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	mood "workspace-mood-monitor/internal/mood/domain"
	"workspace-mood-monitor/internal/mood/infrastructure/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMux(t *testing.T, records ...mood.MoodRecord) *http.ServeMux {
	t.Helper()
	repo := memory.NewMoodRepository()
	for _, rec := range records {
		if _, err := repo.Insert(context.Background(), rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	h, err := NewHandler(repo, time.Hour, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	h.now = func() time.Time { return testNow }
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func record(contentID string, at time.Time, score int, label mood.Label) mood.MoodRecord {
	return mood.MoodRecord{
		ParentPath: "/cse/ae/room1/desk1/telemetry",
		ContentID:  contentID,
		ObservedAt: at,
		Score:      score,
		Label:      label,
		Confidence: 0.95,
		Room:       "room1",
		Desk:       "desk1",
		LEDColor:   mood.ScoreColor(score, 50).Hex(),
	}
}

func TestLatestMood_ReturnsNewestWithinWindow(t *testing.T) {
	mux := newTestMux(t,
		record("cin-1", testNow.Add(-50*time.Minute), 60, mood.LabelNeutral),
		record("cin-2", testNow.Add(-10*time.Minute), 90, mood.LabelFocus),
	)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/latest-mood?room=room1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Latest *mood.MoodRecord `json:"latest"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Latest == nil || resp.Latest.ContentID != "cin-2" || resp.Latest.Score != 90 {
		t.Fatalf("unexpected latest %+v", resp.Latest)
	}
}

func TestLatestMood_NullWhenStale(t *testing.T) {
	mux := newTestMux(t, record("cin-1", testNow.Add(-2*time.Hour), 60, mood.LabelNeutral))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/latest-mood?room=room1", nil))

	if got := bytes.TrimSpace(rec.Body.Bytes()); string(got) != `{"latest":null}` {
		t.Fatalf("expected null latest, got %s", got)
	}
}

func TestMoodHistory(t *testing.T) {
	mux := newTestMux(t,
		record("cin-1", testNow.Add(-3*time.Hour), 60, mood.LabelNeutral),
		record("cin-2", testNow.Add(-30*time.Hour), 90, mood.LabelFocus),
	)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/moods?room=room1", nil))
	var records []mood.MoodRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].ContentID != "cin-1" {
		t.Fatalf("expected only the last 24h, got %+v", records)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/moods?from=not-a-time", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMoodExports(t *testing.T) {
	mux := newTestMux(t,
		record("cin-1", testNow.Add(-3*time.Hour), 60, mood.LabelNeutral),
		record("cin-2", testNow.Add(-2*time.Hour), 90, mood.LabelFocus),
	)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/moods.pdf?room=room1", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("unexpected pdf response %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("body is not a pdf")
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/exports/moods.xlsx?room=room1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected xlsx status %d", rec.Code)
	}
	book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer book.Close()
	samples, _ := book.GetCellValue("summary", "B6")
	if samples != "2" {
		t.Fatalf("expected 2 samples, got %q", samples)
	}
	score, _ := book.GetCellValue("records", "E3")
	if score != "90" {
		t.Fatalf("expected second score 90, got %q", score)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize("room1", testNow, testNow, []mood.MoodRecord{
		record("a", testNow, 30, mood.LabelTired),
		record("b", testNow, 90, mood.LabelFocus),
		record("c", testNow, 60, mood.LabelNeutral),
	})
	if s.Count != 3 || s.Min != 30 || s.Max != 90 || s.Average != 60 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.LabelCount[mood.LabelFocus] != 1 {
		t.Fatalf("unexpected label counts %+v", s.LabelCount)
	}
}
