package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveBeforeInitIsNoop(t *testing.T) {
	if queueJobsTotal != nil {
		t.Skip("metrics already initialized")
	}
	ObserveQueueJob(JobOutcomeAcked, time.Millisecond)
	ObserveMoodScore("room1", "desk1", "focus", 90, 0.9)
	ObserveFeedbackDispatch(ResultError, time.Millisecond)
}

func TestObserveCountsAfterInit(t *testing.T) {
	Init(nil, nil)

	before := testutil.ToFloat64(queueJobsTotal.WithLabelValues(JobOutcomeDeadLettered))
	ObserveQueueJob(JobOutcomeDeadLettered, 5*time.Millisecond)
	if got := testutil.ToFloat64(queueJobsTotal.WithLabelValues(JobOutcomeDeadLettered)); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}

	ObserveMoodScore("room1", "desk1", "focus", 90, 0.95)
	if got := testutil.ToFloat64(moodLatestScore.WithLabelValues("room1", "desk1")); got != 90 {
		t.Fatalf("expected latest score 90, got %v", got)
	}
}

func TestQueryCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))
	if got := queryCount(db, nil, "SELECT COUNT(*) FROM ingest_queue"); got != 4 {
		t.Fatalf("expected 4, got %v", got)
	}

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("gone"))
	if got := queryCount(db, nil, "SELECT COUNT(*) FROM ingest_queue"); got != 0 {
		t.Fatalf("expected 0 on error, got %v", got)
	}
}
