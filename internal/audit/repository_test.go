package audit

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_LogPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	meta := json.RawMessage(`{"entry_id":12}`)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO operator_audit")).
		WithArgs(sqlmock.AnyArg(), "ops", "operator", ActionDeadLetterRequeue, "dead_letter", "4",
			string(meta), DigestJSON(meta), "10.0.0.1", "curl", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewRepository(db, Postgres).Log(context.Background(), Entry{
		Actor:        "ops",
		Role:         "operator",
		Action:       ActionDeadLetterRequeue,
		ResourceType: "dead_letter",
		ResourceID:   "4",
		Metadata:     meta,
		IP:           "10.0.0.1",
		UserAgent:    "curl",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_LogSQLiteUsesQuestionMarks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("VALUES (?,?,?,?,?,?,?,?,?,?,?)")).
		WithArgs(sqlmock.AnyArg(), "cli", "", ActionDeadLetterRequeue, "dead_letter", "9",
			nil, "", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewRepository(db, SQLite).Log(context.Background(), Entry{
		Actor:        "cli",
		Action:       ActionDeadLetterRequeue,
		ResourceType: "dead_letter",
		ResourceID:   "9",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilRepositoryRejectsLog(t *testing.T) {
	var repo *Repository
	assert.Error(t, repo.Log(context.Background(), Entry{}))
	assert.Nil(t, NewRepository(nil, Postgres))
}
