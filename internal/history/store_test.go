// internal/history/store_test.go
package history

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/formfill"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for
// more robust SQL mock matching.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const sqlInsertSubmission = `
        INSERT INTO submissions (id, url, success, reason, attempts, submitted_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return mockPool, store
}

func sampleSubmission() *formfill.Submission {
	loc := time.FixedZone("UTC+2", 2*3600)
	return &formfill.Submission{
		ID:          uuid.NewString(),
		URL:         "https://example.com/contact",
		Attempts:    2,
		SubmittedAt: time.Date(2026, 3, 14, 10, 30, 0, 0, loc),
		Answers: []formfill.Answer{
			{FieldIdentity: "email", Value: "me@example.com", AnsweredAt: time.Now()},
			{FieldIdentity: "name", Value: "Ada", AnsweredAt: time.Now()},
		},
		Result: &formfill.Result{Success: true},
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist submission and answers in one transaction", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		sub := sampleSubmission()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertSubmission)).
			WithArgs(sub.ID, sub.URL, true, "", 2, sub.SubmittedAt.UTC()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(
			pgx.Identifier{"submission_answers"},
			[]string{"submission_id", "field_identity", "value", "answered_at"},
		).WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, store.Record(ctx, sub))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should carry failure reason from the result", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		sub := sampleSubmission()
		sub.Answers = nil
		sub.Result = &formfill.Result{Success: false, Reason: "cancelled by user"}

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertSubmission)).
			WithArgs(sub.ID, sub.URL, false, "cancelled by user", 2, sub.SubmittedAt.UTC()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, store.Record(ctx, sub))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the answer copy fails", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		sub := sampleSubmission()

		copyErr := errors.New("copy failed")
		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertSubmission)).
			WithArgs(sub.ID, sub.URL, true, "", 2, sub.SubmittedAt.UTC()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(
			pgx.Identifier{"submission_answers"},
			[]string{"submission_id", "field_identity", "value", "answered_at"},
		).WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := store.Record(ctx, sub)
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail on copy count mismatch", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		sub := sampleSubmission()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertSubmission)).
			WithArgs(sub.ID, sub.URL, true, "", 2, sub.SubmittedAt.UTC()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(
			pgx.Identifier{"submission_answers"},
			[]string{"submission_id", "field_identity", "value", "answered_at"},
		).WillReturnResult(1)
		mockPool.ExpectRollback()

		err := store.Record(ctx, sub)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	mockPool, store := newMockStore(t)

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS submissions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecent(t *testing.T) {
	mockPool, store := newMockStore(t)

	now := time.Now().UTC()
	columns := []string{"id", "url", "success", "reason", "attempts", "submitted_at"}
	rows := pgxmock.NewRows(columns).
		AddRow("id-2", "https://example.com/b", true, "", 1, now).
		AddRow("id-1", "https://example.com/a", false, "retries exhausted", 3, now.Add(-time.Hour))

	mockPool.ExpectQuery("SELECT id, url, success, reason, attempts, submitted_at").
		WithArgs(10).
		WillReturnRows(rows)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "https://example.com/b", entries[0].URL)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "retries exhausted", entries[1].Reason)
	assert.Equal(t, 3, entries[1].Attempts)
}
