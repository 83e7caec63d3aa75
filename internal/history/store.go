// internal/history/store.go
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/formfill"
)

// DBPool abstracts pgxpool.Pool so the store can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store persists finished submissions to PostgreSQL. It implements
// formfill.SubmissionRecorder. The engine tolerates recording failures, so
// every error here is advisory.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("history"),
	}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS submissions (
    id           UUID PRIMARY KEY,
    url          TEXT NOT NULL,
    success      BOOLEAN NOT NULL,
    reason       TEXT NOT NULL DEFAULT '',
    attempts     INT NOT NULL,
    submitted_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS submission_answers (
    submission_id  UUID NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
    field_identity TEXT NOT NULL,
    value          TEXT NOT NULL,
    answered_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submission_answers_submission
    ON submission_answers(submission_id);
`

// EnsureSchema creates the history tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure history schema: %w", err)
	}
	return nil
}

// Record inserts one finished submission and its answers in a single
// transaction.
func (s *Store) Record(ctx context.Context, sub *formfill.Submission) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	success := false
	reason := ""
	if sub.Result != nil {
		success = sub.Result.Success
		reason = sub.Result.Reason
	}

	insertSQL := `
        INSERT INTO submissions (id, url, success, reason, attempts, submitted_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	if _, err := tx.Exec(ctx, insertSQL,
		sub.ID, sub.URL, success, reason, sub.Attempts, sub.SubmittedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}

	if len(sub.Answers) > 0 {
		if err := s.persistAnswers(ctx, tx, sub.ID, sub.Answers); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistAnswers(ctx context.Context, tx pgx.Tx, submissionID string, answers []formfill.Answer) error {
	rows := make([][]interface{}, len(answers))
	for i, a := range answers {
		rows[i] = []interface{}{submissionID, a.FieldIdentity, a.Value, a.AnsweredAt.UTC()}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"submission_answers"},
		[]string{"submission_id", "field_identity", "value", "answered_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy answers: %w", err)
	}
	if int(copyCount) != len(answers) {
		return fmt.Errorf("mismatch in copied answers count: expected %d, got %d", len(answers), copyCount)
	}
	return nil
}

// Entry is one row of the submission history listing.
type Entry struct {
	ID          string
	URL         string
	Success     bool
	Reason      string
	Attempts    int
	SubmittedAt time.Time
}

// Recent returns the latest submissions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
        SELECT id, url, success, reason, attempts, submitted_at
        FROM submissions
        ORDER BY submitted_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.URL, &e.Success, &e.Reason, &e.Attempts, &e.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submission rows: %w", err)
	}
	return entries, nil
}
