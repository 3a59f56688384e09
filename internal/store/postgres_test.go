package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmatch/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, order_id, customer, status, result, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	customer := "Acme Fabrication"

	mock.ExpectQuery(`SELECT id, order_id, customer, status, result, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(
			pgxmock.NewRows([]string{"id", "order_id", "customer", "status", "result", "created_at", "updated_at"}).
				AddRow("run-1", "ord-1001", &customer, "complete",
					[]byte(`{"items_total":2,"items_matched":2}`), now, now),
		)

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-1001", run.OrderID)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	assert.Equal(t, 2, run.Result.ItemsMatched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "ord-1001", "Acme Fabrication", "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), testOrder())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("failed", pgxmock.AnyArg(), "run-x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "run-x", model.RunStatusFailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueReviews_CopiesRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"review_queue"},
		[]string{"id", "run_id", "line_item_id", "reason", "record", "status", "created_at"}).
		WillReturnResult(2)

	records := []model.ManualReviewRecord{
		{LineItemID: "li-1", Reason: "search_no_results"},
		{LineItemID: "li-2", Reason: "timeout"},
	}
	require.NoError(t, s.EnqueueReviews(context.Background(), "run-1", records))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueReviews_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	require.NoError(t, s.EnqueueReviews(context.Background(), "run-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveReview(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE review_queue SET status`).
		WithArgs("resolved", "handled", pgxmock.AnyArg(), "rev-1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.ResolveReview(context.Background(), "rev-1", "handled"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadRetryStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT category, strategy, attempts, successes, prior FROM retry_stats`).
		WillReturnRows(
			pgxmock.NewRows([]string{"category", "strategy", "attempts", "successes", "prior"}).
				AddRow("search_no_results", "broaden_search", 10, 7, 0.65),
		)

	snaps, err := s.LoadRetryStats(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, model.FailureSearchNoResults, snaps[0].Category)
	assert.Equal(t, 7, snaps[0].Successes)
	assert.NoError(t, mock.ExpectationsWereMet())
}
