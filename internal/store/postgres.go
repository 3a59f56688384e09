package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/partmatch/internal/db"
	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/pipeline"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, order_id, customer, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_run_result": `UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, order_id, customer, status, result, created_at, updated_at FROM runs WHERE id = $1`,
	"resolve_review":    `UPDATE review_queue SET status = $1, resolution = $2, resolved_at = $3 WHERE id = $4 AND status = $5`,
	"load_retry_stats":  `SELECT category, strategy, attempts, successes, prior FROM retry_stats ORDER BY category, strategy`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	order_id   TEXT NOT NULL,
	customer   TEXT,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS review_queue (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	line_item_id TEXT NOT NULL,
	reason       TEXT NOT NULL,
	record       JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	resolution   TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS retry_stats (
	category  TEXT NOT NULL,
	strategy  TEXT NOT NULL,
	attempts  BIGINT NOT NULL DEFAULT 0,
	successes BIGINT NOT NULL DEFAULT 0,
	prior     DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (category, strategy)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_order_id ON runs(order_id);
CREATE INDEX IF NOT EXISTS idx_review_queue_run_id ON review_queue(run_id);
CREATE INDEX IF NOT EXISTS idx_review_queue_status ON review_queue(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, order model.Order) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, order_id, customer, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, order.ID, order.CustomerName, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		OrderID:   order.ID,
		Customer:  order.CustomerName,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, order_id, customer, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)

	var r model.Run
	var customer *string
	var status string
	var resultJSON []byte
	err := row.Scan(&r.ID, &r.OrderID, &customer, &status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run")
	}

	r.Status = model.RunStatus(status)
	if customer != nil {
		r.Customer = *customer
	}
	if len(resultJSON) > 0 {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, order_id, customer, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.OrderID != "" {
		query += ` AND order_id = ` + arg(filter.OrderID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ` + arg(filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var customer *string
		var status string
		var resultJSON []byte
		if err := rows.Scan(&r.ID, &r.OrderID, &customer, &status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if customer != nil {
			r.Customer = *customer
		}
		if len(resultJSON) > 0 {
			r.Result = &model.RunResult{}
			if err := json.Unmarshal(resultJSON, r.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// EnqueueReviews bulk-inserts review records via the COPY protocol.
func (s *PostgresStore) EnqueueReviews(ctx context.Context, runID string, records []model.ManualReviewRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal review record")
		}
		rows = append(rows, []any{
			uuid.New().String(), runID, rec.LineItemID, rec.Reason,
			recJSON, string(ReviewPending), now,
		})
	}

	_, err := db.CopyFrom(ctx, s.pool, "review_queue",
		[]string{"id", "run_id", "line_item_id", "reason", "record", "status", "created_at"},
		rows,
	)
	return eris.Wrapf(err, "postgres: enqueue reviews for run %s", runID)
}

func (s *PostgresStore) ListReviews(ctx context.Context, filter ReviewFilter) ([]ReviewEntry, error) {
	query := `SELECT id, run_id, record, status, resolution, created_at, resolved_at FROM review_queue WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.RunID != "" {
		query += ` AND run_id = ` + arg(filter.RunID)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reviews")
	}
	defer rows.Close()

	var entries []ReviewEntry
	for rows.Next() {
		var e ReviewEntry
		var recJSON []byte
		var status string
		var resolution *string
		var resolvedAt *time.Time
		if err := rows.Scan(&e.ID, &e.RunID, &recJSON, &status, &resolution, &e.CreatedAt, &resolvedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review")
		}
		e.Status = ReviewStatus(status)
		if err := json.Unmarshal(recJSON, &e.Record); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal review record")
		}
		if resolution != nil {
			e.Resolution = *resolution
		}
		e.ResolvedAt = resolvedAt
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list reviews iterate")
}

func (s *PostgresStore) CountPendingReviews(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM review_queue WHERE status = $1`, string(ReviewPending),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count pending reviews")
}

func (s *PostgresStore) ResolveReview(ctx context.Context, reviewID string, resolution string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_queue SET status = $1, resolution = $2, resolved_at = $3 WHERE id = $4 AND status = $5`,
		string(ReviewResolved), resolution, time.Now().UTC(), reviewID, string(ReviewPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve review %s", reviewID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("review not found: %s", reviewID)
	}
	return nil
}

// SaveRetryStats upserts the learned counters in one bulk operation.
func (s *PostgresStore) SaveRetryStats(ctx context.Context, snaps []pipeline.RateSnapshot) error {
	rows := make([][]any, 0, len(snaps))
	for _, snap := range snaps {
		rows = append(rows, []any{
			string(snap.Category), string(snap.Strategy),
			snap.Attempts, snap.Successes, snap.Prior,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "retry_stats",
		Columns:      []string{"category", "strategy", "attempts", "successes", "prior"},
		ConflictKeys: []string{"category", "strategy"},
	}, rows)
	return eris.Wrap(err, "postgres: save retry stats")
}

func (s *PostgresStore) LoadRetryStats(ctx context.Context) ([]pipeline.RateSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category, strategy, attempts, successes, prior FROM retry_stats ORDER BY category, strategy`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load retry stats")
	}
	defer rows.Close()

	var snaps []pipeline.RateSnapshot
	for rows.Next() {
		var snap pipeline.RateSnapshot
		var cat, strat string
		if err := rows.Scan(&cat, &strat, &snap.Attempts, &snap.Successes, &snap.Prior); err != nil {
			return nil, eris.Wrap(err, "postgres: scan retry stat")
		}
		snap.Category = model.FailureCategory(cat)
		snap.Strategy = model.RetryStrategy(strat)
		snaps = append(snaps, snap)
	}
	return snaps, eris.Wrap(rows.Err(), "postgres: load retry stats iterate")
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
