package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/pipeline"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	order_id   TEXT NOT NULL,
	customer   TEXT,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS review_queue (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	line_item_id TEXT NOT NULL,
	reason       TEXT NOT NULL,
	record       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	resolution   TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	resolved_at  DATETIME
);

CREATE TABLE IF NOT EXISTS retry_stats (
	category  TEXT NOT NULL,
	strategy  TEXT NOT NULL,
	attempts  INTEGER NOT NULL DEFAULT 0,
	successes INTEGER NOT NULL DEFAULT 0,
	prior     REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (category, strategy)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_order_id ON runs(order_id);
CREATE INDEX IF NOT EXISTS idx_review_queue_run_id ON review_queue(run_id);
CREATE INDEX IF NOT EXISTS idx_review_queue_status ON review_queue(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, order model.Order) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, order_id, customer, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, order.ID, order.CustomerName, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, order_id, customer, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, order_id, customer, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.OrderID != "" {
		query += ` AND order_id = ?`
		args = append(args, filter.OrderID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) EnqueueReviews(ctx context.Context, runID string, records []model.ManualReviewRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin enqueue")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO review_queue (id, run_id, line_item_id, reason, record, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare enqueue")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, rec := range records {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal review record")
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), runID, rec.LineItemID, rec.Reason,
			string(recJSON), string(ReviewPending), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: enqueue review %s", rec.LineItemID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit enqueue")
}

func (s *SQLiteStore) ListReviews(ctx context.Context, filter ReviewFilter) ([]ReviewEntry, error) {
	query := `SELECT id, run_id, record, status, resolution, created_at, resolved_at FROM review_queue WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reviews")
	}
	defer rows.Close()

	var entries []ReviewEntry
	for rows.Next() {
		var e ReviewEntry
		var recJSON string
		var resolution sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.RunID, &recJSON, &e.Status, &resolution, &e.CreatedAt, &resolvedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review")
		}
		if err := json.Unmarshal([]byte(recJSON), &e.Record); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal review record")
		}
		if resolution.Valid {
			e.Resolution = resolution.String
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			e.ResolvedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list reviews iterate")
}

func (s *SQLiteStore) CountPendingReviews(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_queue WHERE status = ?`, string(ReviewPending),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count pending reviews")
}

func (s *SQLiteStore) ResolveReview(ctx context.Context, reviewID string, resolution string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_queue SET status = ?, resolution = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		string(ReviewResolved), resolution, time.Now().UTC(), reviewID, string(ReviewPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve review %s", reviewID)
	}
	return checkRowsAffected(res, "review", reviewID)
}

func (s *SQLiteStore) SaveRetryStats(ctx context.Context, snaps []pipeline.RateSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin retry stats")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO retry_stats (category, strategy, attempts, successes, prior) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(category, strategy) DO UPDATE SET
		   attempts = excluded.attempts, successes = excluded.successes, prior = excluded.prior`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare retry stats")
	}
	defer stmt.Close()

	for _, snap := range snaps {
		if _, err := stmt.ExecContext(ctx,
			string(snap.Category), string(snap.Strategy),
			snap.Attempts, snap.Successes, snap.Prior,
		); err != nil {
			return eris.Wrapf(err, "sqlite: save retry stat %s/%s", snap.Category, snap.Strategy)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit retry stats")
}

func (s *SQLiteStore) LoadRetryStats(ctx context.Context) ([]pipeline.RateSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, strategy, attempts, successes, prior FROM retry_stats ORDER BY category, strategy`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load retry stats")
	}
	defer rows.Close()

	var snaps []pipeline.RateSnapshot
	for rows.Next() {
		var snap pipeline.RateSnapshot
		if err := rows.Scan(&snap.Category, &snap.Strategy, &snap.Attempts, &snap.Successes, &snap.Prior); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan retry stat")
		}
		snaps = append(snaps, snap)
	}
	return snaps, eris.Wrap(rows.Err(), "sqlite: load retry stats iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var customer sql.NullString
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.OrderID, &customer, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if customer.Valid {
		r.Customer = customer.String
	}
	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}
