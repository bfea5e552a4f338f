package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/genomesim/internal/model"
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
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	sequence_id   TEXT NOT NULL DEFAULT '',
	target        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	plan          TEXT NOT NULL DEFAULT '[]',
	error         TEXT NOT NULL DEFAULT '',
	feature_count INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS features (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	ordinal      INTEGER NOT NULL,
	sequence_id  TEXT NOT NULL DEFAULT '',
	scale        TEXT NOT NULL,
	feature_type TEXT NOT NULL,
	start_pos    INTEGER NOT NULL,
	end_pos      INTEGER NOT NULL,
	strand       TEXT NOT NULL,
	score        REAL NOT NULL,
	producer     TEXT NOT NULL,
	record       TEXT NOT NULL,
	PRIMARY KEY (run_id, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_sequence_id ON runs(sequence_id);
CREATE INDEX IF NOT EXISTS idx_features_run_scale ON features(run_id, scale);
`

const runColumns = `id, sequence_id, target, status, plan, error, feature_count, created_at, updated_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, sequenceID string, target model.Scale) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, sequence_id, target, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, sequenceID, target.String(), string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:         id,
		SequenceID: sequenceID,
		Target:     target,
		Status:     model.RunStatusRunning,
		Plan:       []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
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
	planJSON, err := marshalPlan(result.Plan)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, plan = ?, error = ?, feature_count = ?, updated_at = ? WHERE id = ?`,
		string(result.Status), string(planJSON), result.Error, result.FeatureCount, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SequenceID != "" {
		query += ` AND sequence_id = ?`
		args = append(args, filter.SequenceID)
	}
	query += ` ORDER BY created_at DESC, id`

	query += ` LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

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

func (s *SQLiteStore) SaveFeatures(ctx context.Context, runID string, features []model.GenomicFeature) (int, error) {
	if len(features) == 0 {
		return 0, nil
	}
	rows, err := featureRows(runID, features)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(featureColumns)), ", ")
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO features (`+strings.Join(featureColumns, ", ")+`) VALUES (`+placeholders+`)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare feature insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert feature %d for run %s", i, runID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit features")
	}
	return len(rows), nil
}

func (s *SQLiteStore) ListFeatures(ctx context.Context, runID string, filter FeatureFilter) ([]model.GenomicFeature, error) {
	query := `SELECT record FROM features WHERE run_id = ?`
	args := []any{runID}
	if len(filter.Scales) > 0 {
		query += ` AND scale IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(filter.Scales)), ", ") + `)`
		for _, name := range scaleNames(filter.Scales) {
			args = append(args, name)
		}
	}
	query += ` ORDER BY ordinal`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list features for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.GenomicFeature
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feature")
		}
		f, err := decodeFeature([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list features iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var target, planJSON string

	err := row.Scan(&r.ID, &r.SequenceID, &target, &r.Status, &planJSON, &r.Error,
		&r.FeatureCount, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := fillRun(&r, target, []byte(planJSON)); err != nil {
		return nil, err
	}
	return &r, nil
}

// fillRun decodes the columns both backends store as text or JSON.
func fillRun(r *model.Run, target string, planJSON []byte) error {
	sc, err := model.ParseScale(target)
	if err != nil {
		return eris.Wrapf(err, "store: run %s target", r.ID)
	}
	r.Target = sc
	r.Plan = []string{}
	if len(planJSON) > 0 {
		if err := json.Unmarshal(planJSON, &r.Plan); err != nil {
			return eris.Wrapf(err, "store: run %s plan", r.ID)
		}
	}
	return nil
}

func marshalPlan(plan []string) ([]byte, error) {
	if plan == nil {
		plan = []string{}
	}
	b, err := json.Marshal(plan)
	return b, eris.Wrap(err, "store: marshal plan")
}
