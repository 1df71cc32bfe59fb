package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/latchbio/wf-core-guideseq/internal/domain"
	"github.com/latchbio/wf-core-guideseq/internal/repository"
)

const (
	createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	input_uri TEXT NOT NULL,
	output_uri TEXT NOT NULL,
	params TEXT NOT NULL DEFAULT '{}',
	work_dir TEXT NOT NULL DEFAULT '',
	result_uri TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	started_at DATETIME NULL,
	finished_at DATETIME NULL
);
`
	runColumns = `id, kind, status, input_uri, output_uri, manifest_uri, params, work_dir, result_uri, submitted_by, error_message, created_at, updated_at, started_at, finished_at`
)

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) repository.RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createRunsTable); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return r.ensureRunColumns(ctx)
}

// ensureRunColumns upgrades databases created before manifest and submitter tracking.
func (r *RunRepository) ensureRunColumns(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `PRAGMA table_info(runs)`)
	if err != nil {
		return fmt.Errorf("describe runs table: %w", err)
	}
	defer rows.Close()

	columns := map[string]struct{}{}
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan pragma table info: %w", err)
		}
		columns[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate pragma table info: %w", err)
	}

	addColumn := func(name, statement string) error {
		if _, exists := columns[name]; exists {
			return nil
		}
		if _, err := r.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("add column %s: %w", name, err)
		}
		return nil
	}

	if err := addColumn("manifest_uri", `ALTER TABLE runs ADD COLUMN manifest_uri TEXT NOT NULL DEFAULT ''`); err != nil {
		return err
	}
	if err := addColumn("submitted_by", `ALTER TABLE runs ADD COLUMN submitted_by TEXT NOT NULL DEFAULT ''`); err != nil {
		return err
	}
	return nil
}

func (r *RunRepository) Create(ctx context.Context, run *domain.Run) (int64, error) {
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	params := string(run.Params)
	if params == "" {
		params = "{}"
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO runs (kind, status, input_uri, output_uri, manifest_uri, params, work_dir, result_uri, submitted_by, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(run.Kind),
		string(run.Status),
		run.InputURI,
		run.OutputURI,
		run.ManifestURI,
		params,
		run.WorkDir,
		run.ResultURI,
		run.SubmittedBy,
		run.ErrorMessage,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	run.ID = id
	return id, nil
}

// UpdateStatus also stamps finished_at when status is terminal.
func (r *RunRepository) UpdateStatus(ctx context.Context, id int64, status domain.RunStatus, errorMessage *string) error {
	now := time.Now().UTC()
	msg := ""
	if errorMessage != nil {
		msg = *errorMessage
	}
	var finished any
	if status.Terminal() {
		finished = now
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE runs
SET status=?, error_message=?, updated_at=?, finished_at=COALESCE(?, finished_at)
WHERE id=?`,
		string(status),
		msg,
		now,
		finished,
		id,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return requireRow(res)
}

func (r *RunRepository) MarkStarted(ctx context.Context, id int64, startedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE runs
SET status=?, error_message='', started_at=?, finished_at=NULL, updated_at=?
WHERE id=?`,
		string(domain.RunStatusFetching),
		startedAt.UTC(),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark started: %w", err)
	}
	return requireRow(res)
}

func (r *RunRepository) MarkCompleted(ctx context.Context, id int64, resultURI string, finishedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE runs
SET status=?, result_uri=?, error_message='', finished_at=?, updated_at=?
WHERE id=?`,
		string(domain.RunStatusCompleted),
		resultURI,
		finishedAt.UTC(),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireRow(res)
}

func (r *RunRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return requireRow(res)
}

func (r *RunRepository) Get(ctx context.Context, id int64) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id)
	return scanRun(row)
}

func (r *RunRepository) List(ctx context.Context) ([]domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (r *RunRepository) ListByStatuses(ctx context.Context, statuses ...domain.RunStatus) ([]domain.Run, error) {
	if len(statuses) == 0 {
		return []domain.Run{}, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}

	query := fmt.Sprintf(`SELECT %s FROM runs WHERE status IN (%s) ORDER BY id ASC`, runColumns, strings.Join(placeholders, ","))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs by status: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

func collectRuns(rows *sql.Rows) ([]domain.Run, error) {
	runs := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*domain.Run, error) {
	var (
		run        domain.Run
		kind       string
		status     string
		params     string
		createdAt  time.Time
		updatedAt  time.Time
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	if err := scanner.Scan(
		&run.ID,
		&kind,
		&status,
		&run.InputURI,
		&run.OutputURI,
		&run.ManifestURI,
		&params,
		&run.WorkDir,
		&run.ResultURI,
		&run.SubmittedBy,
		&run.ErrorMessage,
		&createdAt,
		&updatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrRunNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Kind = domain.RunKind(kind)
	run.Status = domain.RunStatus(status)
	run.Params = []byte(params)
	run.CreatedAt = createdAt.Local()
	run.UpdatedAt = updatedAt.Local()
	if startedAt.Valid {
		t := startedAt.Time.Local()
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time.Local()
		run.FinishedAt = &t
	}
	return &run, nil
}

func requireRow(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if aff == 0 {
		return repository.ErrRunNotFound
	}
	return nil
}
