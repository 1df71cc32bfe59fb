package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchbio/wf-core-guideseq/internal/domain"
	"github.com/latchbio/wf-core-guideseq/internal/repository"
)

func newTestRepo(t *testing.T) (repository.RunRepository, *sql.DB) {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewRunRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo, db
}

func newRun(kind domain.RunKind) *domain.Run {
	return &domain.Run{
		Kind:        kind,
		Status:      domain.RunStatusPending,
		InputURI:    "s3://latch-public/welcome/guideseq/test",
		OutputURI:   "s3://results/out",
		ManifestURI: "s3://latch-public/welcome/guideseq/test_manifest.yaml",
		Params:      json.RawMessage(`{"skip_demultiplex":true}`),
		WorkDir:     "/tmp/run-x",
		SubmittedBy: "alice",
	}
}

func TestRunRepository_CreateGet(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	run := newRun(domain.RunKindGuideseq)
	id, err := repo.Create(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunKindGuideseq, got.Kind)
	assert.Equal(t, domain.RunStatusPending, got.Status)
	assert.Equal(t, run.InputURI, got.InputURI)
	assert.Equal(t, run.ManifestURI, got.ManifestURI)
	assert.JSONEq(t, `{"skip_demultiplex":true}`, string(got.Params))
	assert.Equal(t, "alice", got.SubmittedBy)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)
}

func TestRunRepository_EmptyParamsDefault(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	run := newRun(domain.RunKindCrispresso)
	run.Params = nil
	id, err := repo.Create(ctx, run)
	require.NoError(t, err)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got.Params))
}

func TestRunRepository_Lifecycle(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, newRun(domain.RunKindGuideseq))
	require.NoError(t, err)

	require.NoError(t, repo.MarkStarted(ctx, id, time.Now()))
	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFetching, got.Status)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, repo.UpdateStatus(ctx, id, domain.RunStatusRunning, nil))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, got.Status)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, repo.MarkCompleted(ctx, id, "s3://results/out/guideseq_outputs", time.Now()))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Equal(t, "s3://results/out/guideseq_outputs", got.ResultURI)
	assert.NotNil(t, got.FinishedAt)
}

func TestRunRepository_FailedStampsFinished(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, newRun(domain.RunKindCrispresso))
	require.NoError(t, err)

	msg := "download s3://b/k: connection reset"
	require.NoError(t, repo.UpdateStatus(ctx, id, domain.RunStatusFailed, &msg))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Equal(t, msg, got.ErrorMessage)
	assert.NotNil(t, got.FinishedAt)
}

func TestRunRepository_ListByStatuses(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.Create(ctx, newRun(domain.RunKindGuideseq))
	require.NoError(t, err)
	second, err := repo.Create(ctx, newRun(domain.RunKindCrispresso))
	require.NoError(t, err)
	third, err := repo.Create(ctx, newRun(domain.RunKindGuideseq))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatus(ctx, second, domain.RunStatusCompleted, nil))
	require.NoError(t, repo.UpdateStatus(ctx, third, domain.RunStatusUploading, nil))

	active, err := repo.ListByStatuses(ctx, domain.ActiveStatuses...)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, first, active[0].ID)
	assert.Equal(t, third, active[1].ID)

	none, err := repo.ListByStatuses(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third, all[0].ID, "newest first")
}

func TestRunRepository_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, 42)
	assert.ErrorIs(t, err, repository.ErrRunNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, 42), repository.ErrRunNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, 42, domain.RunStatusFailed, nil), repository.ErrRunNotFound)

	id, err := repo.Create(ctx, newRun(domain.RunKindGuideseq))
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, id))
	_, err = repo.Get(ctx, id)
	assert.ErrorIs(t, err, repository.ErrRunNotFound)
}

func TestRunRepository_InitUpgradesOldSchema(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "old.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(createRunsTable)
	require.NoError(t, err)

	repo := NewRunRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	require.NoError(t, repo.Init(context.Background()), "init must be repeatable")

	id, err := repo.Create(context.Background(), newRun(domain.RunKindGuideseq))
	require.NoError(t, err)
	got, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.SubmittedBy)
}
