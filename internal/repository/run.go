package repository

import (
	"context"
	"errors"
	"time"

	"github.com/latchbio/wf-core-guideseq/internal/domain"
)

var ErrRunNotFound = errors.New("run not found")

// RunRepository exposes persistence operations for Run records.
type RunRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, run *domain.Run) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status domain.RunStatus, errorMessage *string) error
	MarkStarted(ctx context.Context, id int64, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id int64, resultURI string, finishedAt time.Time) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*domain.Run, error)
	List(ctx context.Context) ([]domain.Run, error)
	ListByStatuses(ctx context.Context, statuses ...domain.RunStatus) ([]domain.Run, error)
}
