package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/latchbio/wf-core-guideseq/internal/domain"
	"github.com/latchbio/wf-core-guideseq/internal/pipeline"
	"github.com/latchbio/wf-core-guideseq/internal/repository"
	"github.com/latchbio/wf-core-guideseq/internal/storage"
)

// ErrInvalidRun marks submissions rejected before anything is persisted.
var ErrInvalidRun = errors.New("invalid run")

// NewRun is a submission for a pipeline run.
type NewRun struct {
	Kind        domain.RunKind
	InputURI    string
	OutputURI   string
	ManifestURI string
	Guideseq    pipeline.GuideseqParams
	Crispresso  pipeline.CrispressoParams
	SubmittedBy string
}

// RunService coordinates run level operations backed by the repository.
type RunService interface {
	CreateRun(ctx context.Context, req NewRun, workRoot string) (*domain.Run, error)
	GetRun(ctx context.Context, id int64) (*domain.Run, error)
	ListRuns(ctx context.Context) ([]domain.Run, error)
	ListByStatuses(ctx context.Context, statuses ...domain.RunStatus) ([]domain.Run, error)
	UpdateStatus(ctx context.Context, id int64, status domain.RunStatus, errMsg *string) error
	MarkStarted(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64, resultURI string) error
	DeleteRun(ctx context.Context, id int64) error
}

type runService struct {
	runs repository.RunRepository
}

func NewRunService(runs repository.RunRepository) RunService {
	return &runService{runs: runs}
}

func (s *runService) CreateRun(ctx context.Context, req NewRun, workRoot string) (*domain.Run, error) {
	params, err := validate(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}

	run := &domain.Run{
		Kind:        req.Kind,
		Status:      domain.RunStatusPending,
		InputURI:    req.InputURI,
		OutputURI:   req.OutputURI,
		ManifestURI: req.ManifestURI,
		Params:      params,
		WorkDir:     filepath.Join(workRoot, fmt.Sprintf("run-%s", uuid.NewString())),
		SubmittedBy: req.SubmittedBy,
	}
	if _, err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func validate(req NewRun) (json.RawMessage, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("unknown run kind %q", req.Kind)
	}
	if _, err := storage.ParseURI(req.InputURI); err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	if _, err := storage.ParseURI(req.OutputURI); err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}

	var params any
	switch req.Kind {
	case domain.RunKindGuideseq:
		if _, err := storage.ParseURI(req.ManifestURI); err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		params = req.Guideseq
	case domain.RunKindCrispresso:
		if err := req.Crispresso.Validate(); err != nil {
			return nil, err
		}
		params = req.Crispresso
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return raw, nil
}

func (s *runService) GetRun(ctx context.Context, id int64) (*domain.Run, error) {
	return s.runs.Get(ctx, id)
}

func (s *runService) ListRuns(ctx context.Context) ([]domain.Run, error) {
	return s.runs.List(ctx)
}

func (s *runService) ListByStatuses(ctx context.Context, statuses ...domain.RunStatus) ([]domain.Run, error) {
	return s.runs.ListByStatuses(ctx, statuses...)
}

func (s *runService) UpdateStatus(ctx context.Context, id int64, status domain.RunStatus, errMsg *string) error {
	return s.runs.UpdateStatus(ctx, id, status, errMsg)
}

func (s *runService) MarkStarted(ctx context.Context, id int64) error {
	return s.runs.MarkStarted(ctx, id, time.Now())
}

func (s *runService) MarkCompleted(ctx context.Context, id int64, resultURI string) error {
	return s.runs.MarkCompleted(ctx, id, resultURI, time.Now())
}

func (s *runService) DeleteRun(ctx context.Context, id int64) error {
	return s.runs.Delete(ctx, id)
}
