package domain

import (
	"encoding/json"
	"time"
)

type RunKind string

const (
	RunKindGuideseq   RunKind = "guideseq"
	RunKindCrispresso RunKind = "crispresso"
)

func (k RunKind) Valid() bool {
	return k == RunKindGuideseq || k == RunKindCrispresso
}

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusFetching  RunStatus = "fetching"
	RunStatusRunning   RunStatus = "running"
	RunStatusUploading RunStatus = "uploading"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ActiveStatuses are the statuses a run can be interrupted in.
var ActiveStatuses = []RunStatus{
	RunStatusPending,
	RunStatusFetching,
	RunStatusRunning,
	RunStatusUploading,
}

// Run is one pipeline execution: mirror the input directory, run the tool,
// upload its output folder.
type Run struct {
	ID           int64           `json:"id"`
	Kind         RunKind         `json:"kind"`
	Status       RunStatus       `json:"status"`
	InputURI     string          `json:"input_uri"`
	OutputURI    string          `json:"output_uri"`
	ManifestURI  string          `json:"manifest_uri,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	WorkDir      string          `json:"work_dir"`
	ResultURI    string          `json:"result_uri,omitempty"`
	SubmittedBy  string          `json:"submitted_by,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}
