// Package jobstore holds the durable job records that drive the encode
// pipeline and survive daemon restarts. One JSON file per job keeps
// records independently readable by external viewers.
package jobstore

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"av1d/internal/classify"
	"av1d/internal/probe"
	"av1d/internal/scan"
)

// Stage is a job's position in the execution sequence.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageEncoding   Stage = "encoding"
	StageValidating Stage = "validating"
	StageSizeGating Stage = "size_gating"
	StageReplacing  Stage = "replacing"
	StageComplete   Stage = "complete"
)

// Status is a job's outcome classification.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// stageOrder fixes the forward-only sequence. A job's stage may only
// move to a later position or stay put; regression is a bug.
var stageOrder = map[Stage]int{
	StageQueued:     0,
	StageEncoding:   1,
	StageValidating: 2,
	StageSizeGating: 3,
	StageReplacing:  4,
	StageComplete:   5,
}

var allowedStatusTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusPending: true,
		StatusRunning: true,
	},
	StatusRunning: {
		StatusRunning: true,
		StatusSuccess: true,
		StatusFailed:  true,
		StatusSkipped: true,
		StatusPending: true, // daemon restart resets interrupted jobs
	},
	StatusSuccess: {StatusSuccess: true},
	StatusFailed:  {StatusFailed: true},
	StatusSkipped: {StatusSkipped: true},
}

func IsKnownStage(s Stage) bool {
	_, ok := stageOrder[s]
	return ok
}

func IsKnownStatus(s Status) bool {
	_, ok := allowedStatusTransitions[s]
	return ok
}

// CanAdvanceStage reports whether to is at or past from in the fixed
// sequence.
func CanAdvanceStage(from, to Stage) bool {
	a, okA := stageOrder[from]
	b, okB := stageOrder[to]
	return okA && okB && b >= a
}

func CanTransitionStatus(from, to Status) bool {
	next, ok := allowedStatusTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Job is the durable record of one admitted file's lifecycle.
type Job struct {
	ID          string              `json:"id"`
	InputPath   string              `json:"input_path"`
	OutputPath  string              `json:"output_path"`
	Stage       Stage               `json:"stage"`
	Status      Status              `json:"status"`
	SourceType  classify.SourceType `json:"source_type"`
	ProbeResult probe.Result        `json:"probe_result"`
	CreatedAt   int64               `json:"created_at"`
	UpdatedAt   int64               `json:"updated_at"`
	ErrorReason string              `json:"error_reason,omitempty"`
}

// New builds a pending job for an admitted candidate. The output lands
// in the temp directory under the job id so concurrent jobs never
// collide.
func New(candidate scan.Candidate, pr probe.Result, source classify.SourceType, tempOutputDir string) Job {
	id := uuid.NewString()
	now := nowUnixMs()
	return Job{
		ID:          id,
		InputPath:   candidate.Path,
		OutputPath:  filepath.Join(tempOutputDir, id+".mkv"),
		Stage:       StageQueued,
		Status:      StatusPending,
		SourceType:  source,
		ProbeResult: pr,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Advance moves the job to a later stage, erroring on regression.
func (j *Job) Advance(to Stage) error {
	if !CanAdvanceStage(j.Stage, to) {
		return fmt.Errorf("invalid stage transition %q -> %q (job_id=%s)", j.Stage, to, j.ID)
	}
	j.Stage = to
	j.touch()
	return nil
}

// SetStatus applies a status transition, erroring when the transition
// table forbids it.
func (j *Job) SetStatus(to Status) error {
	if !CanTransitionStatus(j.Status, to) {
		return fmt.Errorf("invalid status transition %q -> %q (job_id=%s)", j.Status, to, j.ID)
	}
	j.Status = to
	j.touch()
	return nil
}

// Fail marks the job failed with a reason.
func (j *Job) Fail(reason string) error {
	if err := j.SetStatus(StatusFailed); err != nil {
		return err
	}
	j.ErrorReason = reason
	return nil
}

// Skip marks the job skipped with a reason.
func (j *Job) Skip(reason string) error {
	if err := j.SetStatus(StatusSkipped); err != nil {
		return err
	}
	j.ErrorReason = reason
	return nil
}

// Active reports whether the job still holds its input path: a fresh
// scan must not admit the same path again while this is true.
func (j Job) Active() bool {
	return j.Status == StatusPending || j.Status == StatusRunning
}

// Terminal reports whether the job reached a final outcome.
func (j Job) Terminal() bool {
	return j.Status == StatusSuccess || j.Status == StatusFailed || j.Status == StatusSkipped
}

func (j *Job) touch() {
	j.UpdatedAt = nowUnixMs()
}

func nowUnixMs() int64 {
	return time.Now().UnixMilli()
}
