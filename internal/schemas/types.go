package schemas

import (
	"encoding/json"
	"time"
)

type CreateSubmissionRequest struct {
	Participant string `json:"participant"`
	Repository  string `json:"repository"`
	Digest      string `json:"digest,omitempty"`
	// ParentID is the participant's folder in the object store.
	ParentID string `json:"parent_id,omitempty"`
	// Status is the image validation verdict; INVALID submissions are
	// recorded but never run.
	Status string `json:"status,omitempty"`
}

type CreateSubmissionResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

type EnqueueResponse struct {
	SubmissionID string `json:"submission_id"`
	Task         string `json:"task"`
	TaskID       string `json:"task_id"`
}

type EvaluationOut struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	Status         string          `json:"status"`
	CasesEvaluated int             `json:"cases_evaluated"`
	ScoresRef      string          `json:"scores_ref,omitempty"`
	Summary        json.RawMessage `json:"summary,omitempty"`
	Error          string          `json:"error,omitempty"`
}

type SubmissionOut struct {
	SubmissionID string         `json:"submission_id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Participant  string         `json:"participant"`
	Image        string         `json:"image"`
	Status       string         `json:"status"`
	Predictions  string         `json:"predictions,omitempty"`
	LogRef       string         `json:"log_ref,omitempty"`
	ExitCode     *int64         `json:"exit_code,omitempty"`
	Error        string         `json:"error,omitempty"`
	Evaluation   *EvaluationOut `json:"evaluation,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
