package db

import (
	"database/sql"
	"time"
)

// Submission lifecycle.
const (
	StatusReceived    = "RECEIVED"
	StatusInvalid     = "INVALID"
	StatusRunning     = "RUNNING"
	StatusAccepted    = "ACCEPTED"
	StatusRunFailed   = "RUN_FAILED"
	StatusScoring     = "SCORING"
	StatusScored      = "SCORED"
	StatusScoreFailed = "SCORE_FAILED"
)

type Submission struct {
	ID          string        `db:"id"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
	Participant string        `db:"participant"`
	Repository  string        `db:"repository"`
	Digest      string        `db:"digest"`
	ParentID    string        `db:"parent_id"`
	Status      string        `db:"status"`
	Predictions string        `db:"predictions"`
	LogRef      string        `db:"log_ref"`
	ExitCode    sql.NullInt64 `db:"exit_code"`
	Error       string        `db:"error"`
}

type Evaluation struct {
	ID             string    `db:"id"`
	SubmissionID   string    `db:"submission_id"`
	CreatedAt      time.Time `db:"created_at"`
	Status         string    `db:"status"`
	CasesEvaluated int       `db:"cases_evaluated"`
	Summary        []byte    `db:"summary"`
	ScoresRef      string    `db:"scores_ref"`
	Error          string    `db:"error"`
}
