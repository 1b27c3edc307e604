package worker

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TypeRun   = "submission:run"
	TypeScore = "submission:score"
)

type payload struct {
	SubmissionID string `json:"submission_id"`
}

func newTask(typ, submissionID string) (*asynq.Task, error) {
	if submissionID == "" {
		return nil, errors.New("submission id is required")
	}
	b, err := json.Marshal(payload{SubmissionID: submissionID})
	if err != nil {
		return nil, err
	}
	// Runs and scores are never retried: a failed evaluation is reported,
	// not repeated.
	return asynq.NewTask(typ, b, asynq.MaxRetry(0)), nil
}

func NewRunTask(submissionID string) (*asynq.Task, error) {
	return newTask(TypeRun, submissionID)
}

func NewScoreTask(submissionID string) (*asynq.Task, error) {
	return newTask(TypeScore, submissionID)
}

func submissionID(t *asynq.Task) (string, error) {
	var p payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return "", fmt.Errorf("%s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if p.SubmissionID == "" {
		return "", fmt.Errorf("%s payload without submission id: %w", t.Type(), asynq.SkipRetry)
	}
	return p.SubmissionID, nil
}
