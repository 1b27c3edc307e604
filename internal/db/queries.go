package db

import (
	"context"

	"github.com/jmoiron/sqlx"
)

func InsertSubmission(ctx context.Context, db *sqlx.DB, s *Submission) error {
	_, err := db.NamedExecContext(ctx, `
		insert into submissions(id, participant, repository, digest, parent_id, status)
		values(:id, :participant, :repository, :digest, :parent_id, :status)`, s)
	return err
}

func GetSubmission(ctx context.Context, db *sqlx.DB, id string) (*Submission, error) {
	var s Submission
	if err := db.GetContext(ctx, &s, `select * from submissions where id=$1`, id); err != nil {
		return nil, err
	}
	return &s, nil
}

func SetStatus(ctx context.Context, db *sqlx.DB, id, status, errText string) error {
	_, err := db.ExecContext(ctx,
		`update submissions set status=$2, error=$3, updated_at=now() where id=$1`,
		id, status, errText)
	return err
}

// RecordRun stores the outcome of a container run.
func RecordRun(ctx context.Context, db *sqlx.DB, id, status, predictions, logRef string, exitCode int64, errText string) error {
	_, err := db.ExecContext(ctx, `
		update submissions
		set status=$2, predictions=$3, log_ref=$4, exit_code=$5, error=$6, updated_at=now()
		where id=$1`,
		id, status, predictions, logRef, exitCode, errText)
	return err
}

// RecordEvaluation inserts the evaluation and moves the submission to the
// matching status in one transaction.
func RecordEvaluation(ctx context.Context, db *sqlx.DB, e *Evaluation, submissionStatus string) error {
	return WithTx(ctx, db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
			insert into evaluations(id, submission_id, status, cases_evaluated, summary, scores_ref, error)
			values(:id, :submission_id, :status, :cases_evaluated, :summary, :scores_ref, :error)`, e); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`update submissions set status=$2, error=$3, updated_at=now() where id=$1`,
			e.SubmissionID, submissionStatus, e.Error)
		return err
	})
}

func LatestEvaluation(ctx context.Context, db *sqlx.DB, submissionID string) (*Evaluation, error) {
	var e Evaluation
	err := db.GetContext(ctx, &e,
		`select * from evaluations where submission_id=$1 order by created_at desc limit 1`, submissionID)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
