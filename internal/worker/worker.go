package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"seg-eval/internal/config"
	"seg-eval/internal/db"
	"seg-eval/internal/logging"
	"seg-eval/internal/runner"
	"seg-eval/internal/scoring"
	"seg-eval/internal/storage"
)

type Server struct {
	Cfg   *config.Config
	DB    *sqlx.DB
	S3    *storage.Client
	Asynq *asynq.Client

	log *logrus.Entry
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRun, s.handleRun)
	mux.HandleFunc(TypeScore, s.handleScore)
	return mux
}

func (s *Server) workDir(id string) string {
	return filepath.Join(s.Cfg.Runner.OutputRoot, id)
}

func (s *Server) handleRun(ctx context.Context, t *asynq.Task) error {
	id, err := submissionID(t)
	if err != nil {
		return err
	}
	log := s.log.WithField("submission", id)
	sub, err := db.GetSubmission(ctx, s.DB, id)
	if err != nil {
		return fmt.Errorf("load submission %s: %w", id, err)
	}
	if err := db.SetStatus(ctx, s.DB, id, db.StatusRunning, ""); err != nil {
		return err
	}

	session := s.S3.Session("submissions", uuid.NewString())
	r, err := runner.New(s.Cfg.Runner, session)
	if err != nil {
		return s.failRun(ctx, id, err)
	}
	dir := s.workDir(id)
	res, err := r.Run(ctx, runner.Job{
		SubmissionID: id,
		Repository:   sub.Repository,
		Digest:       sub.Digest,
		InputDir:     s.Cfg.Runner.InputDir,
		OutputDir:    filepath.Join(dir, "output"),
		LogDir:       dir,
		ParentID:     sub.ParentID,
		Status:       sub.Status,
	})
	if err != nil {
		log.WithError(err).Error("run failed")
		return s.failRun(ctx, id, err)
	}

	predictions, err := session.StoreFile(ctx, sub.ParentID, res.ArtifactPath)
	if err != nil {
		log.WithError(err).Warn("predictions kept on local disk only")
		predictions = res.ArtifactPath
	}
	if err := db.RecordRun(ctx, s.DB, id, db.StatusAccepted, predictions, res.LogRef, res.ExitCode, ""); err != nil {
		return err
	}
	log.WithField("predictions", predictions).Info("run accepted")

	if s.Asynq == nil {
		return nil
	}
	task, err := NewScoreTask(id)
	if err != nil {
		return err
	}
	_, err = s.Asynq.EnqueueContext(ctx, task)
	return err
}

func (s *Server) failRun(ctx context.Context, id string, runErr error) error {
	status := db.StatusRunFailed
	if errors.Is(runErr, runner.ErrInvalidImage) {
		status = db.StatusInvalid
	}
	if err := db.SetStatus(ctx, s.DB, id, status, runErr.Error()); err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", runErr, asynq.SkipRetry)
}

func (s *Server) handleScore(ctx context.Context, t *asynq.Task) error {
	id, err := submissionID(t)
	if err != nil {
		return err
	}
	log := s.log.WithField("submission", id)
	sub, err := db.GetSubmission(ctx, s.DB, id)
	if err != nil {
		return fmt.Errorf("load submission %s: %w", id, err)
	}
	if err := db.SetStatus(ctx, s.DB, id, db.StatusScoring, ""); err != nil {
		return err
	}

	dir := filepath.Join(s.workDir(id), "scoring")
	session := s.S3.Session("submissions", uuid.NewString())
	res, err := s.evaluate(ctx, sub, dir, session)
	eval := &db.Evaluation{ID: uuid.NewString(), SubmissionID: id}
	if err != nil {
		log.WithError(err).WithField("kind", scoring.Kind(err)).Error("scoring failed")
		eval.Status = db.StatusScoreFailed
		eval.Error = err.Error()
		if dbErr := db.RecordEvaluation(ctx, s.DB, eval, db.StatusScoreFailed); dbErr != nil {
			return dbErr
		}
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return err
	}
	eval.Status = res.Summary.Status
	eval.CasesEvaluated = res.Summary.CasesEvaluated
	eval.Summary = summary
	eval.ScoresRef = res.Summary.SubmissionScores
	if err := db.RecordEvaluation(ctx, s.DB, eval, db.StatusScored); err != nil {
		return err
	}
	log.WithField("cases", eval.CasesEvaluated).Info("submission scored")
	return nil
}

func (s *Server) evaluate(ctx context.Context, sub *db.Submission, dir string, up scoring.Uploader) (*scoring.EvalResult, error) {
	opts, err := scoring.OptionsFromConfig(s.Cfg.Scoring)
	if err != nil {
		return nil, err
	}
	gs, err := s.fetch(ctx, s.Cfg.Runner.Goldstandard, filepath.Join(dir, "goldstandard.zip"))
	if err != nil {
		return nil, fmt.Errorf("%w: goldstandard: %w", scoring.ErrMissingInput, err)
	}
	preds, err := s.fetch(ctx, sub.Predictions, filepath.Join(dir, "predictions.zip"))
	if err != nil {
		return nil, fmt.Errorf("%w: predictions: %w", scoring.ErrMissingInput, err)
	}
	return scoring.NewScorer(opts).Evaluate(ctx, scoring.EvalRequest{
		GoldstandardZip: gs,
		PredictionsZip:  preds,
		WorkDir:         dir,
		ParentID:        sub.ParentID,
		ScoresFile:      s.Cfg.Scoring.ScoresFile,
		ResultsFile:     s.Cfg.Scoring.ResultsFile,
	}, up)
}

// fetch returns a local path for ref, downloading s3:// references to dest.
func (s *Server) fetch(ctx context.Context, ref, dest string) (string, error) {
	if ref == "" {
		return "", errors.New("no location configured")
	}
	if !strings.HasPrefix(ref, "s3://") {
		if _, err := os.Stat(ref); err != nil {
			return "", err
		}
		return ref, nil
	}
	if err := s.S3.GetFile(ctx, ref, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func Run(cfg *config.Config, dbx *sqlx.DB, s3c *storage.Client) error {
	redis := asynq.RedisClientOpt{Addr: cfg.Redis.Addr}
	srv := asynq.NewServer(redis, asynq.Config{
		// one container run or scoring at a time per worker process
		Concurrency: 1,
		Logger:      logging.For("asynq"),
	})
	client := asynq.NewClient(redis)
	defer client.Close()
	w := &Server{Cfg: cfg, DB: dbx, S3: s3c, Asynq: client, log: logging.For("worker")}
	return srv.Run(w.mux())
}
