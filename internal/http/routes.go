package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	m "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"seg-eval/internal/config"
	"seg-eval/internal/db"
	"seg-eval/internal/logging"
	"seg-eval/internal/schemas"
	"seg-eval/internal/telemetry"
	"seg-eval/internal/worker"
)

// Enqueuer is the part of *asynq.Client the API uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Server struct {
	DB    *sqlx.DB
	Asynq Enqueuer

	log *logrus.Entry
}

func NewServer(cfg config.APIConfig, dbx *sqlx.DB, asq Enqueuer) *http.Server {
	s := &Server{DB: dbx, Asynq: asq, log: logging.For("api")}
	return &http.Server{Addr: cfg.Addr, Handler: s.routes(cfg.Token, s.pingDB)}
}

func (s *Server) pingDB(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *Server) routes(token string, ping func(context.Context) error) http.Handler {
	r := chi.NewRouter()
	r.Use(m.RequestID, m.RealIP, requestLogger(s.log), m.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(RequireAPIToken(token))
		r.Post("/submissions", s.createSubmission)
		r.Post("/submissions/{id}/run", s.enqueue(worker.NewRunTask))
		r.Post("/submissions/{id}/score", s.enqueue(worker.NewScoreTask))
		r.Get("/submissions/{id}", s.getSubmission)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := ping(r.Context()); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "db error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())
	return r
}

func errResp(msg string) schemas.ErrorResponse {
	return schemas.ErrorResponse{Error: msg}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) createSubmission(w http.ResponseWriter, r *http.Request) {
	var req schemas.CreateSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp(err.Error()))
		return
	}
	if err := validateSubmission(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp(err.Error()))
		return
	}
	sub := &db.Submission{
		ID:          uuid.NewString(),
		Participant: req.Participant,
		Repository:  req.Repository,
		Digest:      req.Digest,
		ParentID:    req.ParentID,
		Status:      req.Status,
	}
	if err := db.InsertSubmission(r.Context(), s.DB, sub); err != nil {
		writeJSON(w, http.StatusInternalServerError, errResp(err.Error()))
		return
	}
	s.log.WithField("submission", sub.ID).Info("submission created")
	writeJSON(w, http.StatusCreated, schemas.CreateSubmissionResponse{SubmissionID: sub.ID, Status: sub.Status})
}

func validateSubmission(req *schemas.CreateSubmissionRequest) error {
	req.Participant = strings.TrimSpace(req.Participant)
	req.Repository = strings.TrimSpace(req.Repository)
	if req.Participant == "" {
		return errors.New("participant is required")
	}
	if req.Repository == "" {
		return errors.New("repository is required")
	}
	if req.Digest != "" && !strings.Contains(req.Digest, ":") {
		return errors.New("digest must look like sha256:<hex>")
	}
	switch req.Status {
	case "":
		req.Status = db.StatusReceived
	case db.StatusReceived, db.StatusInvalid:
	default:
		return errors.New("status must be RECEIVED or INVALID")
	}
	return nil
}

func (s *Server) enqueue(newTask func(string) (*asynq.Task, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		task, err := newTask(id)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errResp(err.Error()))
			return
		}
		info, err := s.Asynq.EnqueueContext(r.Context(), task)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errResp(err.Error()))
			return
		}
		writeJSON(w, http.StatusAccepted, schemas.EnqueueResponse{SubmissionID: id, Task: task.Type(), TaskID: info.ID})
	}
}

func (s *Server) getSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := db.GetSubmission(r.Context(), s.DB, id)
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, errResp("not found"))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errResp(err.Error()))
		return
	}
	out := submissionOut(sub)
	eval, err := db.LatestEvaluation(r.Context(), s.DB, id)
	switch {
	case err == nil:
		out.Evaluation = evaluationOut(eval)
	case !errors.Is(err, sql.ErrNoRows):
		writeJSON(w, http.StatusInternalServerError, errResp(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func submissionOut(sub *db.Submission) schemas.SubmissionOut {
	out := schemas.SubmissionOut{
		SubmissionID: sub.ID,
		CreatedAt:    sub.CreatedAt,
		UpdatedAt:    sub.UpdatedAt,
		Participant:  sub.Participant,
		Image:        sub.Repository,
		Status:       sub.Status,
		Predictions:  sub.Predictions,
		LogRef:       sub.LogRef,
		Error:        sub.Error,
	}
	if sub.Digest != "" {
		out.Image += "@" + sub.Digest
	}
	if sub.ExitCode.Valid {
		code := sub.ExitCode.Int64
		out.ExitCode = &code
	}
	return out
}

func evaluationOut(e *db.Evaluation) *schemas.EvaluationOut {
	out := &schemas.EvaluationOut{
		ID:             e.ID,
		CreatedAt:      e.CreatedAt,
		Status:         e.Status,
		CasesEvaluated: e.CasesEvaluated,
		ScoresRef:      e.ScoresRef,
		Error:          e.Error,
	}
	if len(e.Summary) > 0 {
		out.Summary = json.RawMessage(e.Summary)
	}
	return out
}
