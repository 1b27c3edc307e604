package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seg-eval/internal/db"
	"seg-eval/internal/logging"
	"seg-eval/internal/schemas"
	"seg-eval/internal/worker"
)

type fakeQueue struct {
	tasks []*asynq.Task
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func newTestHandler(q Enqueuer, ping func(context.Context) error) http.Handler {
	s := &Server{Asynq: q, log: logging.For("api")}
	return s.routes("secret", ping)
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequiresToken(t *testing.T) {
	h := newTestHandler(&fakeQueue{}, nil)
	for _, token := range []string{"", "wrong"} {
		rec := do(t, h, http.MethodPost, "/submissions/abc/run", token, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, token)
	}
}

func TestEmptyConfiguredTokenRejectsEverything(t *testing.T) {
	s := &Server{Asynq: &fakeQueue{}, log: logging.For("api")}
	h := s.routes("", nil)
	rec := do(t, h, http.MethodPost, "/submissions/abc/run", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEnqueueRunAndScore(t *testing.T) {
	q := &fakeQueue{}
	h := newTestHandler(q, nil)

	rec := do(t, h, http.MethodPost, "/submissions/abc/run", "secret", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var out schemas.EnqueueResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "abc", out.SubmissionID)
	assert.Equal(t, worker.TypeRun, out.Task)
	assert.Equal(t, "task-1", out.TaskID)

	rec = do(t, h, http.MethodPost, "/submissions/abc/score", "secret", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, q.tasks, 2)
	assert.Equal(t, worker.TypeRun, q.tasks[0].Type())
	assert.Equal(t, worker.TypeScore, q.tasks[1].Type())
	assert.JSONEq(t, `{"submission_id":"abc"}`, string(q.tasks[1].Payload()))
}

func TestCreateSubmissionValidation(t *testing.T) {
	h := newTestHandler(&fakeQueue{}, nil)
	testCases := []struct {
		name, body string
	}{
		{"malformed", `{`},
		{"no participant", `{"repository":"docker.synapse.org/syn1/model"}`},
		{"no repository", `{"participant":"team"}`},
		{"bad digest", `{"participant":"team","repository":"r","digest":"abc"}`},
		{"bad status", `{"participant":"team","repository":"r","status":"SCORED"}`},
	}
	for _, tc := range testCases {
		rec := do(t, h, http.MethodPost, "/submissions", "secret", tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
	}
}

func TestValidateSubmissionDefaults(t *testing.T) {
	req := schemas.CreateSubmissionRequest{Participant: " team ", Repository: "repo", Digest: "sha256:1"}
	require.NoError(t, validateSubmission(&req))
	assert.Equal(t, "team", req.Participant)
	assert.Equal(t, db.StatusReceived, req.Status)
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(&fakeQueue{}, func(context.Context) error { return nil })
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", "").Code)

	h = newTestHandler(&fakeQueue{}, func(context.Context) error { return errors.New("down") })
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/healthz", "", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(&fakeQueue{}, nil)
	rec := do(t, h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "segeval_cases_scored_total")
}

func TestSubmissionOut(t *testing.T) {
	sub := &db.Submission{ID: "x", Repository: "repo/model", Digest: "sha256:1", Status: db.StatusScored}
	sub.ExitCode.Int64, sub.ExitCode.Valid = 3, true
	out := submissionOut(sub)
	assert.Equal(t, "repo/model@sha256:1", out.Image)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, int64(3), *out.ExitCode)
}
