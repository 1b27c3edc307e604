package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskPayload(t *testing.T) {
	task, err := NewScoreTask("sub-1")
	require.NoError(t, err)
	assert.Equal(t, TypeScore, task.Type())

	id, err := submissionID(task)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", id)

	_, err = NewRunTask("")
	assert.Error(t, err)
}

func TestBadPayloadSkipsRetry(t *testing.T) {
	for _, body := range []string{"not json", `{"submission_id":""}`} {
		_, err := submissionID(asynq.NewTask(TypeRun, []byte(body)))
		require.Error(t, err)
		assert.True(t, errors.Is(err, asynq.SkipRetry), body)
	}
}

func TestFetchLocal(t *testing.T) {
	s := &Server{}
	path := filepath.Join(t.TempDir(), "predictions.zip")
	require.NoError(t, os.WriteFile(path, []byte("zip"), 0o644))

	got, err := s.fetch(context.Background(), path, "unused")
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = s.fetch(context.Background(), "", "unused")
	assert.Error(t, err)
	_, err = s.fetch(context.Background(), filepath.Join(t.TempDir(), "missing.zip"), "unused")
	assert.Error(t, err)
}
