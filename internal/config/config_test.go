package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"seg-eval/internal/volume"
)

func TestReadDefaults(t *testing.T) {
	cfg, err := Read("")
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 1, 1}, cfg.Scoring.Spacing)
	assert.Equal(t, 6, cfg.Scoring.CaseIDOffset)
	assert.Equal(t, "positional", cfg.Scoring.Pairing)
	assert.Equal(t, "all_scores_seg.csv", cfg.Scoring.ScoresFile)
	assert.Equal(t, int64(6<<30), cfg.Runner.MemoryBytes)
	assert.Equal(t, time.Minute, cfg.Runner.PollInterval)
	assert.Equal(t, ":8000", cfg.API.Addr)
}

func TestReadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segeval.yaml")
	body := []byte(`
scoring:
  spacing: [0.5, 0.5, 1.2]
  pairing: key
runner:
  poll_interval: 5s
`)
	require.NoError(t, os.WriteFile(path, body, 0o644))
	t.Setenv("SEGEVAL_SCORING_CASE_ID_OFFSET", "2")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Read(path)
	require.NoError(t, err)

	sp, err := cfg.Scoring.VoxelSpacing()
	require.NoError(t, err)
	assert.Equal(t, volume.Spacing{0.5, 0.5, 1.2}, sp)
	assert.Equal(t, "key", cfg.Scoring.Pairing)
	assert.Equal(t, 2, cfg.Scoring.CaseIDOffset)
	assert.Equal(t, 5*time.Second, cfg.Runner.PollInterval)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestReadRejectsBadSpacing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segeval.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scoring:\n  spacing: [1, 0, 1]\n"), 0o644))
	_, err := Read(path)
	assert.ErrorContains(t, err, "scoring.spacing")
}

func TestYAMLRedactsSecrets(t *testing.T) {
	cfg := Config{}
	cfg.Storage.SecretKey = "s3cr3t"
	cfg.API.Token = "tok"
	cfg.Storage.Bucket = "scores"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "s3cr3t")
	assert.NotContains(t, string(out), "tok\n")

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, "scores", back.Storage.Bucket)
	assert.Equal(t, "********", back.Storage.SecretKey)
	// the original is untouched
	assert.Equal(t, "s3cr3t", cfg.Storage.SecretKey)
}
