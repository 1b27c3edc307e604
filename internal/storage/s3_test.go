package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seg-eval/internal/config"
)

func TestParseS3Ref(t *testing.T) {
	testCases := []struct {
		ref         string
		bucket, key string
		err         bool
	}{
		{"s3://scores/sub-1/all_scores_seg.csv", "scores", "sub-1/all_scores_seg.csv", false},
		{"s3://b/k", "b", "k", false},
		{"scores/key", "", "", true},
		{"s3://bucket", "", "", true},
		{"s3://bucket/", "", "", true},
		{"s3:///key", "", "", true},
	}
	for _, tc := range testCases {
		bucket, key, err := parseS3Ref(tc.ref)
		if tc.err {
			assert.Error(t, err, tc.ref)
			continue
		}
		require.NoError(t, err, tc.ref)
		assert.Equal(t, tc.bucket, bucket)
		assert.Equal(t, tc.key, key)
	}
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "", endpointURL(""))
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000"))
	assert.Equal(t, "https://s3.example.com", endpointURL("https://s3.example.com"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", contentType("/w/all_scores_seg.csv"))
	assert.Equal(t, "text/plain", contentType("9731_log.txt"))
	assert.Equal(t, "application/json", contentType("results.JSON"))
	assert.Equal(t, "application/octet-stream", contentType("volume.nii.gz"))
}

func TestSessionKey(t *testing.T) {
	s := (&Client{bucket: "b"}).Session("/submissions/", "run-1")
	assert.Equal(t, "submissions/sub-9/run-1/9731_log.txt", s.key("sub-9", "/tmp/logs/9731_log.txt"))
	assert.Equal(t, "submissions/run-1/scores.csv", s.key("", "scores.csv"))

	bare := (&Client{bucket: "b"}).Session("", "")
	assert.Equal(t, "p/scores.csv", bare.key("p", "scores.csv"))
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Endpoint: "minio:9000"})
	assert.Error(t, err)
}
