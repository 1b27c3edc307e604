// Package storage keeps submission artifacts (logs, score tables, summaries)
// in an S3 compatible object store such as MinIO.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"seg-eval/internal/config"
	"seg-eval/internal/logging"
)

type Client struct {
	s3     *s3.Client
	bucket string
	log    *logrus.Entry
}

func New(ctx context.Context, cfg config.StorageConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is not configured")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, err
	}
	endpoint := endpointURL(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &Client{s3: client, bucket: cfg.Bucket, log: logging.For("storage")}, nil
}

// endpointURL defaults bare host:port endpoints to plain http, as MinIO is
// usually reached inside the compose network.
func endpointURL(endpoint string) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "http://" + endpoint
}

func (c *Client) ref(key string) string {
	return fmt.Sprintf("s3://%s/%s", c.bucket, key)
}

// PutJSON stores v under prefix with a random name.
func (c *Client) PutJSON(ctx context.Context, prefix string, v any) (string, error) {
	key := fmt.Sprintf("%s/%s.json", strings.Trim(prefix, "/"), uuid.New().String())
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if err := c.put(ctx, key, bytes.NewReader(b), "application/json"); err != nil {
		return "", err
	}
	return c.ref(key), nil
}

// PutFile uploads the file at path as key.
func (c *Client) PutFile(ctx context.Context, key, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := c.put(ctx, key, f, contentType(path)); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	c.log.WithField("ref", c.ref(key)).Debug("stored file")
	return c.ref(key), nil
}

func (c *Client) put(ctx context.Context, key string, body io.Reader, ct string) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &c.bucket,
		Key:         &key,
		Body:        body,
		ContentType: aws.String(ct),
	})
	return err
}

func parseS3Ref(ref string) (string, string, error) {
	const p = "s3://"
	if !strings.HasPrefix(ref, p) {
		return "", "", fmt.Errorf("bad s3 ref (missing s3://): %q", ref)
	}
	s := strings.TrimPrefix(ref, p)
	slash := strings.IndexByte(s, '/')
	if slash <= 0 || slash == len(s)-1 {
		return "", "", fmt.Errorf("bad s3 ref (need bucket/key): %q", ref)
	}
	return s[:slash], s[slash+1:], nil
}

func (c *Client) open(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return nil, err
	}
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		c.log.WithError(err).WithField("ref", ref).Warn("failed to get object")
		return nil, err
	}
	return out.Body, nil
}

func (c *Client) GetJSON(ctx context.Context, ref string, v any) error {
	body, err := c.open(ctx, ref)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", ref, err)
	}
	return nil
}

// GetFile downloads ref into dest, creating parent directories.
func (c *Client) GetFile(ctx context.Context, ref, dest string) error {
	body, err := c.open(ctx, ref)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("download %s: %w", ref, err)
	}
	c.log.WithFields(logrus.Fields{"ref": ref, "dest": dest}).Debug("fetched object")
	return f.Close()
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "text/csv"
	case ".txt", ".log":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".zip":
		return "application/zip"
	}
	return "application/octet-stream"
}
