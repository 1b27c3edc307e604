package storage

import (
	"context"
	"path"
	"path/filepath"
	"strings"
)

// Session scopes uploads to one evaluation run. Every file lands under
// <prefix>/<parent>/<run>/<name>, so repeated runs of a submission never
// overwrite each other.
type Session struct {
	client *Client
	prefix string
	runID  string
}

func (c *Client) Session(prefix, runID string) *Session {
	return &Session{client: c, prefix: strings.Trim(prefix, "/"), runID: runID}
}

func (s *Session) key(parentID, file string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{s.prefix, parentID, s.runID} {
		if p = strings.Trim(p, "/"); p != "" {
			parts = append(parts, p)
		}
	}
	return path.Join(append(parts, filepath.Base(file))...)
}

// StoreFile uploads the local file and returns its s3:// reference.
func (s *Session) StoreFile(ctx context.Context, parentID, file string) (string, error) {
	return s.client.PutFile(ctx, s.key(parentID, file), file)
}

// StoreJSON uploads v as a JSON document below the session.
func (s *Session) StoreJSON(ctx context.Context, parentID string, v any) (string, error) {
	return s.client.PutJSON(ctx, path.Dir(s.key(parentID, "x")), v)
}
