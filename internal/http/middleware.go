package http

import (
	"net/http"
	"time"

	m "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"seg-eval/internal/auth"
)

// RequireAPIToken accepts requests carrying "Authorization: Bearer <token>".
// An empty configured token rejects every request.
func RequireAPIToken(token string) func(http.Handler) http.Handler {
	want := ""
	if token != "" {
		want = auth.HashToken(token)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("Authorization")
			if len(got) < 8 || got[:7] != "Bearer " || !auth.Matches(got[7:], want) {
				writeJSON(w, http.StatusUnauthorized, errResp("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one line per request through logrus.
func requestLogger(log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := m.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": m.GetReqID(r.Context()),
			}).Info("request")
		})
	}
}
