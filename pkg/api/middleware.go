package api

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// withLogging logs every request and feeds the request metrics
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		// The matched pattern keeps label cardinality bounded; unmatched requests share one label
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		if s.metrics != nil {
			s.metrics.ObserveHTTP(r.Method, path, rw.statusCode, elapsed)
		}

		entry := s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rw.statusCode,
			"duration": elapsed.String(),
			"remote":   r.RemoteAddr,
		})
		if rw.statusCode >= http.StatusInternalServerError {
			entry.Warn("HTTP request")
		} else {
			entry.Debug("HTTP request")
		}
	})
}
