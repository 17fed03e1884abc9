package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	zlog "github.com/rs/zerolog/log"
)

// requestLogger logs each request with method, path, status, duration and size.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := statusOf(ww)
		ev := zlog.Info()
		if status >= 500 {
			ev = zlog.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("query", r.URL.RawQuery).
			Int("status", status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Int("size", ww.BytesWritten()).
			Msg("request")
	})
}

// requestMetrics counts requests and error responses.
func requestMetrics(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			m.requestsTotal.Inc()
			if statusOf(ww) >= 400 {
				m.errorsTotal.Inc()
			}
		})
	}
}

// statusOf returns the written status; handlers that never write imply 200.
func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}
