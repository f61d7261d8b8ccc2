package logger

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// SlowRequestThreshold marks requests that are counted as slow
var SlowRequestThreshold = time.Second

// RequestLogger logs one line per request and feeds the HTTP counters
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}

		if elapsed > SlowRequestThreshold {
			WarnSlowRequest()
		}

		switch {
		case status >= 500:
			ErrorHttp5xx()
			Error("request failed", args...)
		case status >= 400:
			WarnHttp4xx(status)
			Warn("request rejected", args...)
		default:
			Debug("request served", args...)
		}
	})
}
