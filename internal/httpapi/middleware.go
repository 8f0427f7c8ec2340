package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/logging"
	"github.com/wolfganghq/centurion/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withObservability tags each request with ids from the standard headers,
// stamps them back on the response, and records metrics and a completion log.
func withObservability(logger *slog.Logger, pattern string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("x-request-id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := logging.WithRequestID(r.Context(), requestID)
		if cid := r.Header.Get("x-correlation-id"); cid != "" {
			ctx = logging.WithCorrelationID(ctx, cid)
		}
		if company := r.Header.Get("x-company-id"); company != "" {
			ctx = logging.WithCompanyID(ctx, company)
		}

		w.Header().Set("x-request-id", requestID)
		if cid := logging.CorrelationID(ctx); cid != "" {
			w.Header().Set("x-correlation-id", cid)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(elapsed.Seconds())

		if rec.status >= 500 {
			logger.ErrorContext(ctx, "request.failed",
				"method", r.Method, "path", r.URL.Path,
				"status", rec.status, "duration_ms", elapsed.Milliseconds())
		} else {
			logger.InfoContext(ctx, "request.completed",
				"method", r.Method, "path", r.URL.Path,
				"status", rec.status, "duration_ms", elapsed.Milliseconds())
		}
	}
}
