package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/runbookops/runbookd/core"
)

type contextKey string

const (
	correlationKey contextKey = "correlation_id"
	startKey       contextKey = "request_start"
)

// maxBodyBytes caps request bodies at 10 MiB.
const maxBodyBytes = 10 << 20

func correlationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return ""
}

func requestStart(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// validCorrelationID enforces 1-100 characters from [A-Za-z0-9_-].
func validCorrelationID(id string) bool {
	if len(id) == 0 || len(id) > 100 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// withCorrelation attaches a correlation id and the request start time.
// An absent or invalid inbound id is replaced, never rejected.
func (s *Server) withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if !validCorrelationID(id) {
			id = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), correlationKey, id)
		ctx = context.WithValue(ctx, startKey, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withTracing opens one span per request on the global tracer, carrying
// the correlation id as an attribute.
func (s *Server) withTracing(next http.Handler) http.Handler {
	tracer := otel.Tracer("runbookd/server")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()
		span.SetAttributes(attribute.String("correlation_id", correlationID(ctx)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRecovery converts panics into INTERNAL_ERROR responses so one bad
// request never takes the listener down. Recovery sits outside the
// correlation middleware, so a panic that escapes before correlation
// ran derives the id from the inbound header.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				req := r
				if correlationID(req.Context()) == "" {
					id := req.Header.Get("X-Correlation-ID")
					if !validCorrelationID(id) {
						id = uuid.New().String()
					}
					req = req.WithContext(context.WithValue(req.Context(), correlationKey, id))
				}
				s.logger.Error("Handler panic recovered", map[string]interface{}{
					"operation":      "http_recovery",
					"path":           req.URL.Path,
					"panic":          fmt.Sprintf("%v", rec),
					"correlation_id": correlationID(req.Context()),
				})
				s.writeError(w, req, fmt.Errorf("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withBackpressure bounds in-flight requests. Rejections are cheap:
// no handler work happens past the gate.
func (s *Server) withBackpressure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.inflight <- struct{}{}:
			defer func() { <-s.inflight }()
			next.ServeHTTP(w, r)
		default:
			w.Header().Set("Retry-After", "1")
			s.writeError(w, r, fmt.Errorf("request rejected: %w", core.ErrOverloaded))
		}
	})
}

// withBodyLimit caps request bodies; the JSON decoder surfaces the
// overflow as a 413.
func (s *Server) withBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// withTimeout applies the request-wide budget.
func (s *Server) withTimeout(next http.Handler) http.Handler {
	budget := s.cfg.RequestTimeout()
	if budget <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), budget)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("Request handled", map[string]interface{}{
			"operation":      "http_request",
			"method":         r.Method,
			"path":           r.URL.Path,
			"status":         rec.status,
			"duration_ms":    time.Since(requestStart(r.Context())).Milliseconds(),
			"correlation_id": correlationID(r.Context()),
		})
	})
}
