package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/runbookops/runbookd/core"
	"github.com/runbookops/runbookd/tools"
)

// responseMetadata rides on every response.
type responseMetadata struct {
	CorrelationID   string `json:"correlation_id"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	PerformanceTier string `json:"performance_tier"`
	Cached          bool   `json:"cached"`
}

type errorDetails struct {
	CorrelationID    string   `json:"correlation_id"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
	RecoveryActions  []string `json:"recovery_actions,omitempty"`
	RetryRecommended bool     `json:"retry_recommended"`
}

type apiError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details errorDetails `json:"details"`
}

type apiResponse struct {
	Success   bool             `json:"success"`
	Data      interface{}      `json:"data,omitempty"`
	Error     *apiError        `json:"error,omitempty"`
	Metadata  responseMetadata `json:"metadata"`
	Timestamp string           `json:"timestamp"`
}

// performanceTier buckets a request duration.
func performanceTier(d time.Duration) string {
	switch {
	case d < 100*time.Millisecond:
		return "fast"
	case d < 300*time.Millisecond:
		return "medium"
	default:
		return "slow"
	}
}

func (s *Server) writeSuccess(w http.ResponseWriter, r *http.Request, data interface{}, cached bool) {
	s.writeSuccessStatus(w, r, http.StatusOK, data, cached)
}

// writeSuccessStatus is writeSuccess with an explicit status, used by
// the health endpoint where unhealthy answers 503 with a full payload.
func (s *Server) writeSuccessStatus(w http.ResponseWriter, r *http.Request, status int, data interface{}, cached bool) {
	start := requestStart(r.Context())
	elapsed := time.Since(start)

	resp := apiResponse{
		Success: true,
		Data:    data,
		Metadata: responseMetadata{
			CorrelationID:   correlationID(r.Context()),
			ExecutionTimeMS: elapsed.Milliseconds(),
			PerformanceTier: performanceTier(elapsed),
			Cached:          cached,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	s.writeJSON(w, r, status, resp, cached)
}

func (s *Server) writeOperation(w http.ResponseWriter, r *http.Request, env *tools.Envelope) {
	s.writeSuccess(w, r, env.Data, env.Cached)
}

// writeError maps an engine error to the stable code, status and
// recovery guidance. Messages surfaced here never include credentials
// or filesystem paths.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := core.ErrorCode(err)
	status := statusFor(code)

	details := errorDetails{
		CorrelationID:    correlationID(r.Context()),
		RetryRecommended: retryRecommended(code),
	}

	message := publicMessage(code, err)
	var in *tools.InputError
	if errors.As(err, &in) {
		details.ValidationErrors = in.Fields
		details.RecoveryActions = in.Actions
	} else {
		details.RecoveryActions = recoveryActions(code)
	}

	start := requestStart(r.Context())
	elapsed := time.Since(start)
	resp := apiResponse{
		Success: false,
		Error:   &apiError{Code: code, Message: message, Details: details},
		Metadata: responseMetadata{
			CorrelationID:   details.CorrelationID,
			ExecutionTimeMS: elapsed.Milliseconds(),
			PerformanceTier: performanceTier(elapsed),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	s.writeJSON(w, r, status, resp, false)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, resp apiResponse, cached bool) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Correlation-ID", resp.Metadata.CorrelationID)
	w.Header().Set("X-Response-Time-Ms", strconv.FormatInt(resp.Metadata.ExecutionTimeMS, 10))
	w.Header().Set("X-Performance-Tier", resp.Metadata.PerformanceTier)
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{
			"operation":      "http_response",
			"correlation_id": resp.Metadata.CorrelationID,
			"error":          err.Error(),
		})
	}
}

func statusFor(code string) int {
	switch code {
	case "VALIDATION_ERROR":
		return http.StatusBadRequest
	case "NOT_FOUND":
		return http.StatusNotFound
	case "REQUEST_TOO_LARGE":
		return http.StatusRequestEntityTooLarge
	case "RATE_LIMITED":
		return http.StatusTooManyRequests
	case "OVERLOADED", "SOURCE_ERROR", "SOURCE_UNAVAILABLE", "CIRCUIT_OPEN":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func retryRecommended(code string) bool {
	switch code {
	case "SOURCE_UNAVAILABLE", "CIRCUIT_OPEN", "RATE_LIMITED", "OVERLOADED", "CACHE_DEGRADED":
		return true
	}
	return false
}

// publicMessage keeps caller-visible text generic for internal
// failures while passing through the already-sanitized kinds.
func publicMessage(code string, err error) string {
	if code == "INTERNAL_ERROR" {
		return "internal error"
	}
	return err.Error()
}

func recoveryActions(code string) []string {
	switch code {
	case "NOT_FOUND":
		return []string{"Verify the identifier and retry"}
	case "SOURCE_UNAVAILABLE", "CIRCUIT_OPEN":
		return []string{"Retry after a short delay; degraded sources recover automatically"}
	case "RATE_LIMITED":
		return []string{"Reduce request rate and retry after the indicated delay"}
	case "OVERLOADED":
		return []string{"Retry after the Retry-After interval"}
	default:
		return nil
	}
}

