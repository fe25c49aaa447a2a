// Package server exposes the engine over a flat /api namespace. Every
// endpoint wraps a tool operation; the envelope, correlation ids and
// performance headers are uniform across the surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/runbookops/runbookd/cache"
	"github.com/runbookops/runbookd/core"
	"github.com/runbookops/runbookd/health"
	"github.com/runbookops/runbookd/telemetry"
	"github.com/runbookops/runbookd/tools"
)

// Server is the HTTP surface.
type Server struct {
	cfg      core.ServerConfig
	tools    *tools.Tools
	poller   *health.Poller
	cache    *cache.HybridCache
	recorder *telemetry.Recorder
	logger   core.Logger

	inflight   chan struct{}
	httpServer *http.Server
}

// Options wires the server's collaborators.
type Options struct {
	Config   core.ServerConfig
	Tools    *tools.Tools
	Poller   *health.Poller
	Cache    *cache.HybridCache
	Recorder *telemetry.Recorder
	Logger   core.Logger
}

// New builds the server. Start must be called to accept traffic.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	maxConcurrent := opts.Config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 100
	}
	s := &Server{
		cfg:      opts.Config,
		tools:    opts.Tools,
		poller:   opts.Poller,
		cache:    opts.Cache,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		inflight: make(chan struct{}, maxConcurrent),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Config.Host, opts.Config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler assembles the routed handler with the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/runbooks/search", s.handleRunbookSearch)
	mux.HandleFunc("GET /api/runbooks/{id}", s.handleGetRunbook)
	mux.HandleFunc("GET /api/runbooks", s.handleListRunbooks)
	mux.HandleFunc("POST /api/decision-tree", s.handleDecisionTree)
	mux.HandleFunc("GET /api/procedures/{id}", s.handleGetProcedure)
	mux.HandleFunc("POST /api/escalation", s.handleEscalation)
	mux.HandleFunc("GET /api/sources", s.handleSources)
	mux.HandleFunc("POST /api/feedback", s.handleFeedback)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/performance", s.handlePerformance)

	// Innermost first: timeout wraps the handler, recovery wraps
	// everything so even middleware panics answer cleanly.
	var h http.Handler = mux
	h = s.withTimeout(h)
	h = s.withBodyLimit(h)
	h = s.withBackpressure(h)
	h = s.withLogging(h)
	h = s.withTracing(h)
	h = s.withCorrelation(h)
	h = s.withRecovery(h)
	return h
}

// Start blocks serving traffic until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", map[string]interface{}{
		"operation": "server_start",
		"addr":      s.httpServer.Addr,
	})
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var in tools.KnowledgeSearchInput
	if err := s.decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	env, err := s.tools.SearchKnowledgeBase(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOperation(w, r, env)
}

func (s *Server) handleRunbookSearch(w http.ResponseWriter, r *http.Request) {
	var in tools.SearchRunbooksInput
	if err := s.decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	env, err := s.tools.SearchRunbooks(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOperation(w, r, env)
}

func (s *Server) handleGetRunbook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rb, err := s.tools.GetRunbook(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, r, map[string]interface{}{"runbook": rb}, false)
}

func (s *Server) handleListRunbooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := tools.RunbookListInput{
		Category: q.Get("category"),
		Severity: q.Get("severity"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, fmt.Errorf("limit must be a non-negative integer: %w", core.ErrValidation))
			return
		}
		in.Limit = limit
	}
	env, err := s.tools.ListRunbooks(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOperation(w, r, env)
}

func (s *Server) handleDecisionTree(w http.ResponseWriter, r *http.Request) {
	var in tools.DecisionTreeInput
	if err := s.decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	env, err := s.tools.GetDecisionTree(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOperation(w, r, env)
}

func (s *Server) handleGetProcedure(w http.ResponseWriter, r *http.Request) {
	env, err := s.tools.GetProcedure(r.Context(), tools.ProcedureInput{ProcedureID: r.PathValue("id")})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOperation(w, r, env)
}

func (s *Server) handleEscalation(w http.ResponseWriter, r *http.Request) {
	var in tools.EscalationInput
	if err := s.decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	env, err := s.tools.GetEscalationPath(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOperation(w, r, env)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	env, err := s.tools.ListSources(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOperation(w, r, env)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var in tools.FeedbackInput
	if err := s.decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	env, err := s.tools.RecordResolutionFeedback(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOperation(w, r, env)
}

type healthData struct {
	APIStatus string                       `json:"api_status"`
	Sources   map[string]core.HealthReport `json:"sources"`
	Cache     *cache.Stats                 `json:"cache,omitempty"`
	CheckedAt time.Time                    `json:"checked_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.poller.Latest()

	data := healthData{
		APIStatus: string(snap.Status),
		Sources:   snap.Sources,
		CheckedAt: snap.CheckedAt,
	}
	if s.cache != nil {
		st := s.cache.Stats()
		data.Cache = &st
	}

	status := http.StatusOK
	if snap.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeSuccessStatus(w, r, status, data, false)
}

type performanceData struct {
	telemetry.Report
	Cache *cache.Stats `json:"cache,omitempty"`
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	data := performanceData{}
	if s.recorder != nil {
		data.Report = s.recorder.Snapshot()
	}
	if s.cache != nil {
		st := s.cache.Stats()
		data.Cache = &st
	}
	s.writeSuccess(w, r, data, false)
}

// decodeBody parses a JSON request body. An empty body decodes to the
// zero value so field validation reports what is missing; an oversized
// body maps to REQUEST_TOO_LARGE.
func (s *Server) decodeBody(r *http.Request, into interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(into)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &core.EngineError{
			Op:      "http.decode",
			Kind:    "input",
			Code:    "REQUEST_TOO_LARGE",
			Message: "request body exceeds the 10 MiB limit",
			Err:     core.ErrValidation,
		}
	}
	return fmt.Errorf("malformed JSON body: %w", core.ErrValidation)
}
