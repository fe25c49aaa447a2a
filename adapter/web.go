package adapter

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/runbookops/runbookd/core"
)

func init() {
	RegisterFactory(core.SourceTypeWeb, func(cfg core.SourceConfig, deps Deps) (SourceAdapter, error) {
		return NewWebAdapter(cfg, deps)
	})
}

// webDocument is the JSON shape the web search endpoint returns per hit.
type webDocument struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Excerpt     string            `json:"excerpt"`
	Category    string            `json:"category"`
	Score       float64           `json:"score"`
	LastUpdated time.Time         `json:"last_updated"`
	URL         string            `json:"url"`
	Metadata    map[string]string `json:"metadata"`
	Runbook     *core.Runbook     `json:"runbook"`
}

type webSearchResponse struct {
	Results []webDocument `json:"results"`
	Total   int           `json:"total"`
}

// WebAdapter federates a generic documentation service that exposes a
// JSON search API: GET /search?q=, GET /documents/{id}, GET /health.
type WebAdapter struct {
	cfg    core.SourceConfig
	api    *apiClient
	logger core.Logger
	record serviceRecord
}

// NewWebAdapter creates the adapter; credentials are verified during
// Initialize, not here.
func NewWebAdapter(cfg core.SourceConfig, deps Deps) (*WebAdapter, error) {
	api, err := newAPIClient(cfg)
	if err != nil {
		return nil, err
	}
	return &WebAdapter{cfg: cfg, api: api, logger: deps.Logger}, nil
}

// Initialize probes the service once so credential problems surface at
// startup instead of on the first query.
func (a *WebAdapter) Initialize(ctx context.Context) error {
	report := a.HealthCheck(ctx)
	if !report.Healthy {
		a.logger.Warn("Web source starting degraded", map[string]interface{}{
			"operation": "adapter_init",
			"source":    a.cfg.Name,
			"error":     report.Error,
		})
	}
	return nil
}

// Shutdown has nothing to release; connections close with the client.
func (a *WebAdapter) Shutdown(context.Context) error { return nil }

// RefreshIndex is a no-op: the remote service owns its own index.
func (a *WebAdapter) RefreshIndex(context.Context, bool) (bool, error) {
	a.record.indexed()
	return false, nil
}

// Search runs a remote query and rescoring pass. The remote score is
// trusted when present, otherwise results are scored locally.
func (a *WebAdapter) Search(ctx context.Context, query string, filters core.SearchFilters) ([]core.SearchResult, error) {
	start := time.Now()

	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", fmt.Sprintf("%d", filters.EffectiveMaxResults()))

	var resp webSearchResponse
	err := a.api.getJSON(ctx, "/search", q, &resp)
	a.record.observe(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	queryTokens := tokenize(query)
	results := make([]core.SearchResult, 0, len(resp.Results))
	for _, doc := range resp.Results {
		results = append(results, a.toResult(doc, queryTokens, start))
	}
	return applyFilters(results, filters), nil
}

// SearchRunbooks fetches runbook-category documents and scores their
// embedded runbooks against the signature.
func (a *WebAdapter) SearchRunbooks(ctx context.Context, sig core.AlertSignature) ([]core.RunbookMatch, error) {
	start := time.Now()

	q := url.Values{}
	q.Set("q", sig.AlertType)
	q.Set("category", string(core.CategoryRunbook))

	var resp webSearchResponse
	err := a.api.getJSON(ctx, "/search", q, &resp)
	a.record.observe(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	matches := make([]core.RunbookMatch, 0, len(resp.Results))
	for _, doc := range resp.Results {
		rb := doc.Runbook
		if rb == nil {
			continue
		}
		rb.Source = a.cfg.Name
		if err := core.ValidateRunbook(rb); err != nil {
			a.logger.Warn("Dropping invalid remote runbook", map[string]interface{}{
				"operation": "adapter_search_runbooks",
				"source":    a.cfg.Name,
				"runbook":   rb.ID,
				"error":     err.Error(),
			})
			continue
		}
		confidence, reasons := ScoreRunbook(rb, sig)
		if confidence == 0 {
			continue
		}
		matches = append(matches, core.RunbookMatch{Runbook: rb, Confidence: confidence, MatchReasons: reasons})
	}
	SortRunbookMatches(matches)
	return matches, nil
}

// GetDocument fetches one document by remote id.
func (a *WebAdapter) GetDocument(ctx context.Context, localID string) (*core.Document, error) {
	start := time.Now()

	var doc webDocument
	err := a.api.getJSON(ctx, "/documents/"+url.PathEscape(localID), nil, &doc)
	a.record.observe(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return &core.Document{
		Source:      a.cfg.Name,
		LocalID:     localID,
		Title:       doc.Title,
		Content:     doc.Content,
		Category:    core.Category(doc.Category),
		LastUpdated: doc.LastUpdated,
		URL:         doc.URL,
		Metadata:    doc.Metadata,
	}, nil
}

// HealthCheck probes the remote /health endpoint.
func (a *WebAdapter) HealthCheck(ctx context.Context) core.HealthReport {
	start := time.Now()
	var out map[string]interface{}
	if err := a.api.getJSON(ctx, "/health", nil, &out); err != nil {
		return core.HealthReport{Healthy: false, Latency: time.Since(start), Error: "health probe failed"}
	}
	return core.HealthReport{Healthy: true, Latency: time.Since(start)}
}

// Metadata reports the service record; the corpus size is remote-owned.
func (a *WebAdapter) Metadata() core.SourceMetadata {
	avg, successRate, lastIndexed := a.record.snapshot()
	return core.SourceMetadata{
		Name:        a.cfg.Name,
		Type:        core.SourceTypeWeb,
		LastIndexed: lastIndexed,
		AvgLatency:  avg,
		SuccessRate: successRate,
	}
}

func (a *WebAdapter) toResult(doc webDocument, queryTokens []string, start time.Time) core.SearchResult {
	confidence := doc.Score
	var reasons []string
	if confidence <= 0 {
		confidence, reasons = ScoreDocument(&core.Document{Title: doc.Title, Content: doc.Content}, queryTokens)
	} else {
		reasons = []string{"remote relevance score"}
	}
	excerpt := doc.Excerpt
	if excerpt == "" {
		excerpt = Excerpt(doc.Content, 240)
	}
	return core.SearchResult{
		ID:              core.ComposeDocumentID(a.cfg.Name, doc.ID),
		Title:           doc.Title,
		Excerpt:         excerpt,
		Source:          a.cfg.Name,
		SourceType:      core.SourceTypeWeb,
		Category:        core.Category(doc.Category),
		Confidence:      core.ClampConfidence(confidence),
		MatchReasons:    reasons,
		RetrievalTimeMS: time.Since(start).Milliseconds(),
		LastUpdated:     doc.LastUpdated,
		URL:             doc.URL,
		Metadata:        doc.Metadata,
	}
}

var _ SourceAdapter = (*WebAdapter)(nil)
