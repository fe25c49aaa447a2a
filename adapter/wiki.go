package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/runbookops/runbookd/core"
)

func init() {
	RegisterFactory(core.SourceTypeWiki, func(cfg core.SourceConfig, deps Deps) (SourceAdapter, error) {
		return NewWikiAdapter(cfg, deps)
	})
}

// Wiki REST shapes (Confluence-style content API).
type wikiPage struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
	Body    struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version struct {
		When time.Time `json:"when"`
	} `json:"version"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
	Labels []string `json:"labels"`
}

type wikiSearchResponse struct {
	Results []wikiPage `json:"results"`
	Size    int        `json:"size"`
}

// WikiAdapter federates a wiki exposing a Confluence-style REST content
// API: search via CQL-like text queries, page fetch by id. Page labels
// map onto document categories.
type WikiAdapter struct {
	cfg    core.SourceConfig
	api    *apiClient
	logger core.Logger
	record serviceRecord
}

func NewWikiAdapter(cfg core.SourceConfig, deps Deps) (*WikiAdapter, error) {
	api, err := newAPIClient(cfg)
	if err != nil {
		return nil, err
	}
	return &WikiAdapter{cfg: cfg, api: api, logger: deps.Logger}, nil
}

func (a *WikiAdapter) Initialize(ctx context.Context) error {
	report := a.HealthCheck(ctx)
	if !report.Healthy {
		a.logger.Warn("Wiki source starting degraded", map[string]interface{}{
			"operation": "adapter_init",
			"source":    a.cfg.Name,
			"error":     report.Error,
		})
	}
	return nil
}

func (a *WikiAdapter) Shutdown(context.Context) error { return nil }

// RefreshIndex is a no-op: the wiki owns its own search index.
func (a *WikiAdapter) RefreshIndex(context.Context, bool) (bool, error) {
	a.record.indexed()
	return false, nil
}

// Search runs a full-text search and rescoring pass over wiki pages.
func (a *WikiAdapter) Search(ctx context.Context, query string, filters core.SearchFilters) ([]core.SearchResult, error) {
	start := time.Now()

	q := url.Values{}
	q.Set("cql", fmt.Sprintf("text ~ %q", query))
	q.Set("limit", fmt.Sprintf("%d", filters.EffectiveMaxResults()))
	q.Set("expand", "body.storage,version")

	var resp wikiSearchResponse
	err := a.api.getJSON(ctx, "/rest/api/content/search", q, &resp)
	a.record.observe(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	queryTokens := tokenize(query)
	results := make([]core.SearchResult, 0, len(resp.Results))
	for _, page := range resp.Results {
		doc := a.toDocument(page)
		confidence, reasons := ScoreDocument(doc, queryTokens)
		if confidence == 0 {
			continue
		}
		excerpt := page.Excerpt
		if excerpt == "" {
			excerpt = Excerpt(doc.Content, 240)
		}
		results = append(results, core.SearchResult{
			ID:              doc.ID(),
			Title:           doc.Title,
			Excerpt:         excerpt,
			Source:          a.cfg.Name,
			SourceType:      core.SourceTypeWiki,
			Category:        doc.Category,
			Confidence:      confidence,
			MatchReasons:    reasons,
			RetrievalTimeMS: time.Since(start).Milliseconds(),
			LastUpdated:     doc.LastUpdated,
			URL:             doc.URL,
		})
	}
	return applyFilters(results, filters), nil
}

// SearchRunbooks searches pages labeled as runbooks. Wiki pages carry
// prose, not structured runbooks, so matches are synthesized: the page
// becomes a procedure-less runbook whose triggers are its labels.
func (a *WikiAdapter) SearchRunbooks(ctx context.Context, sig core.AlertSignature) ([]core.RunbookMatch, error) {
	start := time.Now()

	q := url.Values{}
	q.Set("cql", fmt.Sprintf("label = %q and text ~ %q", string(core.CategoryRunbook), sig.AlertType))
	q.Set("expand", "body.storage,version")

	var resp wikiSearchResponse
	err := a.api.getJSON(ctx, "/rest/api/content/search", q, &resp)
	a.record.observe(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	matches := make([]core.RunbookMatch, 0, len(resp.Results))
	for _, page := range resp.Results {
		rb := &core.Runbook{
			ID:          page.ID,
			Title:       page.Title,
			Source:      a.cfg.Name,
			Triggers:    pageTriggers(page),
			LastUpdated: page.Version.When,
			Metadata:    core.RunbookMetadata{Confidence: 0.5},
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

// GetDocument fetches one wiki page by id.
func (a *WikiAdapter) GetDocument(ctx context.Context, localID string) (*core.Document, error) {
	start := time.Now()

	q := url.Values{}
	q.Set("expand", "body.storage,version")

	var page wikiPage
	err := a.api.getJSON(ctx, "/rest/api/content/"+url.PathEscape(localID), q, &page)
	a.record.observe(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return a.toDocument(page), nil
}

// HealthCheck probes the wiki space listing as a cheap liveness signal.
func (a *WikiAdapter) HealthCheck(ctx context.Context) core.HealthReport {
	start := time.Now()
	q := url.Values{}
	q.Set("limit", "1")
	var out map[string]interface{}
	if err := a.api.getJSON(ctx, "/rest/api/space", q, &out); err != nil {
		return core.HealthReport{Healthy: false, Latency: time.Since(start), Error: "health probe failed"}
	}
	return core.HealthReport{Healthy: true, Latency: time.Since(start)}
}

func (a *WikiAdapter) Metadata() core.SourceMetadata {
	avg, successRate, lastIndexed := a.record.snapshot()
	return core.SourceMetadata{
		Name:        a.cfg.Name,
		Type:        core.SourceTypeWiki,
		LastIndexed: lastIndexed,
		AvgLatency:  avg,
		SuccessRate: successRate,
	}
}

func (a *WikiAdapter) toDocument(page wikiPage) *core.Document {
	category := core.CategoryGeneral
	for _, label := range page.Labels {
		if c := core.Category(label); c.Valid() {
			category = c
			break
		}
	}
	pageURL := page.Links.WebUI
	if pageURL != "" && !strings.HasPrefix(pageURL, "http") {
		pageURL = strings.TrimSuffix(a.cfg.BaseURL, "/") + pageURL
	}
	return &core.Document{
		Source:      a.cfg.Name,
		LocalID:     page.ID,
		Title:       page.Title,
		Content:     page.Body.Storage.Value,
		Category:    category,
		LastUpdated: page.Version.When,
		URL:         pageURL,
	}
}

// pageTriggers derives alert triggers from page labels, skipping the
// category labels themselves.
func pageTriggers(page wikiPage) []string {
	var out []string
	for _, label := range page.Labels {
		if core.Category(label).Valid() {
			continue
		}
		out = append(out, label)
	}
	if len(out) == 0 {
		out = []string{page.Title}
	}
	return out
}

var _ SourceAdapter = (*WikiAdapter)(nil)
