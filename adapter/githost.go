package adapter

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runbookops/runbookd/core"
)

func init() {
	RegisterFactory(core.SourceTypeGitHost, func(cfg core.SourceConfig, deps Deps) (SourceAdapter, error) {
		return NewGitHostAdapter(cfg, deps)
	})
}

// Git-host REST shapes (GitHub-style contents and code-search API).
type gitTreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // blob | tree
	SHA  string `json:"sha"`
}

type gitTreeResponse struct {
	Tree      []gitTreeEntry `json:"tree"`
	Truncated bool           `json:"truncated"`
}

type gitContentResponse struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	HTMLURL  string `json:"html_url"`
}

// GitHostAdapter treats a repository directory of YAML/JSON runbook
// files as a documentation source. The tree listing is fetched on
// refresh and file contents on demand; parsed documents live in an
// in-memory index like the file variant.
type GitHostAdapter struct {
	cfg    core.SourceConfig
	api    *apiClient
	logger core.Logger
	record serviceRecord

	// repoPath is the in-repo directory holding runbook documents,
	// taken from the first configured path ("" means repository root).
	repoPath string

	indexed indexedCorpus
}

func NewGitHostAdapter(cfg core.SourceConfig, deps Deps) (*GitHostAdapter, error) {
	api, err := newAPIClient(cfg)
	if err != nil {
		return nil, err
	}
	repoPath := ""
	if len(cfg.Paths) > 0 {
		repoPath = strings.Trim(cfg.Paths[0], "/")
	}
	return &GitHostAdapter{
		cfg:      cfg,
		api:      api,
		logger:   deps.Logger,
		repoPath: repoPath,
	}, nil
}

// Initialize pulls the tree and file contents once. A failure leaves
// the adapter registered but empty; the health cycle and later
// refreshes recover it.
func (a *GitHostAdapter) Initialize(ctx context.Context) error {
	if _, err := a.RefreshIndex(ctx, true); err != nil {
		a.logger.Warn("Git-host source starting degraded", map[string]interface{}{
			"operation": "adapter_init",
			"source":    a.cfg.Name,
			"error":     err.Error(),
		})
	}
	return nil
}

func (a *GitHostAdapter) Shutdown(context.Context) error {
	a.indexed.replace(nil, nil)
	return nil
}

// RefreshIndex lists the repository tree and re-fetches every YAML/JSON
// document under the configured directory.
func (a *GitHostAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) {
	_, _, lastIndexed := a.record.snapshot()
	if !force && a.cfg.RefreshInterval > 0 && time.Since(lastIndexed) < a.cfg.RefreshInterval {
		return false, nil
	}

	q := url.Values{}
	q.Set("recursive", "1")

	var tree gitTreeResponse
	if err := a.api.getJSON(ctx, "/git/trees/HEAD", q, &tree); err != nil {
		return false, err
	}

	docs := make(map[string]*core.Document)
	runbooks := make(map[string]*core.Runbook)

	for _, entry := range tree.Tree {
		if entry.Type != "blob" || !a.inScope(entry.Path) {
			continue
		}
		ext := strings.ToLower(path.Ext(entry.Path))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		doc, rb, err := a.fetchEntry(ctx, entry.Path)
		if err != nil {
			a.logger.Warn("Skipping unreadable repository file", map[string]interface{}{
				"operation": "githost_index",
				"source":    a.cfg.Name,
				"file":      path.Base(entry.Path),
				"error":     err.Error(),
			})
			continue
		}
		docs[doc.LocalID] = doc
		if rb != nil {
			runbooks[rb.ID] = rb
		}
	}

	a.indexed.replace(docs, runbooks)
	a.record.indexed()

	a.logger.Info("Git-host index refreshed", map[string]interface{}{
		"operation": "githost_index",
		"source":    a.cfg.Name,
		"documents": len(docs),
		"runbooks":  len(runbooks),
		"truncated": tree.Truncated,
	})
	return true, nil
}

// fetchEntry downloads and parses one repository file.
func (a *GitHostAdapter) fetchEntry(ctx context.Context, repoFile string) (*core.Document, *core.Runbook, error) {
	var content gitContentResponse
	if err := a.api.getJSON(ctx, "/contents/"+escapeRepoPath(repoFile), nil, &content); err != nil {
		return nil, nil, err
	}

	raw := content.Content
	if content.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(raw, "\n", ""))
		if err != nil {
			return nil, nil, fmt.Errorf("decoding %s: %w", path.Base(repoFile), core.ErrSourceError)
		}
		raw = string(decoded)
	}

	var entry fileEntry
	if err := yaml.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path.Base(repoFile), core.ErrSourceError)
	}
	if entry.Title == "" {
		return nil, nil, fmt.Errorf("%s has no title: %w", path.Base(repoFile), core.ErrSourceError)
	}

	localID := strings.TrimSuffix(repoFile, path.Ext(repoFile))
	doc := &core.Document{
		Source:      a.cfg.Name,
		LocalID:     localID,
		Title:       entry.Title,
		Content:     entry.Content,
		Category:    entry.Category,
		LastUpdated: entry.LastUpdated,
		URL:         content.HTMLURL,
		Metadata:    entry.Metadata,
	}

	rb := entry.Runbook
	if rb != nil {
		rb.Source = a.cfg.Name
		if rb.Title == "" {
			rb.Title = entry.Title
		}
		if rb.LastUpdated.IsZero() {
			rb.LastUpdated = entry.LastUpdated
		}
		if err := core.ValidateRunbook(rb); err != nil {
			a.logger.Warn("Rejecting invalid runbook", map[string]interface{}{
				"operation": "githost_index",
				"source":    a.cfg.Name,
				"file":      path.Base(repoFile),
				"error":     err.Error(),
			})
			rb = nil
		}
	}
	return doc, rb, nil
}

// Search scores the locally indexed repository documents.
func (a *GitHostAdapter) Search(ctx context.Context, query string, filters core.SearchFilters) ([]core.SearchResult, error) {
	start := time.Now()
	defer func() { a.record.observe(time.Since(start), ctx.Err()) }()

	results := a.indexed.search(query, a.cfg.Name, core.SourceTypeGitHost, start)
	return applyFilters(results, filters), nil
}

// SearchRunbooks scores the indexed runbooks against the signature.
func (a *GitHostAdapter) SearchRunbooks(ctx context.Context, sig core.AlertSignature) ([]core.RunbookMatch, error) {
	start := time.Now()
	defer func() { a.record.observe(time.Since(start), ctx.Err()) }()
	return a.indexed.searchRunbooks(sig), nil
}

// GetDocument serves from the index, falling back to a direct fetch for
// files added since the last refresh.
func (a *GitHostAdapter) GetDocument(ctx context.Context, localID string) (*core.Document, error) {
	start := time.Now()
	if doc, ok := a.indexed.document(localID); ok {
		a.record.observe(time.Since(start), nil)
		return doc, nil
	}

	for _, ext := range []string{".yaml", ".yml", ".json"} {
		doc, _, err := a.fetchEntry(ctx, localID+ext)
		if err == nil {
			a.record.observe(time.Since(start), nil)
			return doc, nil
		}
		if !core.IsNotFound(err) && !core.IsPermanent(err) {
			a.record.observe(time.Since(start), err)
			return nil, err
		}
	}
	a.record.observe(time.Since(start), core.ErrNotFound)
	return nil, fmt.Errorf("document %q in source %s: %w", localID, a.cfg.Name, core.ErrNotFound)
}

// HealthCheck probes the repository metadata endpoint.
func (a *GitHostAdapter) HealthCheck(ctx context.Context) core.HealthReport {
	start := time.Now()
	var out map[string]interface{}
	if err := a.api.getJSON(ctx, "", nil, &out); err != nil {
		return core.HealthReport{Healthy: false, Latency: time.Since(start), Error: "repository probe failed"}
	}
	return core.HealthReport{
		Healthy:  true,
		Latency:  time.Since(start),
		Metadata: map[string]string{"documents": fmt.Sprintf("%d", a.indexed.size())},
	}
}

// Runbook returns an indexed runbook by id.
func (a *GitHostAdapter) Runbook(id string) (*core.Runbook, bool) {
	return a.indexed.runbook(id)
}

// Runbooks lists every indexed runbook.
func (a *GitHostAdapter) Runbooks() []*core.Runbook {
	return a.indexed.listRunbooks()
}

func (a *GitHostAdapter) Metadata() core.SourceMetadata {
	avg, successRate, lastIndexed := a.record.snapshot()
	return core.SourceMetadata{
		Name:          a.cfg.Name,
		Type:          core.SourceTypeGitHost,
		DocumentCount: a.indexed.size(),
		LastIndexed:   lastIndexed,
		AvgLatency:    avg,
		SuccessRate:   successRate,
	}
}

func (a *GitHostAdapter) inScope(repoFile string) bool {
	if a.repoPath == "" {
		return true
	}
	return strings.HasPrefix(repoFile, a.repoPath+"/")
}

func escapeRepoPath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

var _ SourceAdapter = (*GitHostAdapter)(nil)
