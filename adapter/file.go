package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runbookops/runbookd/core"
)

func init() {
	RegisterFactory(core.SourceTypeFile, func(cfg core.SourceConfig, deps Deps) (SourceAdapter, error) {
		return NewFileAdapter(cfg, deps)
	})
}

// fileEntry is the on-disk document format: document fields plus an
// optional embedded runbook. YAML and JSON are both accepted.
type fileEntry struct {
	Title       string            `yaml:"title" json:"title"`
	Content     string            `yaml:"content" json:"content"`
	Category    core.Category     `yaml:"category" json:"category"`
	LastUpdated time.Time         `yaml:"last_updated" json:"last_updated"`
	URL         string            `yaml:"url" json:"url"`
	Metadata    map[string]string `yaml:"metadata" json:"metadata"`
	Runbook     *core.Runbook     `yaml:"runbook" json:"runbook"`
}

// FileAdapter serves documents and runbooks from local directories.
// The index lives in memory; RefreshIndex re-walks the paths.
type FileAdapter struct {
	cfg     core.SourceConfig
	logger  core.Logger
	record  serviceRecord
	indexed indexedCorpus
}

// NewFileAdapter creates a file adapter. The index is primed by
// Initialize.
func NewFileAdapter(cfg core.SourceConfig, deps Deps) (*FileAdapter, error) {
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("file source %q has no paths: %w", cfg.Name, core.ErrInvalidConfiguration)
	}
	return &FileAdapter{cfg: cfg, logger: deps.Logger}, nil
}

// Initialize walks the configured paths and builds the index.
func (a *FileAdapter) Initialize(ctx context.Context) error {
	if _, err := a.RefreshIndex(ctx, true); err != nil {
		return fmt.Errorf("priming index for %s: %w", a.cfg.Name, err)
	}
	return nil
}

// Shutdown drops the in-memory index.
func (a *FileAdapter) Shutdown(context.Context) error {
	a.indexed.replace(nil, nil)
	return nil
}

// RefreshIndex re-walks every configured path. Runbooks failing
// load-time validation (including decision-tree cycles) are skipped
// with a warning, never indexed.
func (a *FileAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) {
	_, _, lastIndexed := a.record.snapshot()
	if !force && a.cfg.RefreshInterval > 0 && time.Since(lastIndexed) < a.cfg.RefreshInterval {
		return false, nil
	}

	docs := make(map[string]*core.Document)
	runbooks := make(map[string]*core.Runbook)

	for _, root := range a.cfg.Paths {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if info.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" && ext != ".json" {
				return nil
			}

			entry, err := loadFileEntry(path, ext)
			if err != nil {
				a.logger.Warn("Skipping unparsable document", map[string]interface{}{
					"operation": "file_index",
					"source":    a.cfg.Name,
					"file":      filepath.Base(path),
					"error":     err.Error(),
				})
				return nil
			}

			localID := localIDFor(root, path)
			doc := &core.Document{
				Source:      a.cfg.Name,
				LocalID:     localID,
				Title:       entry.Title,
				Content:     entry.Content,
				Category:    entry.Category,
				LastUpdated: entry.LastUpdated,
				URL:         entry.URL,
				Metadata:    entry.Metadata,
			}
			if doc.LastUpdated.IsZero() {
				doc.LastUpdated = info.ModTime()
			}
			docs[localID] = doc

			if rb := entry.Runbook; rb != nil {
				rb.Source = a.cfg.Name
				if rb.LastUpdated.IsZero() {
					rb.LastUpdated = doc.LastUpdated
				}
				if rb.Title == "" {
					rb.Title = entry.Title
				}
				if err := core.ValidateRunbook(rb); err != nil {
					a.logger.Warn("Rejecting invalid runbook", map[string]interface{}{
						"operation": "file_index",
						"source":    a.cfg.Name,
						"file":      filepath.Base(path),
						"error":     err.Error(),
					})
					return nil
				}
				runbooks[rb.ID] = rb
			}
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("walking %s: %w", root, core.ErrSourceUnavailable)
		}
	}

	a.indexed.replace(docs, runbooks)
	a.record.indexed()

	a.logger.Info("File index refreshed", map[string]interface{}{
		"operation": "file_index",
		"source":    a.cfg.Name,
		"documents": len(docs),
		"runbooks":  len(runbooks),
	})
	return true, nil
}

// Search scores indexed documents against the query tokens.
func (a *FileAdapter) Search(ctx context.Context, query string, filters core.SearchFilters) ([]core.SearchResult, error) {
	start := time.Now()
	defer func() { a.record.observe(time.Since(start), ctx.Err()) }()

	results := a.indexed.search(query, a.cfg.Name, core.SourceTypeFile, start)
	return applyFilters(results, filters), nil
}

// SearchRunbooks scores indexed runbooks against an alert signature.
func (a *FileAdapter) SearchRunbooks(ctx context.Context, sig core.AlertSignature) ([]core.RunbookMatch, error) {
	start := time.Now()
	defer func() { a.record.observe(time.Since(start), ctx.Err()) }()
	return a.indexed.searchRunbooks(sig), nil
}

// GetDocument returns an indexed document by local id.
func (a *FileAdapter) GetDocument(ctx context.Context, localID string) (*core.Document, error) {
	start := time.Now()
	doc, ok := a.indexed.document(localID)
	a.record.observe(time.Since(start), nil)

	if !ok {
		return nil, fmt.Errorf("document %q in source %s: %w", localID, a.cfg.Name, core.ErrNotFound)
	}
	return doc, nil
}

// Runbook returns an indexed runbook by id.
func (a *FileAdapter) Runbook(id string) (*core.Runbook, bool) {
	return a.indexed.runbook(id)
}

// Runbooks lists every indexed runbook.
func (a *FileAdapter) Runbooks() []*core.Runbook {
	return a.indexed.listRunbooks()
}

// HealthCheck verifies the configured paths are readable.
func (a *FileAdapter) HealthCheck(context.Context) core.HealthReport {
	start := time.Now()
	for _, p := range a.cfg.Paths {
		if _, err := os.Stat(p); err != nil {
			return core.HealthReport{
				Healthy: false,
				Latency: time.Since(start),
				Error:   fmt.Sprintf("path %s unreadable", filepath.Base(p)),
			}
		}
	}
	return core.HealthReport{
		Healthy:  true,
		Latency:  time.Since(start),
		Metadata: map[string]string{"documents": fmt.Sprintf("%d", a.indexed.size())},
	}
}

// Metadata describes the adapter's corpus.
func (a *FileAdapter) Metadata() core.SourceMetadata {
	avg, successRate, lastIndexed := a.record.snapshot()
	return core.SourceMetadata{
		Name:          a.cfg.Name,
		Type:          core.SourceTypeFile,
		DocumentCount: a.indexed.size(),
		LastIndexed:   lastIndexed,
		AvgLatency:    avg,
		SuccessRate:   successRate,
	}
}

func loadFileEntry(path, ext string) (*fileEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry fileEntry
	if ext == ".json" {
		err = json.Unmarshal(data, &entry)
	} else {
		err = yaml.Unmarshal(data, &entry)
	}
	if err != nil {
		return nil, err
	}
	if entry.Title == "" {
		return nil, fmt.Errorf("document has no title")
	}
	return &entry, nil
}

func localIDFor(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return filepath.ToSlash(rel)
}

var _ SourceAdapter = (*FileAdapter)(nil)
