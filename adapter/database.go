package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/runbookops/runbookd/core"
)

func init() {
	RegisterFactory(core.SourceTypeDatabase, func(cfg core.SourceConfig, deps Deps) (SourceAdapter, error) {
		return NewDatabaseAdapter(cfg, deps)
	})
}

// DatabaseAdapter serves documents curated in Redis. Layout under the
// configured key prefix:
//
//	<prefix>:docs            set of local ids
//	<prefix>:doc:<id>        JSON document
//	<prefix>:runbooks        set of runbook ids
//	<prefix>:runbook:<id>    JSON runbook
//
// The corpus is pulled into an in-memory index on refresh so searches
// never fan out into per-key reads.
type DatabaseAdapter struct {
	cfg     core.SourceConfig
	client  *redis.Client
	prefix  string
	logger  core.Logger
	record  serviceRecord
	indexed indexedCorpus
}

func NewDatabaseAdapter(cfg core.SourceConfig, deps Deps) (*DatabaseAdapter, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("database source %q has no redis_url: %w", cfg.Name, core.ErrMissingConfiguration)
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("database source %q has malformed redis_url: %w", cfg.Name, core.ErrInvalidConfiguration)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "runbookd"
	}
	return &DatabaseAdapter{
		cfg:    cfg,
		client: redis.NewClient(opt),
		prefix: prefix,
		logger: deps.Logger,
	}, nil
}

// Initialize verifies connectivity and primes the index. An unreachable
// store is non-fatal; the source starts degraded and the health cycle
// triggers recovery.
func (a *DatabaseAdapter) Initialize(ctx context.Context) error {
	if err := a.client.Ping(ctx).Err(); err != nil {
		a.logger.Warn("Database source starting degraded", map[string]interface{}{
			"operation": "adapter_init",
			"source":    a.cfg.Name,
			"error":     err.Error(),
		})
		return nil
	}
	if _, err := a.RefreshIndex(ctx, true); err != nil {
		return fmt.Errorf("priming index for %s: %w", a.cfg.Name, err)
	}
	return nil
}

// Shutdown closes the connection pool.
func (a *DatabaseAdapter) Shutdown(context.Context) error {
	a.indexed.replace(nil, nil)
	return a.client.Close()
}

// RefreshIndex pulls every document and runbook under the prefix into
// the in-memory index.
func (a *DatabaseAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) {
	_, _, lastIndexed := a.record.snapshot()
	if !force && a.cfg.RefreshInterval > 0 && time.Since(lastIndexed) < a.cfg.RefreshInterval {
		return false, nil
	}

	docIDs, err := a.client.SMembers(ctx, a.key("docs")).Result()
	if err != nil {
		return false, fmt.Errorf("listing documents for %s: %w", a.cfg.Name, core.ErrSourceUnavailable)
	}

	docs := make(map[string]*core.Document, len(docIDs))
	for _, id := range docIDs {
		var doc core.Document
		if err := a.loadJSON(ctx, a.key("doc:"+id), &doc); err != nil {
			if core.IsNotFound(err) || core.IsPermanent(err) {
				a.logger.Warn("Skipping unreadable stored document", map[string]interface{}{
					"operation": "database_index",
					"source":    a.cfg.Name,
					"doc":       id,
					"error":     err.Error(),
				})
				continue
			}
			return false, err
		}
		doc.Source = a.cfg.Name
		if doc.LocalID == "" {
			doc.LocalID = id
		}
		docs[doc.LocalID] = &doc
	}

	rbIDs, err := a.client.SMembers(ctx, a.key("runbooks")).Result()
	if err != nil {
		return false, fmt.Errorf("listing runbooks for %s: %w", a.cfg.Name, core.ErrSourceUnavailable)
	}

	runbooks := make(map[string]*core.Runbook, len(rbIDs))
	for _, id := range rbIDs {
		var rb core.Runbook
		if err := a.loadJSON(ctx, a.key("runbook:"+id), &rb); err != nil {
			if core.IsNotFound(err) || core.IsPermanent(err) {
				continue
			}
			return false, err
		}
		rb.Source = a.cfg.Name
		if err := core.ValidateRunbook(&rb); err != nil {
			a.logger.Warn("Rejecting invalid stored runbook", map[string]interface{}{
				"operation": "database_index",
				"source":    a.cfg.Name,
				"runbook":   id,
				"error":     err.Error(),
			})
			continue
		}
		runbooks[rb.ID] = &rb
	}

	a.indexed.replace(docs, runbooks)
	a.record.indexed()

	a.logger.Info("Database index refreshed", map[string]interface{}{
		"operation": "database_index",
		"source":    a.cfg.Name,
		"documents": len(docs),
		"runbooks":  len(runbooks),
	})
	return true, nil
}

// Search scores the indexed documents.
func (a *DatabaseAdapter) Search(ctx context.Context, query string, filters core.SearchFilters) ([]core.SearchResult, error) {
	start := time.Now()
	defer func() { a.record.observe(time.Since(start), ctx.Err()) }()

	results := a.indexed.search(query, a.cfg.Name, core.SourceTypeDatabase, start)
	return applyFilters(results, filters), nil
}

// SearchRunbooks scores the indexed runbooks against the signature.
func (a *DatabaseAdapter) SearchRunbooks(ctx context.Context, sig core.AlertSignature) ([]core.RunbookMatch, error) {
	start := time.Now()
	defer func() { a.record.observe(time.Since(start), ctx.Err()) }()
	return a.indexed.searchRunbooks(sig), nil
}

// GetDocument serves from the index, falling back to a direct read for
// keys written since the last refresh.
func (a *DatabaseAdapter) GetDocument(ctx context.Context, localID string) (*core.Document, error) {
	start := time.Now()
	if doc, ok := a.indexed.document(localID); ok {
		a.record.observe(time.Since(start), nil)
		return doc, nil
	}

	var doc core.Document
	err := a.loadJSON(ctx, a.key("doc:"+localID), &doc)
	a.record.observe(time.Since(start), err)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, fmt.Errorf("document %q in source %s: %w", localID, a.cfg.Name, core.ErrNotFound)
		}
		return nil, err
	}
	doc.Source = a.cfg.Name
	if doc.LocalID == "" {
		doc.LocalID = localID
	}
	return &doc, nil
}

// HealthCheck pings the store.
func (a *DatabaseAdapter) HealthCheck(ctx context.Context) core.HealthReport {
	start := time.Now()
	if err := a.client.Ping(ctx).Err(); err != nil {
		return core.HealthReport{Healthy: false, Latency: time.Since(start), Error: "store unreachable"}
	}
	return core.HealthReport{
		Healthy:  true,
		Latency:  time.Since(start),
		Metadata: map[string]string{"documents": fmt.Sprintf("%d", a.indexed.size())},
	}
}

// Runbook returns an indexed runbook by id.
func (a *DatabaseAdapter) Runbook(id string) (*core.Runbook, bool) {
	return a.indexed.runbook(id)
}

// Runbooks lists every indexed runbook.
func (a *DatabaseAdapter) Runbooks() []*core.Runbook {
	return a.indexed.listRunbooks()
}

func (a *DatabaseAdapter) Metadata() core.SourceMetadata {
	avg, successRate, lastIndexed := a.record.snapshot()
	return core.SourceMetadata{
		Name:          a.cfg.Name,
		Type:          core.SourceTypeDatabase,
		DocumentCount: a.indexed.size(),
		LastIndexed:   lastIndexed,
		AvgLatency:    avg,
		SuccessRate:   successRate,
	}
}

func (a *DatabaseAdapter) key(suffix string) string {
	return a.prefix + ":" + suffix
}

func (a *DatabaseAdapter) loadJSON(ctx context.Context, key string, out interface{}) error {
	raw, err := a.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, core.ErrSourceUnavailable)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return core.SourceErrorf(a.cfg.Name, "SOURCE_ERROR", "malformed stored record %s", key)
	}
	return nil
}

var _ SourceAdapter = (*DatabaseAdapter)(nil)
