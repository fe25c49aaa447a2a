// Package adapter provides uniform read-only access to heterogeneous
// documentation sources. Every variant honors the same capability set;
// rate limits, pagination and auth schemes stay internal to a variant.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/runbookops/runbookd/core"
)

// SourceAdapter is the capability set shared by every source variant.
// Adapters never retry internally and never deduplicate against other
// sources; both belong to the registry.
type SourceAdapter interface {
	// Search returns scored results for a free-text query. Results
	// below the filter's minimum confidence are never returned.
	Search(ctx context.Context, query string, filters core.SearchFilters) ([]core.SearchResult, error)

	// SearchRunbooks scores candidate runbooks against an alert
	// signature and returns matches with human-readable reasons.
	SearchRunbooks(ctx context.Context, sig core.AlertSignature) ([]core.RunbookMatch, error)

	// GetDocument fetches one document by source-local id.
	GetDocument(ctx context.Context, localID string) (*core.Document, error)

	// HealthCheck probes the source.
	HealthCheck(ctx context.Context) core.HealthReport

	// Metadata describes the adapter's corpus and service record.
	Metadata() core.SourceMetadata

	// RefreshIndex re-reads the source's index. When force is false the
	// adapter may skip if the refresh interval has not elapsed.
	RefreshIndex(ctx context.Context, force bool) (bool, error)

	// Initialize validates credentials and primes indexes.
	Initialize(ctx context.Context) error

	// Shutdown releases adapter resources.
	Shutdown(ctx context.Context) error
}

// Deps carries shared infrastructure into adapter constructors.
type Deps struct {
	Logger core.Logger
}

// Factory builds an adapter for a source config.
type Factory func(cfg core.SourceConfig, deps Deps) (SourceAdapter, error)

var (
	factoryMu sync.RWMutex
	factories = map[core.SourceType]Factory{}
)

// RegisterFactory installs a constructor for a source type. Variants
// register themselves from init().
func RegisterFactory(t core.SourceType, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[t] = f
}

// New builds an adapter for the config's source type.
func New(cfg core.SourceConfig, deps Deps) (SourceAdapter, error) {
	factoryMu.RLock()
	f, ok := factories[cfg.Type]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter variant for source type %q: %w", cfg.Type, core.ErrInvalidConfiguration)
	}
	if deps.Logger == nil {
		deps.Logger = &core.NoOpLogger{}
	}
	return f(cfg, deps)
}

// serviceRecord tracks rolling latency and success counters shared by
// the variants for their Metadata() answers.
type serviceRecord struct {
	mu          sync.Mutex
	calls       int64
	failures    int64
	totalTime   time.Duration
	lastIndexed time.Time
}

func (s *serviceRecord) observe(d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.totalTime += d
	if err != nil {
		s.failures++
	}
}

func (s *serviceRecord) indexed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastIndexed = time.Now()
}

func (s *serviceRecord) snapshot() (avg time.Duration, successRate float64, lastIndexed time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls > 0 {
		avg = s.totalTime / time.Duration(s.calls)
		successRate = float64(s.calls-s.failures) / float64(s.calls)
	} else {
		successRate = 1.0
	}
	return avg, successRate, s.lastIndexed
}
