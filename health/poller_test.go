package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/runbookops/runbookd/adapter"
	"github.com/runbookops/runbookd/core"
	"github.com/runbookops/runbookd/registry"
)

type probeAdapter struct {
	name    string
	healthy atomic.Bool
}

func (a *probeAdapter) Search(context.Context, string, core.SearchFilters) ([]core.SearchResult, error) {
	return nil, nil
}

func (a *probeAdapter) SearchRunbooks(context.Context, core.AlertSignature) ([]core.RunbookMatch, error) {
	return nil, nil
}

func (a *probeAdapter) GetDocument(context.Context, string) (*core.Document, error) {
	return nil, core.ErrNotFound
}

func (a *probeAdapter) HealthCheck(context.Context) core.HealthReport {
	if a.healthy.Load() {
		return core.HealthReport{Healthy: true, Latency: time.Millisecond}
	}
	return core.HealthReport{Healthy: false, Error: "probe failed"}
}

func (a *probeAdapter) Metadata() core.SourceMetadata {
	return core.SourceMetadata{Name: a.name}
}

func (a *probeAdapter) RefreshIndex(context.Context, bool) (bool, error) { return false, nil }
func (a *probeAdapter) Initialize(context.Context) error                { return nil }
func (a *probeAdapter) Shutdown(context.Context) error                  { return nil }

var _ adapter.SourceAdapter = (*probeAdapter)(nil)

type stubCache struct{ healthy atomic.Bool }

func (c *stubCache) Healthy(context.Context) bool { return c.healthy.Load() }

func newTestRegistry(t *testing.T, adapters ...*probeAdapter) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Options{})
	for _, a := range adapters {
		cfg := core.SourceConfig{Name: a.name, Type: core.SourceTypeFile, Enabled: true, MaxRetries: 1}
		if err := reg.Register(context.Background(), cfg, a); err != nil {
			t.Fatalf("Register %s: %v", a.name, err)
		}
	}
	t.Cleanup(func() { reg.Close(context.Background()) })
	return reg
}

func TestPollerStatusTransitions(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := &probeAdapter{name: "alpha"}
	b := &probeAdapter{name: "beta"}
	a.healthy.Store(true)
	b.healthy.Store(true)
	c := &stubCache{}
	c.healthy.Store(true)

	p := New(Options{
		Registry: newTestRegistry(t, a, b),
		Cache:    c,
		Interval: time.Hour, // transitions driven by explicit Check calls
	})
	p.Start(context.Background())
	defer p.Stop()

	if got := p.Latest().Status; got != StatusHealthy {
		t.Fatalf("initial status = %s", got)
	}

	b.healthy.Store(false)
	if got := p.Check(context.Background()).Status; got != StatusDegraded {
		t.Fatalf("one source down should degrade, got %s", got)
	}

	a.healthy.Store(false)
	if got := p.Check(context.Background()).Status; got != StatusUnhealthy {
		t.Fatalf("all sources down should be unhealthy, got %s", got)
	}

	a.healthy.Store(true)
	b.healthy.Store(true)
	c.healthy.Store(false)
	if got := p.Check(context.Background()).Status; got != StatusDegraded {
		t.Fatalf("cache down should degrade, got %s", got)
	}
}

func TestPollerNoSources(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := New(Options{Registry: newTestRegistry(t), Interval: time.Hour})
	p.Start(context.Background())
	defer p.Stop()

	if got := p.Latest().Status; got != StatusUnhealthy {
		t.Fatalf("no sources should be unhealthy, got %s", got)
	}
}

func TestClassify(t *testing.T) {
	up := core.HealthReport{Healthy: true}
	down := core.HealthReport{Healthy: false}

	cases := []struct {
		name    string
		reports map[string]core.HealthReport
		cacheOK bool
		want    Status
	}{
		{"all up", map[string]core.HealthReport{"a": up, "b": up}, true, StatusHealthy},
		{"one down", map[string]core.HealthReport{"a": up, "b": down}, true, StatusDegraded},
		{"all down", map[string]core.HealthReport{"a": down}, true, StatusUnhealthy},
		{"cache down", map[string]core.HealthReport{"a": up}, false, StatusDegraded},
		{"empty", map[string]core.HealthReport{}, true, StatusUnhealthy},
	}
	for _, tc := range cases {
		if got := classify(tc.reports, tc.cacheOK); got != tc.want {
			t.Errorf("%s: classify = %s, want %s", tc.name, got, tc.want)
		}
	}
}
