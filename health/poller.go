// Package health polls source and cache health on an interval and
// keeps the aggregate status served by the health endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/runbookops/runbookd/core"
	"github.com/runbookops/runbookd/registry"
)

// Status is the aggregate health classification.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Snapshot is one complete health observation.
type Snapshot struct {
	Status       Status                       `json:"status"`
	Sources      map[string]core.HealthReport `json:"sources"`
	CacheHealthy bool                         `json:"cache_healthy"`
	CheckedAt    time.Time                    `json:"checked_at"`
}

// cacheHealth narrows the cache dependency to the one probe the poller
// needs.
type cacheHealth interface {
	Healthy(ctx context.Context) bool
}

// Poller re-checks every source and the cache on a fixed interval. The
// latest snapshot is always available without blocking on a probe.
type Poller struct {
	registry *registry.Registry
	cache    cacheHealth
	interval time.Duration
	timeout  time.Duration
	logger   core.Logger

	mu       sync.RWMutex
	latest   Snapshot
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Options configures the poller.
type Options struct {
	Registry *registry.Registry
	Cache    cacheHealth
	Interval time.Duration // default 60s
	Timeout  time.Duration // per-cycle budget, default 10s
	Logger   core.Logger
}

// New creates a poller. Start must be called to begin polling.
func New(opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	return &Poller{
		registry: opts.Registry,
		cache:    opts.Cache,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs one immediate check, then polls until Stop.
func (p *Poller) Start(ctx context.Context) {
	p.check(ctx)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.check(ctx)
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

// Latest returns the most recent snapshot without probing.
func (p *Poller) Latest() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Check runs one probe cycle immediately and returns the result.
func (p *Poller) Check(ctx context.Context) Snapshot {
	return p.check(ctx)
}

func (p *Poller) check(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reports := p.registry.HealthCheckAll(ctx)
	cacheOK := p.cache == nil || p.cache.Healthy(ctx)

	snap := Snapshot{
		Status:       classify(reports, cacheOK),
		Sources:      reports,
		CacheHealthy: cacheOK,
		CheckedAt:    time.Now().UTC(),
	}

	p.mu.Lock()
	previous := p.latest.Status
	p.latest = snap
	p.mu.Unlock()

	if previous != "" && previous != snap.Status {
		p.logger.Warn("Health status changed", map[string]interface{}{
			"operation": "health_poll",
			"from":      string(previous),
			"to":        string(snap.Status),
		})
	}
	return snap
}

// classify maps probe results to the aggregate status. Healthy needs
// every source and the cache up; unhealthy means no source answered.
func classify(reports map[string]core.HealthReport, cacheOK bool) Status {
	if len(reports) == 0 {
		return StatusUnhealthy
	}
	up := 0
	for _, r := range reports {
		if r.Healthy {
			up++
		}
	}
	switch {
	case up == 0:
		return StatusUnhealthy
	case up == len(reports) && cacheOK:
		return StatusHealthy
	default:
		return StatusDegraded
	}
}
