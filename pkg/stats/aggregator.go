// Package stats produces the cached system snapshot behind
// /api/services/status and /api/system/stats.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/robolab/roverhub/internal/logging"
	"github.com/robolab/roverhub/internal/sysinfo"
	"github.com/robolab/roverhub/pkg/bus"
	"github.com/robolab/roverhub/pkg/domain"
	"github.com/robolab/roverhub/pkg/registry"
)

// Snapshot is the single JSON view the dashboards poll. It is always served
// from cache; a slow probe can make it stale but never blocks a request.
type Snapshot struct {
	Services      map[string]domain.ServiceDescriptor `json:"services"`
	MessageCount  int64                               `json:"message_count"`
	DroppedCount  int64                               `json:"dropped_count"`
	Topics        int                                 `json:"topics"`
	Subscriptions int                                 `json:"subscriptions"`
	Uptime        float64                             `json:"uptime_seconds"`
	CPUPercent    float64                             `json:"cpu_percent"`
	MemoryPercent float64                             `json:"memory_percent"`
	Timestamp     time.Time                           `json:"timestamp"`
}

// Options configures the aggregator.
type Options struct {
	RefreshInterval time.Duration
	Logger          *logging.Logger
}

// Aggregator periodically folds registry and bus state into a cached
// snapshot.
type Aggregator struct {
	bus      *bus.Bus
	registry *registry.Registry
	sampler  *sysinfo.Sampler
	opts     Options

	mu      sync.RWMutex
	cached  Snapshot
	started time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an aggregator over the given bus and registry.
func New(b *bus.Bus, r *registry.Registry, opts Options) *Aggregator {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}

	a := &Aggregator{
		bus:      b,
		registry: r,
		sampler:  sysinfo.NewSampler(),
		opts:     opts,
		started:  time.Now(),
	}
	a.cached = a.collect()
	return a
}

// Start begins the refresh loop.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go a.run(ctx)
}

// Stop cancels the refresh loop.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// Snapshot returns the most recent cached snapshot.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cached
}

// Refresh recomputes the snapshot immediately. Used by tests and by pull
// consumers that want fresher data than the interval provides.
func (a *Aggregator) Refresh() Snapshot {
	snap := a.collect()

	a.mu.Lock()
	a.cached = snap
	a.mu.Unlock()

	return snap
}

func (a *Aggregator) run(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Refresh()
		}
	}
}

func (a *Aggregator) collect() Snapshot {
	busStats := a.bus.Stats()

	return Snapshot{
		Services:      a.registry.All(),
		MessageCount:  busStats.Published,
		DroppedCount:  busStats.Dropped,
		Topics:        busStats.Topics,
		Subscriptions: busStats.Subscriptions,
		Uptime:        time.Since(a.started).Seconds(),
		CPUPercent:    a.sampler.CPUPercent(),
		MemoryPercent: sysinfo.MemoryPercent(),
		Timestamp:     time.Now(),
	}
}
