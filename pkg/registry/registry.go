// Package registry tracks liveness of the named robot services (stt, llm,
// tts, camera, sensors, ros2 bridge, behavior tree) through passive
// heartbeats and active TCP probes.
package registry

import (
	"sync"
	"time"

	"github.com/robolab/roverhub/internal/logging"
	"github.com/robolab/roverhub/pkg/domain"
)

// Options configures a Registry.
type Options struct {
	// WarningAfter is the heartbeat age past which a service degrades to
	// warning.
	WarningAfter time.Duration

	// DownAfter is the heartbeat age past which a service is considered
	// down.
	DownAfter time.Duration

	Logger *logging.Logger

	// Clock is overridable for tests.
	Clock func() time.Time
}

// DefaultOptions returns the default registry thresholds.
func DefaultOptions() Options {
	return Options{
		WarningAfter: 15 * time.Second,
		DownAfter:    30 * time.Second,
	}
}

// Registry is the service liveness store. All mutation goes through its API;
// snapshots are point-in-time copies.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*entry
	opts     Options
}

type entry struct {
	desc      domain.ServiceDescriptor
	firstSeen time.Time
}

// New creates a new registry.
func New(opts Options) *Registry {
	if opts.WarningAfter <= 0 {
		opts.WarningAfter = DefaultOptions().WarningAfter
	}
	if opts.DownAfter <= 0 {
		opts.DownAfter = DefaultOptions().DownAfter
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Registry{
		services: make(map[string]*entry),
		opts:     opts,
	}
}

// Heartbeat records a liveness report for a service, creating it on first
// sight. A heartbeat always transitions the service to up.
func (r *Registry) Heartbeat(serviceID string, meta domain.HeartbeatMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.opts.Clock()

	e, ok := r.services[serviceID]
	if !ok {
		e = &entry{
			desc: domain.ServiceDescriptor{
				ServiceID:   serviceID,
				DisplayName: serviceID,
				Status:      domain.StatusUnknown,
			},
			firstSeen: now,
		}
		r.services[serviceID] = e
	}

	prev := e.desc.Status

	e.desc.LastHeartbeat = now
	e.desc.IsRunning = true
	e.desc.PortListening = meta.PortListening
	if meta.DisplayName != "" {
		e.desc.DisplayName = meta.DisplayName
	}
	if meta.Port != 0 {
		e.desc.Port = meta.Port
	}
	if meta.Uptime > 0 {
		e.desc.Uptime = meta.Uptime
	} else {
		e.desc.Uptime = now.Sub(e.firstSeen).Seconds()
	}
	e.desc.Status = domain.StatusUp

	if prev != domain.StatusUp {
		r.opts.Logger.Info("service up",
			"service_id", serviceID,
			"previous_status", string(prev),
		)
	}
}

// RecordProbe records the outcome of an active probe. A successful probe
// counts as liveness evidence; a failed probe degrades an otherwise-live
// service to warning.
func (r *Registry) RecordProbe(serviceID string, listening bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.services[serviceID]
	if !ok {
		return
	}

	now := r.opts.Clock()
	prev := e.desc.Status

	e.desc.PortListening = listening

	if listening {
		e.desc.LastHeartbeat = now
		e.desc.Status = domain.StatusUp
		e.desc.IsRunning = true
	} else if e.desc.Status == domain.StatusUp {
		e.desc.Status = domain.StatusWarning
	}

	if prev != e.desc.Status {
		r.opts.Logger.Info("service status changed",
			"service_id", serviceID,
			"previous_status", string(prev),
			"status", string(e.desc.Status),
		)
	}
}

// Get returns a copy of one service descriptor.
func (r *Registry) Get(serviceID string) (domain.ServiceDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.services[serviceID]
	if !ok {
		return domain.ServiceDescriptor{}, domain.ErrServiceNotFound
	}
	return r.refreshed(e), nil
}

// All returns a consistent point-in-time copy of every service descriptor,
// with staleness transitions applied against the registry clock.
func (r *Registry) All() map[string]domain.ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]domain.ServiceDescriptor, len(r.services))
	for id, e := range r.services {
		out[id] = r.refreshed(e)
	}
	return out
}

// Ports returns the service IDs that have a recorded port, for the prober.
func (r *Registry) Ports() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int)
	for id, e := range r.services {
		if e.desc.Port != 0 {
			out[id] = e.desc.Port
		}
	}
	return out
}

// Expire applies staleness transitions in place so that status changes are
// logged even when nobody reads a snapshot. Called by the prober tick.
func (r *Registry) Expire() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.services {
		next := r.staleStatus(e)
		if next != e.desc.Status {
			r.opts.Logger.Warn("service stale",
				"service_id", id,
				"previous_status", string(e.desc.Status),
				"status", string(next),
				"last_heartbeat", e.desc.LastHeartbeat,
			)
			e.desc.Status = next
			if next == domain.StatusDown {
				e.desc.IsRunning = false
			}
		}
	}
}

// refreshed returns a copy of the descriptor with staleness applied, without
// mutating stored state. Caller holds at least the read lock.
func (r *Registry) refreshed(e *entry) domain.ServiceDescriptor {
	desc := e.desc
	desc.Status = r.staleStatus(e)
	if desc.Status == domain.StatusDown {
		desc.IsRunning = false
	}
	return desc
}

// staleStatus computes the effective status given heartbeat age.
func (r *Registry) staleStatus(e *entry) domain.ServiceStatus {
	if e.desc.Status == domain.StatusUnknown || e.desc.LastHeartbeat.IsZero() {
		return e.desc.Status
	}

	age := r.opts.Clock().Sub(e.desc.LastHeartbeat)
	switch {
	case age > r.opts.DownAfter:
		return domain.StatusDown
	case age > r.opts.WarningAfter && e.desc.Status == domain.StatusUp:
		return domain.StatusWarning
	default:
		return e.desc.Status
	}
}
