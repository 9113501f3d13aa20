package registry

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/robolab/roverhub/internal/logging"
)

// ProbeFunc checks whether a service endpoint is reachable. It must respect
// the context deadline.
type ProbeFunc func(ctx context.Context, host string, port int) bool

// TCPProbe dials the recorded port and reports whether the connect
// succeeded.
func TCPProbe(ctx context.Context, host string, port int) bool {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ProberOptions configures the periodic prober.
type ProberOptions struct {
	Host     string
	Interval time.Duration
	Timeout  time.Duration
	Probe    ProbeFunc
	Logger   *logging.Logger
}

// Prober periodically probes registered service ports on its own scheduler,
// decoupled from connection handling so a hung probe cannot stall delivery.
type Prober struct {
	registry *Registry
	opts     ProberOptions
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewProber creates a prober for the given registry.
func NewProber(registry *Registry, opts ProberOptions) *Prober {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Probe == nil {
		opts.Probe = TCPProbe
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}

	return &Prober{
		registry: registry,
		opts:     opts,
	}
}

// Start begins the probe loop.
func (p *Prober) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop cancels the probe loop and waits for it to finish.
func (p *Prober) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Prober) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep probes every service with a recorded port, then applies staleness
// transitions.
func (p *Prober) sweep(ctx context.Context) {
	for serviceID, port := range p.registry.Ports() {
		probeCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
		listening := p.opts.Probe(probeCtx, p.opts.Host, port)
		cancel()

		p.registry.RecordProbe(serviceID, listening)

		if ctx.Err() != nil {
			return
		}
	}

	p.registry.Expire()
}
