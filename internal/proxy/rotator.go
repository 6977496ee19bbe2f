// Package proxy maintains a ranked pool of egress endpoints for
// monitoring sessions.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"sync"
	"time"
)

// Endpoint is one proxy in the pool. FailCount and AverageResponseMs
// are maintained by the rotator's health loop; sessions consume
// endpoints read-only at attempt time.
type Endpoint struct {
	Protocol string `yaml:"protocol"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	FailCount         int     `yaml:"fail_count"`
	AverageResponseMs float64 `yaml:"average_response_ms"`
}

// URL renders the endpoint in the form the browser launcher accepts.
func (e *Endpoint) URL() string {
	u := url.URL{
		Scheme: e.Protocol,
		Host:   net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port)),
	}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u.String()
}

func (e *Endpoint) key() string {
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
}

// score ranks endpoints ascending: fast, reliable proxies first.
func (e *Endpoint) score() float64 {
	return e.AverageResponseMs * float64(e.FailCount+1)
}

// Dialer checks whether an endpoint accepts TCP connections. Split out
// so tests can run the health loop without a network.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

type Options struct {
	// BestSubset is how many of the top-scoring endpoints Next rotates
	// over. Zero means the top half, minimum one.
	BestSubset int
	// FailCeiling evicts an endpoint once its fail count reaches it.
	FailCeiling int
	// CheckInterval is the health loop period.
	CheckInterval time.Duration
	// CheckTimeout bounds a single health probe.
	CheckTimeout time.Duration

	Dialer Dialer
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.FailCeiling <= 0 {
		out.FailCeiling = 5
	}
	if out.CheckInterval <= 0 {
		out.CheckInterval = time.Minute
	}
	if out.CheckTimeout <= 0 {
		out.CheckTimeout = 5 * time.Second
	}
	if out.Dialer == nil {
		d := &net.Dialer{}
		out.Dialer = d.DialContext
	}
	return out
}

// Rotator hands out the best-scoring endpoints round-robin. Evicted
// endpoints are remembered and re-admitted only when Add sees them
// healthy again.
type Rotator struct {
	mu      sync.Mutex
	pool    []*Endpoint
	evicted map[string]bool
	cursor  int
	opts    Options
	logger  *slog.Logger
}

func NewRotator(endpoints []Endpoint, opts Options, logger *slog.Logger) *Rotator {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Rotator{
		evicted: make(map[string]bool),
		opts:    opts.withDefaults(),
		logger:  logger,
	}
	for i := range endpoints {
		e := endpoints[i]
		r.pool = append(r.pool, &e)
	}
	return r
}

// Next returns the next endpoint from the best-scoring subset, or nil
// when the pool is empty. A nil result means "go direct".
func (r *Rotator) Next() *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pool) == 0 {
		return nil
	}

	ranked := make([]*Endpoint, len(r.pool))
	copy(ranked, r.pool)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score() < ranked[j].score()
	})

	n := r.opts.BestSubset
	if n <= 0 {
		n = len(ranked) / 2
	}
	if n < 1 {
		n = 1
	}
	if n > len(ranked) {
		n = len(ranked)
	}

	e := ranked[r.cursor%n]
	r.cursor++
	cp := *e
	return &cp
}

// Add admits (or re-admits) an endpoint to the pool.
func (r *Rotator) Add(e Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.evicted, e.key())
	for _, existing := range r.pool {
		if existing.key() == e.key() {
			return
		}
	}
	r.pool = append(r.pool, &e)
}

// Len reports the current pool size.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pool)
}

// Snapshot returns a copy of the pool for display, best scores first.
func (r *Rotator) Snapshot() []Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Endpoint, 0, len(r.pool))
	for _, p := range r.pool {
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].score() < out[j].score()
	})
	return out
}

// RunHealthChecks probes every endpoint on a ticker until ctx is done.
// It runs outside the purchase path; sessions never wait on it.
func (r *Rotator) RunHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(r.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkAll(ctx)
		}
	}
}

func (r *Rotator) checkAll(ctx context.Context) {
	r.mu.Lock()
	targets := make([]*Endpoint, len(r.pool))
	copy(targets, r.pool)
	r.mu.Unlock()

	for _, e := range targets {
		elapsed, err := r.probe(ctx, e)

		r.mu.Lock()
		if err != nil {
			e.FailCount++
			r.logger.Debug("proxy probe failed", "proxy", e.key(), "fail_count", e.FailCount, "error", err)
		} else {
			// Exponential moving average keeps the score responsive
			// without one slow probe dominating.
			ms := float64(elapsed.Milliseconds())
			if e.AverageResponseMs == 0 {
				e.AverageResponseMs = ms
			} else {
				e.AverageResponseMs = 0.7*e.AverageResponseMs + 0.3*ms
			}
			e.FailCount = 0
		}

		if e.FailCount >= r.opts.FailCeiling {
			r.evict(e)
		}
		r.mu.Unlock()
	}
}

func (r *Rotator) probe(ctx context.Context, e *Endpoint) (time.Duration, error) {
	probeCtx, cancel := context.WithTimeout(ctx, r.opts.CheckTimeout)
	defer cancel()

	start := time.Now()
	conn, err := r.opts.Dialer(probeCtx, "tcp", e.key())
	if err != nil {
		return 0, err
	}
	conn.Close()
	return time.Since(start), nil
}

// evict removes an endpoint; caller holds the lock.
func (r *Rotator) evict(e *Endpoint) {
	for i, p := range r.pool {
		if p.key() == e.key() {
			r.pool = append(r.pool[:i], r.pool[i+1:]...)
			r.evicted[e.key()] = true
			r.logger.Info("proxy evicted", "proxy", e.key(), "fail_count", e.FailCount)
			return
		}
	}
}
