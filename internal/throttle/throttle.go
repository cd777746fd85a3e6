// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HSG Members Contributors

// Package throttle counts requests per client key over a trailing window so
// excess traffic can be rejected before any credential work runs.
//
// State is process local. It is a coarse defense against brute force, not a
// security boundary.
package throttle

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default throttle values.
const (
	// DefaultWindow is how long a request marker stays live.
	DefaultWindow = 60 * time.Second

	// DefaultLimit is the number of live markers a key may hold and still be admitted.
	DefaultLimit = 30
)

// Limiter decides whether a request from key may proceed.
type Limiter interface {
	Admit(key string) bool
}

// Config configures a Window.
type Config struct {
	// Window is the marker lifetime. Defaults to DefaultWindow if zero or negative.
	Window time.Duration

	// Limit is the admit threshold. Defaults to DefaultLimit if zero or negative.
	Limit int

	// SweepInterval is how often expired keys are dropped from memory.
	// Defaults to Window.
	SweepInterval time.Duration
}

// Option configures a Window.
type Option func(*Window)

// WithClock sets the time source. Markers are ordered by it, so it must not
// run backwards.
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

// WithRegistry registers admit/reject counters and a tracked-key gauge.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(w *Window) { w.reg = reg }
}

// Window is a sliding-window Limiter. Each Admit records one marker for the
// key; markers expire after the window without caller involvement. It is
// safe for concurrent use.
//
// A background goroutine drops keys whose markers have all expired. Call
// Close to stop it.
type Window struct {
	mu      sync.Mutex
	markers map[string][]time.Time
	window  time.Duration
	limit   int
	now     func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	reg      prometheus.Registerer
	admitted prometheus.Counter
	rejected prometheus.Counter
	keys     prometheus.Gauge
}

var _ Limiter = (*Window)(nil)

// New creates a Window and starts its sweeper.
func New(cfg Config, opts ...Option) *Window {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = window
	}

	w := &Window{
		markers: make(map[string][]time.Time),
		window:  window,
		limit:   limit,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.reg != nil {
		w.registerMetrics()
	}

	w.wg.Add(1)
	go w.sweepLoop(sweep)
	return w
}

func (w *Window) registerMetrics() {
	w.admitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hsgmembers_throttle_admitted_total",
		Help: "Requests admitted by the throttle",
	})
	w.rejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hsgmembers_throttle_rejected_total",
		Help: "Requests rejected by the throttle",
	})
	w.keys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hsgmembers_throttle_keys",
		Help: "Client keys currently tracked by the throttle",
	})
	w.reg.MustRegister(w.admitted, w.rejected, w.keys)
}

// Admit records a marker for key and reports whether the number of live
// markers is within the limit.
//
// At most limit+1 markers are kept per key. Dropping the oldest surplus
// markers never changes a decision: whenever one of them is still live, all
// kept markers are live too and the key is over the limit either way.
func (w *Window) Admit(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	live := append(w.prune(w.markers[key], now), now)
	if len(live) > w.limit+1 {
		live = live[len(live)-(w.limit+1):]
	}
	w.markers[key] = live

	ok := len(live) <= w.limit
	if w.reg != nil {
		if ok {
			w.admitted.Inc()
		} else {
			w.rejected.Inc()
		}
		w.keys.Set(float64(len(w.markers)))
	}
	return ok
}

// Count returns the number of live markers for key, capped at limit+1.
func (w *Window) Count(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	live := w.prune(w.markers[key], w.now())
	if len(live) == 0 {
		delete(w.markers, key)
		return 0
	}
	w.markers[key] = live
	return len(live)
}

// Reset forgets every key.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.markers)
	if w.keys != nil {
		w.keys.Set(0)
	}
}

// Sweep drops keys with no live markers. The background goroutine calls it
// periodically.
func (w *Window) Sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for key, markers := range w.markers {
		live := w.prune(markers, now)
		if len(live) == 0 {
			delete(w.markers, key)
			continue
		}
		w.markers[key] = live
	}
	if w.keys != nil {
		w.keys.Set(float64(len(w.markers)))
	}
}

// Keys returns the number of tracked keys.
func (w *Window) Keys() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.markers)
}

// Close stops the sweeper and waits for it to exit. It is safe to call more
// than once.
func (w *Window) Close() {
	w.closeOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

// prune returns the suffix of markers still live at now. Callers hold mu.
func (w *Window) prune(markers []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(markers) && !markers[i].After(cutoff) {
		i++
	}
	return markers[i:]
}

func (w *Window) sweepLoop(interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}
