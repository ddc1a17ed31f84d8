package detect

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultHealthTTL = 30 * time.Second

// Prober checks whether a provider backend is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Health is one probe outcome.
type Health struct {
	OK       bool
	Err      string
	ProbedAt time.Time
}

// HealthCache wraps a Prober so provider calls can skip a backend known to be
// down without paying a request timeout on every frame. Failed probes are
// cached too, for the same TTL.
type HealthCache struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	cached *Health
}

func NewHealthCache(prober Prober, ttl time.Duration, logger *slog.Logger) *HealthCache {
	if ttl <= 0 {
		ttl = defaultHealthTTL
	}
	return &HealthCache{
		prober: prober,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the cached health if fresh, otherwise re-probes.
func (h *HealthCache) Get(ctx context.Context) Health {
	h.mu.RLock()
	if h.fresh() {
		health := *h.cached
		h.mu.RUnlock()
		return health
	}
	h.mu.RUnlock()

	return h.refresh(ctx, false)
}

// Available is shorthand for Get(ctx).OK.
func (h *HealthCache) Available(ctx context.Context) bool {
	return h.Get(ctx).OK
}

// Peek returns the last probe result without probing; nil before the first probe.
func (h *HealthCache) Peek() *Health {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cached == nil {
		return nil
	}
	health := *h.cached
	return &health
}

// Refresh forces a probe regardless of cache freshness.
func (h *HealthCache) Refresh(ctx context.Context) Health {
	return h.refresh(ctx, true)
}

func (h *HealthCache) refresh(ctx context.Context, force bool) Health {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Another caller may have probed while this one waited for the lock.
	if !force && h.fresh() {
		return *h.cached
	}

	health := Health{OK: true, ProbedAt: h.now()}
	if err := h.prober.Probe(ctx); err != nil {
		health.OK = false
		health.Err = err.Error()
		if h.logger != nil && (h.cached == nil || h.cached.OK) {
			h.logger.Warn("provider health probe failed", "error", err)
		}
	} else if h.logger != nil && h.cached != nil && !h.cached.OK {
		h.logger.Info("provider health recovered")
	}

	h.cached = &health
	return health
}

// fresh reports whether the cached probe is within the TTL. Callers hold mu.
func (h *HealthCache) fresh() bool {
	return h.cached != nil && h.now().Sub(h.cached.ProbedAt) < h.ttl
}

// Invalidate clears the cached probe so the next Get probes again.
func (h *HealthCache) Invalidate() {
	h.mu.Lock()
	h.cached = nil
	h.mu.Unlock()
}
