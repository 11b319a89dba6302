package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/attribution/internal/clock"
	"go.uber.org/zap"
)

const (
	defaultMaxTabs = 100_000
	maxTabIDLength = 128
	sweepMinPeriod = time.Second
	sweepMaxPeriod = 5 * time.Minute
)

// TabRegistry keeps one volatile tier per browser tab. A tab that stays idle
// past the idle timeout is treated as closed and its values are dropped.
type TabRegistry struct {
	clock   clock.Clock
	log     *zap.Logger
	idle    func() time.Duration
	maxTabs int

	mu   sync.Mutex
	tabs map[string]*tabEntry
}

type tabEntry struct {
	tier     *MemoryTier
	lastSeen time.Time
}

func NewTabRegistry(clk clock.Clock, log *zap.Logger, idle func() time.Duration, maxTabs int) *TabRegistry {
	if log == nil {
		log = zap.NewNop()
	}
	if maxTabs <= 0 {
		maxTabs = defaultMaxTabs
	}
	return &TabRegistry{
		clock:   clk,
		log:     log.Named("tracking.tabs"),
		idle:    idle,
		maxTabs: maxTabs,
		tabs:    make(map[string]*tabEntry),
	}
}

// Tier returns the volatile tier for tabID, creating it on first use. It
// returns nil for an unusable id or when the registry is full.
func (r *TabRegistry) Tier(tabID string) *MemoryTier {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" || len(tabID) > maxTabIDLength {
		return nil
	}

	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.tabs[tabID]; ok {
		entry.lastSeen = now
		return entry.tier
	}
	if len(r.tabs) >= r.maxTabs {
		r.log.Warn("tab registry full, volatile tier unavailable", zap.Int("tabs", len(r.tabs)))
		return nil
	}
	entry := &tabEntry{tier: NewMemoryTier("tab"), lastSeen: now}
	r.tabs[tabID] = entry
	return entry.tier
}

// Sweep drops tabs idle for longer than the idle timeout and returns how many.
func (r *TabRegistry) Sweep() int {
	cutoff := r.clock.Now().Add(-r.idle())
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, entry := range r.tabs {
		if entry.lastSeen.Before(cutoff) {
			delete(r.tabs, id)
			removed++
		}
	}
	return removed
}

func (r *TabRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

// Run sweeps periodically until ctx is cancelled.
func (r *TabRegistry) Run(ctx context.Context) {
	period := r.idle() / 4
	if period < sweepMinPeriod {
		period = sweepMinPeriod
	}
	if period > sweepMaxPeriod {
		period = sweepMaxPeriod
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.log.Debug("swept idle tabs", zap.Int("removed", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
