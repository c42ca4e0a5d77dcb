// Package workingmemory implements the bounded short-term focus buffer and
// its meta layer. The buffer models
// the classic 7±2 capacity limit: a small ordered set of (layer, id)
// references, evicted by a composite salience/recency score, with high-value
// evictees routed to a durable layer instead of being dropped.
package workingmemory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"agentmem/internal/clock"
	"agentmem/internal/logging"
	"agentmem/internal/types"
)

// Config parametrises the buffer, mirrored from config.WorkingMemoryConfig
// to avoid an import cycle (config imports nothing here).
type Config struct {
	Capacity       int
	Alpha          float64 // weight of salience vs recency in the eviction composite
	DecayPerMin    float64 // gamma: salience *= gamma^minutes-since-reinforced
	Reinforcement  float64 // delta added to salience on re-reference
	RouteThreshold float64 // composite above which an evictee is routed instead of dropped
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{Capacity: 7, Alpha: 0.7, DecayPerMin: 0.98, Reinforcement: 0.15, RouteThreshold: 0.6}
}

// RoutedItem is an evicted slot whose composite score cleared RouteThreshold,
// handed to the caller (normally internal/engine) to persist into a durable
// layer before the slot is actually dropped.
type RoutedItem struct {
	Slot      types.WorkingMemorySlot
	Composite float64
}

// Buffer is the capacity-bounded working-memory set for one project. It is
// protected by a single mutex: contention is negligible given the small
// capacity.
type Buffer struct {
	mu     sync.Mutex
	clock  clock.Clock
	cfg    Config
	slots  []types.WorkingMemorySlot
	logger *logging.CategoryLogger
}

// New constructs an empty Buffer.
func New(cfg Config, c clock.Clock) *Buffer {
	return &Buffer{clock: c, cfg: cfg, logger: logging.Get(logging.CategoryWorkingMemory)}
}

// Size reports current occupancy.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// Snapshot returns a copy of the current slots, decayed to now.
func (b *Buffer) Snapshot() []types.WorkingMemorySlot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decayLocked()
	out := make([]types.WorkingMemorySlot, len(b.slots))
	copy(out, b.slots)
	return out
}

// decayLocked applies exponential salience decay to every slot based on
// elapsed time since its last reinforcement.
// Must be called with mu held.
func (b *Buffer) decayLocked() {
	now := b.clock.Now()
	for i := range b.slots {
		s := &b.slots[i]
		minutes := now.Sub(s.LastReinforced).Minutes()
		if minutes <= 0 {
			continue
		}
		s.Salience *= math.Pow(b.cfg.DecayPerMin, minutes)
		s.LastReinforced = now
	}
}

func (b *Buffer) composite(s types.WorkingMemorySlot, now time.Time) float64 {
	ageMinutes := now.Sub(s.InsertedAt).Minutes()
	recency := math.Pow(b.cfg.DecayPerMin, ageMinutes)
	return b.cfg.Alpha*s.Salience + (1-b.cfg.Alpha)*recency
}

// find returns the index of ref in slots, or -1.
func (b *Buffer) find(ref types.ItemRef) int {
	for i, s := range b.slots {
		if s.ItemRef == ref {
			return i
		}
	}
	return -1
}

// Insert adds or reinforces ref with the given salience. If the buffer is
// full and ref is new, the lowest-composite slot is evicted; if that
// evictee's composite clears RouteThreshold, it is returned for routing to
// a durable layer instead of being silently dropped.
func (b *Buffer) Insert(ref types.ItemRef, salience float64) *RoutedItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decayLocked()

	now := b.clock.Now()
	if idx := b.find(ref); idx >= 0 {
		b.slots[idx].Salience = math.Min(1, b.slots[idx].Salience+b.cfg.Reinforcement)
		b.slots[idx].LastReinforced = now
		return nil
	}

	slot := types.WorkingMemorySlot{ItemRef: ref, Salience: salience, InsertedAt: now, LastReinforced: now}

	if len(b.slots) < b.cfg.Capacity {
		b.slots = append(b.slots, slot)
		return nil
	}

	evictIdx, lowest := 0, math.Inf(1)
	for i, s := range b.slots {
		c := b.composite(s, now)
		if c < lowest {
			lowest, evictIdx = c, i
		}
	}
	evictee := b.slots[evictIdx]
	b.slots[evictIdx] = slot

	composite := b.composite(evictee, now)
	b.logger.Debug("Insert: evicted %v composite=%.3f routed=%v", evictee.ItemRef, composite, composite >= b.cfg.RouteThreshold)
	if composite >= b.cfg.RouteThreshold {
		return &RoutedItem{Slot: evictee, Composite: composite}
	}
	return nil
}

// Reinforce bumps ref's salience on re-reference without requiring a full
// Insert call.
func (b *Buffer) Reinforce(ref types.ItemRef) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.find(ref)
	if idx < 0 {
		return false
	}
	b.slots[idx].Salience = math.Min(1, b.slots[idx].Salience+b.cfg.Reinforcement)
	b.slots[idx].LastReinforced = b.clock.Now()
	return true
}

// Occupancy returns slots ordered by descending composite score (most
// salient/recent first) as of now.
func (b *Buffer) Occupancy(ctx context.Context) []types.WorkingMemorySlot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decayLocked()
	now := b.clock.Now()
	out := make([]types.WorkingMemorySlot, len(b.slots))
	copy(out, b.slots)
	sort.SliceStable(out, func(i, j int) bool {
		return b.composite(out[i], now) > b.composite(out[j], now)
	})
	return out
}

// CognitiveLoad reports buffer occupancy as a fraction of capacity.
func (b *Buffer) CognitiveLoad() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(len(b.slots)) / float64(b.cfg.Capacity)
}

// Capacity returns the configured capacity.
func (b *Buffer) Capacity() int { return b.cfg.Capacity }
