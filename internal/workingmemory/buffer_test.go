package workingmemory

import (
	"testing"
	"time"

	"agentmem/internal/clock"
	"agentmem/internal/types"
)

func ref(id int64) types.ItemRef {
	return types.ItemRef{Layer: "episodic", ID: id}
}

func bufferContains(b *Buffer, r types.ItemRef) bool {
	for _, s := range b.Snapshot() {
		if s.ItemRef == r {
			return true
		}
	}
	return false
}

func TestEvictionPicksLowestComposite(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	b := New(Config{Capacity: 3, Alpha: 0.7, DecayPerMin: 0.98, Reinforcement: 0.15, RouteThreshold: 0.6}, c)

	saliences := []float64{0.2, 0.9, 0.3}
	for i, s := range saliences {
		if routed := b.Insert(ref(int64(i+1)), s); routed != nil {
			t.Fatalf("insert %d routed before the buffer was full", i+1)
		}
		c.Advance(time.Minute)
	}

	routed := b.Insert(ref(4), 0.5)
	if b.Size() != 3 {
		t.Fatalf("buffer size = %d, want capacity 3", b.Size())
	}
	for _, want := range []int64{2, 3, 4} {
		if !bufferContains(b, ref(want)) {
			t.Errorf("buffer missing item %d", want)
		}
	}
	if bufferContains(b, ref(1)) {
		t.Error("lowest-composite item 1 survived eviction")
	}
	// Item 1's composite (~0.41 after three minutes of decay) is under the
	// 0.6 route threshold, so it is simply dropped.
	if routed != nil {
		t.Errorf("low-value evictee was routed: %+v", routed)
	}
}

func TestHighValueEvicteeRouted(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	b := New(Config{Capacity: 2, Alpha: 0.7, DecayPerMin: 0.98, Reinforcement: 0.15, RouteThreshold: 0.6}, c)

	b.Insert(ref(1), 0.8)
	b.Insert(ref(2), 0.9)

	routed := b.Insert(ref(3), 0.95)
	if routed == nil {
		t.Fatal("fresh high-salience evictee was dropped instead of routed")
	}
	if routed.Slot.ItemRef != ref(1) {
		t.Errorf("routed %v, want item 1", routed.Slot.ItemRef)
	}
	if routed.Composite < 0.6 {
		t.Errorf("routed composite %.3f under threshold", routed.Composite)
	}
}

func TestReinforceBumpsSalience(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	b := New(DefaultConfig(), c)

	b.Insert(ref(1), 0.5)
	if !b.Reinforce(ref(1)) {
		t.Fatal("Reinforce() on resident item returned false")
	}
	if b.Reinforce(ref(99)) {
		t.Fatal("Reinforce() on absent item returned true")
	}

	snap := b.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot size = %d", len(snap))
	}
	if got, want := snap[0].Salience, 0.65; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("salience = %f, want %f", got, want)
	}
}

func TestReinsertReinforcesInsteadOfDuplicating(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	b := New(DefaultConfig(), c)

	b.Insert(ref(1), 0.5)
	b.Insert(ref(1), 0.5)
	if b.Size() != 1 {
		t.Fatalf("re-insert duplicated the slot: size = %d", b.Size())
	}
}

func TestSalienceIsClampedToOne(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	b := New(DefaultConfig(), c)

	b.Insert(ref(1), 0.95)
	b.Reinforce(ref(1))
	b.Reinforce(ref(1))

	if s := b.Snapshot()[0].Salience; s > 1 {
		t.Errorf("salience %f exceeds 1", s)
	}
}

func TestDecayLowersSalienceOverTime(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	b := New(DefaultConfig(), c)

	b.Insert(ref(1), 0.8)
	c.Advance(30 * time.Minute)

	if s := b.Snapshot()[0].Salience; s >= 0.8 {
		t.Errorf("salience %f did not decay after 30 minutes", s)
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	b := New(DefaultConfig(), c)

	for i := 1; i <= 20; i++ {
		b.Insert(ref(int64(i)), 0.5)
		if b.Size() > b.Capacity() {
			t.Fatalf("size %d exceeded capacity %d after insert %d", b.Size(), b.Capacity(), i)
		}
	}
	if load := b.CognitiveLoad(); load != 1 {
		t.Errorf("cognitive load = %f, want 1 at full occupancy", load)
	}
}
