package workingmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"agentmem/internal/storage"
	"agentmem/internal/types"
)

// DomainCoverage summarises how much, and how well, the engine knows about
// one domain.
type DomainCoverage struct {
	Domain      string
	MemoryCount int
	AvgQuality  float64
}

// Gap names a domain the meta layer considers under-served. FindGaps looks
// only at domains queried at least three times and flags one with no stored
// memories, a low average memory quality, or low expertise; disagreement
// between the memories of a domain is not examined.
type Gap struct {
	Domain string
	Reason string
}

// Meta tracks coverage, expertise, cognitive load, and gaps on top of a
// Buffer and the semantic store, exposing them both as query results and as
// Prometheus gauges for external scraping (metrics are not a Non-goal; only
// the dashboard consuming them is external).
type Meta struct {
	buffer *Buffer
	store  *storage.Store

	mu            sync.Mutex
	expertise     map[string]float64 // domain -> EMA of success outcomes
	queryCounts   map[string]int     // domain -> times recalled/queried, for gap detection

	gaugeLoad       prometheus.Gauge
	gaugeExpertise  *prometheus.GaugeVec
	gaugeCoverage   *prometheus.GaugeVec
}

// NewMeta constructs a Meta layer over buffer and store, registering its
// Prometheus gauges against reg (pass prometheus.NewRegistry() per-engine to
// avoid collisions across tests/instances).
func NewMeta(buffer *Buffer, store *storage.Store, reg prometheus.Registerer) *Meta {
	m := &Meta{
		buffer:      buffer,
		store:       store,
		expertise:   make(map[string]float64),
		queryCounts: make(map[string]int),
		gaugeLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentmem_cognitive_load",
			Help: "Working-memory occupancy over capacity.",
		}),
		gaugeExpertise: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentmem_expertise",
			Help: "EMA of success outcomes per domain.",
		}, []string{"domain"}),
		gaugeCoverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentmem_memory_coverage",
			Help: "Memory count per domain.",
		}, []string{"domain"}),
	}
	if reg != nil {
		reg.MustRegister(m.gaugeLoad, m.gaugeExpertise, m.gaugeCoverage)
	}
	return m
}

// RecordOutcome updates a domain's expertise EMA after an observed outcome,
// using the same weight-0.2 update rule as procedure success-rate tracking.
func (m *Meta) RecordOutcome(domain string, outcome types.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var signal float64
	switch outcome {
	case types.OutcomeSuccess:
		signal = 1
	case types.OutcomePartial:
		signal = 0.5
	default:
		signal = 0
	}
	const weight = 0.2
	prev, ok := m.expertise[domain]
	if !ok {
		m.expertise[domain] = signal
	} else {
		m.expertise[domain] = (1-weight)*prev + weight*signal
	}
	m.gaugeExpertise.WithLabelValues(domain).Set(m.expertise[domain])
}

// RecordQuery bumps a domain's observed query load, feeding FindGaps.
func (m *Meta) RecordQuery(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCounts[domain]++
}

// MemoryHealth reports per-domain coverage computed from the semantic store.
func (m *Meta) MemoryHealth(ctx context.Context, project string) ([]DomainCoverage, error) {
	memories, err := m.store.Semantic.All(ctx, project)
	if err != nil {
		return nil, err
	}
	byDomain := make(map[string]*DomainCoverage)
	for _, mem := range memories {
		for _, d := range mem.Domains {
			dc, ok := byDomain[d]
			if !ok {
				dc = &DomainCoverage{Domain: d}
				byDomain[d] = dc
			}
			dc.MemoryCount++
			dc.AvgQuality += mem.Quality
		}
	}
	out := make([]DomainCoverage, 0, len(byDomain))
	for _, dc := range byDomain {
		if dc.MemoryCount > 0 {
			dc.AvgQuality /= float64(dc.MemoryCount)
		}
		out = append(out, *dc)
		m.gaugeCoverage.WithLabelValues(dc.Domain).Set(float64(dc.MemoryCount))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

// ExpertiseMap returns the current per-domain expertise EMA.
func (m *Meta) ExpertiseMap() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.expertise))
	for k, v := range m.expertise {
		out[k] = v
	}
	return out
}

// FindGaps flags domains with high observed query load but low memory
// coverage, or low expertise relative to that load.
func (m *Meta) FindGaps(ctx context.Context, project string) ([]Gap, error) {
	coverage, err := m.MemoryHealth(ctx, project)
	if err != nil {
		return nil, err
	}
	covered := make(map[string]DomainCoverage, len(coverage))
	for _, c := range coverage {
		covered[c.Domain] = c
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var gaps []Gap
	for domain, queries := range m.queryCounts {
		if queries < 3 {
			continue // not enough signal yet
		}
		c, known := covered[domain]
		switch {
		case !known || c.MemoryCount == 0:
			gaps = append(gaps, Gap{Domain: domain, Reason: "queried but no memories stored"})
		case c.AvgQuality < 0.4:
			gaps = append(gaps, Gap{Domain: domain, Reason: "low average memory quality"})
		case m.expertise[domain] < 0.3:
			gaps = append(gaps, Gap{Domain: domain, Reason: "low expertise relative to query load"})
		}
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].Domain < gaps[j].Domain })
	return gaps, nil
}

// Recommendation suggests a next action derived from the current gaps.
type Recommendation struct {
	Domain string
	Action string
}

// Recommendations turns FindGaps output into actionable suggestions.
func (m *Meta) Recommendations(ctx context.Context, project string) ([]Recommendation, error) {
	gaps, err := m.FindGaps(ctx, project)
	if err != nil {
		return nil, err
	}
	recs := make([]Recommendation, 0, len(gaps))
	for _, g := range gaps {
		action := "run a consolidation pass focused on this domain"
		if g.Reason == "queried but no memories stored" {
			action = "ingest more episodic events tagged with this domain before the next consolidation"
		}
		recs = append(recs, Recommendation{Domain: g.Domain, Action: action})
	}
	return recs, nil
}

// Tick refreshes the cognitive-load gauge; call periodically (e.g. from the
// consolidation scheduler's cron tick) or after every buffer mutation.
func (m *Meta) Tick() {
	m.gaugeLoad.Set(m.buffer.CognitiveLoad())
}
