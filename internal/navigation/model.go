package navigation

import (
	"sort"
	"sync"
	"time"
)

// Prediction is a candidate next route with its conditional probability.
type Prediction struct {
	Route       string
	Probability float64
}

type edge struct {
	from string
	to   string
}

type transition struct {
	count    int64
	lastSeen time.Time
}

// Model is a first-order Markov model over route transitions: a map of
// (from, to) edges to counts, O(distinct edges) in space. Counts only grow
// between decay passes, which halve everything so recent behaviour
// dominates and stale edges are eventually pruned.
type Model struct {
	mu          sync.Mutex
	edges       map[edge]*transition
	outTotals   map[string]int64
	updates     int
	decayEvery  int
	now         func() time.Time
}

// NewModel creates a model that decays every decayEvery updates.
func NewModel(decayEvery int) *Model {
	if decayEvery <= 0 {
		decayEvery = 200
	}
	return &Model{
		edges:      make(map[edge]*transition),
		outTotals:  make(map[string]int64),
		decayEvery: decayEvery,
		now:        time.Now,
	}
}

// Update increments the (from, to) edge and runs a decay pass when due.
func (m *Model) Update(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := edge{from: from, to: to}
	t, ok := m.edges[e]
	if !ok {
		t = &transition{}
		m.edges[e] = t
	}
	t.count++
	t.lastSeen = m.now()
	m.outTotals[from]++

	m.updates++
	if m.updates%m.decayEvery == 0 {
		m.decay()
	}
}

// Predict returns up to k candidate next routes for from, sorted by
// descending probability with ties broken by most-recently-seen. An unseen
// route yields an empty slice, not an error.
func (m *Model) Predict(from string, k int) []Prediction {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.outTotals[from]
	if total == 0 || k <= 0 {
		return nil
	}

	type candidate struct {
		route    string
		count    int64
		lastSeen time.Time
	}
	var candidates []candidate
	for e, t := range m.edges {
		if e.from == from {
			candidates = append(candidates, candidate{
				route:    e.to,
				count:    t.count,
				lastSeen: t.lastSeen,
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].lastSeen.After(candidates[j].lastSeen)
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]Prediction, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Prediction{
			Route:       c.route,
			Probability: float64(c.count) / float64(total),
		})
	}
	return out
}

// Edges returns the number of distinct transitions currently tracked.
func (m *Model) Edges() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.edges)
}

// decay halves every count and prunes edges that round to zero. Caller
// holds mu.
func (m *Model) decay() {
	for e, t := range m.edges {
		t.count /= 2
		if t.count == 0 {
			delete(m.edges, e)
		}
	}

	// Rebuild outgoing totals so probabilities stay consistent with the
	// surviving edges.
	totals := make(map[string]int64, len(m.outTotals))
	for e, t := range m.edges {
		totals[e.from] += t.count
	}
	m.outTotals = totals
}
