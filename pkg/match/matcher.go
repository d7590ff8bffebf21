package match

import (
	"net/http"
	"sync"

	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
)

// Matcher is the single entry point the player uses to resolve a live
// request against a cassette's interactions, hiding whether the
// fast-path Index or the LinearMatcher fallback is in play.
type Matcher struct {
	strategy     Strategy
	interactions []*cassette.Interaction

	mu     sync.Mutex
	index  *Index
	linear *LinearMatcher
	counts map[Signature]uint64
}

// NewMatcher builds a Matcher for strategy over interactions, choosing the
// fast-path index when the strategy is the exact-match default and
// falling back to a linear scan otherwise.
func NewMatcher(strategy Strategy, interactions []*cassette.Interaction) *Matcher {
	m := &Matcher{
		strategy:     strategy,
		interactions: interactions,
		counts:       make(map[Signature]uint64),
	}
	if strategy.IsDefault() {
		m.index = BuildIndex(strategy, interactions)
	} else {
		m.linear = NewLinearMatcher(strategy)
	}
	return m
}

// Match resolves r (with its body already read via RequestSignature or
// equivalent) to the matching interaction's position. It returns
// (-1, false) when nothing in the cassette satisfies the strategy.
func (m *Matcher) Match(r *http.Request, body []byte) (int, bool) {
	if m.index != nil {
		sig := NewSignature(r.Method, r.URL.String(), body)
		m.mu.Lock()
		count := m.counts[sig]
		pos, ok := m.index.Lookup(r, body, count)
		if ok {
			m.counts[sig] = count + 1
			m.interactions[pos].MarkReplayed()
		}
		m.mu.Unlock()
		return pos, ok
	}

	m.mu.Lock()
	consumed := make(map[int]uint64, len(m.interactions))
	for i, interaction := range m.interactions {
		consumed[i] = interaction.ReplayCount()
	}
	pos, ok := m.linear.Find(r, body, m.interactions, consumed)
	if ok {
		m.interactions[pos].MarkReplayed()
	}
	m.mu.Unlock()
	return pos, ok
}
