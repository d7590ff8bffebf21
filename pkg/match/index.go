package match

import (
	"net/http"

	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
)

// Index is the fast-path lookup structure for the default Strategy
//. It
// maps a Signature to the ordered list of interaction positions recorded
// under it, so repeated identical requests replay in recording order
// before falling back to the last entry once exhausted.
type Index struct {
	strategy Strategy
	buckets  map[Signature][]int
}

// BuildIndex scans every HTTP interaction in interactions and groups their
// positions by Signature. Building the index is only worthwhile when
// strategy.IsDefault(); callers should fall back to NewLinearMatcher
// otherwise.
func BuildIndex(strategy Strategy, interactions []*cassette.Interaction) *Index {
	idx := &Index{strategy: strategy, buckets: make(map[Signature][]int)}
	for i, interaction := range interactions {
		if interaction.Type != cassette.InteractionHTTP {
			continue
		}
		sig := NewSignature(interaction.Request.Method, interaction.Request.URL, interaction.Request.Body)
		idx.buckets[sig] = append(idx.buckets[sig], i)
	}
	return idx
}

// Lookup returns the position of the next unreplayed interaction matching
// live, or (-1, false) on a miss. replayCount is the number of times this
// exact signature has already been consumed; once it reaches the bucket
// length, the last position is returned repeatedly (sticky replay).
func (idx *Index) Lookup(live *http.Request, liveBody []byte, replayCount uint64) (int, bool) {
	sig := NewSignature(live.Method, live.URL.String(), liveBody)
	positions, ok := idx.buckets[sig]
	if !ok || len(positions) == 0 {
		return -1, false
	}
	if replayCount >= uint64(len(positions)) {
		return positions[len(positions)-1], true
	}
	return positions[replayCount], true
}

// LinearMatcher performs an O(n) scan using the full Strategy predicate,
// used whenever the configured strategy is not the exact-match default.
// This is the generalization of go-vcr's defaultMatcher loop in
// recorder.go, which always scanned every interaction in order.
type LinearMatcher struct {
	strategy Strategy
}

// NewLinearMatcher constructs a LinearMatcher for strategy.
func NewLinearMatcher(strategy Strategy) *LinearMatcher {
	return &LinearMatcher{strategy: strategy}
}

// Find returns the position of the first HTTP interaction that matches
// live under the strategy and has not yet been consumed (consumed[i] == 0);
// once every match has been consumed it returns the last match again, and
// (-1, false) when nothing matches. Unlike Index.Lookup, it re-evaluates
// every interaction using the full predicate, including any
// CustomMatchers.
func (m *LinearMatcher) Find(live *http.Request, liveBody []byte, interactions []*cassette.Interaction, consumed map[int]uint64) (int, bool) {
	for i, interaction := range interactions {
		if interaction.Type != cassette.InteractionHTTP {
			continue
		}
		if !m.strategy.Matches(live, liveBody, interaction.Request) {
			continue
		}
		if consumed[i] > 0 {
			// Already replayed at least once; only reuse it if every
			// other candidate has also been exhausted. We keep scanning
			// for a fresher interaction first.
			continue
		}
		return i, true
	}

	// No unconsumed match: fall back to the last interaction whose
	// signature matched, so repeated terminal requests stay satisfiable
	// (sticky replay, mirroring Index.Lookup).
	last := -1
	for i, interaction := range interactions {
		if interaction.Type != cassette.InteractionHTTP {
			continue
		}
		if m.strategy.Matches(live, liveBody, interaction.Request) {
			last = i
		}
	}
	if last >= 0 {
		return last, true
	}
	return -1, false
}
