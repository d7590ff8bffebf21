// Package player resolves live requests against a loaded cassette,
// replays matching WebSocket sessions, simulates latency, and expands
// response-body templates. It is a new component: the
// go-vcr has no standalone replay abstraction, only the
// ModeReplayOnly/ModeReplayWithNewEpisodes branches inside
// recorder.requestHandler and its test-only replay harness, whose
// counterpart here is ReplayTestServer in testserver.go.
package player

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
	"github.com/taciclei/magneto-serge-sub000/pkg/match"
)

// Player holds shared, read-only ownership of a loaded cassette. All exported methods are safe for concurrent use.
type Player struct {
	cassette *cassette.Cassette
	strategy match.Strategy
	matcher  *match.Matcher
	strict   bool

	mu        sync.Mutex
	wsCursors map[string]int
}

// Load reads path via store, auto-detecting format, and builds the
// fast-path index for strategy. A missing cassette is a recoverable
// miss for non-strict callers: the player starts from an empty cassette
// and every lookup misses.
func Load(store *cassette.Store, path string, strategy match.Strategy) (*Player, error) {
	c, err := store.Load(path)
	if errors.Is(err, cassette.ErrCassetteNotFound) {
		c, err = cassette.New(filepath.Base(path)), nil
	}
	if err != nil {
		return nil, err
	}
	return newPlayer(c, strategy, false), nil
}

// LoadStrict is Load but a missing cassette is returned as an error, and
// the player is marked strict: missing interactions during service
// become unrecoverable errors rather than recoverable misses.
func LoadStrict(store *cassette.Store, path string, strategy match.Strategy) (*Player, error) {
	c, err := store.Load(path)
	if err != nil {
		return nil, err
	}
	return newPlayer(c, strategy, true), nil
}

func newPlayer(c *cassette.Cassette, strategy match.Strategy, strict bool) *Player {
	return &Player{
		cassette:  c,
		strategy:  strategy,
		matcher:   match.NewMatcher(strategy, c.Interactions),
		strict:    strict,
		wsCursors: make(map[string]int),
	}
}

// IsStrict reports whether this player was loaded via LoadStrict.
func (p *Player) IsStrict() bool {
	return p.strict
}

// Cassette returns the underlying cassette. Callers must treat it as
// read-only; only the Recorder mutates a cassette in place.
func (p *Player) Cassette() *cassette.Cassette {
	return p.cassette
}

// Find resolves a live request against the player's configured
// strategy, returning the matching interaction and incrementing its
// replay counter.
func (p *Player) Find(req *http.Request, body []byte) (*cassette.Interaction, bool) {
	pos, ok := p.matcher.Match(req, body)
	if !ok {
		return nil, false
	}
	return p.cassette.Interactions[pos], true
}

// FindAdvanced applies an explicit strategy override for this single
// lookup instead of the player's configured default. Because the
// override is ad hoc, this always falls back to a linear scan rather
// than consulting a prebuilt index.
func (p *Player) FindAdvanced(strategy match.Strategy, req *http.Request, body []byte) (*cassette.Interaction, bool) {
	linear := match.NewLinearMatcher(strategy)
	consumed := make(map[int]uint64, len(p.cassette.Interactions))
	for i, interaction := range p.cassette.Interactions {
		consumed[i] = interaction.ReplayCount()
	}
	pos, ok := linear.Find(req, body, p.cassette.Interactions, consumed)
	if !ok {
		return nil, false
	}
	p.cassette.Interactions[pos].MarkReplayed()
	return p.cassette.Interactions[pos], true
}

// websocketSessions returns the positions of every WebSocket interaction
// recorded for url, in recording order.
func (p *Player) websocketSessions(url string) []int {
	var positions []int
	for i, interaction := range p.cassette.Interactions {
		if interaction.Type == cassette.InteractionWebSocket && interaction.URL == url {
			positions = append(positions, i)
		}
	}
	return positions
}

// PeekWebSocket returns the next unconsumed WebSocket session recorded
// for url without advancing the per-URL cursor.
func (p *Player) PeekWebSocket(url string) (*cassette.Interaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	positions := p.websocketSessions(url)
	cursor := p.wsCursors[url]
	if cursor >= len(positions) {
		return nil, false
	}
	return p.cassette.Interactions[positions[cursor]], true
}

// ConsumeWebSocket returns the full message list and close frame of the
// next unreplayed WebSocket session for url, advancing the per-URL
// cursor. Once every recorded session for url has been consumed, it
// returns ErrNoMoreWebSocketSessions.
func (p *Player) ConsumeWebSocket(url string) ([]cassette.WebSocketMessage, *cassette.CloseFrame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	positions := p.websocketSessions(url)
	cursor := p.wsCursors[url]
	if cursor >= len(positions) {
		return nil, nil, fmt.Errorf("%w: %s", cassette.ErrNoMoreWebSocketSessions, url)
	}

	interaction := p.cassette.Interactions[positions[cursor]]
	p.wsCursors[url] = cursor + 1
	interaction.MarkReplayed()
	return interaction.Messages, interaction.CloseFrame, nil
}

// PrepareResponse expands a matched interaction's response body if it
// looks like a template, leaving non-template bodies byte-for-byte
// untouched. environ is injected rather than read
// directly from os.Environ so tests can control it; pass os.Getenv for
// production use.
func PrepareResponse(resp *cassette.HTTPResponse, liveReq *http.Request, liveBody []byte, environ func(string) string) ([]byte, error) {
	if environ == nil {
		environ = os.Getenv
	}
	if !IsTemplate(resp.Body) {
		return resp.Body, nil
	}
	return ExpandTemplate(resp.Body, liveReq, liveBody, environ)
}
