package player

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"testing"

	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
	"github.com/taciclei/magneto-serge-sub000/pkg/match"
)

// ReplayAssertFunc asserts the outcome of replaying one recorded
// interaction against a handler under test. Adapted from go-vcr's
// cassette.ReplayAssertFunc, now parameterized over *Player instead of a
// raw cassette so it benefits from the same matching engine used at
// runtime.
type ReplayAssertFunc func(t *testing.T, expected *cassette.Interaction, actual *httptest.ResponseRecorder)

// DefaultReplayAssertFunc compares status code, body, and headers.
var DefaultReplayAssertFunc ReplayAssertFunc = func(t *testing.T, expected *cassette.Interaction, actual *httptest.ResponseRecorder) {
	t.Helper()
	if expected.Response.Status != actual.Result().StatusCode {
		t.Errorf("status code does not match: expected=%d actual=%d", expected.Response.Status, actual.Result().StatusCode)
	}

	if !bytes.Equal(expected.Response.Body, actual.Body.Bytes()) {
		t.Errorf("body does not match: expected=%s actual=%s", expected.Response.Body, actual.Body.String())
	}

	if !headersEqual(expected.Response.Headers, actual.Header()) {
		t.Errorf("header values do not match. expected=%v actual=%v", expected.Response.Headers, actual.Header())
	}
}

// ReplayTestServer loads path with store and replays every HTTP
// interaction it contains against handler, asserting each with
// DefaultReplayAssertFunc. This is the generalized, still-kept
// descendant of go-vcr's cassette.TestServerReplay. The cassette is
// loaded through player.Load, but each recorded HTTP interaction is then
// replayed in cassette order; the matcher's Find is not called.
func ReplayTestServer(t *testing.T, store *cassette.Store, path string, strategy match.Strategy, handler http.Handler) {
	t.Helper()

	p, err := Load(store, path, strategy)
	if err != nil {
		t.Fatalf("unexpected error loading cassette: %v", err)
	}

	found := 0
	for idx, interaction := range p.Cassette().Interactions {
		if interaction.Type != cassette.InteractionHTTP {
			continue
		}
		found++
		t.Run(fmt.Sprintf("Interaction_%d", idx), func(t *testing.T) {
			ReplayInteraction(t, handler, interaction)
		})
	}

	if found == 0 {
		t.Error("no HTTP interactions in cassette")
	}
}

// ReplayInteraction replays a single HTTP interaction against handler
// and asserts the result with DefaultReplayAssertFunc.
func ReplayInteraction(t *testing.T, handler http.Handler, interaction *cassette.Interaction) {
	t.Helper()

	if interaction.Type != cassette.InteractionHTTP {
		t.Fatalf("interaction is not an HTTP interaction: %s", interaction.Type)
	}

	u, err := url.Parse(interaction.Request.URL)
	if err != nil {
		t.Fatalf("unexpected error parsing interaction url: %v", err)
	}

	req := &http.Request{
		Method: interaction.Request.Method,
		URL:    u,
		Header: interaction.Request.Headers,
		Body:   io.NopCloser(bytes.NewReader(interaction.Request.Body)),
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	DefaultReplayAssertFunc(t, interaction, w)
}

func headersEqual(expected, actual http.Header) bool {
	return maps.EqualFunc(
		expected, actual,
		func(v1, v2 []string) bool {
			v1, v2 = slices.Clone(v1), slices.Clone(v2)
			slices.Sort(v1)
			slices.Sort(v2)
			return slices.Equal(v1, v2)
		},
	)
}
