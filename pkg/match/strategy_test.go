package match

import (
	"net/http"
	"net/url"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
)

func liveRequest(t *testing.T, method, rawurl string, body []byte) *http.Request {
	t.Helper()
	u, err := url.Parse(rawurl)
	require.NoError(t, err)
	return &http.Request{Method: method, URL: u, Header: http.Header{}}
}

func recordedRequest(method, rawurl string, headers http.Header, body []byte) *cassette.HTTPRequest {
	if headers == nil {
		headers = http.Header{}
	}
	return &cassette.HTTPRequest{Method: method, URL: rawurl, Headers: headers, Body: body}
}

func TestDefaultStrategyExactMatch(t *testing.T) {
	s := DefaultStrategy()
	live := liveRequest(t, "GET", "https://api.example.com/widgets?id=1", nil)
	recorded := recordedRequest("GET", "https://api.example.com/widgets?id=1", nil, nil)

	assert.True(t, s.Matches(live, nil, recorded))
}

func TestDefaultStrategyMethodMismatch(t *testing.T) {
	s := DefaultStrategy()
	live := liveRequest(t, "POST", "https://api.example.com/widgets", nil)
	recorded := recordedRequest("GET", "https://api.example.com/widgets", nil, nil)

	assert.False(t, s.Matches(live, nil, recorded))
}

func TestURLIgnoreQuery(t *testing.T) {
	s := DefaultStrategy()
	s.URLMode = URLIgnoreQuery

	live := liveRequest(t, "GET", "https://api.example.com/widgets?cachebust=123", nil)
	recorded := recordedRequest("GET", "https://api.example.com/widgets?cachebust=456", nil, nil)

	assert.True(t, s.Matches(live, nil, recorded))
}

func TestURLIgnoreQueryParams(t *testing.T) {
	s := DefaultStrategy()
	s.URLMode = URLIgnoreQueryParams
	s.IgnoreQueryParams = []string{"timestamp"}

	live := liveRequest(t, "GET", "https://api.example.com/widgets?id=1&timestamp=111", nil)
	recorded := recordedRequest("GET", "https://api.example.com/widgets?timestamp=999&id=1", nil, nil)

	assert.True(t, s.Matches(live, nil, recorded))

	recordedDifferentID := recordedRequest("GET", "https://api.example.com/widgets?id=2&timestamp=999", nil, nil)
	assert.False(t, s.Matches(live, nil, recordedDifferentID))
}

func TestURLPathOnly(t *testing.T) {
	s := DefaultStrategy()
	s.URLMode = URLPathOnly

	live := liveRequest(t, "GET", "https://api.example.com/widgets/42?x=1", nil)
	recorded := recordedRequest("GET", "http://other-host/widgets/42", nil, nil)

	assert.True(t, s.Matches(live, nil, recorded))
}

func TestURLRegex(t *testing.T) {
	s := DefaultStrategy()
	s.URLMode = URLRegex
	s.URLPattern = regexp.MustCompile(`/widgets/\d+$`)

	live := liveRequest(t, "GET", "https://api.example.com/widgets/42", nil)
	recorded := recordedRequest("GET", "https://api.example.com/widgets/42", nil, nil)

	assert.True(t, s.Matches(live, nil, recorded))
}

func TestBodyHashMatch(t *testing.T) {
	s := DefaultStrategy()
	live := liveRequest(t, "POST", "https://api.example.com/widgets", []byte(`{"a":1}`))
	recorded := recordedRequest("POST", "https://api.example.com/widgets", nil, []byte(`{"a":1}`))

	assert.True(t, s.Matches(live, []byte(`{"a":1}`), recorded))

	recordedDifferent := recordedRequest("POST", "https://api.example.com/widgets", nil, []byte(`{"a":2}`))
	assert.False(t, s.Matches(live, []byte(`{"a":1}`), recordedDifferent))
}

func TestBodyIgnore(t *testing.T) {
	s := DefaultStrategy()
	s.BodyMode = BodyIgnore
	live := liveRequest(t, "POST", "https://api.example.com/widgets", []byte(`anything`))
	recorded := recordedRequest("POST", "https://api.example.com/widgets", nil, []byte(`something else`))

	assert.True(t, s.Matches(live, []byte(`anything`), recorded))
}

func TestBodySizeOnly(t *testing.T) {
	s := DefaultStrategy()
	s.BodyMode = BodySizeOnly
	live := liveRequest(t, "POST", "https://api.example.com/widgets", []byte(`abcd`))
	recorded := recordedRequest("POST", "https://api.example.com/widgets", nil, []byte(`wxyz`))

	assert.True(t, s.Matches(live, []byte(`abcd`), recorded))

	recordedShorter := recordedRequest("POST", "https://api.example.com/widgets", nil, []byte(`ab`))
	assert.False(t, s.Matches(live, []byte(`abcd`), recordedShorter))
}

func TestBodyJSONPath(t *testing.T) {
	s := DefaultStrategy()
	s.BodyMode = BodyJSONPath
	s.BodyPath = "user.id"

	live := liveRequest(t, "POST", "https://api.example.com/widgets", nil)
	liveBody := []byte(`{"user":{"id":42,"name":"a"}}`)
	recorded := recordedRequest("POST", "https://api.example.com/widgets", nil, []byte(`{"user":{"id":42,"name":"b"}}`))

	assert.True(t, s.Matches(live, liveBody, recorded))

	recordedDifferent := recordedRequest("POST", "https://api.example.com/widgets", nil, []byte(`{"user":{"id":43,"name":"a"}}`))
	assert.False(t, s.Matches(live, liveBody, recordedDifferent))
}

func TestMatchHeadersWithIgnore(t *testing.T) {
	s := DefaultStrategy()
	s.MatchHeaders = []string{"Authorization", "X-Request-Id"}
	s = s.WithIgnoreHeader("X-Request-Id")

	live := liveRequest(t, "GET", "https://api.example.com/widgets", nil)
	live.Header.Set("Authorization", "Bearer abc")
	live.Header.Set("X-Request-Id", "live-id")

	recorded := recordedRequest("GET", "https://api.example.com/widgets", http.Header{
		"Authorization": []string{"Bearer abc"},
		"X-Request-Id":  []string{"recorded-id"},
	}, nil)

	assert.True(t, s.Matches(live, nil, recorded))
}

func TestIsDefault(t *testing.T) {
	assert.True(t, DefaultStrategy().IsDefault())

	custom := DefaultStrategy()
	custom.MatchHeaders = []string{"X-Test"}
	assert.False(t, custom.IsDefault())
}
