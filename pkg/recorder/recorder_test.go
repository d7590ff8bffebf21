package recorder

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
)

func newTestRecorder(t *testing.T) (*Recorder, *cassette.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := cassette.NewStore()
	t.Cleanup(store.Close)

	rec := New(store)
	path := filepath.Join(dir, "session.json")
	require.NoError(t, rec.StartRecording("session", path, cassette.FormatJSON, false))
	return rec, store, path
}

func liveReq(t *testing.T, method, rawurl string) *http.Request {
	t.Helper()
	u, err := url.Parse(rawurl)
	require.NoError(t, err)
	return &http.Request{Method: method, URL: u, Header: http.Header{}}
}

func TestRecordHTTPAppendsAndSaves(t *testing.T) {
	rec, _, path := newTestRecorder(t)

	req := liveReq(t, "GET", "https://api.example.com/widgets")
	resp := &http.Response{StatusCode: 200, Header: http.Header{"Content-Type": []string{"application/json"}}}

	interaction, err := rec.RecordHTTP(req, nil, resp, []byte(`{"ok":true}`), nil)
	require.NoError(t, err)
	require.NotNil(t, interaction)
	assert.Equal(t, cassette.InteractionHTTP, interaction.Type)

	require.NoError(t, rec.StopRecording())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestRecordHTTPFilteredDrops(t *testing.T) {
	rec, _, _ := newTestRecorder(t)
	rec.SetFilters(FilterChain{
		Admitters: []AdmitFunc{ExcludeStatus(204)},
	})

	req := liveReq(t, "GET", "https://api.example.com/widgets")
	resp := &http.Response{StatusCode: 204, Header: http.Header{}}

	interaction, err := rec.RecordHTTP(req, nil, resp, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, interaction)
}

func TestRecordHTTPRedactsHeaders(t *testing.T) {
	rec, _, _ := newTestRecorder(t)
	rec.SetFilters(FilterChain{
		Transforms: []TransformFunc{RedactHeaders("Authorization")},
	})

	req := liveReq(t, "GET", "https://api.example.com/widgets")
	req.Header.Set("Authorization", "Bearer secret")
	resp := &http.Response{StatusCode: 200, Header: http.Header{}}

	interaction, err := rec.RecordHTTP(req, nil, resp, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, interaction)
	assert.Equal(t, RedactedPlaceholder, interaction.Request.Headers.Get("Authorization"))
}

func TestBeforeRecordHookCanAbort(t *testing.T) {
	rec, _, _ := newTestRecorder(t)
	rec.AddHook(BeforeRecord, func(i *cassette.Interaction) error {
		return assert.AnError
	})

	req := liveReq(t, "GET", "https://api.example.com/widgets")
	resp := &http.Response{StatusCode: 200, Header: http.Header{}}

	interaction, err := rec.RecordHTTP(req, nil, resp, nil, nil)
	assert.Error(t, err)
	assert.Nil(t, interaction)
	assert.Empty(t, rec.Cassette().Interactions)
}

func TestRecordErrorAppendsNetworkError(t *testing.T) {
	rec, _, _ := newTestRecorder(t)

	req := liveReq(t, "GET", "https://api.example.com/widgets")
	netErr := cassette.NetworkError{Kind: cassette.NetworkErrorTimeout, Message: "deadline exceeded"}

	interaction, err := rec.RecordError(req, nil, netErr)
	require.NoError(t, err)
	require.NotNil(t, interaction)
	assert.Equal(t, cassette.InteractionHTTPError, interaction.Type)
}

func TestStateTransitions(t *testing.T) {
	dir := t.TempDir()
	store := cassette.NewStore()
	defer store.Close()
	rec := New(store)

	assert.Equal(t, StateIdle, rec.State())

	path := filepath.Join(dir, "s.json")
	require.NoError(t, rec.StartRecording("s", path, cassette.FormatJSON, false))
	assert.Equal(t, StateRecording, rec.State())

	assert.ErrorIs(t, rec.StartRecording("s", path, cassette.FormatJSON, false), ErrAlreadyRecording)

	require.NoError(t, rec.StopRecording())
	assert.Equal(t, StateIdle, rec.State())

	assert.ErrorIs(t, rec.StopRecording(), ErrNotRecording)
}

func TestStoreCookiesAppendsToCassetteJar(t *testing.T) {
	rec, _, _ := newTestRecorder(t)

	u, err := url.Parse("https://api.example.com/widgets")
	require.NoError(t, err)
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{"Set-Cookie": []string{"session=abc123; Path=/; HttpOnly"}},
	}

	rec.StoreCookies(u, resp)

	cookies := rec.Cassette().Cookies
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
	assert.Equal(t, "abc123", cookies[0].Value)
	assert.True(t, cookies[0].HTTPOnly)
	require.NotNil(t, cookies[0].Domain)
	assert.Equal(t, "api.example.com", *cookies[0].Domain)
}

func TestStoreCookiesNoopWhenIdle(t *testing.T) {
	store := cassette.NewStore()
	t.Cleanup(store.Close)
	rec := New(store)

	u, err := url.Parse("https://api.example.com/widgets")
	require.NoError(t, err)
	resp := &http.Response{Header: http.Header{"Set-Cookie": []string{"session=abc123"}}}

	rec.StoreCookies(u, resp) // should not panic with no active cassette
}

func TestCookieHeaderReflectsStoredJar(t *testing.T) {
	rec, _, _ := newTestRecorder(t)

	u, err := url.Parse("https://api.example.com/widgets")
	require.NoError(t, err)
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{"Set-Cookie": []string{"session=abc123; Path=/"}},
	}
	rec.StoreCookies(u, resp)

	assert.Equal(t, "session=abc123", rec.CookieHeader(u))

	other, err := url.Parse("https://other.example.com/widgets")
	require.NoError(t, err)
	assert.Empty(t, rec.CookieHeader(other))
}

func TestHTTPMiddlewareRecords(t *testing.T) {
	rec, _, _ := newTestRecorder(t)

	handler := rec.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/greet", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, rec.Cassette().Interactions, 1)
}
