package cassette

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCassette(t *testing.T) *Cassette {
	t.Helper()
	c := New("round-trip")

	_, err := c.AddHTTP(
		HTTPRequest{
			Method:  "POST",
			URL:     "https://api.example.com/widgets",
			Headers: http.Header{"Content-Type": {"application/json"}},
			Body:    []byte(`{"name":"widget"}`),
		},
		HTTPResponse{
			Status:  201,
			Headers: http.Header{"Content-Type": {"application/json"}},
			Body:    []byte(`{"id":"1"}`),
		},
	)
	require.NoError(t, err)

	_, err = c.AddHTTP(
		HTTPRequest{Method: "GET", URL: "https://api.example.com/binary", Headers: http.Header{}},
		HTTPResponse{Status: 200, Headers: http.Header{}, Body: []byte{0xff, 0x00, 0xde, 0xad}},
	)
	require.NoError(t, err)

	_, err = c.AddError(
		HTTPRequest{Method: "GET", URL: "https://api.example.com/down", Headers: http.Header{}},
		NetworkError{Kind: NetworkErrorTimeout, Message: "deadline exceeded"},
	)
	require.NoError(t, err)

	_, err = c.AddWebSocket(
		"wss://api.example.com/stream",
		[]WebSocketMessage{
			{Direction: DirectionSent, MsgType: MessageText, TimestampMs: 10, Data: []byte("ping")},
			{Direction: DirectionReceived, MsgType: MessageText, TimestampMs: 20, Data: []byte("pong")},
		},
		&CloseFrame{Code: 1000, Reason: "done"},
	)
	require.NoError(t, err)

	domain := "api.example.com"
	c.Cookies = []Cookie{{Name: "session", Value: "abc123", Domain: &domain}}

	return c
}

func assertRoundTripsCleanly(t *testing.T, original, loaded *Cassette) {
	t.Helper()

	assert.Equal(t, original.Name, loaded.Name)
	assert.Equal(t, original.Version, loaded.Version)
	require.Len(t, loaded.Interactions, len(original.Interactions))
	require.Len(t, loaded.Cookies, len(original.Cookies))
	assert.Equal(t, original.Cookies[0].Name, loaded.Cookies[0].Name)
	assert.Equal(t, original.Cookies[0].Value, loaded.Cookies[0].Value)

	httpOut := loaded.Interactions[0]
	httpIn := original.Interactions[0]
	assert.Equal(t, httpIn.Request.Method, httpOut.Request.Method)
	assert.Equal(t, httpIn.Request.URL, httpOut.Request.URL)
	assert.Equal(t, httpIn.Request.Body, httpOut.Request.Body)
	assert.Equal(t, httpIn.Response.Status, httpOut.Response.Status)
	assert.Equal(t, httpIn.Response.Body, httpOut.Response.Body)

	binOut := loaded.Interactions[1]
	binIn := original.Interactions[1]
	assert.Equal(t, binIn.Response.Body, binOut.Response.Body, "non-UTF-8 body must survive the round trip")

	errOut := loaded.Interactions[2]
	errIn := original.Interactions[2]
	assert.Equal(t, errIn.Error.Kind, errOut.Error.Kind)
	assert.Equal(t, errIn.Error.Message, errOut.Error.Message)

	wsOut := loaded.Interactions[3]
	wsIn := original.Interactions[3]
	assert.Equal(t, wsIn.URL, wsOut.URL)
	require.Len(t, wsOut.Messages, len(wsIn.Messages))
	for i := range wsIn.Messages {
		assert.Equal(t, wsIn.Messages[i].Direction, wsOut.Messages[i].Direction)
		assert.Equal(t, wsIn.Messages[i].Data, wsOut.Messages[i].Data)
	}
	require.NotNil(t, wsOut.CloseFrame)
	assert.Equal(t, wsIn.CloseFrame.Code, wsOut.CloseFrame.Code)
}

func TestStoreSaveLoadRoundTripJSON(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)

	original := sampleCassette(t)
	path := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, store.Save(original, path, FormatJSON))

	loaded, err := store.Load(path)
	require.NoError(t, err)

	assertRoundTripsCleanly(t, original, loaded)
}

func TestStoreSaveLoadRoundTripMsgpack(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)

	original := sampleCassette(t)
	path := filepath.Join(t.TempDir(), "session.msgpack")

	require.NoError(t, store.Save(original, path, FormatMsgpack))

	loaded, err := store.Load(path)
	require.NoError(t, err)

	assertRoundTripsCleanly(t, original, loaded)
}

func TestStoreLoadMissingFileReturnsNotFound(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)

	_, err := store.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrCassetteNotFound)
}

func TestStoreLoadUnsupportedExtension(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)

	_, err := store.Load(filepath.Join(t.TempDir(), "session.yaml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestStoreStatReportsInteractionCount(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)

	original := sampleCassette(t)
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, store.Save(original, path, FormatJSON))

	meta, err := store.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, original.Name, meta.Name)
	assert.Equal(t, len(original.Interactions), meta.InteractionCount)
}

func TestSaveAsyncEventuallyPersists(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)

	original := sampleCassette(t)
	path := filepath.Join(t.TempDir(), "session.json")

	store.SaveAsync(original, path, FormatJSON)
	store.Close() // drains the queue before returning

	loaded, err := store.Load(path)
	require.NoError(t, err)
	assertRoundTripsCleanly(t, original, loaded)
}
