package cassette

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddHTTPRejectsEmptyMethod(t *testing.T) {
	c := New("session")
	_, err := c.AddHTTP(HTTPRequest{URL: "https://example.com"}, HTTPResponse{Status: 200})
	assert.ErrorIs(t, err, ErrInvalidMethod)
	assert.Empty(t, c.Interactions)
}

func TestAddHTTPRejectsOutOfRangeStatus(t *testing.T) {
	c := New("session")
	req := HTTPRequest{Method: "GET", URL: "https://example.com"}

	_, err := c.AddHTTP(req, HTTPResponse{Status: 99})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = c.AddHTTP(req, HTTPResponse{Status: 600})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	assert.Empty(t, c.Interactions)
}

func TestAddHTTPAppendsValidInteraction(t *testing.T) {
	c := New("session")
	req := HTTPRequest{Method: "GET", URL: "https://example.com", Headers: http.Header{}}
	resp := HTTPResponse{Status: 200, Headers: http.Header{}}

	interaction, err := c.AddHTTP(req, resp)
	require.NoError(t, err)
	require.NotNil(t, interaction)
	assert.Equal(t, InteractionHTTP, interaction.Type)
	assert.Len(t, c.Interactions, 1)
}

func TestAddErrorRejectsEmptyMethod(t *testing.T) {
	c := New("session")
	_, err := c.AddError(HTTPRequest{URL: "https://example.com"}, NetworkError{Kind: NetworkErrorTimeout})
	assert.ErrorIs(t, err, ErrInvalidMethod)
	assert.Empty(t, c.Interactions)
}

func TestAddErrorAppendsValidInteraction(t *testing.T) {
	c := New("session")
	req := HTTPRequest{Method: "GET", URL: "https://example.com"}
	netErr := NetworkError{Kind: NetworkErrorConnectionRefused, Message: "connection refused"}

	interaction, err := c.AddError(req, netErr)
	require.NoError(t, err)
	require.NotNil(t, interaction)
	assert.Equal(t, InteractionHTTPError, interaction.Type)
	assert.Equal(t, &netErr, interaction.Error)
}

func TestAddWebSocketRejectsNonMonotonicTimestamps(t *testing.T) {
	c := New("session")
	messages := []WebSocketMessage{
		{Direction: DirectionSent, MsgType: MessageText, TimestampMs: 100, Data: []byte("a")},
		{Direction: DirectionReceived, MsgType: MessageText, TimestampMs: 50, Data: []byte("b")},
	}

	_, err := c.AddWebSocket("wss://example.com/ws", messages, nil)
	assert.ErrorIs(t, err, ErrNonMonotonicTimestamp)
	assert.Empty(t, c.Interactions)
}

func TestAddWebSocketAcceptsNonDecreasingTimestamps(t *testing.T) {
	c := New("session")
	messages := []WebSocketMessage{
		{Direction: DirectionSent, MsgType: MessageText, TimestampMs: 50, Data: []byte("a")},
		{Direction: DirectionReceived, MsgType: MessageText, TimestampMs: 50, Data: []byte("b")},
		{Direction: DirectionReceived, MsgType: MessageText, TimestampMs: 75, Data: []byte("c")},
	}

	interaction, err := c.AddWebSocket("wss://example.com/ws", messages, &CloseFrame{Code: 1000, Reason: "bye"})
	require.NoError(t, err)
	require.NotNil(t, interaction)
	assert.Equal(t, InteractionWebSocket, interaction.Type)
	assert.Len(t, interaction.Messages, 3)
}

func TestMarkReplayedSaturatesAtMaxUint64(t *testing.T) {
	i := &Interaction{replayCount: ^uint64(0)}
	i.MarkReplayed()
	assert.Equal(t, ^uint64(0), i.ReplayCount())
}
