// Package wsbridge bidirectionally pumps WebSocket frames between a
// client and the real upstream, recording every frame into the active
// cassette, and can replay a previously recorded session instead of
// dialing upstream at all.
package wsbridge

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
)

// frameBufferSize is a generous 64KiB per-connection buffer so ordinary
// frames never depend on fragmentation handling on either side of the
// bridge.
const frameBufferSize = 65536

// Upgrader is the shared gorilla/websocket upgrader used to accept
// client connections. CheckOrigin always allows: magneto is a local
// developer proxy, not a public-facing WebSocket server.
var Upgrader = websocket.Upgrader{
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  frameBufferSize,
	WriteBufferSize: frameBufferSize,
}

// Dialer is the shared dialer used to connect to the real upstream when
// bridging in a record-capable mode.
var Dialer = websocket.Dialer{
	ReadBufferSize:  frameBufferSize,
	WriteBufferSize: frameBufferSize,
}

// Session accumulates the frames of one live bridged WebSocket
// connection, to be handed to the recorder once the session ends.
type Session struct {
	log       zerolog.Logger
	URL       string
	start     time.Time
	messages  []cassette.WebSocketMessage
	closeFrame *cassette.CloseFrame
}

// NewSession starts accumulating frames for url.
func NewSession(url string, log zerolog.Logger) *Session {
	return &Session{log: log, URL: url, start: time.Now()}
}

// Messages returns every frame recorded so far.
func (s *Session) Messages() []cassette.WebSocketMessage {
	return s.messages
}

// CloseFrame returns the terminal frame observed, if any.
func (s *Session) CloseFrame() *cassette.CloseFrame {
	return s.closeFrame
}

func (s *Session) record(direction cassette.WebSocketDirection, msgType cassette.WebSocketMessageType, data []byte) {
	s.messages = append(s.messages, cassette.WebSocketMessage{
		Direction:   direction,
		TimestampMs: time.Since(s.start).Milliseconds(),
		MsgType:     msgType,
		Data:        append([]byte(nil), data...),
	})
}

func frameType(messageType int) (cassette.WebSocketMessageType, bool) {
	switch messageType {
	case websocket.TextMessage:
		return cassette.MessageText, true
	case websocket.BinaryMessage:
		return cassette.MessageBinary, true
	case websocket.PingMessage:
		return cassette.MessagePing, true
	case websocket.PongMessage:
		return cassette.MessagePong, true
	default:
		return "", false
	}
}

func wireFrameType(t cassette.WebSocketMessageType) int {
	switch t {
	case cassette.MessageText:
		return websocket.TextMessage
	case cassette.MessageBinary:
		return websocket.BinaryMessage
	case cassette.MessagePing:
		return websocket.PingMessage
	case cassette.MessagePong:
		return websocket.PongMessage
	default:
		return websocket.TextMessage
	}
}

// Bridge runs two pumps, client→upstream and upstream→client, each one
// mirroring every frame it forwards into session, and terminating the
// other pump once either side closes.
func Bridge(client, upstream *websocket.Conn, session *Session) {
	done := make(chan struct{}, 2)

	go pump(client, upstream, session, cassette.DirectionSent, done)
	go pump(upstream, client, session, cassette.DirectionReceived, done)

	<-done
	_ = client.Close()
	_ = upstream.Close()
	<-done
}

// pump copies frames from src to dst, recording each one into session
// under direction, until src closes or errors.
func pump(src, dst *websocket.Conn, session *Session, direction cassette.WebSocketDirection, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		messageType, data, err := src.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				session.closeFrame = &cassette.CloseFrame{Code: uint16(closeErr.Code), Reason: closeErr.Text}
			}
			return
		}

		if wsType, ok := frameType(messageType); ok {
			session.record(direction, wsType, data)
		}

		if err := dst.WriteMessage(messageType, data); err != nil {
			return
		}
	}
}

// defaultSentFrameGracePeriod bounds how long ReplayDrain waits for an
// expected Sent frame from the client before failing the session.
const defaultSentFrameGracePeriod = 5 * time.Second

// WebSocketError reports a bridge-level protocol violation: a replayed
// session expected a frame from the client that never arrived.
type WebSocketError struct {
	Reason string
}

func (e *WebSocketError) Error() string {
	return "wsbridge: " + e.Reason
}

// ReplayDrain replays a recorded session against conn in order: Received
// frames are emitted to the client, Sent frames are expected from the
// client and silently discarded (their content was already observed at
// record time, only their position in the sequence matters). An expected
// Sent frame that does not arrive within the default grace period fails
// the session with a *WebSocketError. closeFrame, if present, is sent
// once the sequence is exhausted.
func ReplayDrain(conn *websocket.Conn, messages []cassette.WebSocketMessage, closeFrame *cassette.CloseFrame) error {
	return ReplayDrainWithGracePeriod(conn, messages, closeFrame, defaultSentFrameGracePeriod)
}

// ReplayDrainWithGracePeriod is ReplayDrain with an explicit grace period,
// split out so tests can exercise the timeout path without waiting on the
// default.
func ReplayDrainWithGracePeriod(conn *websocket.Conn, messages []cassette.WebSocketMessage, closeFrame *cassette.CloseFrame, gracePeriod time.Duration) error {
	for _, msg := range messages {
		switch msg.Direction {
		case cassette.DirectionReceived:
			if err := conn.WriteMessage(wireFrameType(msg.MsgType), msg.Data); err != nil {
				return fmt.Errorf("wsbridge: replay frame: %w", err)
			}
		case cassette.DirectionSent:
			if err := conn.SetReadDeadline(time.Now().Add(gracePeriod)); err != nil {
				return fmt.Errorf("wsbridge: set read deadline: %w", err)
			}
			if _, _, err := conn.ReadMessage(); err != nil {
				return &WebSocketError{Reason: fmt.Sprintf("expected client frame did not arrive within %s: %v", gracePeriod, err)}
			}
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	if closeFrame != nil {
		return conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(int(closeFrame.Code), closeFrame.Reason),
			time.Now().Add(5*time.Second),
		)
	}
	return nil
}
