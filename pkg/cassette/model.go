package cassette

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// Headers is the wire shape of an HTTP header set: a name to ordered list
// of values mapping, matching net/http.Header's shape since a header can
// legally repeat.
type Headers = http.Header

// FormatVersion identifies the schema of a serialized cassette.
type FormatVersion string

const (
	// FormatVersion1 is the legacy schema: interactions only, no cookie jar.
	FormatVersion1 FormatVersion = "1.0"

	// FormatVersion2 adds the optional cookie jar snapshot.
	FormatVersion2 FormatVersion = "2.0"
)

// InteractionType discriminates the tagged union stored in Interaction.
type InteractionType string

const (
	// InteractionHTTP is a plain request/response exchange.
	InteractionHTTP InteractionType = "Http"

	// InteractionHTTPError is a request that failed before a response was
	// received, e.g. a DNS failure or a timeout.
	InteractionHTTPError InteractionType = "HttpError"

	// InteractionWebSocket is a full WebSocket session.
	InteractionWebSocket InteractionType = "WebSocket"
)

// NetworkErrorKind enumerates the causes a live request can fail with
// upstream.
type NetworkErrorKind string

const (
	NetworkErrorDNS              NetworkErrorKind = "DnsResolutionFailed"
	NetworkErrorConnectionRefused NetworkErrorKind = "ConnectionRefused"
	NetworkErrorTimeout           NetworkErrorKind = "Timeout"
	NetworkErrorTLS               NetworkErrorKind = "TlsError"
	NetworkErrorConnectionReset   NetworkErrorKind = "ConnectionReset"
	NetworkErrorTooManyRedirects  NetworkErrorKind = "TooManyRedirects"
	NetworkErrorOther             NetworkErrorKind = "Other"
)

// NetworkError records why an upstream request could not be completed.
type NetworkError struct {
	Kind          NetworkErrorKind `json:"error_type" msgpack:"error_type" yaml:"error_type"`
	Message       string           `json:"message" msgpack:"message" yaml:"message"`
	TimeoutMs     *int64           `json:"timeout_ms,omitempty" msgpack:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	RedirectCount *int             `json:"redirect_count,omitempty" msgpack:"redirect_count,omitempty" yaml:"redirect_count,omitempty"`
}

// HTTPRequest is the recorded shape of a client request.
type HTTPRequest struct {
	Method string `json:"-" msgpack:"method" yaml:"method"`
	URL    string `json:"-" msgpack:"url" yaml:"url"`

	// Headers preserves the header names exactly as they were received;
	// comparisons elsewhere treat names case-insensitively.
	Headers Headers `json:"-" msgpack:"headers" yaml:"headers"`

	// Body holds the raw request bytes. Nil means "no body", which is
	// distinct from an explicit empty body only at the Go level: both
	// hash identically (see pkg/match).
	Body []byte `json:"-" msgpack:"body,omitempty" yaml:"body,omitempty"`

	// BodyEncoding is not set by either format. MarshalJSON/UnmarshalJSON
	// write and read the "base64" marker for non-UTF-8 bodies on their own
	// wire form, and msgpack stores raw bytes natively, so this field
	// stays empty after a load and is ignored on save.
	BodyEncoding string `json:"-" msgpack:"-" yaml:"body_encoding,omitempty"`
}

// MarshalJSON renders the body as a plain string when it is valid UTF-8
// (the common case, kept human-auditable in the text cassette format) and
// as base64 otherwise, recording the choice in body_encoding.
func (r HTTPRequest) MarshalJSON() ([]byte, error) {
	return marshalHTTPBody(r.Method, r.URL, r.Headers, r.Body)
}

// UnmarshalJSON reverses MarshalJSON.
func (r *HTTPRequest) UnmarshalJSON(data []byte) error {
	var w wireHTTPMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Method = w.Method
	r.URL = w.URL
	r.Headers = w.Headers
	body, err := w.decodeBody()
	if err != nil {
		return err
	}
	r.Body = body
	return nil
}

// HTTPResponse is the recorded shape of a server response.
type HTTPResponse struct {
	Status  int     `json:"-" msgpack:"status" yaml:"status"`
	Headers Headers `json:"-" msgpack:"headers" yaml:"headers"`
	Body    []byte  `json:"-" msgpack:"body,omitempty" yaml:"body,omitempty"`

	BodyEncoding string `json:"-" msgpack:"-" yaml:"body_encoding,omitempty"`
}

// MarshalJSON renders the body using the same text/base64 convention as
// HTTPRequest.MarshalJSON.
func (r HTTPResponse) MarshalJSON() ([]byte, error) {
	w := wireHTTPMessage{Status: r.Status, Headers: r.Headers}
	return marshalWire(w, r.Body)
}

// UnmarshalJSON reverses MarshalJSON.
func (r *HTTPResponse) UnmarshalJSON(data []byte) error {
	var w wireHTTPMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Status = w.Status
	r.Headers = w.Headers
	body, err := w.decodeBody()
	if err != nil {
		return err
	}
	r.Body = body
	return nil
}

// wireHTTPMessage is the on-the-wire JSON shape shared by HTTPRequest and
// HTTPResponse: it carries Body as a string (either plain text or base64)
// alongside the marker that says which.
type wireHTTPMessage struct {
	Method       string  `json:"method,omitempty"`
	URL          string  `json:"url,omitempty"`
	Status       int     `json:"status,omitempty"`
	Headers      Headers `json:"headers"`
	Body         string  `json:"body,omitempty"`
	BodyEncoding string  `json:"body_encoding,omitempty"`
}

func (w wireHTTPMessage) decodeBody() ([]byte, error) {
	if w.Body == "" {
		return nil, nil
	}
	if w.BodyEncoding == base64Encoding {
		return base64.StdEncoding.DecodeString(w.Body)
	}
	return []byte(w.Body), nil
}

func marshalHTTPBody(method, url string, headers Headers, body []byte) ([]byte, error) {
	w := wireHTTPMessage{Method: method, URL: url, Headers: headers}
	return marshalWire(w, body)
}

func marshalWire(w wireHTTPMessage, body []byte) ([]byte, error) {
	if len(body) > 0 {
		if utf8.Valid(body) {
			w.Body = string(body)
		} else {
			w.Body = base64.StdEncoding.EncodeToString(body)
			w.BodyEncoding = base64Encoding
		}
	}
	return json.Marshal(w)
}

// WebSocketDirection tags which side originated a recorded frame.
type WebSocketDirection string

const (
	DirectionSent     WebSocketDirection = "Sent"
	DirectionReceived WebSocketDirection = "Received"
)

// WebSocketMessageType enumerates frame payload kinds.
type WebSocketMessageType string

const (
	MessageText   WebSocketMessageType = "Text"
	MessageBinary WebSocketMessageType = "Binary"
	MessagePing   WebSocketMessageType = "Ping"
	MessagePong   WebSocketMessageType = "Pong"
)

// WebSocketMessage is a single recorded frame within a session.
type WebSocketMessage struct {
	Direction   WebSocketDirection   `json:"direction" msgpack:"direction" yaml:"direction"`
	TimestampMs int64                `json:"timestamp_ms" msgpack:"timestamp_ms" yaml:"timestamp_ms"`
	MsgType     WebSocketMessageType `json:"msg_type" msgpack:"msg_type" yaml:"msg_type"`
	Data        []byte               `json:"data" msgpack:"data" yaml:"data"`
}

// CloseFrame is the terminal frame of a WebSocket session, if one was seen.
type CloseFrame struct {
	Code   uint16 `json:"code" msgpack:"code" yaml:"code"`
	Reason string `json:"reason" msgpack:"reason" yaml:"reason"`
}

// Interaction is one recorded event in a Cassette. Exactly one of HTTP,
// Error or WebSocket is populated, selected by Type.
type Interaction struct {
	Type       InteractionType `json:"type" msgpack:"type" yaml:"type"`
	RecordedAt time.Time       `json:"recorded_at" msgpack:"recorded_at" yaml:"recorded_at"`

	// ResponseTimeMs is the observed upstream latency, used by the player's
	// LatencyMode.Recorded mode. Only meaningful for InteractionHTTP.
	ResponseTimeMs *int64 `json:"response_time_ms,omitempty" msgpack:"response_time_ms,omitempty" yaml:"response_time_ms,omitempty"`

	// InteractionHTTP fields.
	Request  *HTTPRequest  `json:"request,omitempty" msgpack:"request,omitempty" yaml:"request,omitempty"`
	Response *HTTPResponse `json:"response,omitempty" msgpack:"response,omitempty" yaml:"response,omitempty"`

	// InteractionHTTPError fields (Request above is reused).
	Error *NetworkError `json:"error,omitempty" msgpack:"error,omitempty" yaml:"error,omitempty"`

	// InteractionWebSocket fields.
	URL        string              `json:"url,omitempty" msgpack:"url,omitempty" yaml:"url,omitempty"`
	Messages   []WebSocketMessage  `json:"messages,omitempty" msgpack:"messages,omitempty" yaml:"messages,omitempty"`
	CloseFrame *CloseFrame         `json:"close_frame,omitempty" msgpack:"close_frame,omitempty" yaml:"close_frame,omitempty"`

	// replayCount tracks how many times this interaction has been handed
	// back by the matcher (fast-path index or linear scan) or consumed as
	// a WebSocket session, supporting sequential replay
	// of cassettes that recorded the same signature multiple times.
	replayCount uint64 `json:"-" msgpack:"-" yaml:"-"`
}

// ReplayCount returns how many times this interaction has been served by a
// Player's lookup.
func (i *Interaction) ReplayCount() uint64 {
	return i.replayCount
}

// MarkReplayed increments the replay counter. It saturates at MaxUint64
// instead of wrapping.
func (i *Interaction) MarkReplayed() {
	if i.replayCount < ^uint64(0) {
		i.replayCount++
	}
}

// Cookie is a single RFC 6265 cookie snapshot, persisted only in
// FormatVersion2 cassettes.
type Cookie struct {
	Name      string     `json:"name" msgpack:"name" yaml:"name"`
	Value     string     `json:"value" msgpack:"value" yaml:"value"`
	Domain    *string    `json:"domain,omitempty" msgpack:"domain,omitempty" yaml:"domain,omitempty"`
	Path      *string    `json:"path,omitempty" msgpack:"path,omitempty" yaml:"path,omitempty"`
	Expires   *time.Time `json:"expires,omitempty" msgpack:"expires,omitempty" yaml:"expires,omitempty"`
	MaxAge    *int64     `json:"max_age,omitempty" msgpack:"max_age,omitempty" yaml:"max_age,omitempty"`
	Secure    bool       `json:"secure" msgpack:"secure" yaml:"secure"`
	HTTPOnly  bool       `json:"http_only" msgpack:"http_only" yaml:"http_only"`
	SameSite  *SameSite  `json:"same_site,omitempty" msgpack:"same_site,omitempty" yaml:"same_site,omitempty"`
	CreatedAt time.Time  `json:"created_at" msgpack:"created_at" yaml:"created_at"`
}

// Cassette is the unit of persistence: a named, ordered, append-only (while
// recording) sequence of interactions.
type Cassette struct {
	Name         string         `json:"name" msgpack:"name" yaml:"name"`
	Version      FormatVersion  `json:"version" msgpack:"version" yaml:"version"`
	RecordedAt   time.Time      `json:"recorded_at" msgpack:"recorded_at" yaml:"recorded_at"`
	Cookies      []Cookie       `json:"cookies,omitempty" msgpack:"cookies,omitempty" yaml:"cookies,omitempty"`
	Interactions []*Interaction `json:"interactions" msgpack:"interactions" yaml:"interactions"`
}

// New creates a new, empty FormatVersion2 cassette.
func New(name string) *Cassette {
	return &Cassette{
		Name:         name,
		Version:      FormatVersion2,
		RecordedAt:   time.Now().UTC(),
		Interactions: make([]*Interaction, 0),
	}
}

// AddHTTP appends a recorded request/response pair.
func (c *Cassette) AddHTTP(req HTTPRequest, resp HTTPResponse) (*Interaction, error) {
	return c.AddHTTPWithTiming(req, resp, nil)
}

// AddHTTPWithTiming appends a recorded request/response pair along with the
// observed upstream latency, used later for LatencyMode.Recorded replay.
func (c *Cassette) AddHTTPWithTiming(req HTTPRequest, resp HTTPResponse, responseTimeMs *int64) (*Interaction, error) {
	if req.Method == "" {
		return nil, ErrInvalidMethod
	}
	if resp.Status < 100 || resp.Status > 599 {
		return nil, ErrInvalidStatus
	}

	i := &Interaction{
		Type:           InteractionHTTP,
		RecordedAt:     time.Now().UTC(),
		ResponseTimeMs: responseTimeMs,
		Request:        &req,
		Response:       &resp,
	}
	c.Interactions = append(c.Interactions, i)
	return i, nil
}

// AddError appends a recorded request that failed before a response was
// produced.
func (c *Cassette) AddError(req HTTPRequest, err NetworkError) (*Interaction, error) {
	if req.Method == "" {
		return nil, ErrInvalidMethod
	}

	i := &Interaction{
		Type:       InteractionHTTPError,
		RecordedAt: time.Now().UTC(),
		Request:    &req,
		Error:      &err,
	}
	c.Interactions = append(c.Interactions, i)
	return i, nil
}

// AddWebSocket appends a complete recorded WebSocket session.
func (c *Cassette) AddWebSocket(url string, messages []WebSocketMessage, closeFrame *CloseFrame) (*Interaction, error) {
	var last int64
	for idx, m := range messages {
		if idx > 0 && m.TimestampMs < last {
			return nil, fmt.Errorf("%w: message %d has timestamp %dms after %dms",
				ErrNonMonotonicTimestamp, idx, m.TimestampMs, last)
		}
		last = m.TimestampMs
	}

	i := &Interaction{
		Type:       InteractionWebSocket,
		RecordedAt: time.Now().UTC(),
		URL:        url,
		Messages:   messages,
		CloseFrame: closeFrame,
	}
	c.Interactions = append(c.Interactions, i)
	return i, nil
}
