// Copyright (c) 2015-2022 Marin Atanasov Nikolov <dnaeon@gmail.com>
// Copyright (c) 2016 David Jack <davars@gmail.com>
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer
//    in this position and unchanged.
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in the
//    documentation and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE AUTHOR(S) ``AS IS'' AND ANY EXPRESS OR
// IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES
// OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE DISCLAIMED.
// IN NO EVENT SHALL THE AUTHOR(S) BE LIABLE FOR ANY DIRECT, INDIRECT,
// INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT
// NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE OF
// THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package recorder appends HTTP, network-error, and WebSocket
// interactions to a cassette, gated by a filter chain and wrapped by
// record hooks. It generalizes go-vcr's
// Recorder.RoundTrip/requestHandler pair, which only ever produced HTTP
// interactions via its own RoundTripper, into an explicit append API the
// proxy server drives directly.
package recorder

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
)

// Recorder owns an in-flight cassette exclusively until it is flushed.
// All append operations are serialized through a single mutex so that
// interactions are added in completion order.
type Recorder struct {
	log zerolog.Logger

	mu        sync.Mutex
	state     State
	cassette  *cassette.Cassette
	store     *cassette.Store
	path      string
	format    cassette.Format
	preExists bool

	filters FilterChain
	hooks   RecordHooks
}

// Option configures a Recorder at construction time.
type Option func(r *Recorder)

// WithLogger attaches a zerolog.Logger used for recording diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Recorder) { r.log = log }
}

// WithFilters installs the admission/transform chain applied to every
// HTTP interaction before it is appended.
func WithFilters(fc FilterChain) Option {
	return func(r *Recorder) { r.filters = fc }
}

// New constructs an idle Recorder backed by store. Call StartRecording to
// begin a session.
func New(store *cassette.Store, opts ...Option) *Recorder {
	r := &Recorder{
		log:   zerolog.Nop(),
		state: StateIdle,
		store: store,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddHook registers a record-pipeline hook at the given stage.
func (r *Recorder) AddHook(stage HookStage, fn HookFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch stage {
	case BeforeRecord:
		r.hooks.AddBeforeRecord(fn)
	case AfterRecord:
		r.hooks.AddAfterRecord(fn)
	}
}

// SetFilters replaces the filter chain. Subsequent records observe the
// new configuration immediately.
func (r *Recorder) SetFilters(fc FilterChain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = fc
}

// HookStage names a registration point on the record pipeline.
type HookStage int

const (
	// BeforeRecord runs before an interaction is appended and may mutate it.
	BeforeRecord HookStage = iota
	// AfterRecord runs after append and must not mutate the interaction.
	AfterRecord
)

// StartRecording transitions the recorder from Idle to Recording against
// name, creating a new empty cassette. preExists records whether a
// cassette already existed on disk at path before this session, which
// the mode engine's Once semantics need.
func (r *Recorder) StartRecording(name, path string, format cassette.Format, preExists bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return ErrAlreadyRecording
	}

	r.cassette = cassette.New(name)
	r.path = path
	r.format = format
	r.preExists = preExists
	r.state = StateRecording
	r.log.Info().Str("cassette", name).Msg("recording started")
	return nil
}

// CassetteName reports the name of the cassette currently being
// recorded, or the empty string when idle.
func (r *Recorder) CassetteName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cassette == nil {
		return ""
	}
	return r.cassette.Name
}

// PreExisted reports whether the active cassette's file already existed
// on disk when StartRecording was called.
func (r *Recorder) PreExisted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preExists
}

// State returns the recorder's current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RecordHTTP admits req/resp through the filter chain, runs before/after
// record hooks, and appends the interaction. Returns (nil, nil) when the
// filter chain drops the pair (not an error: an intentional omission).
func (r *Recorder) RecordHTTP(req *http.Request, reqBody []byte, resp *http.Response, respBody []byte, responseTimeMs *int64) (*cassette.Interaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return nil, ErrNotRecording
	}

	if !r.filters.Admits(req, resp) {
		return nil, nil
	}

	cassReq := cassette.HTTPRequest{
		Method:  req.Method,
		URL:     req.URL.String(),
		Headers: req.Header.Clone(),
		Body:    append([]byte(nil), reqBody...),
	}
	cassResp := cassette.HTTPResponse{
		Status:  resp.StatusCode,
		Headers: resp.Header.Clone(),
		Body:    append([]byte(nil), respBody...),
	}

	r.filters.Apply(&cassReq, &cassResp)

	interaction, err := r.cassette.AddHTTPWithTiming(cassReq, cassResp, responseTimeMs)
	if err != nil {
		return nil, fmt.Errorf("recorder: add http interaction: %w", err)
	}

	if err := r.hooks.runBeforeRecord(interaction); err != nil {
		r.removeLastInteraction()
		return nil, fmt.Errorf("recorder: before-record hook: %w", err)
	}
	if err := r.hooks.runAfterRecord(interaction); err != nil {
		r.removeLastInteraction()
		return nil, fmt.Errorf("recorder: after-record hook: %w", err)
	}

	return interaction, nil
}

// RecordError appends a NetworkError interaction for a request that
// never received an upstream response. The filter chain's admission
// check applies with a nil response; transforms still run over the
// request side.
func (r *Recorder) RecordError(req *http.Request, reqBody []byte, netErr cassette.NetworkError) (*cassette.Interaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return nil, ErrNotRecording
	}

	if !r.filters.Admits(req, nil) {
		return nil, nil
	}

	cassReq := cassette.HTTPRequest{
		Method:  req.Method,
		URL:     req.URL.String(),
		Headers: req.Header.Clone(),
		Body:    append([]byte(nil), reqBody...),
	}
	r.filters.Apply(&cassReq, nil)

	interaction, err := r.cassette.AddError(cassReq, netErr)
	if err != nil {
		return nil, fmt.Errorf("recorder: add error interaction: %w", err)
	}

	if err := r.hooks.runBeforeRecord(interaction); err != nil {
		r.removeLastInteraction()
		return nil, fmt.Errorf("recorder: before-record hook: %w", err)
	}
	if err := r.hooks.runAfterRecord(interaction); err != nil {
		r.removeLastInteraction()
		return nil, fmt.Errorf("recorder: after-record hook: %w", err)
	}

	return interaction, nil
}

// RecordWebSocket appends a full WebSocket session. The bridge accumulates messages itself and calls this once at session end;
// filters do not apply to the WebSocket path.
func (r *Recorder) RecordWebSocket(url string, messages []cassette.WebSocketMessage, closeFrame *cassette.CloseFrame) (*cassette.Interaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return nil, ErrNotRecording
	}

	interaction, err := r.cassette.AddWebSocket(url, messages, closeFrame)
	if err != nil {
		return nil, fmt.Errorf("recorder: add websocket interaction: %w", err)
	}

	if err := r.hooks.runBeforeRecord(interaction); err != nil {
		r.removeLastInteraction()
		return nil, fmt.Errorf("recorder: before-record hook: %w", err)
	}
	if err := r.hooks.runAfterRecord(interaction); err != nil {
		r.removeLastInteraction()
		return nil, fmt.Errorf("recorder: after-record hook: %w", err)
	}

	return interaction, nil
}

// removeLastInteraction drops the interaction most recently appended to
// the in-memory cassette. Called when a record hook rejects it,
// so the abort leaves no trace. Caller must hold r.mu.
func (r *Recorder) removeLastInteraction() {
	n := len(r.cassette.Interactions)
	if n == 0 {
		return
	}
	r.cassette.Interactions = r.cassette.Interactions[:n-1]
}

// StopRecording transitions Recording→Flushing, persists the cassette
// synchronously, then returns to Idle.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return ErrNotRecording
	}
	r.state = StateFlushing

	err := r.store.Save(r.cassette, r.path, r.format)
	r.state = StateIdle
	if err != nil {
		return fmt.Errorf("recorder: stop recording: %w", err)
	}
	r.log.Info().Str("cassette", r.cassette.Name).Int("interactions", len(r.cassette.Interactions)).Msg("recording stopped")
	return nil
}

// StopRecordingAsync is StopRecording but enqueues the save on the
// store's background writer instead of blocking the caller on disk I/O.
func (r *Recorder) StopRecordingAsync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return ErrNotRecording
	}
	r.state = StateFlushing
	r.store.SaveAsync(r.cassette, r.path, r.format)
	r.state = StateIdle
	return nil
}

// Cassette returns the recorder's in-flight cassette. Callers must not
// mutate it directly; it is exposed for inspection of what has been
// recorded so far.
func (r *Recorder) Cassette() *cassette.Cassette {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cassette
}

// CookieHeader returns the Cookie request-header value to send to u, built
// from the active cassette's jar via cassette.CookiesForURL. It returns ""
// when idle or no stored cookie matches u.
func (r *Recorder) CookieHeader(u *url.URL) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cassette == nil || len(r.cassette.Cookies) == 0 {
		return ""
	}
	matched := cassette.CookiesForURL(r.cassette.Cookies, u, time.Now())
	if len(matched) == 0 {
		return ""
	}
	return cassette.HeaderValue(matched)
}

// StoreCookies parses resp's Set-Cookie headers, scoped to u, into the
// active cassette's jar. A no-op when idle.
func (r *Recorder) StoreCookies(u *url.URL, resp *http.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cassette == nil || r.state != StateRecording {
		return
	}
	for _, c := range resp.Cookies() {
		r.cassette.Cookies = append(r.cassette.Cookies, cookieFromSetCookie(u, c))
	}
}

// cookieFromSetCookie converts a parsed Set-Cookie header into the
// persisted jar shape. u supplies the default domain when the cookie
// carries no explicit Domain attribute.
func cookieFromSetCookie(u *url.URL, c *http.Cookie) cassette.Cookie {
	out := cassette.Cookie{
		Name:      c.Name,
		Value:     c.Value,
		Secure:    c.Secure,
		HTTPOnly:  c.HttpOnly,
		CreatedAt: time.Now().UTC(),
	}

	domain := c.Domain
	if domain == "" {
		domain = u.Hostname()
	}
	out.Domain = &domain

	if c.Path != "" {
		path := c.Path
		out.Path = &path
	}
	if !c.Expires.IsZero() {
		expires := c.Expires
		out.Expires = &expires
	}
	if c.MaxAge != 0 {
		maxAge := int64(c.MaxAge)
		out.MaxAge = &maxAge
	}
	switch c.SameSite {
	case http.SameSiteStrictMode:
		ss := cassette.SameSiteStrict
		out.SameSite = &ss
	case http.SameSiteLaxMode:
		ss := cassette.SameSiteLax
		out.SameSite = &ss
	case http.SameSiteNoneMode:
		ss := cassette.SameSiteNone
		out.SameSite = &ss
	}
	return out
}
