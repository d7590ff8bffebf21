package proxy

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
	"github.com/taciclei/magneto-serge-sub000/pkg/mode"
	"github.com/taciclei/magneto-serge-sub000/pkg/player"
	"github.com/taciclei/magneto-serge-sub000/pkg/wsbridge"
)

// hopByHopHeaders lists the headers that apply to a single transport hop
// and must never be forwarded as-is.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// stripHopByHop removes hop-by-hop headers from h in place.
func stripHopByHop(h http.Header) {
	for name := range hopByHopHeaders {
		h.Del(name)
	}
}

// handleHTTP resolves req's absolute URL, dispatches it through the
// mode engine, and writes the chosen response back to conn. It returns
// whether the connection should be kept open for another request.
func (s *Server) handleHTTP(conn net.Conn, br *bufio.Reader, req *http.Request, scheme string) bool {
	normalizeURL(req, scheme)

	if isWebSocketUpgrade(req) {
		s.handleWebSocket(conn, br, req)
		return false
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		writeSimpleResponse(conn, http.StatusBadRequest, "failed to read request body")
		return false
	}
	req.Body.Close()

	keepAlive := !req.Close && !strings.EqualFold(req.Header.Get("Connection"), "close")

	pl := s.currentPlayer()
	engine := s.currentEngine()

	var interaction *cassette.Interaction
	matched := false
	if engine.Mode.IsReplayCapable() && pl != nil {
		interaction, matched = pl.Find(req, body)
	}

	cassetteExisted := false
	if s.rec != nil {
		cassetteExisted = s.rec.PreExisted()
	}

	decision := engine.Decide(matched, cassetteExisted)

	switch decision.Action {
	case mode.ActionReplay:
		s.writeReplayed(conn, interaction, req, body, s.currentLatency())
	case mode.ActionForward:
		s.forward(conn, req, body, false)
	case mode.ActionForwardAndRecord:
		s.forward(conn, req, body, true)
	case mode.ActionMiss, mode.ActionMissStrict:
		writeSimpleResponse(conn, http.StatusNotFound, "no matching recorded interaction: "+decision.Reason)
	}

	return keepAlive
}

// normalizeURL completes req.URL into an absolute URL. Requests that
// arrived through a CONNECT tunnel only carry a path; requests proxied
// in plaintext already carry an absolute-form request-URI.
func normalizeURL(req *http.Request, scheme string) {
	if req.URL.Host == "" {
		req.URL.Host = req.Host
	}
	if req.URL.Scheme == "" {
		req.URL.Scheme = scheme
	}
}

func isWebSocketUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(req.Header.Get("Connection")), "upgrade")
}

// writeReplayed serves a matched interaction: simulated latency, then
// the (possibly template-expanded) recorded response.
func (s *Server) writeReplayed(conn net.Conn, interaction *cassette.Interaction, liveReq *http.Request, liveBody []byte, latencyCfg player.LatencyConfig) {
	if interaction == nil || interaction.Response == nil {
		writeSimpleResponse(conn, http.StatusInternalServerError, "matched interaction has no response")
		return
	}

	if latency := latencyCfg.Delay(interaction); latency > 0 {
		time.Sleep(latency)
	}

	body, err := player.PrepareResponse(interaction.Response, liveReq, liveBody, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("template expansion failed")
		body = interaction.Response.Body
	}

	resp := &http.Response{
		StatusCode: interaction.Response.Status,
		Header:     interaction.Response.Headers.Clone(),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
	}
	resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	resp.ContentLength = int64(len(body))

	_ = resp.Write(conn)
}

// forward performs the live upstream round trip and, when record is
// true, appends the result via the recorder.
// Network failures are recorded as typed NetworkError interactions
// rather than surfaced as opaque transport errors.
func (s *Server) forward(conn net.Conn, req *http.Request, body []byte, record bool) {
	upstreamReq, err := http.NewRequest(req.Method, req.URL.String(), bytes.NewReader(body))
	if err != nil {
		writeSimpleResponse(conn, http.StatusBadGateway, "failed to build upstream request")
		return
	}
	upstreamReq.Header = req.Header.Clone()
	stripHopByHop(upstreamReq.Header)

	if s.rec != nil {
		if cookieHeader := s.rec.CookieHeader(req.URL); cookieHeader != "" {
			upstreamReq.Header.Set("Cookie", cookieHeader)
		}
	}

	start := time.Now()
	resp, err := s.client.Do(upstreamReq)
	if err != nil {
		if record && s.rec != nil {
			netErr := classifyNetworkError(err)
			if _, recErr := s.rec.RecordError(req, body, netErr); recErr != nil {
				s.log.Error().Err(recErr).Msg("failed to record network error")
			}
		}
		writeSimpleResponse(conn, http.StatusBadGateway, "upstream request failed: "+err.Error())
		return
	}
	defer resp.Body.Close()

	if s.rec != nil {
		s.rec.StoreCookies(req.URL, resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		writeSimpleResponse(conn, http.StatusBadGateway, "failed to read upstream response")
		return
	}
	elapsed := time.Since(start).Milliseconds()

	stripHopByHop(resp.Header)

	if record && s.rec != nil {
		if _, recErr := s.rec.RecordHTTP(req, body, resp, respBody, &elapsed); recErr != nil {
			s.log.Error().Err(recErr).Msg("failed to record http interaction")
		}
	}

	out := &http.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       io.NopCloser(bytes.NewReader(respBody)),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
	}
	out.Header.Set("Content-Length", fmt.Sprintf("%d", len(respBody)))
	out.ContentLength = int64(len(respBody))

	_ = out.Write(conn)
}

func writeSimpleResponse(conn net.Conn, status int, message string) {
	resp := &http.Response{
		StatusCode:    status,
		Header:        http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(message)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		ContentLength: int64(len(message)),
	}
	_ = resp.Write(conn)
}

// hijackResponseWriter adapts a raw net.Conn/bufio.Reader pair (already
// consumed past the request line and headers by http.ReadRequest) into
// an http.ResponseWriter+http.Hijacker, the shape gorilla/websocket's
// Upgrader requires.
type hijackResponseWriter struct {
	conn   net.Conn
	br     *bufio.Reader
	header http.Header
	status int
}

func newHijackResponseWriter(conn net.Conn, br *bufio.Reader) *hijackResponseWriter {
	return &hijackResponseWriter{conn: conn, br: br, header: make(http.Header), status: http.StatusOK}
}

func (w *hijackResponseWriter) Header() http.Header { return w.header }

func (w *hijackResponseWriter) Write(b []byte) (int, error) { return w.conn.Write(b) }

func (w *hijackResponseWriter) WriteHeader(status int) { w.status = status }

func (w *hijackResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(w.br, bufio.NewWriter(w.conn))
	return w.conn, rw, nil
}

// handleWebSocket upgrades the client connection and either replays a
// recorded session or bridges to the real upstream and records it. The underlying net.Conn is left hijacked; the caller's serve
// loop returns immediately afterward.
func (s *Server) handleWebSocket(conn net.Conn, br *bufio.Reader, req *http.Request) {
	rw := newHijackResponseWriter(conn, br)

	clientConn, err := wsbridge.Upgrader.Upgrade(rw, req, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer clientConn.Close()

	url := req.URL.String()
	pl := s.currentPlayer()
	engine := s.currentEngine()

	if engine.Mode.IsReplayCapable() && pl != nil {
		if messages, closeFrame, err := pl.ConsumeWebSocket(url); err == nil {
			if err := wsbridge.ReplayDrain(clientConn, messages, closeFrame); err != nil {
				s.log.Debug().Err(err).Msg("websocket replay drain failed")
			}
			return
		}
	}

	if !engine.Mode.IsRecordCapable() {
		_ = clientConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "no recorded session and mode cannot record"),
			time.Now().Add(time.Second))
		return
	}

	upstreamURL := toWebSocketScheme(url)
	upstreamConn, _, err := wsbridge.Dialer.Dial(upstreamURL, stripHopByHopCopy(req.Header))
	if err != nil {
		s.log.Debug().Err(err).Str("url", upstreamURL).Msg("websocket dial upstream failed")
		return
	}
	defer upstreamConn.Close()

	session := wsbridge.NewSession(url, s.log)
	wsbridge.Bridge(clientConn, upstreamConn, session)

	if s.rec != nil {
		if _, err := s.rec.RecordWebSocket(url, session.Messages(), session.CloseFrame()); err != nil {
			s.log.Error().Err(err).Msg("failed to record websocket session")
		}
	}
}

func toWebSocketScheme(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}

func stripHopByHopCopy(h http.Header) http.Header {
	out := h.Clone()
	stripHopByHop(out)
	return out
}
