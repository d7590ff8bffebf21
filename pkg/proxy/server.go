// Package proxy is magneto's MITM engine: it accepts plain
// HTTP and CONNECT-tunneled HTTPS connections, terminates TLS itself
// using pkg/ca, and dispatches every decoded request through pkg/mode's
// decision table, pulling recorded responses from pkg/player and
// appending live ones via pkg/recorder. The accept loop, CONNECT
// tunnel, and TLS termination are hand-rolled directly against net,
// net/http, and crypto/tls rather than wrapped around a third-party MITM
// library, since that is the one piece no dependency can own for us.
package proxy

import (
	"bufio"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/taciclei/magneto-serge-sub000/pkg/ca"
	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
	"github.com/taciclei/magneto-serge-sub000/pkg/mode"
	"github.com/taciclei/magneto-serge-sub000/pkg/player"
	"github.com/taciclei/magneto-serge-sub000/pkg/recorder"
)

// Config collects everything a Server needs to answer requests. Player
// and Mode may be swapped at runtime via Server.SetPlayer/SetMode; the
// rest is read-only after NewServer.
type Config struct {
	Authority      *ca.Authority
	Recorder       *recorder.Recorder
	Store          *cassette.Store
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Logger         zerolog.Logger
}

// Server is the MITM proxy's accept loop and per-connection dispatcher.
type Server struct {
	authority   *ca.Authority
	rec         *recorder.Recorder
	store       *cassette.Store
	client      *http.Client
	readTimeout time.Duration
	log         zerolog.Logger

	mu      sync.Mutex
	pl      *player.Player
	engine  mode.Engine
	latency player.LatencyConfig
}

// NewServer constructs a Server from cfg. cfg.Authority and cfg.Recorder
// must both be non-nil; everything else defaults sanely.
func NewServer(cfg Config) *Server {
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &Server{
		authority:   cfg.Authority,
		rec:         cfg.Recorder,
		store:       cfg.Store,
		client:      newUpstreamClient(cfg.ConnectTimeout, cfg.ReadTimeout),
		readTimeout: readTimeout,
		log:         cfg.Logger,
		engine:      mode.NewEngine(mode.Passthrough),
	}
}

// SetMode swaps the active decision-table mode, effective on the next request.
func (s *Server) SetMode(m mode.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = mode.NewEngine(m)
}

// Mode returns the currently active mode.
func (s *Server) Mode() mode.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Mode
}

// SetPlayer installs (or clears, with nil) the cassette a replay-capable
// mode reads from.
func (s *Server) SetPlayer(p *player.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pl = p
}

// SetLatency installs the latency simulation applied to every replayed
// response. The zero value (LatencyNone) never delays.
func (s *Server) SetLatency(cfg player.LatencyConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = cfg
}

func (s *Server) currentPlayer() *player.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pl
}

func (s *Server) currentLatency() player.LatencyConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency
}

func (s *Server) currentEngine() mode.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Serve runs the accept loop against an already-bound listener until it
// is closed or returns an error. Each connection is handled in its own
// goroutine; the cassette/player/recorder it reaches are shared but
// internally synchronized, so isolation lives one level up from
// go-vcr's per-cassette ownership.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConnection(conn)
	}
}

// ListenAndServe binds addr (defaulting to loopback-only, 127.0.0.1:8080)
// and serves until the listener errs.
func ListenAndServe(addr string, s *Server) error {
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	return s.Serve(ln)
}

// handleConnection serves requests off conn until the client closes the
// connection, a parse error occurs, or a CONNECT tunnel hands off to TLS
// termination and that inner loop ends.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	s.serveLoop(conn, "http")
}

// serveLoop reads and dispatches requests off conn in a loop, honoring
// keep-alive, until a read fails or the peer asks to close.
func (s *Server) serveLoop(conn net.Conn, scheme string) {
	br := bufio.NewReader(conn)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return
		}

		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}

		if req.Method == http.MethodConnect {
			s.handleConnect(conn, br, req)
			return
		}

		keepAlive := s.handleHTTP(conn, br, req, scheme)
		if !keepAlive {
			return
		}
	}
}

// handleConnect completes the CONNECT handshake, then terminates TLS
// against the per-host leaf minted by pkg/ca, recursing into the
// decrypted stream as plain HTTPS traffic for req's authority.
func (s *Server) handleConnect(conn net.Conn, br *bufio.Reader, req *http.Request) {
	if br.Buffered() > 0 {
		// A pipelined request rode in on the same buffer as the CONNECT
		// line; nothing else should follow a CONNECT, so this is
		// unexpected input from the client and the tunnel is refused.
		if _, err := conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n")); err != nil {
			return
		}
		return
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	host := hostOnly(req.Host)
	tlsConn := tls.Server(conn, s.authority.TLSConfig(host))
	if err := tlsConn.Handshake(); err != nil {
		s.log.Debug().Err(err).Str("host", host).Msg("tls handshake with client failed")
		return
	}
	defer tlsConn.Close()

	s.serveLoop(tlsConn, "https")
}

func hostOnly(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}
