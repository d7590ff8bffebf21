package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 30 * time.Second
)

// newUpstreamClient builds the shared HTTP client used to forward
// requests to their real destination:
// HTTP/1.1 and HTTPS with system root trust, connection pooling per
// origin, and the given connect/read timeouts. NextProtos is pinned to
// http/1.1 the way go-vcr's realTransport defaults to
// http.DefaultTransport, generalized to also forbid ALPN h2.
func newUpstreamClient(connectTimeout, readTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		Proxy:             nil,
		DialContext:       dialer.DialContext,
		TLSClientConfig:   &tls.Config{NextProtos: []string{"http/1.1"}},
		ForceAttemptHTTP2: false,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   connectTimeout + readTimeout,
	}
}

// classifyNetworkError maps a transport-level failure to the typed
// NetworkError tagged union, so it can be recorded faithfully instead of
// as an opaque Go error string.
func classifyNetworkError(err error) cassette.NetworkError {
	if err == nil {
		return cassette.NetworkError{Kind: cassette.NetworkErrorOther, Message: "unknown error"}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return cassette.NetworkError{Kind: cassette.NetworkErrorDNS, Message: err.Error()}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return cassette.NetworkError{Kind: cassette.NetworkErrorTimeout, Message: err.Error()}
		}
		if isConnRefused(opErr) {
			return cassette.NetworkError{Kind: cassette.NetworkErrorConnectionRefused, Message: err.Error()}
		}
		if isConnReset(opErr) {
			return cassette.NetworkError{Kind: cassette.NetworkErrorConnectionReset, Message: err.Error()}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return cassette.NetworkError{Kind: cassette.NetworkErrorTimeout, Message: err.Error()}
	}

	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return cassette.NetworkError{Kind: cassette.NetworkErrorTLS, Message: err.Error()}
	}

	if errors.Is(err, http.ErrUseLastResponse) || isTooManyRedirects(err) {
		return cassette.NetworkError{Kind: cassette.NetworkErrorTooManyRedirects, Message: err.Error()}
	}

	return cassette.NetworkError{Kind: cassette.NetworkErrorOther, Message: err.Error()}
}

func isConnRefused(opErr *net.OpError) bool {
	return opErr.Op == "dial" && opErr.Err != nil &&
		(errorContains(opErr.Err, "connection refused") || errorContains(opErr.Err, "refused"))
}

func isConnReset(opErr *net.OpError) bool {
	return errorContains(opErr, "connection reset") || errorContains(opErr, "broken pipe")
}

func isTooManyRedirects(err error) bool {
	return errorContains(err, "stopped after") && errorContains(err, "redirect")
}

func errorContains(err error, substr string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), strings.ToLower(substr))
}
