package recorder

import (
	"net/http"
	"regexp"

	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
)

// RedactedPlaceholder is substituted for any header value or body matched
// by a redaction transform.
const RedactedPlaceholder = "[REDACTED]"

// Combinator selects how multiple admission predicates combine: AND
// (all admit) or OR (any admits).
type Combinator int

const (
	// CombinatorAnd requires every admitter to admit the interaction.
	CombinatorAnd Combinator = iota
	// CombinatorOr requires at least one admitter to admit it.
	CombinatorOr
)

// AdmitFunc decides whether a prospective HTTP interaction may be
// recorded at all. Returning false drops it from the cassette entirely.
type AdmitFunc func(req *http.Request, resp *http.Response) bool

// TransformFunc mutates a candidate interaction after admission, in
// declared order (header/body redaction, size caps).
type TransformFunc func(req *cassette.HTTPRequest, resp *cassette.HTTPResponse)

// FilterChain is the recorder's admission gate plus transform pipeline
//. The zero value admits everything and transforms nothing.
type FilterChain struct {
	Combinator Combinator
	Admitters  []AdmitFunc
	Transforms []TransformFunc
}

// Admits reports whether req/resp should be recorded at all, combining
// every registered AdmitFunc using Combinator. An empty chain always
// admits.
func (fc *FilterChain) Admits(req *http.Request, resp *http.Response) bool {
	if len(fc.Admitters) == 0 {
		return true
	}

	switch fc.Combinator {
	case CombinatorOr:
		for _, admit := range fc.Admitters {
			if admit(req, resp) {
				return true
			}
		}
		return false
	default: // CombinatorAnd
		for _, admit := range fc.Admitters {
			if !admit(req, resp) {
				return false
			}
		}
		return true
	}
}

// Apply runs every registered transform over req/resp, in declared order.
func (fc *FilterChain) Apply(req *cassette.HTTPRequest, resp *cassette.HTTPResponse) {
	for _, transform := range fc.Transforms {
		transform(req, resp)
	}
}

// AddAdmitter appends an admission predicate to the chain.
func (fc *FilterChain) AddAdmitter(fn AdmitFunc) {
	fc.Admitters = append(fc.Admitters, fn)
}

// AddTransform appends a transform to the chain.
func (fc *FilterChain) AddTransform(fn TransformFunc) {
	fc.Transforms = append(fc.Transforms, fn)
}

// ExcludeURL drops any request whose URL matches pattern.
func ExcludeURL(pattern *regexp.Regexp) AdmitFunc {
	return func(req *http.Request, _ *http.Response) bool {
		return !pattern.MatchString(req.URL.String())
	}
}

// ExcludeStatus drops any response whose status code is in codes.
func ExcludeStatus(codes ...int) AdmitFunc {
	excluded := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		excluded[c] = struct{}{}
	}
	return func(_ *http.Request, resp *http.Response) bool {
		if resp == nil {
			return true
		}
		_, excl := excluded[resp.StatusCode]
		return !excl
	}
}

// ExcludeContentType drops any response whose Content-Type header starts
// with one of the given prefixes (e.g. "image/", "video/").
func ExcludeContentType(prefixes ...string) AdmitFunc {
	return func(_ *http.Request, resp *http.Response) bool {
		if resp == nil {
			return true
		}
		ct := resp.Header.Get("Content-Type")
		for _, prefix := range prefixes {
			if len(ct) >= len(prefix) && ct[:len(prefix)] == prefix {
				return false
			}
		}
		return true
	}
}

// MaxBodySize drops any interaction whose request or response declares a
// ContentLength above max bytes; a body of unknown length (-1) is admitted.
// Use TruncateBody for a non-dropping cap instead.
func MaxBodySize(max int64) AdmitFunc {
	return func(req *http.Request, resp *http.Response) bool {
		if req != nil && req.ContentLength > max {
			return false
		}
		if resp != nil && resp.ContentLength > max {
			return false
		}
		return true
	}
}

// RedactHeaders replaces the value of every named header (request and
// response, case-insensitive) with RedactedPlaceholder.
func RedactHeaders(names ...string) TransformFunc {
	return func(req *cassette.HTTPRequest, resp *cassette.HTTPResponse) {
		for _, name := range names {
			if req != nil && req.Headers.Get(name) != "" {
				req.Headers.Set(name, RedactedPlaceholder)
			}
			if resp != nil && resp.Headers.Get(name) != "" {
				resp.Headers.Set(name, RedactedPlaceholder)
			}
		}
	}
}

// RedactBody replaces the full request and/or response body with
// RedactedPlaceholder whenever it is non-empty.
func RedactBody(redactRequest, redactResponse bool) TransformFunc {
	placeholder := []byte(RedactedPlaceholder)
	return func(req *cassette.HTTPRequest, resp *cassette.HTTPResponse) {
		if redactRequest && req != nil && len(req.Body) > 0 {
			req.Body = placeholder
		}
		if redactResponse && resp != nil && len(resp.Body) > 0 {
			resp.Body = placeholder
		}
	}
}

// TruncateBody caps both request and response bodies at max bytes,
// without dropping the interaction.
func TruncateBody(max int) TransformFunc {
	return func(req *cassette.HTTPRequest, resp *cassette.HTTPResponse) {
		if req != nil && len(req.Body) > max {
			req.Body = req.Body[:max]
		}
		if resp != nil && len(resp.Body) > max {
			resp.Body = resp.Body[:max]
		}
	}
}
