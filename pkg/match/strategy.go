package match

import (
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
)

// URLMode selects how two URLs are compared.
type URLMode int

const (
	// URLExact requires byte-wise equality (go-vcr's only mode, and
	// this strategy's default).
	URLExact URLMode = iota

	// URLRegex requires both URLs to match the same compiled pattern.
	URLRegex

	// URLIgnoreQuery compares only the substring before the first "?".
	URLIgnoreQuery

	// URLIgnoreQueryParams compares scheme/host/port/path exactly and the
	// remaining query parameters (after removing the configured ignore
	// list) as an unordered multimap.
	URLIgnoreQueryParams

	// URLPathOnly compares only the parsed path component.
	URLPathOnly
)

// BodyMode selects how two request bodies are compared.
type BodyMode int

const (
	// BodyHash compares a 64-bit digest of both bodies; empty treated as
	// absent, matching the Signature convention.
	BodyHash BodyMode = iota

	// BodyIgnore always matches.
	BodyIgnore

	// BodyJSONPath parses both bodies as JSON and compares the value
	// resolved by a dotted path.
	BodyJSONPath

	// BodyRegex interprets both bodies as UTF-8 (invalid decodes to an
	// empty string) and requires both to match the same pattern.
	BodyRegex

	// BodySizeOnly compares byte lengths only.
	BodySizeOnly
)

// CustomMatcher is a pluggable predicate evaluated last, after every
// built-in check has passed. Any false vote is a miss.
type CustomMatcher func(live *http.Request, liveBody []byte, recorded *cassette.HTTPRequest) bool

// Strategy is the configuration bag that drives matching decisions. The zero value is not ready to use; start
// from DefaultStrategy and adjust its fields.
type Strategy struct {
	MatchMethod bool

	URLMode     URLMode
	URLPattern  *regexp.Regexp
	IgnoreQueryParams []string

	BodyMode    BodyMode
	BodyPath    string
	BodyPattern *regexp.Regexp

	MatchHeaders  []string
	IgnoreHeaders []string

	CustomMatchers []CustomMatcher
}

// DefaultStrategy returns the strict VCR-style default: method equal, URL
// exact, body hash equal, no header constraints.
func DefaultStrategy() Strategy {
	return Strategy{
		MatchMethod: true,
		URLMode:     URLExact,
		BodyMode:    BodyHash,
	}
}

// IsDefault reports whether s is exactly the strict default strategy,
// which is the condition under which the Player may use its O(1) fast-path
// index instead of a linear scan.
func (s Strategy) IsDefault() bool {
	return s.MatchMethod &&
		s.URLMode == URLExact &&
		s.BodyMode == BodyHash &&
		len(s.MatchHeaders) == 0 &&
		len(s.CustomMatchers) == 0
}

// WithIgnoreHeader returns a copy of s that additionally ignores the named
// header during comparison. This mirrors go-vcr's
// WithIgnoreUserAgent/WithIgnoreAuthorization convenience options, now
// expressed over the general IgnoreHeaders list.
func (s Strategy) WithIgnoreHeader(name string) Strategy {
	clone := s
	clone.IgnoreHeaders = append(append([]string{}, s.IgnoreHeaders...), name)
	return clone
}

// Matches decides whether a live request (with its already-consumed body)
// is the same as a recorded interaction request, under s.
func (s Strategy) Matches(live *http.Request, liveBody []byte, recorded *cassette.HTTPRequest) bool {
	if s.MatchMethod && live.Method != recorded.Method {
		return false
	}

	if !s.urlMatches(live.URL.String(), recorded.URL) {
		return false
	}

	if !s.bodyMatches(liveBody, recorded.Body) {
		return false
	}

	if !s.headersMatch(live.Header, recorded.Headers) {
		return false
	}

	for _, custom := range s.CustomMatchers {
		if !custom(live, liveBody, recorded) {
			return false
		}
	}

	return true
}

func (s Strategy) urlMatches(liveURL, recordedURL string) bool {
	switch s.URLMode {
	case URLExact:
		return liveURL == recordedURL
	case URLRegex:
		if s.URLPattern == nil {
			return false
		}
		return s.URLPattern.MatchString(liveURL) && s.URLPattern.MatchString(recordedURL)
	case URLIgnoreQuery:
		return beforeQuery(liveURL) == beforeQuery(recordedURL)
	case URLIgnoreQueryParams:
		return s.urlIgnoreQueryParamsMatch(liveURL, recordedURL)
	case URLPathOnly:
		lp, lerr := url.Parse(liveURL)
		rp, rerr := url.Parse(recordedURL)
		if lerr != nil || rerr != nil {
			return false
		}
		return lp.Path == rp.Path
	default:
		return liveURL == recordedURL
	}
}

func beforeQuery(raw string) string {
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		return raw[:idx]
	}
	return raw
}

func (s Strategy) urlIgnoreQueryParamsMatch(liveURL, recordedURL string) bool {
	lu, lerr := url.Parse(liveURL)
	ru, rerr := url.Parse(recordedURL)
	if lerr != nil || rerr != nil {
		return false
	}
	if lu.Scheme != ru.Scheme || lu.Host != ru.Host || lu.Path != ru.Path {
		return false
	}

	lq := stripParams(lu.Query(), s.IgnoreQueryParams)
	rq := stripParams(ru.Query(), s.IgnoreQueryParams)
	return queryValuesEqual(lq, rq)
}

func stripParams(values url.Values, ignore []string) url.Values {
	out := url.Values{}
	for k, v := range values {
		if containsFold(ignore, k) {
			continue
		}
		out[k] = append([]string{}, v...)
	}
	return out
}

func containsFold(list []string, needle string) bool {
	for _, v := range list {
		if strings.EqualFold(v, needle) {
			return true
		}
	}
	return false
}

func queryValuesEqual(a, b url.Values) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || len(av) != len(bv) {
			return false
		}
		sa, sb := append([]string{}, av...), append([]string{}, bv...)
		sort.Strings(sa)
		sort.Strings(sb)
		for i := range sa {
			if sa[i] != sb[i] {
				return false
			}
		}
	}
	return true
}

func (s Strategy) bodyMatches(live, recorded []byte) bool {
	switch s.BodyMode {
	case BodyIgnore:
		return true
	case BodyHash:
		return digestsEqual(bodyDigest(live), bodyDigest(recorded))
	case BodySizeOnly:
		return len(live) == len(recorded)
	case BodyJSONPath:
		return jsonPathMatches(s.BodyPath, live, recorded)
	case BodyRegex:
		if s.BodyPattern == nil {
			return false
		}
		return s.BodyPattern.Match(toUTF8(live)) && s.BodyPattern.Match(toUTF8(recorded))
	default:
		return digestsEqual(bodyDigest(live), bodyDigest(recorded))
	}
}

// digestsEqual compares two optional digests by value: both absent, or
// both present and equal.
func digestsEqual(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func bodyDigest(body []byte) *uint64 {
	if len(body) == 0 {
		return nil
	}
	h := xxhash.Sum64(body)
	return &h
}

func toUTF8(b []byte) []byte {
	if isValidUTF8(b) {
		return b
	}
	return nil
}

func jsonPathMatches(path string, live, recorded []byte) bool {
	var liveVal, recordedVal any
	if err := json.Unmarshal(live, &liveVal); err != nil {
		return false
	}
	if err := json.Unmarshal(recorded, &recordedVal); err != nil {
		return false
	}

	lv, lok := resolveJSONPath(liveVal, path)
	rv, rok := resolveJSONPath(recordedVal, path)
	if !lok || !rok {
		return false
	}

	lb, _ := json.Marshal(lv)
	rb, _ := json.Marshal(rv)
	return string(lb) == string(rb)
}

func resolveJSONPath(value any, path string) (any, bool) {
	if path == "" {
		return value, true
	}
	cur := value
	for _, seg := range strings.Split(path, ".") {
		if idx, err := strconv.Atoi(seg); err == nil {
			arr, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
			continue
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func (s Strategy) headersMatch(live http.Header, recorded cassette.Headers) bool {
	for _, name := range s.MatchHeaders {
		if containsFold(s.IgnoreHeaders, name) {
			continue
		}
		if live.Get(name) != recorded.Get(name) {
			return false
		}
	}
	return true
}
