package cassette

import (
	"net/url"
	"sort"
	"strings"
	"time"
)

// SameSite mirrors the RFC 6265bis SameSite attribute values.
type SameSite string

const (
	SameSiteStrict SameSite = "Strict"
	SameSiteLax    SameSite = "Lax"
	SameSiteNone   SameSite = "None"
)

// MatchesDomain reports whether c is applicable to the given request host:
// a leading dot means "match subdomains", otherwise the match must be
// exact. A cookie with no Domain attribute matches every host; callers
// that need host-only scoping store the setting host as the Domain.
func (c Cookie) MatchesDomain(host string) bool {
	if c.Domain == nil {
		return true
	}

	cookieDomain := strings.ToLower(*c.Domain)
	host = strings.ToLower(host)

	if cookieDomain == host {
		return true
	}
	if strings.HasPrefix(cookieDomain, ".") {
		return strings.HasSuffix(host, cookieDomain) ||
			host == strings.TrimPrefix(cookieDomain, ".")
	}
	return false
}

// MatchesPath reports whether c applies to the given request path. The
// default path is "/". A cookie path matches if it is an exact match, or a
// prefix of the request path where the boundary is either a trailing "/"
// on the cookie path or the request path has a "/" immediately after the
// prefix.
func (c Cookie) MatchesPath(path string) bool {
	cookiePath := "/"
	if c.Path != nil {
		cookiePath = *c.Path
	}

	if cookiePath == path {
		return true
	}
	if !strings.HasPrefix(path, cookiePath) {
		return false
	}
	if strings.HasSuffix(cookiePath, "/") {
		return true
	}
	return strings.HasPrefix(path[len(cookiePath):], "/")
}

// Expired reports whether c has passed its expiry: it is expired if
// Expires has passed or if MaxAge (relative to CreatedAt) has elapsed,
// whichever comes first. Neither attribute takes precedence over the other.
func (c Cookie) Expired(now time.Time) bool {
	if c.Expires != nil && !c.Expires.After(now) {
		return true
	}
	if c.MaxAge != nil {
		if *c.MaxAge <= 0 {
			return true
		}
		expiresAt := c.CreatedAt.Add(time.Duration(*c.MaxAge) * time.Second)
		if !expiresAt.After(now) {
			return true
		}
	}
	return false
}

// CookiesForURL returns the subset of cookies applicable to u, in emission
// order: longer path first, then older CreatedAt first.
func CookiesForURL(cookies []Cookie, u *url.URL, now time.Time) []Cookie {
	host := u.Hostname()
	path := u.Path
	if path == "" {
		path = "/"
	}

	var matched []Cookie
	for _, c := range cookies {
		if c.Expired(now) {
			continue
		}
		if !c.MatchesDomain(host) {
			continue
		}
		if !c.MatchesPath(path) {
			continue
		}
		matched = append(matched, c)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		pi, pj := cookiePathLen(matched[i]), cookiePathLen(matched[j])
		if pi != pj {
			return pi > pj
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched
}

func cookiePathLen(c Cookie) int {
	if c.Path == nil {
		return len("/")
	}
	return len(*c.Path)
}

// HeaderValue renders the matched cookies as a single Cookie header value
// ("name=value; name2=value2"), the form a client would send.
func HeaderValue(cookies []Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
