// Package match implements the configurable request-matching engine that
// decides whether a live HTTP request is "the same as" a recorded
// interaction. It generalizes the single hard-coded defaultMatcher
// dnaeon/go-vcr ships into a Strategy with independently configurable
// URL, body, and header comparison modes, plus an O(1) fast-path index
// for the common case.
package match

import (
	"net/http"

	"github.com/cespare/xxhash/v2"
)

// Signature is the derived, never-persisted lookup key for a request: its
// method, URL, and a digest of its body. Two signatures are equal iff all
// three fields are equal.
type Signature struct {
	Method     string
	URL        string
	BodyDigest *uint64
}

// NewSignature computes the Signature of a request. An empty body and a
// nil/absent body hash identically: both produce a nil BodyDigest.
func NewSignature(method, url string, body []byte) Signature {
	sig := Signature{Method: method, URL: url}
	if len(body) > 0 {
		h := xxhash.Sum64(body)
		sig.BodyDigest = &h
	}
	return sig
}

// Equal reports whether two signatures are the same lookup key.
func (s Signature) Equal(other Signature) bool {
	if s.Method != other.Method || s.URL != other.URL {
		return false
	}
	if (s.BodyDigest == nil) != (other.BodyDigest == nil) {
		return false
	}
	if s.BodyDigest != nil && *s.BodyDigest != *other.BodyDigest {
		return false
	}
	return true
}

// RequestSignature computes the Signature of a live *http.Request,
// consuming and restoring its Body so later handlers can still read it.
func RequestSignature(r *http.Request) (Signature, []byte, error) {
	body, err := readAndRestoreBody(r)
	if err != nil {
		return Signature{}, nil, err
	}
	return NewSignature(r.Method, r.URL.String(), body), body, nil
}
