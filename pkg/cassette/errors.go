// Copyright (c) 2015-2024 Marin Atanasov Nikolov <dnaeon@gmail.com>
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

package cassette

import (
	"errors"
	"fmt"
)

var (
	// ErrInteractionNotFound indicates that a requested interaction was not
	// found in the cassette.
	ErrInteractionNotFound = errors.New("requested interaction not found")

	// ErrCassetteNotFound indicates that a requested cassette doesn't exist
	// on disk.
	ErrCassetteNotFound = errors.New("requested cassette not found")

	// ErrCassetteLoadFailed indicates that a cassette file exists, but its
	// content could not be parsed. Read and stat failures other than a
	// missing file are reported under this same error; there is no separate
	// I/O error kind.
	ErrCassetteLoadFailed = errors.New("cassette content is malformed")

	// ErrUnsupportedFormat is returned when the store cannot determine the
	// serialization format for a given path.
	ErrUnsupportedFormat = errors.New("unsupported cassette format")

	// ErrNoMoreWebSocketSessions indicates that every recorded WebSocket
	// session for a URL has already been consumed during replay.
	ErrNoMoreWebSocketSessions = errors.New("no more recorded websocket sessions for url")

	// ErrInvalidMethod is returned when an interaction is constructed with
	// an empty HTTP method.
	ErrInvalidMethod = errors.New("http method must not be empty")

	// ErrInvalidStatus is returned when an interaction's response status is
	// outside the 100-599 range.
	ErrInvalidStatus = errors.New("http status must be in range [100, 599]")

	// ErrNonMonotonicTimestamp is returned when a WebSocket message is added
	// to a session with a timestamp earlier than the previous message.
	ErrNonMonotonicTimestamp = errors.New("websocket message timestamps must be non-decreasing")
)

// LoadError wraps a lower-level cause (I/O failure or malformed content)
// while preserving the sentinel kind for errors.Is callers.
type LoadError struct {
	Path   string
	Kind   error
	Reason string
}

func (e *LoadError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Reason)
}

func (e *LoadError) Unwrap() error {
	return e.Kind
}

func newLoadError(path string, kind error, reason string) *LoadError {
	return &LoadError{Path: path, Kind: kind, Reason: reason}
}
