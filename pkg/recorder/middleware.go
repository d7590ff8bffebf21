package recorder

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
)

// HTTPMiddleware wraps next so every request it serves is also recorded,
// useful for capturing a cassette straight from a local test server
// instead of only from the proxy's upstream path. Adapted from the
// go-vcr's middleware of the same name, now driving Recorder.RecordHTTP
// instead of a private executeAndRecord.
func (rec *Recorder) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := newPassthrough(w)

		// Tee the body so it can be read by the next handler and by the recorder.
		reqBody := &bytes.Buffer{}
		r.Body = io.NopCloser(io.TeeReader(r.Body, reqBody))

		next.ServeHTTP(ww, r)

		r.Body = io.NopCloser(reqBody)

		// On the server side, requests do not have Host and Scheme set.
		if r.URL.Host == "" {
			r.URL.Host = r.Host
		}
		if r.URL.Scheme == "" {
			r.URL.Scheme = "http"
		}

		result := ww.recorder.Result()
		respBody, _ := io.ReadAll(result.Body)

		if _, err := rec.RecordHTTP(r, reqBody.Bytes(), result, respBody, nil); err != nil {
			rec.log.Error().Err(err).Str("url", r.URL.String()).Msg("middleware record failed")
		}
	})
}

var _ http.ResponseWriter = &passthroughWriter{}

// passthroughWriter uses the original ResponseWriter and an httptest.ResponseRecorder
// so the middleware can capture response details and passthrough to the client
type passthroughWriter struct {
	recorder *httptest.ResponseRecorder
	real     http.ResponseWriter
}

func newPassthrough(real http.ResponseWriter) passthroughWriter {
	return passthroughWriter{recorder: httptest.NewRecorder(), real: real}
}

func (p passthroughWriter) Header() http.Header {
	return p.real.Header()
}

func (p passthroughWriter) Write(in []byte) (int, error) {
	_, _ = p.recorder.Write(in)
	return p.real.Write(in)
}

func (p passthroughWriter) WriteHeader(statusCode int) {
	p.recorder.WriteHeader(statusCode)
	p.real.WriteHeader(statusCode)
}
