package player

import (
	"bytes"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"
)

// templateVars is the data made available to a response body template:
// request.method, request.url, request.headers.<name>, request.body.
type templateVars struct {
	Request requestVars
}

type requestVars struct {
	Method  string
	URL     string
	Headers http.Header
	Body    string
}

// Header looks up a header by name from a template action, e.g.
// {{ .Request.Header "X-Request-Id" }}.
func (r requestVars) Header(name string) string {
	return r.Headers.Get(name)
}

// funcMap returns the helpers available to response templates:
// env, now, now_timestamp, uuid, layered over sprig's general-purpose
// FuncMap the way caddyserver/caddy and gravitational/teleport wire
// their own config templating.
func funcMap(environ func(string) string) template.FuncMap {
	fm := sprig.TxtFuncMap()
	fm["env"] = environ
	fm["now"] = func() string { return time.Now().UTC().Format(time.RFC3339) }
	fm["now_timestamp"] = func() int64 { return time.Now().Unix() }
	fm["uuid"] = func() string { return uuid.New().String() }
	return fm
}

// IsTemplate reports whether body contains the "{{" "}}" delimiter pair
// that marks it as a template body.
func IsTemplate(body []byte) bool {
	return bytes.Contains(body, []byte("{{")) && bytes.Contains(body, []byte("}}"))
}

// ExpandTemplate renders body as a text/template against the live
// request that triggered the replay. Non-template bodies must be
// checked with IsTemplate first and passed through untouched to
// preserve byte fidelity.
func ExpandTemplate(body []byte, liveReq *http.Request, liveBody []byte, environ func(string) string) ([]byte, error) {
	tmpl, err := template.New("response").Funcs(funcMap(environ)).Parse(string(body))
	if err != nil {
		return nil, err
	}

	vars := templateVars{
		Request: requestVars{
			Method:  liveReq.Method,
			URL:     liveReq.URL.String(),
			Headers: liveReq.Header,
			Body:    string(liveBody),
		},
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, vars); err != nil {
		return nil, err
	}
	return []byte(out.String()), nil
}
