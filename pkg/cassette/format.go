package cassette

import (
	"fmt"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// Format selects the on-disk serialization used by the Store.
type Format int

const (
	// FormatJSON is the self-describing, pretty-printed text form.
	FormatJSON Format = iota

	// FormatMsgpack is the compact binary form.
	FormatMsgpack
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMsgpack:
		return "msgpack"
	default:
		return "unknown"
	}
}

// FormatFromExtension detects the serialization format from a cassette
// filename: ".json" selects text, ".msgpack"/".mp" select binary.
func FormatFromExtension(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".msgpack", ".mp":
		return FormatMsgpack, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// DefaultExtension returns the canonical filename extension for a Format.
func (f Format) DefaultExtension() string {
	switch f {
	case FormatMsgpack:
		return ".msgpack"
	default:
		return ".json"
	}
}

// marshal encodes a cassette to bytes using the wire conventions for the
// given format. HTTPRequest/HTTPResponse implement json.Marshaler so the
// text format stores textual bodies as plain strings (human-auditable) and
// escapes non-UTF-8 bodies to base64. The binary format stores body bytes
// natively via msgpack struct tags and never touches that logic.
func marshal(c *Cassette, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(c, "", "  ")
	case FormatMsgpack:
		return msgpack.Marshal(c)
	default:
		return nil, fmt.Errorf("%w: format %d", ErrUnsupportedFormat, format)
	}
}

// unmarshal decodes a cassette from bytes.
func unmarshal(data []byte, format Format) (*Cassette, error) {
	var c Cassette
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
	case FormatMsgpack:
		if err := msgpack.Unmarshal(data, &c); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: format %d", ErrUnsupportedFormat, format)
	}
	return &c, nil
}

const base64Encoding = "base64"
