package feeds

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// decompress tries, in order, the encoding named by contentEncoding (br
// first if declared), then gzip, zlib, and flate, falling back to the raw
// bytes if nothing decodes successfully. This mirrors spec.md 4.3 step 2's
// "try_decompressions" fallback chain.
func decompress(contentEncoding string, body []byte) []byte {
	if strings.EqualFold(strings.TrimSpace(contentEncoding), "br") {
		if decoded, ok := tryBrotli(body); ok {
			return decoded
		}
	}

	if decoded, ok := tryGzip(body); ok {
		return decoded
	}
	if decoded, ok := tryZlib(body); ok {
		return decoded
	}
	if decoded, ok := tryFlate(body); ok {
		return decoded
	}
	return body
}

func tryBrotli(body []byte) ([]byte, bool) {
	r := brotli.NewReader(bytes.NewReader(body))
	decoded, err := io.ReadAll(r)
	if err != nil || len(decoded) == 0 {
		return nil, false
	}
	return decoded, true
}

func tryGzip(body []byte) ([]byte, bool) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	defer func() { _ = r.Close() }()
	decoded, err := io.ReadAll(r)
	if err != nil || len(decoded) == 0 {
		return nil, false
	}
	return decoded, true
}

func tryZlib(body []byte) ([]byte, bool) {
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	defer func() { _ = r.Close() }()
	decoded, err := io.ReadAll(r)
	if err != nil || len(decoded) == 0 {
		return nil, false
	}
	return decoded, true
}

func tryFlate(body []byte) ([]byte, bool) {
	r := flate.NewReader(bytes.NewReader(body))
	defer func() { _ = r.Close() }()
	decoded, err := io.ReadAll(r)
	if err != nil || len(decoded) == 0 {
		return nil, false
	}
	return decoded, true
}
