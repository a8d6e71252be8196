package feeds

import (
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
)

// decodeText decodes body to a UTF-8 string, preferring body as-is when it
// is already valid UTF-8. Otherwise it tries the charset named in the
// Content-Type header, then windows-1252, then Shift-JIS, per spec.md 4.3
// step 3.
func decodeText(body []byte, contentType string) (string, error) {
	if utf8.Valid(body) {
		return string(body), nil
	}

	if charset := charsetFromContentType(contentType); charset != "" {
		if enc, ok := encodingForCharset(charset); ok {
			if text, err := enc.NewDecoder().Bytes(body); err == nil && utf8.Valid(text) {
				return string(text), nil
			}
		}
	}

	if text, err := charmap.Windows1252.NewDecoder().Bytes(body); err == nil && utf8.Valid(text) {
		return string(text), nil
	}

	if text, err := japanese.ShiftJIS.NewDecoder().Bytes(body); err == nil && utf8.Valid(text) {
		return string(text), nil
	}

	return "", fmt.Errorf("unable to decode body as utf-8, windows-1252, or shift_jis")
}

func charsetFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}

func encodingForCharset(charset string) (encoding.Encoding, bool) {
	switch charset {
	case "windows-1252", "cp1252":
		return charmap.Windows1252, true
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1, true
	case "shift_jis", "shift-jis", "sjis":
		return japanese.ShiftJIS, true
	default:
		return nil, false
	}
}
