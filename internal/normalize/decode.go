package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/JonMunkholm/watchload/internal/ingesterr"
)

// Encoding names the text decoding a file was read with.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingLatin1 Encoding = "latin-1"
)

// utf8BOM is the byte order mark Windows tools prepend to UTF-8 files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// errNotUTF8 triggers the single Latin-1 retry.
var errNotUTF8 = errors.New("encoding error: input is not valid utf-8")

// decodeAs decodes raw bytes with one encoding. NUL bytes are rejected for
// both encodings: they mean binary or UTF-16 content, which no delimited or
// JSON parser here can use.
func decodeAs(raw []byte, enc Encoding) (string, error) {
	switch enc {
	case EncodingUTF8:
		raw = bytes.TrimPrefix(raw, utf8BOM)
		if !utf8.Valid(raw) {
			return "", errNotUTF8
		}
	case EncodingLatin1:
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("encoding error: latin-1: %w", err)
		}
		raw = out
	default:
		return "", fmt.Errorf("encoding error: unknown encoding %q", enc)
	}

	if bytes.IndexByte(raw, 0) >= 0 {
		return "", fmt.Errorf("encoding error: %s input contains NUL bytes", enc)
	}
	return string(raw), nil
}

// withFallback runs parse over the text decoded as UTF-8, or over the Latin-1
// decoding when UTF-8 decoding fails. A failed fallback is a decode error and
// parse is never called with partially decoded text.
func withFallback(raw []byte, parse func(text string) (*Table, error)) (*Table, error) {
	text, err := decodeAs(raw, EncodingUTF8)
	if err == nil {
		t, perr := parse(text)
		if perr == nil {
			t.Encoding = EncodingUTF8
			return t, nil
		}
		return nil, perr
	}

	text, ferr := decodeAs(raw, EncodingLatin1)
	if ferr != nil {
		return nil, ingesterr.New(ingesterr.KindDecode, "", "", fmt.Errorf("%v; fallback: %w", err, ferr))
	}
	t, perr := parse(text)
	if perr != nil {
		return nil, perr
	}
	t.Encoding = EncodingLatin1
	return t, nil
}
