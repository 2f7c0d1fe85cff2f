// Package encoding wraps golang.org/x/text's named character encodings
// with the lossy, never-fail encode/decode policy a Network needs:
// encoding falls back to XML numeric character references for runes the
// target encoding cannot represent, and decoding never errors: invalid
// byte sequences come out as the decoder's replacement rune, or are
// skipped if the decoder rejects the input outright.
package encoding

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// A Codec encodes and decodes text for one Network's wire encoding.
type Codec struct {
	name string
	enc  encoding.Encoding
}

// New resolves name (e.g. "utf-8", "euc-kr", "cp949", "iso-8859-1") to a
// Codec. Names are looked up the same way a browser resolves a charset
// label, via golang.org/x/text/encoding/htmlindex, so the common IRC
// network encodings (including Korean networks' cp949/euc-kr) all work
// without networks having to spell out Go-internal package names.
func New(name string) (*Codec, error) {
	if name == "" {
		name = "utf-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("encoding: unknown encoding %q: %w", name, err)
	}
	return &Codec{name: name, enc: enc}, nil
}

// Name returns the encoding name the Codec was constructed with.
func (c *Codec) Name() string { return c.name }

// Encode safely encodes s using the Network's encoding. Runes that
// cannot be represented are replaced with an XML numeric character
// reference (e.g. "&#128512;"), mirroring the 'xmlcharrefreplace' error
// policy the external interfaces require.
func (c *Codec) Encode(s string) []byte {
	enc := c.enc.NewEncoder()
	var out bytes.Buffer
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		chunk, err := enc.String(string(r))
		if err != nil {
			fmt.Fprintf(&out, "&#%d;", r)
		} else {
			out.WriteString(chunk)
		}
		s = s[size:]
	}
	return out.Bytes()
}

// Decode safely decodes b using the Network's encoding without ever
// returning an error. Invalid byte sequences are normally replaced with
// the decoder's replacement rune (U+FFFD); only if decoding fails
// outright are the undecodable bytes skipped.
func (c *Codec) Decode(b []byte) string {
	s, err := c.enc.NewDecoder().Bytes(b)
	if err == nil {
		return string(s)
	}
	// Decoding failed outright (rather than merely substituting the
	// replacement rune); fall back to a byte-at-a-time decode that skips
	// whatever the encoder can't handle, so one bad byte in a line never
	// drops the whole line.
	var out bytes.Buffer
	dec := c.enc.NewDecoder()
	for i := 0; i < len(b); i++ {
		chunk, err := dec.Bytes(b[i : i+1])
		if err != nil {
			continue
		}
		out.Write(chunk)
	}
	return out.String()
}
