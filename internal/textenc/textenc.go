// Package textenc decodes entry names written in legacy code pages.
package textenc

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var charsets = map[string]*charmap.Charmap{
	"cp437":  charmap.CodePage437,
	"ibm437": charmap.CodePage437,
	"cp850":  charmap.CodePage850,
	"ibm850": charmap.CodePage850,
	"cp866":  charmap.CodePage866,
	"ibm866": charmap.CodePage866,
	"cp1252": charmap.Windows1252,
	"latin1": charmap.ISO8859_1,
}

// Names returns the accepted charset names.
func Names() []string {
	return []string{"cp437", "cp850", "cp866", "cp1252", "latin1"}
}

// Decoder transcodes names from a single-byte code page to UTF-8.
type Decoder struct {
	enc encoding.Encoding
}

// Lookup returns the decoder for a charset name such as "cp437".
func Lookup(name string) (*Decoder, error) {
	cm, ok := charsets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown charset %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
	return &Decoder{enc: cm}, nil
}

// Decode converts raw to UTF-8. ASCII input is returned unchanged.
func (d *Decoder) Decode(raw []byte) (string, error) {
	ascii := true
	for _, c := range raw {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(raw), nil
	}
	out, err := d.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode %q: %w", raw, err)
	}
	return string(out), nil
}
