// Package event defines the (name, data) record exchanged by every broker on
// stdin and stdout, and the codecs that frame records back-to-back on a byte
// stream.
package event

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Event is one named payload. Data is opaque to the brokers.
type Event struct {
	Name string
	Data []byte
}

// Decoder reads consecutive events. Decode returns io.EOF once the input
// ends cleanly between records.
type Decoder interface {
	Decode() (Event, error)
}

// Encoder writes one event per call.
type Encoder interface {
	Encode(Event) error
}

// Format names a record encoding.
type Format string

const (
	FormatBSON Format = "bson"
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned for a format name that has no codec.
var ErrUnknownFormat = errors.New("unknown event format")

// ParseFormat accepts a format name case-insensitively. An empty name selects BSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatBSON:
		return FormatBSON, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

func NewDecoder(format Format, r io.Reader) (Decoder, error) {
	switch format {
	case FormatBSON:
		return NewBSONDecoder(r), nil
	case FormatJSON:
		return NewJSONDecoder(r), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func NewEncoder(format Format, w io.Writer) (Encoder, error) {
	switch format {
	case FormatBSON:
		return NewBSONEncoder(w), nil
	case FormatJSON:
		return NewJSONEncoder(w), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
