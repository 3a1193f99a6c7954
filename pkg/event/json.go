package event

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

type jsonRecord struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// jsonBinary is the extended JSON form of a generic binary value.
type jsonBinary struct {
	Binary struct {
		Base64  string `json:"base64"`
		SubType string `json:"subType"`
	} `json:"$binary"`
}

// JSONDecoder reads newline-delimited JSON objects {"name": ..., "data": ...}.
// A string payload decodes to its text and an extended JSON $binary value to
// its bytes; any other JSON value is kept as its raw encoding.
type JSONDecoder struct {
	dec *json.Decoder
}

func NewJSONDecoder(r io.Reader) *JSONDecoder {
	return &JSONDecoder{dec: json.NewDecoder(r)}
}

func (d *JSONDecoder) Decode() (Event, error) {
	var rec jsonRecord
	if err := d.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}
		return Event{}, fmt.Errorf("failed to read event record: %w", err)
	}
	if rec.Name == "" {
		return Event{}, errors.New("event record has no name")
	}

	ev := Event{Name: rec.Name}
	switch {
	case len(rec.Data) == 0, bytes.Equal(rec.Data, []byte("null")):
	case rec.Data[0] == '"':
		var s string
		if err := json.Unmarshal(rec.Data, &s); err != nil {
			return Event{}, fmt.Errorf("event %s has invalid data: %w", rec.Name, err)
		}
		ev.Data = []byte(s)
	default:
		if data, ok := decodeJSONBinary(rec.Data); ok {
			ev.Data = data
			break
		}
		ev.Data = []byte(rec.Data)
	}
	return ev, nil
}

// decodeJSONBinary reports whether raw is exactly {"$binary": {"base64": ...,
// "subType": ...}} and returns the decoded bytes if so.
func decodeJSONBinary(raw json.RawMessage) ([]byte, bool) {
	if raw[0] != '{' {
		return nil, false
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil || len(outer) != 1 {
		return nil, false
	}
	inner, ok := outer["$binary"]
	if !ok {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(inner, &fields); err != nil || len(fields) != 2 {
		return nil, false
	}
	if _, ok := fields["base64"]; !ok {
		return nil, false
	}
	if _, ok := fields["subType"]; !ok {
		return nil, false
	}
	var bin jsonBinary
	if err := json.Unmarshal(raw, &bin); err != nil {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(bin.Binary.Base64)
	if err != nil {
		return nil, false
	}
	return data, true
}

func encodeJSONBinary(data []byte) ([]byte, error) {
	var bin jsonBinary
	bin.Binary.Base64 = base64.StdEncoding.EncodeToString(data)
	bin.Binary.SubType = "00"
	return json.Marshal(bin)
}

// JSONEncoder writes one JSON object per line. Payloads that are JSON objects,
// arrays, numbers or booleans are embedded as-is. Other UTF-8 text, including
// JSON strings and null, is written as a string. Bytes that are not UTF-8, and
// objects that would read back as a $binary value, are written in extended
// JSON $binary form. Every payload decodes back byte for byte.
type JSONEncoder struct {
	w *bufio.Writer
}

func NewJSONEncoder(w io.Writer) *JSONEncoder {
	return &JSONEncoder{w: bufio.NewWriter(w)}
}

func (e *JSONEncoder) Encode(ev Event) error {
	rec := jsonRecord{Name: ev.Name, Data: json.RawMessage("null")}
	if ev.Data != nil {
		var (
			data []byte
			err  error
		)
		switch {
		case embeddable(ev.Data):
			if _, ok := decodeJSONBinary(bytes.TrimSpace(ev.Data)); ok {
				data, err = encodeJSONBinary(ev.Data)
			} else {
				data = ev.Data
			}
		case utf8.Valid(ev.Data):
			data, err = json.Marshal(string(ev.Data))
		default:
			data, err = encodeJSONBinary(ev.Data)
		}
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", ev.Name, err)
		}
		rec.Data = data
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", ev.Name, err)
	}
	b = append(b, '\n')
	if _, err := e.w.Write(b); err != nil {
		return fmt.Errorf("failed to write event %s: %w", ev.Name, err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to write event %s: %w", ev.Name, err)
	}
	return nil
}

func embeddable(b []byte) bool {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] == '"' || bytes.Equal(trimmed, []byte("null")) {
		return false
	}
	return json.Valid(trimmed)
}
