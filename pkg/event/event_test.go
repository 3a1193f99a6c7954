package event

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := bson.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatBSON},
		{in: "bson", want: FormatBSON},
		{in: " JSON ", want: FormatJSON},
		{in: "msgpack", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownFormat, "ParseFormat(%q)", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := NewDecoder(Format("xml"), bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrUnknownFormat)
	_, err = NewEncoder(Format("xml"), io.Discard)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestBSON_RoundTrip(t *testing.T) {
	doc := mustMarshal(t, bson.D{{Key: "user", Value: "alice"}, {Key: "n", Value: int32(3)}})
	events := []Event{
		{Name: "MESSAGE_CREATE", Data: doc},
		{Name: "RAW", Data: []byte{0x00, 0xff, 0x10}},
		{Name: "EMPTY"},
	}

	var buf bytes.Buffer
	enc := NewBSONEncoder(&buf)
	for _, ev := range events {
		require.NoError(t, enc.Encode(ev))
	}

	dec := NewBSONDecoder(&buf)
	for _, want := range events {
		got, err := dec.Decode()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := dec.Decode()
	assert.Equal(t, io.EOF, err)
}

func TestBSON_DocumentPayloadStaysEmbedded(t *testing.T) {
	doc := mustMarshal(t, bson.D{{Key: "id", Value: "42"}})
	b, err := MarshalBSON(Event{Name: "READY", Data: doc})
	require.NoError(t, err)

	data := bson.Raw(b).Lookup("data")
	assert.Equal(t, bson.TypeEmbeddedDocument, data.Type)
	assert.Equal(t, "42", data.Document().Lookup("id").StringValue())
}

func TestBSON_StringPayload(t *testing.T) {
	b := mustMarshal(t, bson.D{{Key: "name", Value: "PING"}, {Key: "data", Value: "hello"}})

	got, err := NewBSONDecoder(bytes.NewReader(b)).Decode()
	require.NoError(t, err)
	assert.Equal(t, Event{Name: "PING", Data: []byte("hello")}, got)
}

func TestBSON_DecodeErrors(t *testing.T) {
	valid := mustMarshal(t, bson.D{{Key: "name", Value: "PING"}})

	tests := map[string][]byte{
		"truncated":        valid[:len(valid)-1],
		"length too small": {0x02, 0x00, 0x00, 0x00},
		"length too large": {0xff, 0xff, 0xff, 0x7f, 0x00, 0x00},
		"partial prefix":   {0x10, 0x00},
		"missing name":     mustMarshal(t, bson.D{{Key: "data", Value: "x"}}),
		"name not string":  mustMarshal(t, bson.D{{Key: "name", Value: int32(1)}}),
		"unsupported data": mustMarshal(t, bson.D{{Key: "name", Value: "PING"}, {Key: "data", Value: 1.5}}),
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewBSONDecoder(bytes.NewReader(input)).Decode()
			require.Error(t, err)
			assert.False(t, errors.Is(err, io.EOF), "must not look like a clean end of input: %v", err)
		})
	}
}

func TestBSON_RejectsOversizedLengthBeforeReading(t *testing.T) {
	_, err := NewBSONDecoder(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0x7f, 0x00, 0x00})).Decode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid event document length 2147483647")

	// exactly the limit is still read
	limit := []byte{0x00, 0x00, 0x00, 0x01}
	_, err = NewBSONDecoder(bytes.NewReader(limit)).Decode()
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestJSON_RoundTrip(t *testing.T) {
	events := []Event{
		{Name: "MESSAGE_CREATE", Data: []byte(`{"content":"hi"}`)},
		{Name: "TEXT", Data: []byte("plain text")},
		{Name: "QUOTED", Data: []byte(`"already a json string"`)},
		{Name: "NUMBER", Data: []byte("17")},
		{Name: "BINARY", Data: []byte{0xff, 0xfe, 0x00, 0x61}},
		{Name: "LOOKS_BINARY", Data: []byte(`{"$binary":{"base64":"AA==","subType":"00"}}`)},
		{Name: "EMPTY"},
	}

	var buf bytes.Buffer
	enc := NewJSONEncoder(&buf)
	for _, ev := range events {
		require.NoError(t, enc.Encode(ev))
	}
	assert.Equal(t, len(events), bytes.Count(buf.Bytes(), []byte("\n")))

	dec := NewJSONDecoder(&buf)
	for _, want := range events {
		got, err := dec.Decode()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := dec.Decode()
	assert.Equal(t, io.EOF, err)
}

func TestJSON_EmbedsStructuredPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONEncoder(&buf).Encode(Event{Name: "READY", Data: []byte(`{"v":9}`)}))
	assert.JSONEq(t, `{"name":"READY","data":{"v":9}}`, buf.String())
}

func TestJSON_NonUTF8PayloadIsBase64(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONEncoder(&buf).Encode(Event{Name: "RAW", Data: []byte{0xff, 0xfe, 0x00, 0x61}}))
	assert.JSONEq(t, `{"name":"RAW","data":{"$binary":{"base64":"//4AYQ==","subType":"00"}}}`, buf.String())

	ev, err := NewJSONDecoder(&buf).Decode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfe, 0x00, 0x61}, ev.Data)
}

func TestJSON_DecodeErrors(t *testing.T) {
	for name, input := range map[string]string{
		"no name":     `{"data":1}`,
		"not json":    `name=x`,
		"bad string":  `{"name":"x","data":"\x"}`,
		"cut in half": `{"name":"x",`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewJSONDecoder(bytes.NewBufferString(input)).Decode()
			require.Error(t, err)
			assert.False(t, errors.Is(err, io.EOF), "got %v", err)
		})
	}
}

func TestDocumentToJSON(t *testing.T) {
	doc := mustMarshal(t, bson.D{{Key: "id", Value: "42"}, {Key: "n", Value: int32(1)}})

	got, err := DocumentToJSON(Event{Name: "READY", Data: doc})
	require.NoError(t, err)
	assert.Equal(t, "READY", got.Name)
	assert.JSONEq(t, `{"id":"42","n":1}`, string(got.Data))

	raw := Event{Name: "RAW", Data: []byte("not a document")}
	got, err = DocumentToJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}
