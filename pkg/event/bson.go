package event

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	minDocumentSize = 5
	// matches the MongoDB document limit
	maxDocumentSize = 16 << 20
)

// BSONDecoder reads events encoded as consecutive BSON documents of the form
// {name: string, data: document | binary | string}.
//
// A document payload is returned as its raw BSON bytes, so relaying a
// structured event keeps it structured on the way out.
type BSONDecoder struct {
	r io.Reader
}

func NewBSONDecoder(r io.Reader) *BSONDecoder {
	return &BSONDecoder{r: r}
}

func (d *BSONDecoder) Decode() (Event, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(d.r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}
		return Event{}, fmt.Errorf("failed to read event document: %w", err)
	}

	// int32 length prefix, includes itself and the trailing NUL
	length := int32(binary.LittleEndian.Uint32(prefix[:]))
	if length < minDocumentSize || length > maxDocumentSize {
		return Event{}, fmt.Errorf("invalid event document length %d", length)
	}

	doc := make(bson.Raw, length)
	copy(doc, prefix[:])
	if _, err := io.ReadFull(d.r, doc[4:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Event{}, fmt.Errorf("failed to read event document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return Event{}, fmt.Errorf("invalid event document: %w", err)
	}
	return decodeBSON(doc)
}

func decodeBSON(doc bson.Raw) (Event, error) {
	nameValue, err := doc.LookupErr("name")
	if err != nil {
		return Event{}, fmt.Errorf("event document has no name: %w", err)
	}
	name, ok := nameValue.StringValueOK()
	if !ok {
		return Event{}, fmt.Errorf("event name is %s, not a string", nameValue.Type)
	}

	ev := Event{Name: name}

	dataValue, err := doc.LookupErr("data")
	if err != nil {
		return ev, nil
	}

	switch dataValue.Type {
	case bson.TypeEmbeddedDocument, bson.TypeArray:
		ev.Data = append([]byte(nil), dataValue.Value...)
	case bson.TypeBinary:
		_, data := dataValue.Binary()
		ev.Data = append([]byte(nil), data...)
	case bson.TypeString:
		ev.Data = []byte(dataValue.StringValue())
	case bson.TypeNull:
	default:
		return Event{}, fmt.Errorf("event %s has unsupported data type %s", name, dataValue.Type)
	}
	return ev, nil
}

// BSONEncoder writes events as BSON documents. Payloads that are themselves
// valid BSON documents are embedded; anything else is written as generic
// binary.
type BSONEncoder struct {
	w io.Writer
}

func NewBSONEncoder(w io.Writer) *BSONEncoder {
	return &BSONEncoder{w: w}
}

func (e *BSONEncoder) Encode(ev Event) error {
	b, err := MarshalBSON(ev)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(b); err != nil {
		return fmt.Errorf("failed to write event %s: %w", ev.Name, err)
	}
	return nil
}

// MarshalBSON encodes a single event document.
func MarshalBSON(ev Event) ([]byte, error) {
	var data interface{}
	switch {
	case ev.Data == nil:
		data = nil
	case isDocument(ev.Data):
		data = bson.Raw(ev.Data)
	default:
		data = primitive.Binary{Subtype: bson.TypeBinaryGeneric, Data: ev.Data}
	}

	b, err := bson.Marshal(bson.D{
		{Key: "name", Value: ev.Name},
		{Key: "data", Value: data},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", ev.Name, err)
	}
	return b, nil
}

func isDocument(b []byte) bool {
	if len(b) < minDocumentSize || int(binary.LittleEndian.Uint32(b)) != len(b) {
		return false
	}
	return bson.Raw(b).Validate() == nil
}

// DocumentToJSON rewrites an event whose payload is a BSON document into one
// carrying the relaxed extended JSON form of that document. Other payloads are
// returned unchanged.
func DocumentToJSON(ev Event) (Event, error) {
	if !isDocument(ev.Data) {
		return ev, nil
	}
	b, err := bson.MarshalExtJSON(bson.Raw(ev.Data), false, false)
	if err != nil {
		return Event{}, fmt.Errorf("failed to convert event %s to JSON: %w", ev.Name, err)
	}
	return Event{Name: ev.Name, Data: b}, nil
}
