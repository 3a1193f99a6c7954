package stream

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Message is one entry delivered to this consumer, either freshly read or
// reclaimed from another consumer. It stays pending in the group until Ack.
type Message struct {
	ID     ID
	Event  string
	Fields map[string]interface{}

	client Client
}

func (c Client) newMessage(event string, entry redis.XMessage) (*Message, error) {
	id, err := ParseID(entry.ID)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:     id,
		Event:  event,
		Fields: entry.Values,
		client: c,
	}, nil
}

// Data returns the data field, or nil when the entry has none.
func (m *Message) Data() []byte {
	switch v := m.Fields[DataField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

// TimeoutAt returns the deadline written by PublishWithDeadline.
func (m *Message) TimeoutAt() (time.Time, bool) {
	raw, ok := m.Fields[TimeoutField].(string)
	if !ok {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// Ack acknowledges the message through the client that received it.
func (m *Message) Ack(ctx context.Context) error {
	return m.client.Ack(ctx, m.Event, m.ID)
}
