package stream

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	clock "go.llib.dev/testcase/clock"
)

// Client is one consumer inside one consumer group.
//
// Client values may be copied freely. Copies share the connection pool and
// the reclaim cursors, and keep the same consumer name and group.
type Client struct {
	name  string
	group string
	rdb   Cmdable

	cursors *cursorTable

	batchSize         int64
	blockInterval     time.Duration
	autoclaimInterval time.Duration
	minIdleTime       time.Duration
}

// New creates a Client in the given group with a random consumer name.
func New(rdb Cmdable, group string, opts ...Option) Client {
	c := Client{
		name:              uuid.NewString(),
		group:             group,
		rdb:               rdb,
		cursors:           newCursorTable(),
		batchSize:         DefaultBatchSize,
		blockInterval:     DefaultBlockInterval,
		autoclaimInterval: DefaultAutoclaimInterval,
		minIdleTime:       DefaultMinIdleTime,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Name returns the consumer name of this client.
func (c Client) Name() string { return c.name }

// Group returns the consumer group of this client.
func (c Client) Group() string { return c.group }

// Initialize creates the consumer group on every stream, creating streams
// that do not exist yet. New groups start at the tail of the stream. An
// existing group is not an error.
func (c Client) Initialize(ctx context.Context, events []string) error {
	for _, event := range events {
		err := c.rdb.XGroupCreateMkStream(ctx, event, c.group, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("failed to create consumer group %s for stream %s: %w", c.group, event, transportError(err))
		}
	}
	return nil
}

// Publish appends data to the stream named event.
func (c Client) Publish(ctx context.Context, event string, data []byte) (ID, error) {
	return c.add(ctx, event, []interface{}{
		DataField, data,
	})
}

// PublishWithDeadline appends data along with a timeout_at field holding
// deadline in nanoseconds since the epoch. The deadline is informational for
// consumers and is not enforced here.
func (c Client) PublishWithDeadline(ctx context.Context, event string, data []byte, deadline time.Time) (ID, error) {
	return c.add(ctx, event, []interface{}{
		DataField, data,
		TimeoutField, strconv.FormatInt(deadline.UnixNano(), 10),
	})
}

// PublishWithTimeout is PublishWithDeadline with a deadline of now + timeout.
func (c Client) PublishWithTimeout(ctx context.Context, event string, data []byte, timeout time.Duration) (ID, error) {
	return c.PublishWithDeadline(ctx, event, data, clock.Now().Add(timeout))
}

func (c Client) add(ctx context.Context, event string, values []interface{}) (ID, error) {
	res, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: event,
		Values: values,
	}).Result()
	if err != nil {
		return ID{}, fmt.Errorf("failed to publish to stream %s: %w", event, transportError(err))
	}

	id, err := ParseID(res)
	if err != nil {
		return ID{}, fmt.Errorf("failed to publish to stream %s: %w", event, err)
	}
	return id, nil
}

// Ack removes id from the pending entries of the group on stream event.
// Acknowledging an unknown or already acknowledged id is not an error.
func (c Client) Ack(ctx context.Context, event string, id ID) error {
	err := c.rdb.XAck(ctx, event, c.group, id.String()).Err()
	if err != nil {
		return fmt.Errorf("failed to acknowledge message %s on stream %s: %w", id, event, transportError(err))
	}
	return nil
}

// readGroup issues one XREADGROUP for entries never delivered to the group.
// A block timeout yields no messages and no error.
func (c Client) readGroup(ctx context.Context, events []string) ([]*Message, error) {
	streams := make([]string, 0, 2*len(events))
	streams = append(streams, events...)
	for range events {
		streams = append(streams, ">")
	}

	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  streams,
		Count:    c.batchSize,
		Block:    c.blockInterval,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from streams %v: %w", events, transportError(err))
	}

	var messages []*Message
	for _, s := range res {
		for _, entry := range s.Messages {
			msg, err := c.newMessage(s.Stream, entry)
			if err != nil {
				return nil, err
			}
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

// autoclaim issues one XAUTOCLAIM on event starting at the stored cursor and
// stores the cursor returned by the server. Claimed entries that were deleted
// from the stream are acknowledged so they leave the pending list.
func (c Client) autoclaim(ctx context.Context, event string) ([]*Message, error) {
	start := c.cursors.get(event)

	reply, err := c.rdb.Do(ctx,
		"xautoclaim", event, c.group, c.name,
		c.minIdleTime.Milliseconds(), start.String(),
		"count", c.batchSize,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to autoclaim stream %s: %w", event, transportError(err))
	}

	next, entries, deleted, err := parseAutoclaimReply(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to autoclaim stream %s: %w", event, err)
	}
	c.cursors.set(event, next)

	// Redis 7 drops these from the pending list itself
	if len(deleted) > 0 {
		if err := c.rdb.XAck(ctx, event, c.group, deleted...).Err(); err != nil {
			return nil, fmt.Errorf("failed to acknowledge deleted entries on stream %s: %w", event, transportError(err))
		}
	}

	messages := make([]*Message, 0, len(entries))
	for _, entry := range entries {
		msg, err := c.newMessage(event, entry)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// cursorTable holds the XAUTOCLAIM resumption cursor of each stream.
type cursorTable struct {
	mu  sync.RWMutex
	ids map[string]ID
}

func newCursorTable() *cursorTable {
	return &cursorTable{ids: make(map[string]ID)}
}

func (t *cursorTable) get(event string) ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ids[event]
}

func (t *cursorTable) set(event string, id ID) {
	t.mu.Lock()
	t.ids[event] = id
	t.mu.Unlock()
}
