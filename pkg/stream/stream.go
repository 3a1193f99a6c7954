package stream

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Entry fields written by Publish and PublishWithDeadline.
const (
	DataField    = "data"
	TimeoutField = "timeout_at"
)

// Fixed consumer tuning. XAUTOCLAIM cannot block, so DefaultAutoclaimInterval
// is the delay between reclaim polls of each stream.
const (
	DefaultBatchSize         = 10
	DefaultBlockInterval     = 5 * time.Second
	DefaultAutoclaimInterval = 5 * time.Second
	DefaultMinIdleTime       = 10 * time.Second
)

// Cmdable is the subset of redis.Cmdable used by Client. *redis.Client
// satisfies it and lends a pooled connection per command.
type Cmdable interface {
	Do(ctx context.Context, args ...interface{}) *redis.Cmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Option customizes a Client.
type Option func(*Client)

// WithConsumerName replaces the random consumer name.
func WithConsumerName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithBatchSize sets the COUNT of each XREADGROUP and XAUTOCLAIM.
func WithBatchSize(n int64) Option {
	return func(c *Client) { c.batchSize = n }
}

// WithBlockInterval sets how long XREADGROUP blocks waiting for new entries.
func WithBlockInterval(d time.Duration) Option {
	return func(c *Client) { c.blockInterval = d }
}

// WithAutoclaimInterval sets the delay between reclaim polls of a stream.
func WithAutoclaimInterval(d time.Duration) Option {
	return func(c *Client) { c.autoclaimInterval = d }
}

// WithMinIdleTime sets how long an entry must stay unacknowledged before
// another consumer may reclaim it.
func WithMinIdleTime(d time.Duration) Option {
	return func(c *Client) { c.minIdleTime = d }
}
