package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spec-tacles/spectacles/pkg/event"
	"github.com/spec-tacles/spectacles/pkg/metrics"
	"github.com/spec-tacles/spectacles/pkg/stream"
)

// Consumer writes every message of its consumer group to an encoder and
// acknowledges it once written.
type Consumer struct {
	client  stream.Client
	events  []string
	encoder event.Encoder
	metrics *metrics.Metrics
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewConsumer creates a consumer for the given streams
func NewConsumer(client stream.Client, events []string, encoder event.Encoder, m *metrics.Metrics, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		client:  client,
		events:  events,
		encoder: encoder,
		metrics: m,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start blocks until Stop is called or the subscription fails. A message is
// acknowledged only after it has been written, so a crash in between leaves
// it pending for another consumer to reclaim.
func (c *Consumer) Start() error {
	c.logger.Info("starting consumer",
		"group", c.client.Group(),
		"consumer", c.client.Name(),
		"events", c.events,
	)

	sub := c.client.Consume(c.ctx, c.events)
	defer sub.Close()

	for msg := range sub.Messages() {
		if err := c.handle(msg); err != nil {
			return err
		}
	}

	if err := sub.Err(); err != nil {
		c.metrics.Error(metrics.StageConsume)
		return fmt.Errorf("consumer stopped: %w", err)
	}

	c.logger.Info("consumer shutting down")
	return nil
}

func (c *Consumer) handle(msg *stream.Message) error {
	if deadline, ok := msg.TimeoutAt(); ok {
		c.logger.Debug("received event with deadline", "event", msg.Event, "id", msg.ID.String(), "timeout_at", deadline)
	}

	if err := c.encoder.Encode(event.Event{Name: msg.Event, Data: msg.Data()}); err != nil {
		c.metrics.Error(metrics.StageEncode)
		return fmt.Errorf("failed to write event %s %s: %w", msg.Event, msg.ID, err)
	}
	c.metrics.Consumed(msg.Event)

	// not c.ctx: Stop must not strand a message that was already written
	if err := msg.Ack(context.Background()); err != nil {
		c.metrics.Error(metrics.StageAck)
		return fmt.Errorf("failed to ack event %s %s: %w", msg.Event, msg.ID, err)
	}
	c.metrics.Acked(msg.Event)

	c.logger.Debug("relayed event", "event", msg.Event, "id", msg.ID.String())
	return nil
}

// Stop cancels the subscription. Start returns once it has drained.
func (c *Consumer) Stop() {
	c.logger.Info("stopping consumer")
	c.cancel()
}
