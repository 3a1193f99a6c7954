// Package relay connects the event records on stdin and stdout to Redis
// streams.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spec-tacles/spectacles/pkg/event"
	"github.com/spec-tacles/spectacles/pkg/metrics"
	"github.com/spec-tacles/spectacles/pkg/stream"
)

// Publisher appends every decoded event to the stream named after it.
type Publisher struct {
	client  stream.Client
	decoder event.Decoder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher creates a publisher reading from decoder
func NewPublisher(client stream.Client, decoder event.Decoder, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:  client,
		decoder: decoder,
		metrics: m,
		logger:  logger,
	}
}

// Run publishes events until the input ends, ctx is cancelled, or a record
// cannot be decoded or published. The end of input is not an error.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		ev, err := p.decoder.Decode()
		if errors.Is(err, io.EOF) {
			p.logger.Info("input closed, publisher done")
			return nil
		}
		if err != nil {
			p.metrics.Error(metrics.StageDecode)
			return fmt.Errorf("failed to decode event: %w", err)
		}

		id, err := p.client.Publish(ctx, ev.Name, ev.Data)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.metrics.Error(metrics.StagePublish)
			return fmt.Errorf("failed to publish event %s: %w", ev.Name, err)
		}

		p.metrics.Published(ev.Name)
		p.logger.Debug("published event", "event", ev.Name, "id", id.String(), "size", len(ev.Data))
	}
}
