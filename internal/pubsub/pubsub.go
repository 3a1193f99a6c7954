// Package pubsub relays event records to and from NATS subjects. The subject
// of a message is the event name.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/spec-tacles/spectacles/pkg/event"
	"github.com/spec-tacles/spectacles/pkg/metrics"
)

// Conn is the subset of *nats.Conn used by the relays.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
	Flush() error
}

// Options returns the connection options for a long-running broker.
func Options(name string, logger *slog.Logger) []nats.Option {
	return []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS error", "subject", subject, "error", err)
		}),
	}
}

// Publisher publishes every decoded event on the subject named after it.
type Publisher struct {
	conn    Conn
	decoder event.Decoder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewPublisher(conn Conn, decoder event.Decoder, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, decoder: decoder, metrics: m, logger: logger}
}

// Run publishes until the input ends or ctx is cancelled, then flushes.
func (p *Publisher) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		ev, err := p.decoder.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.metrics.Error(metrics.StageDecode)
			return fmt.Errorf("failed to decode event: %w", err)
		}

		if err := p.conn.Publish(ev.Name, ev.Data); err != nil {
			p.metrics.Error(metrics.StagePublish)
			return fmt.Errorf("failed to publish event %s: %w", ev.Name, err)
		}
		p.metrics.Published(ev.Name)
		p.logger.Debug("published event", "event", ev.Name, "size", len(ev.Data))
	}

	if err := p.conn.Flush(); err != nil {
		return fmt.Errorf("failed to flush published events: %w", err)
	}
	return nil
}

// Subscriber writes every message received on its subjects to an encoder.
type Subscriber struct {
	conn    Conn
	events  []string
	encoder event.Encoder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewSubscriber(conn Conn, events []string, encoder event.Encoder, m *metrics.Metrics, logger *slog.Logger) *Subscriber {
	return &Subscriber{conn: conn, events: events, encoder: encoder, metrics: m, logger: logger}
}

// Run subscribes to every event subject and blocks until ctx is cancelled or
// a message cannot be written.
func (s *Subscriber) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// handlers run on the connection's goroutine; the channel hands messages
	// to this one so writes to the encoder never interleave
	received := make(chan *nats.Msg)
	handler := func(msg *nats.Msg) {
		select {
		case received <- msg:
		case <-ctx.Done():
		}
	}

	for _, subject := range s.events {
		sub, err := s.conn.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		if sub != nil {
			defer sub.Unsubscribe()
		}
	}
	s.logger.Info("subscribed", "events", s.events)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-received:
			if err := s.encoder.Encode(event.Event{Name: msg.Subject, Data: msg.Data}); err != nil {
				s.metrics.Error(metrics.StageEncode)
				return fmt.Errorf("failed to write event %s: %w", msg.Subject, err)
			}
			s.metrics.Consumed(msg.Subject)
		}
	}
}
