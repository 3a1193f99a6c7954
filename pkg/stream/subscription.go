package stream

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// Subscription is the merged feed produced by Consume.
type Subscription struct {
	messages chan *Message
	done     chan struct{}
	cancel   context.CancelFunc
	err      error
}

// Consume starts harvesting events until ctx is cancelled, Close is called,
// or a command fails.
//
// One loop reads new entries from all streams at once with XREADGROUP. One
// loop per stream reclaims entries idle for longer than the minimum idle
// time with XAUTOCLAIM. Messages are delivered in whatever order the loops
// produce them; entries from a single reply keep the server order. The first
// failure stops every loop and is reported by Err.
func (c Client) Consume(ctx context.Context, events []string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		messages: make(chan *Message),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	if len(events) == 0 {
		s.err = ErrNoEvents
		close(s.messages)
		close(s.done)
		return s
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.claimLoop(gctx, events, s.messages)
	})
	for _, event := range events {
		g.Go(func() error {
			return c.autoclaimLoop(gctx, event, s.messages)
		})
	}

	go func() {
		err := g.Wait()
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			err = nil
		}
		s.err = err
		close(s.messages)
		close(s.done)
	}()

	return s
}

// Messages returns the channel of delivered messages. It is closed when the
// subscription ends.
func (s *Subscription) Messages() <-chan *Message {
	return s.messages
}

// Err returns the error that ended the subscription, or nil if it was
// cancelled. It is only meaningful after Messages is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Done is closed once every loop has returned.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops the subscription and waits for its loops to return. A loop
// blocked in XREADGROUP returns once the block interval elapses.
func (s *Subscription) Close() error {
	s.cancel()
	for range s.messages {
	}
	<-s.done
	return s.err
}

func (c Client) claimLoop(ctx context.Context, events []string, out chan<- *Message) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		messages, err := c.readGroup(ctx, events)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if err := deliver(ctx, out, messages); err != nil {
			return err
		}
	}
}

func (c Client) autoclaimLoop(ctx context.Context, event string, out chan<- *Message) error {
	timer := time.NewTimer(c.autoclaimInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		messages, err := c.autoclaim(ctx, event)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if err := deliver(ctx, out, messages); err != nil {
			return err
		}
		timer.Reset(c.autoclaimInterval)
	}
}

func deliver(ctx context.Context, out chan<- *Message, messages []*Message) error {
	for _, msg := range messages {
		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
