// Package broker runs the concurrent halves of a broker process.
package broker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is one long-running part of a broker.
type Task func(ctx context.Context) error

// Tasks groups what a broker runs.
type Tasks struct {
	// Input reads stdin. It may block in a read that ignores ctx, so Run
	// never waits for it after ctx is done.
	Input Task
	// Outputs run until ctx is done.
	Outputs []Task
	// Services such as the metrics endpoint run while anything else does.
	Services []Task
}

// Run starts every task and returns when ctx is done, when any task fails,
// or when the input is exhausted and there are no outputs. The first error
// is returned; cancellation is not an error.
func Run(ctx context.Context, t Tasks) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if t.Input != nil {
		done := make(chan error, 1)
		go func() {
			done <- t.Input(ctx)
		}()
		g.Go(func() error {
			select {
			case err := <-done:
				if err == nil && len(t.Outputs) == 0 {
					cancel()
				}
				return err
			case <-ctx.Done():
				return nil
			}
		})
	}

	for _, task := range t.Outputs {
		g.Go(func() error {
			return task(ctx)
		})
	}
	for _, task := range t.Services {
		g.Go(func() error {
			return task(ctx)
		})
	}

	return g.Wait()
}

// Stoppable adapts a Start/Stop component to a Task.
func Stoppable(start func() error, stop func()) Task {
	return func(ctx context.Context) error {
		stopped := make(chan struct{})
		defer close(stopped)
		go func() {
			select {
			case <-ctx.Done():
				stop()
			case <-stopped:
			}
		}()
		return start()
	}
}
