// Package webhook relays event records over plain HTTP: outgoing events become
// requests to <url><name>, incoming requests to <path>/<name> become events.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/spec-tacles/spectacles/pkg/event"
	"github.com/spec-tacles/spectacles/pkg/metrics"
)

// DefaultConcurrency bounds the requests a Forwarder has in flight.
const DefaultConcurrency = 16

// Forwarder sends one request per decoded event.
type Forwarder struct {
	client      *http.Client
	method      string
	baseURL     string
	decoder     event.Decoder
	metrics     *metrics.Metrics
	logger      *slog.Logger
	concurrency int
}

func NewForwarder(client *http.Client, method, baseURL string, decoder event.Decoder, m *metrics.Metrics, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client:      client,
		method:      method,
		baseURL:     baseURL,
		decoder:     decoder,
		metrics:     m,
		logger:      logger,
		concurrency: DefaultConcurrency,
	}
}

// Run forwards events until the input ends or ctx is cancelled, then waits
// for requests in flight. A failed request is logged and skipped; only an
// undecodable input stops the forwarder with an error.
func (f *Forwarder) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(f.concurrency)

	var runErr error
	for ctx.Err() == nil {
		ev, err := f.decoder.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			f.metrics.Error(metrics.StageDecode)
			runErr = fmt.Errorf("failed to decode event: %w", err)
			break
		}

		g.Go(func() error {
			f.send(ctx, ev)
			return nil
		})
	}

	_ = g.Wait()
	return runErr
}

func (f *Forwarder) send(ctx context.Context, ev event.Event) {
	url := f.baseURL + ev.Name
	logger := f.logger.With("event", ev.Name, "url", url)

	req, err := http.NewRequestWithContext(ctx, f.method, url, bytes.NewReader(ev.Data))
	if err != nil {
		f.metrics.Error(metrics.StageRequest)
		logger.Warn("failed to build request", "error", err)
		return
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.Error(metrics.StageRequest)
		logger.Warn("request failed", "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		f.metrics.Error(metrics.StageRequest)
		logger.Warn("request rejected", "status", resp.StatusCode)
		return
	}

	f.metrics.Published(ev.Name)
	logger.Debug("forwarded event", "status", resp.StatusCode)
}
