package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spec-tacles/spectacles/pkg/event"
	"github.com/spec-tacles/spectacles/pkg/metrics"
)

// MaxBodySize caps the payload of one incoming event.
const MaxBodySize = 16 << 20

// Receiver turns requests to <prefix>/<name> into events named <name> whose
// data is the request body.
type Receiver struct {
	prefix  string
	method  string
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	encoder event.Encoder
}

func NewReceiver(prefix, method string, encoder event.Encoder, m *metrics.Metrics, logger *slog.Logger) *Receiver {
	return &Receiver{
		prefix:  strings.TrimSuffix(prefix, "/"),
		method:  method,
		encoder: encoder,
		metrics: m,
		logger:  logger,
	}
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.Path, rc.prefix+"/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != rc.method {
		w.Header().Set("Allow", rc.method)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		http.Error(w, "event name required", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	rc.mu.Lock()
	err = rc.encoder.Encode(event.Event{Name: rest, Data: data})
	rc.mu.Unlock()
	if err != nil {
		rc.metrics.Error(metrics.StageEncode)
		rc.logger.Error("failed to write event", "event", rest, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	rc.metrics.Consumed(rest)
	rc.logger.Debug("received event", "event", rest, "size", len(data))
	w.WriteHeader(http.StatusNoContent)
}

// ListenAddr splits a listen URL such as http://0.0.0.0:8080/events into the
// TCP address and the path prefix.
func ListenAddr(rawURL string) (addr, prefix string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid listen url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("listen url %q has no host", rawURL)
	}

	addr = u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	return addr, strings.TrimSuffix(u.Path, "/"), nil
}

// Serve runs handler on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to stop http server: %w", err)
		}
		return nil
	}
}
