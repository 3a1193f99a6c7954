package pubsub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-tacles/spectacles/pkg/event"
)

type published struct {
	subject string
	data    []byte
}

// fakeConn records publishes and lets tests deliver messages to subscribers
type fakeConn struct {
	mu         sync.Mutex
	published  []published
	handlers   map[string]nats.MsgHandler
	flushed    int
	publishErr error
	subscribed chan string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		handlers:   make(map[string]nats.MsgHandler),
		subscribed: make(chan string, 16),
	}
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, published{subject: subject, data: data})
	return nil
}

func (c *fakeConn) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	c.handlers[subject] = handler
	c.mu.Unlock()
	c.subscribed <- subject
	return nil, nil
}

func (c *fakeConn) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushed++
	return nil
}

func (c *fakeConn) deliver(subject string, data []byte) {
	c.mu.Lock()
	handler := c.handlers[subject]
	c.mu.Unlock()
	handler(&nats.Msg{Subject: subject, Data: data})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOptions(t *testing.T) {
	opts := nats.GetDefaultOptions()
	for _, opt := range Options("spectacles-test", discardLogger()) {
		require.NoError(t, opt(&opts))
	}

	assert.Equal(t, "spectacles-test", opts.Name)
	assert.Equal(t, -1, opts.MaxReconnect)
	assert.NotNil(t, opts.ReconnectedCB)
	assert.NotNil(t, opts.AsyncErrorCB)
}

func TestPublisher_Run(t *testing.T) {
	conn := newFakeConn()
	input := strings.NewReader(`{"name":"READY","data":{"v":1}}
{"name":"TYPING_START","data":"x"}
`)

	err := NewPublisher(conn, event.NewJSONDecoder(input), nil, discardLogger()).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, conn.published, 2)
	assert.Equal(t, "READY", conn.published[0].subject)
	assert.Equal(t, `{"v":1}`, string(conn.published[0].data))
	assert.Equal(t, "TYPING_START", conn.published[1].subject)
	assert.Equal(t, "x", string(conn.published[1].data))
	assert.Equal(t, 1, conn.flushed)
}

func TestPublisher_Run_PublishError(t *testing.T) {
	conn := newFakeConn()
	conn.publishErr = nats.ErrConnectionClosed

	err := NewPublisher(conn, event.NewJSONDecoder(strings.NewReader(`{"name":"READY"}`)), nil, discardLogger()).Run(context.Background())
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}

func TestSubscriber_Run(t *testing.T) {
	conn := newFakeConn()
	var out bytes.Buffer
	events := []string{"READY", "MESSAGE_CREATE"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewSubscriber(conn, events, event.NewJSONEncoder(&out), nil, discardLogger()).Run(ctx)
	}()

	for range events {
		select {
		case <-conn.subscribed:
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber did not subscribe")
		}
	}

	// deliver blocks until Run has taken the message
	conn.deliver("MESSAGE_CREATE", []byte("hello"))
	conn.deliver("READY", []byte(`{"v":2}`))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}

	dec := event.NewJSONDecoder(&out)
	first, err := dec.Decode()
	require.NoError(t, err)
	second, err := dec.Decode()
	require.NoError(t, err)
	_, err = dec.Decode()
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, event.Event{Name: "MESSAGE_CREATE", Data: []byte("hello")}, first)
	assert.Equal(t, event.Event{Name: "READY", Data: []byte(`{"v":2}`)}, second)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSubscriber_Run_WriteError(t *testing.T) {
	conn := newFakeConn()
	done := make(chan error, 1)
	go func() {
		done <- NewSubscriber(conn, []string{"READY"}, event.NewBSONEncoder(failingWriter{}), nil, discardLogger()).Run(context.Background())
	}()

	<-conn.subscribed
	conn.deliver("READY", []byte("x"))

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop on write error")
	}
}
