package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/spec-tacles/spectacles/pkg/event"
	"github.com/spec-tacles/spectacles/pkg/metrics"
	"github.com/spec-tacles/spectacles/pkg/stream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m, err := metrics.New("redis", prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m
}

func TestPublisher_Run(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	defer redisClient.Close()

	client := stream.New(redisClient, "test-group", stream.WithConsumerName("test-consumer"))
	input := strings.NewReader(`{"name":"READY","data":{"v":9}}
{"name":"MESSAGE_CREATE","data":"hello"}
`)
	m := newMetrics(t)
	publisher := NewPublisher(client, event.NewJSONDecoder(input), m, discardLogger())

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "READY",
		Values: []interface{}{"data", []byte(`{"v":9}`)},
	}).SetVal("1-0")
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "MESSAGE_CREATE",
		Values: []interface{}{"data", []byte("hello")},
	}).SetVal("1-1")

	if err := publisher.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled Redis expectations: %s", err)
	}
	if got := testutil.ToFloat64(m.EventsPublished.WithLabelValues("redis", "READY")); got != 1 {
		t.Errorf("Expected 1 published READY event, got %v", got)
	}
}

func TestPublisher_Run_BSON(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	defer redisClient.Close()

	var input bytes.Buffer
	if err := event.NewBSONEncoder(&input).Encode(event.Event{Name: "RAW", Data: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("failed to encode input: %v", err)
	}

	client := stream.New(redisClient, "test-group")
	publisher := NewPublisher(client, event.NewBSONDecoder(&input), nil, discardLogger())

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "RAW",
		Values: []interface{}{"data", []byte{1, 2, 3}},
	}).SetVal("5-0")

	if err := publisher.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled Redis expectations: %s", err)
	}
}

func TestPublisher_Run_Errors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		setupMock func(mock redismock.ClientMock)
		wantErr   error
		wantStage string
	}{
		{
			name:  "publish failure",
			input: `{"name":"READY","data":1}`,
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectXAdd(&redis.XAddArgs{
					Stream: "READY",
					Values: []interface{}{"data", []byte("1")},
				}).SetErr(errors.New("connection refused"))
			},
			wantErr:   stream.ErrTransport,
			wantStage: metrics.StagePublish,
		},
		{
			name:      "undecodable record",
			input:     `{"name":`,
			setupMock: func(mock redismock.ClientMock) {},
			wantStage: metrics.StageDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			redisClient, mock := redismock.NewClientMock()
			defer redisClient.Close()
			tt.setupMock(mock)

			m := newMetrics(t)
			publisher := NewPublisher(stream.New(redisClient, "test-group"), event.NewJSONDecoder(strings.NewReader(tt.input)), m, discardLogger())

			err := publisher.Run(context.Background())
			if err == nil {
				t.Fatal("Run() expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if got := testutil.ToFloat64(m.Errors.WithLabelValues("redis", tt.wantStage)); got != 1 {
				t.Errorf("Expected one %s error, got %v", tt.wantStage, got)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("There were unfulfilled Redis expectations: %s", err)
			}
		})
	}
}

func TestPublisher_Run_Cancelled(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	publisher := NewPublisher(stream.New(redisClient, "test-group"), event.NewJSONDecoder(strings.NewReader(`{"name":"READY"}`)), nil, discardLogger())
	if err := publisher.Run(ctx); err != nil {
		t.Errorf("Run() returned error after cancel: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("There were unfulfilled Redis expectations: %s", err)
	}
}
