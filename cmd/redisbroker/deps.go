package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/spec-tacles/spectacles/internal/relay"
	"github.com/spec-tacles/spectacles/pkg/config"
	"github.com/spec-tacles/spectacles/pkg/event"
	"github.com/spec-tacles/spectacles/pkg/metrics"
	"github.com/spec-tacles/spectacles/pkg/stream"
)

// Dependencies holds all initialized broker dependencies
type Dependencies struct {
	RedisClient  *redis.Client
	StreamClient stream.Client
	Registry     *prometheus.Registry
	Publisher    *relay.Publisher
	// Consumer is nil when no events are configured
	Consumer *relay.Consumer
}

// InitializeDependencies connects to Redis and sets up the relays
func InitializeDependencies(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger, in io.Reader, out io.Writer) (*Dependencies, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	deps, err := newDependencies(ctx, redisClient, cfg, logger, in, out)
	if err != nil {
		redisClient.Close()
		return nil, err
	}
	return deps, nil
}

func newDependencies(ctx context.Context, redisClient *redis.Client, cfg *config.RedisConfig, logger *slog.Logger, in io.Reader, out io.Writer) (*Dependencies, error) {
	// Test Redis connection
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis", "address", cfg.Address)

	format, err := event.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	decoder, err := event.NewDecoder(format, bufio.NewReader(in))
	if err != nil {
		return nil, err
	}
	encoder, err := event.NewEncoder(format, out)
	if err != nil {
		return nil, err
	}

	registry := metrics.NewRegistry()
	m, err := metrics.New("redis", registry)
	if err != nil {
		return nil, err
	}

	streamClient := stream.New(redisClient, cfg.Group)
	if err := streamClient.Initialize(ctx, cfg.Events); err != nil {
		return nil, err
	}
	logger.Info("consumer group ready", "group", cfg.Group, "consumer", streamClient.Name(), "events", cfg.Events)

	deps := &Dependencies{
		RedisClient:  redisClient,
		StreamClient: streamClient,
		Registry:     registry,
		Publisher:    relay.NewPublisher(streamClient, decoder, m, logger.With("component", "publisher")),
	}
	if len(cfg.Events) > 0 {
		deps.Consumer = relay.NewConsumer(streamClient, cfg.Events, encoder, m, logger.With("component", "consumer"))
	}
	return deps, nil
}

// Close cleans up all resources
func (d *Dependencies) Close() error {
	if d.Consumer != nil {
		d.Consumer.Stop()
	}
	if d.RedisClient != nil {
		return d.RedisClient.Close()
	}
	return nil
}
