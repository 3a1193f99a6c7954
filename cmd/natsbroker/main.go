// Command natsbroker relays event records between stdin/stdout and NATS.
// Events read from stdin are published on the subject named after them;
// messages on the configured subjects are written to stdout.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/spec-tacles/spectacles/internal/broker"
	"github.com/spec-tacles/spectacles/internal/pubsub"
	"github.com/spec-tacles/spectacles/pkg/config"
	"github.com/spec-tacles/spectacles/pkg/event"
	"github.com/spec-tacles/spectacles/pkg/metrics"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "natsbroker",
		Short:        "Relay events between stdin/stdout and NATS subjects",
		SilenceUsage: true,
		RunE:         run,
	}

	flags := cmd.Flags()
	flags.StringP("config-file", "c", "", "YAML config file (env: NATS_CONFIG_FILE)")
	flags.StringP("url", "u", "", "NATS server URL (env: NATS_URL, default nats://localhost:4222)")
	flags.String("name", "", "Client connection name (env: NATS_NAME)")
	flags.StringSliceP("events", "e", nil, "Subjects to subscribe to (env: NATS_EVENTS)")
	flags.String("format", "", "Event record format: bson|json (env: NATS_FORMAT)")
	flags.String("metrics-addr", "", "Prometheus listen address (env: NATS_METRICS_ADDR)")
	flags.String("log-level", os.Getenv("LOG_LEVEL"), "Log level: debug|info|warn|error")
	flags.String("log-format", os.Getenv("LOG_FORMAT"), "Log format: text|json")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.NATSConfig, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config-file")

	cfg, err := config.LoadNATSConfig(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("url") {
		cfg.URL, _ = flags.GetString("url")
	}
	if flags.Changed("name") {
		cfg.Name, _ = flags.GetString("name")
	}
	if flags.Changed("events") {
		cfg.Events, _ = flags.GetStringSlice("events")
	}
	if flags.Changed("format") {
		cfg.Format, _ = flags.GetString("format")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	return cfg, nil
}

func run(cmd *cobra.Command, _ []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFormat, _ := cmd.Flags().GetString("log-format")
	logger := config.NewLogger(logLevel, logFormat)

	cfg, err := loadConfig(cmd)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	format, err := event.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	decoder, err := event.NewDecoder(format, bufio.NewReader(os.Stdin))
	if err != nil {
		return err
	}
	encoder, err := event.NewEncoder(format, os.Stdout)
	if err != nil {
		return err
	}

	registry := metrics.NewRegistry()
	m, err := metrics.New("nats", registry)
	if err != nil {
		return err
	}

	conn, err := nats.Connect(cfg.URL, pubsub.Options(cfg.Name, logger)...)
	if err != nil {
		logger.Error("failed to connect to NATS", "url", cfg.URL, "error", err)
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer conn.Drain()
	logger.Info("connected to NATS", "url", conn.ConnectedUrl())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tasks := broker.Tasks{
		Input: pubsub.NewPublisher(conn, decoder, m, logger.With("component", "publisher")).Run,
	}
	if len(cfg.Events) > 0 {
		subscriber := pubsub.NewSubscriber(conn, cfg.Events, encoder, m, logger.With("component", "subscriber"))
		tasks.Outputs = append(tasks.Outputs, subscriber.Run)
	}
	if cfg.MetricsAddr != "" {
		tasks.Services = append(tasks.Services, func(ctx context.Context) error {
			return metrics.Serve(ctx, cfg.MetricsAddr, registry, logger)
		})
	}

	if err := broker.Run(ctx, tasks); err != nil {
		logger.Error("broker stopped", "error", err)
		return err
	}
	logger.Info("broker stopped")
	return nil
}
