// Command redisbroker relays event records between stdin/stdout and Redis
// streams. Events read from stdin are appended to the stream named after them;
// entries of the configured streams are written to stdout and acknowledged.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spec-tacles/spectacles/internal/broker"
	"github.com/spec-tacles/spectacles/pkg/config"
	"github.com/spec-tacles/spectacles/pkg/metrics"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "redisbroker",
		Short:        "Relay events between stdin/stdout and Redis streams",
		SilenceUsage: true,
		RunE:         run,
	}

	flags := cmd.Flags()
	flags.StringP("config-file", "c", "", "YAML config file (env: REDIS_CONFIG_FILE)")
	flags.StringP("address", "a", "", "Redis address (env: REDIS_ADDRESS, default localhost:6379)")
	flags.StringP("group", "g", "", "Consumer group (env: REDIS_GROUP)")
	flags.StringSliceP("events", "e", nil, "Events to consume (env: REDIS_EVENTS)")
	flags.String("format", "", "Event record format: bson|json (env: REDIS_FORMAT)")
	flags.String("metrics-addr", "", "Prometheus listen address (env: REDIS_METRICS_ADDR)")
	flags.String("log-level", os.Getenv("LOG_LEVEL"), "Log level: debug|info|warn|error")
	flags.String("log-format", os.Getenv("LOG_FORMAT"), "Log format: text|json")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.RedisConfig, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config-file")

	cfg, err := config.LoadRedisConfig(path)
	if err != nil {
		return nil, err
	}

	// flags override the file and the environment
	if flags.Changed("address") {
		cfg.Address, _ = flags.GetString("address")
	}
	if flags.Changed("group") {
		cfg.Group, _ = flags.GetString("group")
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

	if err := cfg.Validate(); err != nil {
		return nil, err
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize all dependencies
	deps, err := InitializeDependencies(ctx, cfg, logger, os.Stdin, os.Stdout)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		return err
	}
	defer deps.Close()

	tasks := broker.Tasks{Input: deps.Publisher.Run}
	if deps.Consumer != nil {
		tasks.Outputs = append(tasks.Outputs, broker.Stoppable(deps.Consumer.Start, deps.Consumer.Stop))
	}
	if cfg.MetricsAddr != "" {
		tasks.Services = append(tasks.Services, func(ctx context.Context) error {
			return metrics.Serve(ctx, cfg.MetricsAddr, deps.Registry, logger)
		})
	}

	if err := broker.Run(ctx, tasks); err != nil {
		logger.Error("broker stopped", "error", err)
		return err
	}
	logger.Info("broker stopped")
	return nil
}
