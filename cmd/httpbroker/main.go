// Command httpbroker relays event records over HTTP. Events read from stdin
// are sent as requests to <url><name>; with --in, requests received under the
// path of <url> are written to stdout.
package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spec-tacles/spectacles/internal/broker"
	"github.com/spec-tacles/spectacles/internal/webhook"
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
		Use:          "httpbroker",
		Short:        "Relay events between stdin/stdout and HTTP",
		SilenceUsage: true,
		RunE:         run,
	}

	flags := cmd.Flags()
	flags.StringP("config-file", "c", "", "YAML config file (env: HTTP_CONFIG_FILE)")
	flags.StringP("url", "u", "", "Base URL to send to and listen on (env: HTTP_URL)")
	flags.StringP("method", "m", "", "HTTP method (env: HTTP_METHOD, default POST)")
	flags.Bool("in", false, "Receive requests and write them to stdout (env: HTTP_IN)")
	flags.Bool("out", false, "Send events from stdin, also when --in is set (env: HTTP_OUT)")
	flags.Duration("timeout", 0, "Request timeout (env: HTTP_TIMEOUT, default 10s)")
	flags.String("format", "", "Event record format: bson|json (env: HTTP_FORMAT)")
	flags.String("metrics-addr", "", "Prometheus listen address (env: HTTP_METRICS_ADDR)")
	flags.String("log-level", os.Getenv("LOG_LEVEL"), "Log level: debug|info|warn|error")
	flags.String("log-format", os.Getenv("LOG_FORMAT"), "Log format: text|json")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.HTTPConfig, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config-file")

	cfg, err := config.LoadHTTPConfig(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("url") {
		cfg.URL, _ = flags.GetString("url")
	}
	if flags.Changed("method") {
		cfg.Method, _ = flags.GetString("method")
	}
	if flags.Changed("in") {
		cfg.In, _ = flags.GetBool("in")
	}
	if flags.Changed("out") {
		cfg.Out, _ = flags.GetBool("out")
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
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

// newTasks wires the forwarder and the receiver that cfg enables.
func newTasks(cfg *config.HTTPConfig, in io.Reader, out io.Writer, m *metrics.Metrics, logger *slog.Logger) (broker.Tasks, error) {
	var tasks broker.Tasks

	format, err := event.ParseFormat(cfg.Format)
	if err != nil {
		return tasks, err
	}

	if cfg.Forward() {
		decoder, err := event.NewDecoder(format, bufio.NewReader(in))
		if err != nil {
			return tasks, err
		}
		client := &http.Client{Timeout: cfg.Timeout}
		tasks.Input = webhook.NewForwarder(client, cfg.Method, cfg.URL, decoder, m, logger.With("component", "forwarder")).Run
	}

	if cfg.In {
		addr, prefix, err := webhook.ListenAddr(cfg.URL)
		if err != nil {
			return tasks, err
		}
		encoder, err := event.NewEncoder(format, out)
		if err != nil {
			return tasks, err
		}
		receiver := webhook.NewReceiver(prefix, cfg.Method, encoder, m, logger.With("component", "receiver"))
		tasks.Outputs = append(tasks.Outputs, func(ctx context.Context) error {
			return webhook.Serve(ctx, addr, receiver, logger)
		})
	}

	return tasks, nil
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

	registry := metrics.NewRegistry()
	m, err := metrics.New("http", registry)
	if err != nil {
		return err
	}

	tasks, err := newTasks(cfg, os.Stdin, os.Stdout, m, logger)
	if err != nil {
		logger.Error("failed to initialize broker", "error", err)
		return err
	}
	if cfg.MetricsAddr != "" {
		tasks.Services = append(tasks.Services, func(ctx context.Context) error {
			return metrics.Serve(ctx, cfg.MetricsAddr, registry, logger)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting http broker", "url", cfg.URL, "in", cfg.In, "forward", cfg.Forward())
	if err := broker.Run(ctx, tasks); err != nil {
		logger.Error("broker stopped", "error", err)
		return err
	}
	logger.Info("broker stopped")
	return nil
}
