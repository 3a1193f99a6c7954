// Command eventgen writes random events to stdout for load testing a broker.
//
//	eventgen 1000 | redisbroker -g load
//
// Without a count it writes until stdout is closed.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	mrand "math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.llib.dev/testcase/clock"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/spec-tacles/spectacles/pkg/config"
	"github.com/spec-tacles/spectacles/pkg/event"
)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type options struct {
	Count  int
	Rate   int
	Name   string
	Fields int
	Format event.Format
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "eventgen [count]",
		Short:        "Write random events to stdout",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}

	flags := cmd.Flags()
	flags.IntP("rate", "r", 0, "Events per second, 0 for unlimited")
	flags.StringP("name", "n", "test", "Event name")
	flags.Int("fields", 8, "Maximum number of fields in each payload")
	flags.String("format", string(event.FormatBSON), "Event record format: bson|json")
	flags.String("log-level", os.Getenv("LOG_LEVEL"), "Log level: debug|info|warn|error")
	return cmd
}

func parseOptions(cmd *cobra.Command, args []string) (options, error) {
	flags := cmd.Flags()
	opts := options{}
	opts.Rate, _ = flags.GetInt("rate")
	opts.Name, _ = flags.GetString("name")
	opts.Fields, _ = flags.GetInt("fields")

	formatStr, _ := flags.GetString("format")
	format, err := event.ParseFormat(formatStr)
	if err != nil {
		return opts, err
	}
	opts.Format = format

	if len(args) == 1 {
		count, err := strconv.Atoi(args[0])
		if err != nil || count < 0 {
			return opts, fmt.Errorf("invalid count %q", args[0])
		}
		opts.Count = count
	}
	if opts.Fields < 0 || opts.Rate < 0 {
		return opts, fmt.Errorf("fields and rate must not be negative")
	}
	return opts, nil
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logger := config.NewLogger(logLevel, "")

	opts, err := parseOptions(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	encoder, err := event.NewEncoder(opts.Format, out)
	if err != nil {
		return err
	}

	start := clock.Now()
	n, err := generate(ctx, encoder, opts, mrand.New(mrand.NewSource(start.UnixNano())))
	if err != nil {
		logger.Error("failed to write events", "written", n, "error", err)
		return err
	}
	logger.Info("wrote events", "count", n, "elapsed", clock.Now().Sub(start))
	return nil
}

// generate writes opts.Count events, or events until ctx is done when Count
// is zero, and returns how many were written.
func generate(ctx context.Context, encoder event.Encoder, opts options, rnd *mrand.Rand) (int, error) {
	var tick <-chan time.Time
	if opts.Rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(opts.Rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	n := 0
	for opts.Count == 0 || n < opts.Count {
		if tick != nil {
			select {
			case <-ctx.Done():
				return n, nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return n, nil
		}

		data, err := randomPayload(opts.Format, opts.Fields, rnd)
		if err != nil {
			return n, err
		}
		if err := encoder.Encode(event.Event{Name: opts.Name, Data: data}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// randomPayload builds a map of up to fields random string pairs, marshalled
// as a BSON document or a JSON object.
func randomPayload(format event.Format, fields int, rnd *mrand.Rand) ([]byte, error) {
	payload := make(map[string]string)
	if fields > 0 {
		for range rnd.Intn(fields) + 1 {
			payload[randomString(rnd, 3+rnd.Intn(8))] = randomString(rnd, rnd.Intn(32))
		}
	}

	if format == event.FormatJSON {
		return json.Marshal(payload)
	}
	return bson.Marshal(payload)
}

func randomString(rnd *mrand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rnd.Intn(len(letters))]
	}
	return string(b)
}
