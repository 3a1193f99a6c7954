// Command transcode rewrites a stream of event records from one format to
// another, by default the BSON records of the brokers into JSON lines.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/spec-tacles/spectacles/pkg/config"
	"github.com/spec-tacles/spectacles/pkg/event"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "transcode",
		Short:        "Convert event records between bson and json",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			fromStr, _ := flags.GetString("from")
			toStr, _ := flags.GetString("to")
			logLevel, _ := flags.GetString("log-level")
			logger := config.NewLogger(logLevel, "")

			from, err := event.ParseFormat(fromStr)
			if err != nil {
				return err
			}
			to, err := event.ParseFormat(toStr)
			if err != nil {
				return err
			}

			n, err := transcode(from, to, bufio.NewReader(os.Stdin), os.Stdout)
			if err != nil {
				logger.Error("transcode failed", "events", n, "error", err)
				return err
			}
			logger.Debug("transcode finished", "events", n)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("from", string(event.FormatBSON), "Input format: bson|json")
	flags.String("to", string(event.FormatJSON), "Output format: bson|json")
	flags.String("log-level", os.Getenv("LOG_LEVEL"), "Log level: debug|info|warn|error")
	return cmd
}

// transcode copies events from r to w until r is exhausted and returns how
// many were written. Document payloads become JSON objects when writing json.
func transcode(from, to event.Format, r io.Reader, w io.Writer) (int, error) {
	decoder, err := event.NewDecoder(from, r)
	if err != nil {
		return 0, err
	}
	encoder, err := event.NewEncoder(to, w)
	if err != nil {
		return 0, err
	}

	n := 0
	for {
		ev, err := decoder.Decode()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to decode event: %w", err)
		}

		if to == event.FormatJSON {
			if ev, err = event.DocumentToJSON(ev); err != nil {
				return n, err
			}
		}
		if err := encoder.Encode(ev); err != nil {
			return n, err
		}
		n++
	}
}
