package stream

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport marks failures talking to the store: no connection from
	// the pool, network I/O errors, or a command rejected by the server.
	ErrTransport = errors.New("stream transport error")

	// ErrProtocol marks a reply that could not be decoded.
	ErrProtocol = errors.New("stream protocol error")

	// ErrNoEvents is reported by a subscription created without any stream names.
	ErrNoEvents = errors.New("no events to consume")
)

// busyGroupPrefix is the server reply when a consumer group already exists.
const busyGroupPrefix = "BUSYGROUP"

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), busyGroupPrefix)
}

func transportError(err error) error {
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrProtocol) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
