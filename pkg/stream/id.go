package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// ID is a stream entry identifier: a millisecond timestamp plus a sequence
// number within that millisecond.
type ID struct {
	Millis uint64
	Seq    uint64
}

// MinID is the smallest possible entry id, "0-0".
var MinID = ID{}

// ParseID parses the "<ms>-<seq>" form used by the server.
func ParseID(s string) (ID, error) {
	ms, seq, ok := strings.Cut(s, "-")
	if !ok {
		return ID{}, fmt.Errorf("%w: malformed entry id %q", ErrProtocol, s)
	}

	millis, err := strconv.ParseUint(ms, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: malformed entry id %q: %v", ErrProtocol, s, err)
	}

	sequence, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: malformed entry id %q: %v", ErrProtocol, s, err)
	}

	return ID{Millis: millis, Seq: sequence}, nil
}

func (id ID) String() string {
	return strconv.FormatUint(id.Millis, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Compare returns -1, 0 or +1 depending on whether id sorts before, equal to
// or after other.
func (id ID) Compare(other ID) int {
	switch {
	case id.Millis < other.Millis:
		return -1
	case id.Millis > other.Millis:
		return 1
	case id.Seq < other.Seq:
		return -1
	case id.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}
