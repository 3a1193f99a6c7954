package stream

import (
	"fmt"

	"github.com/go-redis/redis/v8"
)

// parseAutoclaimReply decodes an XAUTOCLAIM reply:
//
//	1) next cursor
//	2) claimed entries, each [id, [field, value, ...]]
//	3) ids deleted from the stream (Redis 7 and later)
//
// go-redis v8 rejects the three element form, so the reply is read through Do.
// Entries deleted while pending come back with nil fields on Redis 6.2; their
// ids are returned in deleted and left to the caller to acknowledge.
func parseAutoclaimReply(reply interface{}) (next ID, entries []redis.XMessage, deleted []string, err error) {
	parts, ok := reply.([]interface{})
	if !ok || len(parts) < 2 {
		return ID{}, nil, nil, fmt.Errorf("%w: unexpected XAUTOCLAIM reply %T", ErrProtocol, reply)
	}

	cursor, ok := parts[0].(string)
	if !ok {
		return ID{}, nil, nil, fmt.Errorf("%w: unexpected XAUTOCLAIM cursor %T", ErrProtocol, parts[0])
	}
	next, err = ParseID(cursor)
	if err != nil {
		return ID{}, nil, nil, err
	}

	if parts[1] == nil {
		return next, nil, nil, nil
	}
	raw, ok := parts[1].([]interface{})
	if !ok {
		return ID{}, nil, nil, fmt.Errorf("%w: unexpected XAUTOCLAIM entries %T", ErrProtocol, parts[1])
	}

	entries = make([]redis.XMessage, 0, len(raw))
	for _, item := range raw {
		if item == nil {
			continue
		}
		entry, err := parseEntry(item)
		if err != nil {
			return ID{}, nil, nil, err
		}
		if entry.Values == nil {
			deleted = append(deleted, entry.ID)
			continue
		}
		entries = append(entries, entry)
	}
	return next, entries, deleted, nil
}

func parseEntry(item interface{}) (redis.XMessage, error) {
	pair, ok := item.([]interface{})
	if !ok || len(pair) != 2 {
		return redis.XMessage{}, fmt.Errorf("%w: unexpected stream entry %v", ErrProtocol, item)
	}

	id, ok := pair[0].(string)
	if !ok {
		return redis.XMessage{}, fmt.Errorf("%w: unexpected stream entry id %T", ErrProtocol, pair[0])
	}
	if pair[1] == nil {
		return redis.XMessage{ID: id}, nil
	}

	fields, ok := pair[1].([]interface{})
	if !ok || len(fields)%2 != 0 {
		return redis.XMessage{}, fmt.Errorf("%w: unexpected fields for entry %s", ErrProtocol, id)
	}

	values := make(map[string]interface{}, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			return redis.XMessage{}, fmt.Errorf("%w: unexpected field name %T for entry %s", ErrProtocol, fields[i], id)
		}
		values[key] = fields[i+1]
	}
	return redis.XMessage{ID: id, Values: values}, nil
}
