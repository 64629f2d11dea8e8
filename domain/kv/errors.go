package kv

import "github.com/cockroachdb/errors"

var (
	// ErrUnsupported: an operation with no marshaling rule.
	ErrUnsupported = errors.New("kv: unsupported operation")
	// ErrUnknownTag: a log entry tag this build cannot decode.
	ErrUnknownTag = errors.New("kv: unknown operation tag")
	// ErrMalformed: entry bytes that do not follow the tag's layout.
	ErrMalformed = errors.New("kv: malformed entry")

	ErrNotFound     = errors.New("kv: not found")
	ErrEmptyKey     = errors.New("kv: empty key")
	ErrInvalidRange = errors.New("kv: range end must sort after begin")
	ErrBadFamily    = errors.New("kv: invalid column family name")
	ErrClosed       = errors.New("kv: store closed")
)
