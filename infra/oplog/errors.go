package oplog

import "github.com/cockroachdb/errors"

var (
	// ErrCorrupt means committed log bytes could not be walked.
	ErrCorrupt = errors.New("oplog: corrupt log")
	// ErrNoTag means an entry was staged without a tag in slot 0.
	ErrNoTag = errors.New("oplog: entry has no tag")
)
