package nvm

import "github.com/cockroachdb/errors"

var (
	ErrClosed  = errors.New("nvm: arena closed")
	ErrCorrupt = errors.New("nvm: corrupt region table")
)
