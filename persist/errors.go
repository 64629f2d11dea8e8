package persist

import "github.com/cockroachdb/errors"

var (
	ErrClassMismatch = errors.New("persist: object class mismatch")
	ErrUnknownClass  = errors.New("persist: class not registered")
	ErrNotFound      = errors.New("persist: object not found")
	ErrExists        = errors.New("persist: object already exists")
	ErrCorrupt       = errors.New("persist: corrupt object header")
	ErrClosed        = errors.New("persist: manager closed")
)
