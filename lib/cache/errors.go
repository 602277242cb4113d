package cache

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Sentinel errors reported by engines. Engines wrap them with context,
// callers test for them with errors.Is.
var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrKeyExists       = errors.New("key already exists")
	ErrItemLocked      = errors.New("item is locked")
	ErrLockNotHeld     = errors.New("lock is not held by the caller")
	ErrVersionMismatch = errors.New("item version mismatch")
	ErrNotSupported    = errors.New("operation not supported")
	ErrCanceled        = errors.New("operation canceled")
	ErrTopicNotFound   = errors.New("topic not found")
	ErrTopicExists     = errors.New("topic already exists")
	ErrInvalidQuery    = errors.New("invalid query")
	ErrReaderNotFound  = errors.New("reader not found")
	ErrEnumeration     = errors.New("enumeration pointer is invalid")
	ErrOffline         = errors.New("cache is offline")
	ErrClosed          = errors.New("cache is closed")
)

// IsCanceled reports whether err signals an aborted operation, either through
// ErrCanceled or through the cancellation token of the operation context.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Canceled wraps the error of a done context so that IsCanceled matches it
func Canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(ErrCanceled, err.Error())
	}
	return nil
}
