package stream

import (
	"errors"
	"io"
	"syscall"
)

// isBrokenPipe reports whether err represents a consumer that has closed its
// stdin early.
func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe)
}
