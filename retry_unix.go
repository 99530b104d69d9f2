//go:build unix

package godup

import (
	"errors"

	"golang.org/x/sys/unix"
)

// transientErrnos are device-level failures that commonly clear on retry.
var transientErrnos = []unix.Errno{unix.EIO, unix.EAGAIN, unix.EINTR, unix.EBUSY}

func isTransientErrno(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	for _, e := range transientErrnos {
		if errno == e {
			return true
		}
	}
	return false
}
