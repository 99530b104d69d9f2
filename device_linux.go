//go:build linux

package godup

import (
	"os"

	"golang.org/x/sys/unix"
)

func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}

func syncData(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
