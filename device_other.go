//go:build !linux

package godup

import "os"

func adviseSequential(*os.File) {}

func syncData(f *os.File) error {
	return f.Sync()
}
