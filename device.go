// Package godup - Disk, partition and image endpoints
//
// This file opens raw block devices and image files as copy sources and
// destinations, and decides how many bytes a copy should move.
package godup

import (
	"fmt"
	"io"
	"os"
)

// sizeTolerance is the fraction of the source a copy may leave out before
// SizeMismatch flags it.
const sizeTolerance = 0.99

// Device is an opened disk, partition or image file.
type Device struct {
	*os.File
	Path     string // Path the device was opened from
	Size     int64  // Size in bytes at open time
	writable bool
}

// OpenSource opens path read-only and hints the kernel that it will be read
// sequentially.
func OpenSource(path string) (*Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", path, err)
	}
	size, err := deviceSize(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("size of %s: %w", path, err)
	}
	adviseSequential(f)
	return &Device{File: f, Path: path, Size: size}, nil
}

// OpenDestination opens an existing device or file for writing from offset 0.
// Closing the returned Device flushes written data to stable storage.
func OpenDestination(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open destination %s: %w", path, err)
	}
	size, err := deviceSize(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("size of %s: %w", path, err)
	}
	return &Device{File: f, Path: path, Size: size, writable: true}, nil
}

// CreateImage creates (or truncates) an image file of size bytes for writing.
func CreateImage(path string, size int64) (*Device, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create image %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate image %s: %w", path, err)
	}
	return &Device{File: f, Path: path, Size: size, writable: true}, nil
}

// Close flushes written data for destinations and closes the file.
func (d *Device) Close() error {
	if d.writable {
		if err := syncData(d.File); err != nil {
			d.File.Close()
			return fmt.Errorf("sync %s: %w", d.Path, err)
		}
	}
	return d.File.Close()
}

// deviceSize finds the size by seeking to the end, which works for block
// devices where Stat reports zero.
func deviceSize(f *os.File) (int64, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

// TransferLength returns how many bytes fit: the smallest of the source and
// target sizes.
func TransferLength(source int64, targets ...int64) int64 {
	length := source
	for _, t := range targets {
		length = min(length, t)
	}
	return length
}

// SizeMismatch reports whether a copy of length bytes would drop more than 1%
// of the source.
func SizeMismatch(source, length int64) bool {
	return float64(length) < float64(source)*sizeTolerance
}
