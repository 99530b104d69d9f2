// Package godup - WebDAV endpoints
//
// This file lets a WebDAV share take part in a copy: an image stored on a
// server can be the source, and a remote path can be one of the destinations
// next to local disks.
package godup

import (
	"fmt"
	"io"
	"sync"

	gowebdav "github.com/studio-b12/gowebdav"
)

// NewWebDAVClient creates a WebDAV client for use with the WebDAV endpoints.
//
// Example:
//
//	client := godup.NewWebDAVClient("https://dav.example.com/remote.php/dav/files/user/", "user", "password")
//	dst := godup.NewWebDAVDestination(client, "images/sdcard.img")
func NewWebDAVClient(baseURL, username, password string) *gowebdav.Client {
	return gowebdav.NewClient(baseURL, username, password)
}

// webdavDestination streams everything written to it into a single PUT.
type webdavDestination struct {
	path string
	pw   *io.PipeWriter
	done chan error

	closeOnce sync.Once
	closeErr  error
}

// NewWebDAVDestination returns a destination that uploads the copied bytes to
// remotePath. The upload completes when the destination is closed.
func NewWebDAVDestination(client *gowebdav.Client, remotePath string) io.WriteCloser {
	pr, pw := io.Pipe()
	d := &webdavDestination{
		path: remotePath,
		pw:   pw,
		done: make(chan error, 1),
	}
	go func() {
		err := client.WriteStream(remotePath, pr, 0o644)
		// Unblock the writer if the server stopped reading early.
		pr.CloseWithError(err)
		d.done <- err
	}()
	return d
}

func (d *webdavDestination) Write(p []byte) (int, error) {
	n, err := d.pw.Write(p)
	if err != nil {
		return n, fmt.Errorf("webdav %s: %w", d.path, err)
	}
	return n, nil
}

func (d *webdavDestination) Close() error {
	d.closeOnce.Do(func() {
		d.pw.Close()
		if err := <-d.done; err != nil {
			d.closeErr = fmt.Errorf("webdav put %s: %w", d.path, err)
		}
	})
	return d.closeErr
}

// OpenWebDAVSource opens remotePath for reading and returns its size.
func OpenWebDAVSource(client *gowebdav.Client, remotePath string) (io.ReadCloser, int64, error) {
	info, err := client.Stat(remotePath)
	if err != nil {
		return nil, 0, fmt.Errorf("stat %s: %w", remotePath, err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("webdav source %s is a collection", remotePath)
	}
	rc, err := client.ReadStream(remotePath)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", remotePath, err)
	}
	return rc, info.Size(), nil
}
