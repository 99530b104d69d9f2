package godup

import "io"

type zeroSource struct{}

// ZeroSource returns an endless stream of zero bytes, used to wipe destinations.
func ZeroSource() io.ReadCloser {
	return zeroSource{}
}

func (zeroSource) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func (zeroSource) Close() error {
	return nil
}
