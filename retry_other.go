//go:build !unix

package godup

func isTransientErrno(error) bool {
	return false
}
