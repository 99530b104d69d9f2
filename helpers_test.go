package godup

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// patternSource yields a deterministic byte pattern; byte i is i*7+i/251 mod 256.
type patternSource struct {
	pos     int64
	limit   int64 // -1 for endless
	chunk   int   // maximum bytes per Read, 0 for no cap
	delay   time.Duration
	failAt  int64 // return failErr once pos reaches failAt, -1 to disable
	failErr error
	closed  atomic.Bool
}

func newPatternSource(limit int64) *patternSource {
	return &patternSource{limit: limit, failAt: -1}
}

func patternByte(i int64) byte {
	return byte(i*7 + i/251)
}

func pattern(n int64) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = patternByte(int64(i))
	}
	return p
}

func (s *patternSource) Read(p []byte) (int, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.failAt >= 0 && s.pos >= s.failAt {
		return 0, s.failErr
	}
	if s.limit >= 0 && s.pos >= s.limit {
		return 0, io.EOF
	}
	n := len(p)
	if s.chunk > 0 {
		n = min(n, s.chunk)
	}
	if s.limit >= 0 {
		n = int(min(int64(n), s.limit-s.pos))
	}
	for i := range n {
		p[i] = patternByte(s.pos + int64(i))
	}
	s.pos += int64(n)
	return n, nil
}

func (s *patternSource) Close() error {
	s.closed.Store(true)
	return nil
}

// memDest records everything written to it.
type memDest struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	delay    time.Duration
	closed   atomic.Bool
	closeErr error
	writes   atomic.Int64
}

func (d *memDest) Write(p []byte) (int, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.writes.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Write(p)
}

func (d *memDest) Close() error {
	d.closed.Store(true)
	return d.closeErr
}

func (d *memDest) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bytes.Clone(d.buf.Bytes())
}

// flakyDest fails the first failures writes with err, then behaves like memDest.
type flakyDest struct {
	memDest
	failures int
	err      error
	attempts atomic.Int64
}

func (d *flakyDest) Write(p []byte) (int, error) {
	if d.attempts.Add(1) <= int64(d.failures) {
		return 0, d.err
	}
	return d.memDest.Write(p)
}

// partialDest writes at most chunk bytes per call. The very first call also
// reports a transient error after writing.
type partialDest struct {
	memDest
	chunk int
	calls int
}

func (d *partialDest) Write(p []byte) (int, error) {
	d.calls++
	n, _ := d.memDest.Write(p[:min(len(p), d.chunk)])
	if d.calls == 1 {
		return n, ErrTransient
	}
	return n, nil
}

// blockingDest blocks every Write until release is closed.
type blockingDest struct {
	memDest
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newBlockingDest() *blockingDest {
	return &blockingDest{release: make(chan struct{}), entered: make(chan struct{})}
}

func (d *blockingDest) Write(p []byte) (int, error) {
	d.once.Do(func() { close(d.entered) })
	<-d.release
	return d.memDest.Write(p)
}

func writeClosers[T io.WriteCloser](dsts []T) []io.WriteCloser {
	out := make([]io.WriteCloser, len(dsts))
	for i, d := range dsts {
		out[i] = d
	}
	return out
}

// testConfig returns a small, fast configuration for tests.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.BufferSize = 1024
	cfg.PoolSize = 4
	cfg.QueueSize = 2
	cfg.PollInterval = 10 * time.Millisecond
	return cfg
}
