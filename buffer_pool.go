// Package godup - Reference-counted buffer management
//
// This file provides the fixed-size buffer pool that backs every copy operation.
// All buffers are allocated once when the pool is built; nothing above this file
// allocates transfer buffers directly. A buffer checked out of the pool is shared
// by every destination worker and only comes back once each of them released it.
//
// Features:
//   - Fixed buffer count and buffer size (memory bounded by poolSize * bufferSize)
//   - Blocking, context-aware checkout
//   - Lock-free reference counting on the hot path
//   - In-flight accounting for backpressure diagnostics
package godup

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/containerd/errdefs"
)

// PoolStats is a point-in-time view of a BufferPool.
type PoolStats struct {
	Size         int // Total number of buffers owned by the pool
	BufferSize   int // Capacity of each buffer in bytes
	Available    int // Buffers currently sitting in the pool
	InFlight     int // Buffers currently checked out
	PeakInFlight int // Highest InFlight value observed since construction
}

// BufferPool is a fixed set of fixed-capacity buffers. Each buffer carries a
// reference count that is zero while pooled and armed to expectedRefs on checkout.
type BufferPool struct {
	pool         chan *PooledBuffer
	size         int
	bufferSize   int
	expectedRefs int32
	inFlight     atomic.Int32
	peakInFlight atomic.Int32
}

// PooledBuffer is a buffer owned by a BufferPool. Once handed to consumers it is
// read-only; it returns to its pool when the last holder calls Release.
type PooledBuffer struct {
	data     []byte
	n        int
	pool     *BufferPool
	refCount atomic.Int32
	expected int32
}

// NewBufferPool allocates poolSize buffers of bufferSize bytes, each expecting
// expectedRefs releases per checkout.
func NewBufferPool(poolSize, bufferSize, expectedRefs int) (*BufferPool, error) {
	if poolSize <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d: %w", poolSize, errdefs.ErrInvalidArgument)
	}
	if bufferSize <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d: %w", bufferSize, errdefs.ErrInvalidArgument)
	}
	if expectedRefs <= 0 {
		return nil, fmt.Errorf("expected reference count must be positive, got %d: %w", expectedRefs, errdefs.ErrInvalidArgument)
	}

	bp := &BufferPool{
		pool:         make(chan *PooledBuffer, poolSize),
		size:         poolSize,
		bufferSize:   bufferSize,
		expectedRefs: int32(expectedRefs),
	}
	for range poolSize {
		buf := &PooledBuffer{
			data:     make([]byte, bufferSize),
			pool:     bp,
			expected: int32(expectedRefs),
		}
		bp.pool <- buf
	}
	return bp, nil
}

// Take blocks until a buffer is available or ctx is done. The returned buffer is
// empty and exclusively owned by the caller until it is handed to consumers.
func (bp *BufferPool) Take(ctx context.Context) (*PooledBuffer, error) {
	var buf *PooledBuffer
	select {
	case buf = <-bp.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	buf.reset()
	bp.trackCheckout()
	return buf, nil
}

func (bp *BufferPool) trackCheckout() {
	n := bp.inFlight.Add(1)
	for {
		peak := bp.peakInFlight.Load()
		if n <= peak || bp.peakInFlight.CompareAndSwap(peak, n) {
			return
		}
	}
}

// returnToPool puts buf back. It must only be reached through the release that
// drops the reference count to zero.
func (bp *BufferPool) returnToPool(buf *PooledBuffer) {
	if buf.pool != bp {
		panic(ErrMismatchedPool)
	}
	buf.n = 0
	bp.inFlight.Add(-1)
	bp.pool <- buf
}

// Stats returns a snapshot of the pool accounting.
func (bp *BufferPool) Stats() PoolStats {
	return PoolStats{
		Size:         bp.size,
		BufferSize:   bp.bufferSize,
		Available:    len(bp.pool),
		InFlight:     int(bp.inFlight.Load()),
		PeakInFlight: int(bp.peakInFlight.Load()),
	}
}

// Size returns the number of buffers owned by the pool.
func (bp *BufferPool) Size() int { return bp.size }

// BufferSize returns the capacity of each buffer.
func (bp *BufferPool) BufferSize() int { return bp.bufferSize }

// ExpectedRefs returns how many releases each checkout needs.
func (bp *BufferPool) ExpectedRefs() int { return int(bp.expectedRefs) }

// Release drops one reference. The call that observes the count reaching zero
// returns the buffer to its pool; releasing more than the expected number of
// times is a lifecycle bug and panics.
func (b *PooledBuffer) Release() {
	n := b.refCount.Add(-1)
	switch {
	case n == 0:
		b.pool.returnToPool(b)
	case n < 0:
		panic(fmt.Errorf("release below zero (count %d): %w", n, ErrRefCountViolation))
	}
}

// releaseAll drops every reference still held by the reader. Used when a buffer
// was taken but never handed to any consumer.
func (b *PooledBuffer) releaseAll() {
	for range b.expected {
		b.Release()
	}
}

// reset prepares a pooled buffer for checkout: no content, count armed from
// zero to expected. Any other count means a release happened after return.
func (b *PooledBuffer) reset() {
	b.n = 0
	if !b.refCount.CompareAndSwap(0, b.expected) {
		panic(fmt.Errorf("unexpected reference count %d on reset: %w", b.refCount.Load(), ErrRefCountViolation))
	}
}

// fill records how many bytes of the storage hold valid data.
func (b *PooledBuffer) fill(n int) {
	b.n = n
}

// storage exposes the full backing slice for the reader.
func (b *PooledBuffer) storage() []byte {
	return b.data
}

// Bytes returns the filled part of the buffer. Consumers must not modify it.
func (b *PooledBuffer) Bytes() []byte {
	return b.data[:b.n]
}

// Len returns the number of valid bytes.
func (b *PooledBuffer) Len() int {
	return b.n
}

// Cap returns the buffer capacity.
func (b *PooledBuffer) Cap() int {
	return len(b.data)
}

// Refs returns the current reference count.
func (b *PooledBuffer) Refs() int {
	return int(b.refCount.Load())
}
