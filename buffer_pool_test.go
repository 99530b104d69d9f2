package godup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBufferPoolInvalidArguments(t *testing.T) {
	tests := []struct {
		name                         string
		poolSize, bufferSize, expect int
	}{
		{"zero pool size", 0, 1024, 1},
		{"negative buffer size", 4, -1, 1},
		{"zero expected refs", 4, 1024, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bp, err := NewBufferPool(tt.poolSize, tt.bufferSize, tt.expect)
			require.Error(t, err)
			assert.Nil(t, bp)
			assert.True(t, errdefs.IsInvalidArgument(err))
		})
	}
}

func TestBufferPoolConservation(t *testing.T) {
	bp, err := NewBufferPool(4, 64, 1)
	require.NoError(t, err)

	ctx := context.Background()
	for round := 0; round < 3; round++ {
		var taken []*PooledBuffer
		for i := 0; i < bp.Size(); i++ {
			buf, err := bp.Take(ctx)
			require.NoError(t, err)
			taken = append(taken, buf)

			stats := bp.Stats()
			assert.Equal(t, bp.Size(), stats.Available+stats.InFlight)
		}
		assert.Equal(t, 0, bp.Stats().Available)

		for _, buf := range taken {
			buf.Release()
			stats := bp.Stats()
			assert.Equal(t, bp.Size(), stats.Available+stats.InFlight)
		}
		assert.Equal(t, bp.Size(), bp.Stats().Available)
	}
	assert.Equal(t, 4, bp.Stats().PeakInFlight)
}

func TestBufferPoolTakeBlocksUntilRelease(t *testing.T) {
	bp, err := NewBufferPool(1, 64, 1)
	require.NoError(t, err)

	first, err := bp.Take(context.Background())
	require.NoError(t, err)

	got := make(chan *PooledBuffer)
	go func() {
		buf, err := bp.Take(context.Background())
		if err != nil {
			close(got)
			return
		}
		got <- buf
	}()

	select {
	case <-got:
		t.Fatal("Take returned while the pool was exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()
	select {
	case buf := <-got:
		require.NotNil(t, buf)
		assert.Same(t, first, buf)
		buf.Release()
	case <-time.After(time.Second):
		t.Fatal("Take did not return after a release")
	}
}

func TestBufferPoolTakeContextCancelled(t *testing.T) {
	bp, err := NewBufferPool(1, 64, 1)
	require.NoError(t, err)

	buf, err := bp.Take(context.Background())
	require.NoError(t, err)
	defer buf.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = bp.Take(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPooledBufferRefCount(t *testing.T) {
	for _, k := range []int{1, 2, 8} {
		t.Run(fmt.Sprintf("exact %d", k), func(t *testing.T) {
			bp, err := NewBufferPool(1, 64, k)
			require.NoError(t, err)

			buf, err := bp.Take(context.Background())
			require.NoError(t, err)
			assert.Equal(t, k, buf.Refs())

			for i := 0; i < k-1; i++ {
				buf.Release()
				assert.Equal(t, 0, bp.Stats().Available, "returned after %d of %d releases", i+1, k)
			}
			buf.Release()
			assert.Equal(t, 1, bp.Stats().Available)
			assert.Equal(t, 0, buf.Refs())
		})

		t.Run(fmt.Sprintf("excess %d", k), func(t *testing.T) {
			bp, err := NewBufferPool(1, 64, k)
			require.NoError(t, err)

			buf, err := bp.Take(context.Background())
			require.NoError(t, err)
			for i := 0; i < k; i++ {
				buf.Release()
			}

			r := recoverPanic(buf.Release)
			require.NotNil(t, r)
			err, ok := r.(error)
			require.True(t, ok)
			assert.ErrorIs(t, err, ErrRefCountViolation)
		})
	}
}

func TestPooledBufferConcurrentRelease(t *testing.T) {
	const k = 8
	bp, err := NewBufferPool(2, 64, k)
	require.NoError(t, err)

	for round := 0; round < 100; round++ {
		buf, err := bp.Take(context.Background())
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < k; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				buf.Release()
			}()
		}
		wg.Wait()
		require.Equal(t, bp.Size(), bp.Stats().Available)
	}
}

func TestPooledBufferMismatchedPool(t *testing.T) {
	a, err := NewBufferPool(1, 64, 1)
	require.NoError(t, err)
	b, err := NewBufferPool(1, 64, 1)
	require.NoError(t, err)

	buf, err := a.Take(context.Background())
	require.NoError(t, err)

	r := recoverPanic(func() { b.returnToPool(buf) })
	assert.Equal(t, ErrMismatchedPool, r)
}

func TestPooledBufferResetAfterLateRelease(t *testing.T) {
	bp, err := NewBufferPool(1, 64, 2)
	require.NoError(t, err)

	buf, err := bp.Take(context.Background())
	require.NoError(t, err)
	buf.Release()
	buf.Release()

	// Corrupt the count the way a stray release on a pooled buffer would.
	buf.refCount.Add(1)

	r := recoverPanic(func() { _, _ = bp.Take(context.Background()) })
	require.NotNil(t, r)
	assert.True(t, errors.Is(r.(error), ErrRefCountViolation))
}

func TestPooledBufferView(t *testing.T) {
	bp, err := NewBufferPool(1, 16, 1)
	require.NoError(t, err)

	buf, err := bp.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 16, buf.Cap())
	assert.Equal(t, 0, buf.Len())
	assert.Empty(t, buf.Bytes())

	n := copy(buf.storage(), "hello")
	buf.fill(n)
	assert.Equal(t, []byte("hello"), buf.Bytes())
	buf.Release()

	again, err := bp.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Len())
	again.Release()
}

func TestPooledBufferReleaseAll(t *testing.T) {
	bp, err := NewBufferPool(1, 16, 3)
	require.NoError(t, err)

	buf, err := bp.Take(context.Background())
	require.NoError(t, err)
	buf.releaseAll()
	assert.Equal(t, 1, bp.Stats().Available)
	assert.Equal(t, 0, bp.Stats().InFlight)
}

func recoverPanic(fn func()) (r any) {
	defer func() { r = recover() }()
	fn()
	return nil
}
