// Package godup - Per-destination writer
//
// Each destination gets one worker goroutine. The worker takes buffers from its
// bounded queue in FIFO order, writes them with retry and drops its reference.
// It keeps going until the reader closes the queue and the queue is empty, then
// closes the destination.
package godup

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/containerd/log"
	"go.uber.org/multierr"
)

type worker struct {
	index   int
	dst     io.WriteCloser
	queue   *bufferQueue
	m       *Multiplexer
	written atomic.Int64
}

func newWorker(m *Multiplexer, index int, dst io.WriteCloser) *worker {
	return &worker{
		index: index,
		dst:   dst,
		queue: newBufferQueue(m.config.QueueSize),
		m:     m,
	}
}

// run is the worker loop. It returns the escalated write error, if any.
func (w *worker) run(ctx context.Context) error {
	logger := log.G(ctx).WithFields(log.Fields{"id": w.m.id, "destination": w.index})

	for {
		buf, ok := w.queue.poll(w.m.config.PollInterval)
		if !ok {
			if w.queue.drained() {
				break
			}
			continue
		}

		if err := w.write(ctx, buf); err != nil {
			buf.Release()
			w.abort()
			if cerr := w.dst.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close destination %d: %w", w.index, cerr))
			}
			logger.WithError(err).Error("destination failed")
			w.m.workerFailed(w.index, err)
			return err
		}
		buf.Release()
	}

	if err := w.dst.Close(); err != nil {
		werr := &WriteError{Op: "close", Destination: w.index, Offset: w.written.Load(), Err: err, Attempts: 1}
		logger.WithError(err).Error("close destination")
		w.m.workerFailed(w.index, werr)
		return werr
	}

	if w.m.config.Verbose {
		logger.WithField("written", w.written.Load()).Info("destination drained and closed")
	}
	w.m.emitEvent(EventDestinationClosed, w.index, fmt.Sprintf("%d bytes written", w.written.Load()), nil)
	return nil
}

// write pushes the whole buffer view to the destination. A failed attempt is
// retried from where the previous attempt stopped, so bytes never repeat.
func (w *worker) write(ctx context.Context, buf *PooledBuffer) error {
	cfg := w.m.config
	view := buf.Bytes()

	for attempt := 1; len(view) > 0; {
		n, err := w.dst.Write(view)
		if n > 0 {
			view = view[n:]
			w.written.Add(int64(n))
			cfg.Metrics.addWritten(w.index, n)
		}
		if err == nil {
			if n == 0 {
				err = io.ErrShortWrite
			} else {
				continue
			}
		}

		if attempt >= cfg.MaxAttempts || !cfg.IsRetryable(err) {
			return &WriteError{
				Op:          "write",
				Destination: w.index,
				Offset:      w.position(),
				Err:         err,
				Attempts:    attempt,
			}
		}

		attempt++
		cfg.Metrics.addRetry(w.index)
		if cfg.Verbose {
			log.G(ctx).WithFields(log.Fields{
				"id":          w.m.id,
				"destination": w.index,
				"attempt":     attempt,
				"remaining":   len(view),
			}).WithError(err).Warn("retrying destination write")
		}
		w.m.emitEvent(EventWriteRetry, w.index, fmt.Sprintf("attempt %d/%d", attempt, cfg.MaxAttempts), err)
		if cfg.RetryDelay > 0 {
			cfg.Clock.Sleep(cfg.RetryDelay)
		}
	}
	return nil
}

// position reports where the destination currently stands, preferring the
// destination's own view when it can seek.
func (w *worker) position() int64 {
	if s, ok := w.dst.(io.Seeker); ok {
		if pos, err := s.Seek(0, io.SeekCurrent); err == nil {
			return pos
		}
	}
	return w.written.Load()
}

// abort refuses further buffers and drops the references on queued ones.
func (w *worker) abort() {
	for _, buf := range w.queue.abort() {
		buf.Release()
	}
}

// stop tells the worker no more buffers are coming.
func (w *worker) stop() {
	w.queue.close()
}

// enqueue hands buf to the worker. If the worker already gave up, the
// reference is dropped here instead.
func (w *worker) enqueue(buf *PooledBuffer) {
	if err := w.queue.put(buf); err != nil {
		buf.Release()
	}
}
