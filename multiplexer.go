// Package godup copies one byte source to many destinations at once, the way a
// disk duplicator clones a master drive onto a stack of targets.
//
// The library is organized into several modules for better maintainability:
//   - multiplexer.go: The read/distribute loop and the public entry points
//   - worker.go: Per-destination writer with retry logic
//   - buffer_pool.go: Fixed, reference-counted buffer pool
//   - queue.go: Bounded FIFO between the reader and each worker
//   - progress.go: Periodic progress and throughput sampling
//   - metrics.go: Prometheus collectors
//   - device.go, zero.go, webdav.go: Ready-made sources and destinations
//   - manager.go: Registry of concurrent copy jobs
//   - types.go, errors.go, utils.go: Types, errors and helpers
//
// Basic usage:
//
//	src, _ := godup.OpenSource("/dev/sdb")
//	a, _ := godup.OpenDestination("/dev/sdc")
//	b, _ := godup.OpenDestination("/dev/sdd")
//	length := godup.TransferLength(src.Size, a.Size, b.Size)
//
//	m, err := godup.NewMultiplexer(src, []io.WriteCloser{a, b}, length, godup.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := m.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Memory stays bounded by PoolSize * BufferSize no matter how large the devices
// are. Every destination receives the same byte ranges in the same order; a
// slow destination slows the reader for all of them.
package godup

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Multiplexer streams length bytes from one source into every destination.
// A Multiplexer is single use: Start may run once, and a cancelled or finished
// instance cannot be restarted.
type Multiplexer struct {
	id     string
	src    io.ReadCloser
	dsts   []io.WriteCloser
	length int64
	config *Config
	pool   *BufferPool

	readBytes atomic.Int64
	started   atomic.Bool
	done      atomic.Bool
	cancelled atomic.Bool
	failed    atomic.Bool

	// mu orders Cancel against the terminal state decided when Start ends.
	mu       sync.Mutex
	finished bool
}

// NewMultiplexer prepares a copy of length bytes from src into dsts.
// The config is validated and sanitized; nil means DefaultConfig().
// The multiplexer takes ownership of src and dsts and closes them when Start returns.
func NewMultiplexer(src io.ReadCloser, dsts []io.WriteCloser, length int64, cfg *Config) (*Multiplexer, error) {
	if src == nil {
		return nil, fmt.Errorf("nil source: %w", errdefs.ErrInvalidArgument)
	}
	if len(dsts) == 0 {
		return nil, fmt.Errorf("no destinations: %w", errdefs.ErrInvalidArgument)
	}
	for i, dst := range dsts {
		if dst == nil {
			return nil, fmt.Errorf("nil destination %d: %w", i, errdefs.ErrInvalidArgument)
		}
	}
	if length < 0 {
		return nil, fmt.Errorf("negative length %d: %w", length, errdefs.ErrInvalidArgument)
	}

	config := validateConfig(cfg)
	pool, err := NewBufferPool(config.PoolSize, config.BufferSize, len(dsts))
	if err != nil {
		return nil, err
	}

	return &Multiplexer{
		id:     newOperationID(),
		src:    src,
		dsts:   append([]io.WriteCloser(nil), dsts...),
		length: length,
		config: config,
		pool:   pool,
	}, nil
}

// Copy is a shortcut for NewMultiplexer followed by Start.
func Copy(ctx context.Context, src io.ReadCloser, dsts []io.WriteCloser, length int64, cfg *Config) error {
	m, err := NewMultiplexer(src, dsts, length, cfg)
	if err != nil {
		return err
	}
	return m.Start(ctx)
}

// Start runs the copy and blocks until every worker has finished.
//
// It returns nil when the copy completed or was cancelled (check IsCancelled),
// a *ReadError and/or *WriteError (combined with multierr) when it failed, and
// ErrAlreadyStarted when the multiplexer was used before. Cancelling ctx has
// the same effect as calling Cancel.
//
// Any destination failure stops the whole operation: the reader stops at its
// next iteration and the remaining destinations finish what is already queued.
func (m *Multiplexer) Start(ctx context.Context) error {
	if m.done.Load() || m.cancelled.Load() || !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	stopWatch := context.AfterFunc(ctx, m.Cancel)
	defer stopWatch()

	m.readBytes.Store(0)
	logger := log.G(ctx).WithFields(log.Fields{
		"id":           m.id,
		"length":       m.length,
		"destinations": len(m.dsts),
	})
	logger.WithFields(log.Fields{
		"buffer_size": m.config.BufferSize,
		"pool_size":   m.config.PoolSize,
		"buffers":     calculateBuffers(m.length, m.config.BufferSize),
	}).Info("copy started")
	m.emitEvent(EventStarted, -1, fmt.Sprintf("copying %d bytes to %d destinations", m.length, len(m.dsts)), nil)

	g, gctx := errgroup.WithContext(ctx)
	workers := make([]*worker, len(m.dsts))
	errs := make([]error, len(m.dsts))
	for i, dst := range m.dsts {
		w := newWorker(m, i, dst)
		workers[i] = w
		g.Go(func() error {
			errs[i] = w.run(gctx)
			return errs[i]
		})
	}

	stopProgress := m.startProgress()

	readErr := m.readLoop(gctx, workers)
	if ctx.Err() != nil {
		m.Cancel()
	}
	for _, w := range workers {
		w.stop()
	}

	var err error
	if g.Wait() != nil {
		err = multierr.Combine(errs...)
	}
	err = multierr.Combine(readErr, err)
	if cerr := m.src.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close source: %w", cerr))
	}
	stopProgress()

	// Exactly one terminal state. A cancel that arrived while the last
	// buffers drained still wins over completion.
	m.mu.Lock()
	if ctx.Err() != nil {
		m.cancelled.Store(true)
	}
	cancelled := m.cancelled.Load()
	switch {
	case err != nil:
		m.failed.Store(true)
	case !cancelled:
		m.done.Store(true)
	}
	m.finished = true
	m.mu.Unlock()

	logger = logger.WithField("read", m.readBytes.Load())
	switch {
	case err != nil:
		m.config.Metrics.addOperation("failed")
		logger.WithError(err).Error("copy failed")
		m.emitEvent(EventFailed, -1, "copy failed", err)
	case cancelled:
		m.config.Metrics.addOperation("cancelled")
		logger.Info("copy cancelled")
		m.emitEvent(EventCancelled, -1, "copy cancelled", nil)
	default:
		m.config.Metrics.addOperation("completed")
		logger.Info("copy completed")
		m.emitEvent(EventCompleted, -1, "copy completed", nil)
	}
	return err
}

// maxEmptyReads bounds consecutive (0, nil) reads before the source is
// considered stuck.
const maxEmptyReads = 100

// readLoop fills pooled buffers from the source and hands each one to every worker.
func (m *Multiplexer) readLoop(ctx context.Context, workers []*worker) error {
	empty := 0
	for m.readBytes.Load() < m.length && !m.cancelled.Load() && !m.failed.Load() {
		buf, err := m.pool.Take(ctx)
		if err != nil {
			// ctx ends when the caller cancels or a worker fails; both are
			// reported through the flags, not here.
			return nil
		}
		m.config.Metrics.setInFlight(m.pool.Stats().InFlight)

		offset := m.readBytes.Load()
		want := min(int64(buf.Cap()), m.length-offset)
		n, rerr := m.src.Read(buf.storage()[:want])
		if n > 0 {
			empty = 0
			buf.fill(n)
			m.readBytes.Add(int64(n))
			m.config.Metrics.addRead(n)
			if m.config.Verbose {
				log.G(ctx).WithFields(log.Fields{"id": m.id, "offset": offset, "bytes": n}).Debug("buffer read")
			}
			for _, w := range workers {
				w.enqueue(buf)
			}
		} else {
			buf.releaseAll()
			if rerr == nil {
				if empty++; empty >= maxEmptyReads {
					return &ReadError{Offset: offset, Err: io.ErrNoProgress}
				}
			}
		}

		switch {
		case rerr == io.EOF:
			if m.readBytes.Load() < m.length {
				return &ReadError{Offset: m.readBytes.Load(), Err: io.ErrUnexpectedEOF}
			}
			return nil
		case rerr != nil:
			return &ReadError{Offset: offset + int64(n), Err: rerr}
		}
	}
	return nil
}

// workerFailed records a destination failure; the reader stops at its next check.
func (m *Multiplexer) workerFailed(index int, err error) {
	m.failed.Store(true)
	m.config.Metrics.addFailure(index)
	m.emitEvent(EventDestinationFailed, index, "destination failed", err)
}

// closeEndpoints closes the source and every destination of a multiplexer that
// will never run.
func (m *Multiplexer) closeEndpoints() error {
	err := m.src.Close()
	for _, dst := range m.dsts {
		err = multierr.Append(err, dst.Close())
	}
	return err
}

// Cancel asks a running copy to stop. It is safe to call from any goroutine,
// any number of times. In-flight reads and writes are not interrupted; every
// destination still writes the buffers already queued for it. Cancel has no
// effect once Start has returned.
func (m *Multiplexer) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finished {
		return
	}
	m.cancelled.Store(true)
}

// ID returns the operation ID used in logs, events and progress reports.
func (m *Multiplexer) ID() string { return m.id }

// Length returns the number of bytes the copy transfers.
func (m *Multiplexer) Length() int64 { return m.length }

// ReadBytes returns how many bytes have been read from the source so far.
func (m *Multiplexer) ReadBytes() int64 { return m.readBytes.Load() }

// Destinations returns the number of destinations.
func (m *Multiplexer) Destinations() int { return len(m.dsts) }

// IsDone reports whether every byte reached every destination.
func (m *Multiplexer) IsDone() bool { return m.done.Load() }

// IsCancelled reports whether Cancel was called.
func (m *Multiplexer) IsCancelled() bool { return m.cancelled.Load() }

// IsFailed reports whether a read or write failure ended the copy.
func (m *Multiplexer) IsFailed() bool { return m.failed.Load() }

// IsStarted reports whether Start was called.
func (m *Multiplexer) IsStarted() bool { return m.started.Load() }

// PoolStats returns the buffer pool accounting.
func (m *Multiplexer) PoolStats() PoolStats { return m.pool.Stats() }
