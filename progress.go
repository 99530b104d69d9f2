package godup

import (
	"sync"
	"time"
)

// progressTracker turns successive byte counters into ProgressInfo samples.
type progressTracker struct {
	id        string
	total     int64
	started   time.Time
	lastAt    time.Time
	lastBytes int64
}

func newProgressTracker(id string, total int64, now time.Time) *progressTracker {
	return &progressTracker{id: id, total: total, started: now, lastAt: now}
}

// sample computes a snapshot for read bytes observed at now.
func (t *progressTracker) sample(read int64, now time.Time) ProgressInfo {
	info := ProgressInfo{
		ID:        t.id,
		ReadBytes: read,
		Total:     t.total,
		Elapsed:   now.Sub(t.started),
	}
	if t.total > 0 {
		info.Percentage = float64(read) / float64(t.total) * 100.0
	} else {
		info.Percentage = 100.0
	}
	if dt := now.Sub(t.lastAt); dt > 0 {
		info.BytesPerSecond = float64(read-t.lastBytes) / dt.Seconds()
	}
	t.lastAt = now
	t.lastBytes = read
	return info
}

// startProgress polls the multiplexer on ProgressInterval and reports through
// ProgressFunc. The returned function stops polling and sends a final report.
func (m *Multiplexer) startProgress() (stop func()) {
	fn := m.config.ProgressFunc
	if fn == nil {
		return func() {}
	}

	clk := m.config.Clock
	tracker := newProgressTracker(m.id, m.length, clk.Now())
	ticker := clk.Ticker(m.config.ProgressInterval)
	quit := make(chan struct{})
	var wg sync.WaitGroup

	report := func() {
		fn(tracker.sample(m.readBytes.Load(), clk.Now()))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ticker.C:
				report()
			case <-quit:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(quit)
		wg.Wait()
		report()
	}
}
