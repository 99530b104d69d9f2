package godup

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressTrackerSample(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := newProgressTracker("op", 10000, start)

	info := tracker.sample(1000, start.Add(time.Second))
	assert.Equal(t, "op", info.ID)
	assert.Equal(t, int64(1000), info.ReadBytes)
	assert.Equal(t, int64(10000), info.Total)
	assert.InDelta(t, 10.0, info.Percentage, 0.001)
	assert.InDelta(t, 1000.0, info.BytesPerSecond, 0.001)
	assert.Equal(t, time.Second, info.Elapsed)

	info = tracker.sample(3000, start.Add(2*time.Second))
	assert.InDelta(t, 30.0, info.Percentage, 0.001)
	assert.InDelta(t, 2000.0, info.BytesPerSecond, 0.001)
	assert.Equal(t, 2*time.Second, info.Elapsed)

	// No time passed: throughput is not computed.
	info = tracker.sample(3000, start.Add(2*time.Second))
	assert.Zero(t, info.BytesPerSecond)
}

func TestProgressTrackerZeroTotal(t *testing.T) {
	now := time.Now()
	tracker := newProgressTracker("op", 0, now)
	info := tracker.sample(0, now.Add(time.Second))
	assert.Equal(t, 100.0, info.Percentage)
}

type progressRecorder struct {
	mu    sync.Mutex
	infos []ProgressInfo
}

func (r *progressRecorder) record(info ProgressInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, info)
}

func (r *progressRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.infos)
}

func (r *progressRecorder) last() ProgressInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infos[len(r.infos)-1]
}

func TestMultiplexerFinalProgressReport(t *testing.T) {
	const length = 5000
	progress := &progressRecorder{}
	cfg := testConfig()
	cfg.Clock = clock.NewMock()
	cfg.ProgressFunc = progress.record

	m, err := NewMultiplexer(newPatternSource(length), []io.WriteCloser{&memDest{}}, length, cfg)
	require.NoError(t, err)
	require.NoError(t, startWithTimeout(t, context.Background(), m))

	require.Equal(t, 1, progress.len())
	last := progress.last()
	assert.Equal(t, m.ID(), last.ID)
	assert.Equal(t, int64(length), last.ReadBytes)
	assert.Equal(t, 100.0, last.Percentage)
}

func TestMultiplexerPeriodicProgress(t *testing.T) {
	const length = 8192
	mock := clock.NewMock()
	progress := &progressRecorder{}
	cfg := testConfig()
	cfg.Clock = mock
	cfg.ProgressFunc = progress.record
	cfg.ProgressInterval = 500 * time.Millisecond

	dst := newBlockingDest()
	m, err := NewMultiplexer(newPatternSource(length), []io.WriteCloser{dst}, length, cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()
	<-dst.entered

	mock.Add(500 * time.Millisecond)
	require.Eventually(t, func() bool { return progress.len() >= 1 }, 5*time.Second, time.Millisecond)
	tick := progress.last()
	assert.Less(t, tick.ReadBytes, int64(length))
	assert.Equal(t, 500*time.Millisecond, tick.Elapsed)

	close(dst.release)
	require.NoError(t, <-done)

	assert.GreaterOrEqual(t, progress.len(), 2)
	assert.Equal(t, int64(length), progress.last().ReadBytes)
}
