// Package godup - Type definitions and configuration structures
//
// This file contains the core type definitions used throughout the godup library,
// including progress tracking, event handling and configuration options.
package godup

import (
	"time"

	"github.com/benbjohnson/clock"
)

// ProgressInfo is a periodic snapshot of a running copy.
type ProgressInfo struct {
	ID             string        // Operation ID of the multiplexer
	ReadBytes      int64         // Bytes read from the source so far
	Total          int64         // Bytes to transfer
	Percentage     float64       // Progress as percentage (0.0 to 100.0)
	BytesPerSecond float64       // Read throughput since the previous sample
	Elapsed        time.Duration // Time since the copy started
}

// Event represents the different stages of a copy operation
type Event string

const (
	EventStarted           Event = "started"            // Workers spawned, reading begins
	EventWriteRetry        Event = "write_retry"        // A destination write is being retried
	EventDestinationFailed Event = "destination_failed" // A destination gave up
	EventDestinationClosed Event = "destination_closed" // A destination drained and closed
	EventCompleted         Event = "completed"          // Every byte reached every destination
	EventCancelled         Event = "cancelled"          // Stopped early on request
	EventFailed            Event = "failed"             // Stopped by a read or write failure
)

// EventInfo contains information about copy events
type EventInfo struct {
	Event       Event  // Type of event
	ID          string // Operation ID of the multiplexer
	Destination int    // Destination index, -1 when the event is not per destination
	Message     string // Optional message
	Error       error  // Error if applicable
}

// JobStatus represents the status of a managed copy job
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Config holds the tuning knobs of a copy operation.
//
// Use DefaultConfig() to get sensible defaults, then customize as needed:
//
//	config := godup.DefaultConfig()
//	config.Verbose = true
//	config.BufferSize = 8 * 1024 * 1024
//	config.ProgressFunc = func(info godup.ProgressInfo) {
//		fmt.Printf("Progress: %.1f%%\n", info.Percentage)
//	}
type Config struct {
	// BufferSize is the capacity of each pooled buffer in bytes (default 4MB).
	// Minimum: 512 bytes, Maximum: 256MB
	BufferSize int

	// PoolSize is the number of buffers shared by all destinations (default 8).
	// Memory in flight never exceeds PoolSize * BufferSize.
	PoolSize int

	// QueueSize is how many buffers may wait for one destination before the
	// reader blocks (default 4).
	QueueSize int

	// MaxAttempts bounds the write attempts per buffer and destination,
	// including the first one (default 4). Range: 1-16
	MaxAttempts int

	// RetryDelay is slept between write attempts (default 0).
	RetryDelay time.Duration

	// IsRetryable decides whether a failed write is retried. Defaults to IsTransient.
	IsRetryable func(err error) bool

	// PollInterval bounds how long an idle worker waits on its queue before
	// re-checking for shutdown (default 1s).
	PollInterval time.Duration

	// Verbose enables detailed logging of buffers, retries and worker shutdown.
	Verbose bool

	// ProgressFunc is called every ProgressInterval while the copy runs and
	// once more when it ends.
	ProgressFunc func(info ProgressInfo)

	// ProgressInterval is the sampling period for ProgressFunc (default 500ms).
	ProgressInterval time.Duration

	// EventFunc is called for copy lifecycle events.
	EventFunc func(info EventInfo)

	// Metrics, when set, receives byte, retry and failure counts.
	Metrics *Metrics

	// Clock drives progress sampling. Defaults to the wall clock.
	Clock clock.Clock
}
