// Package godup - Utility functions and helpers
//
// This file contains helper functions used throughout the godup library,
// including configuration validation, event emission and ID generation.
package godup

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	defaultBufferSize       = 4096 * 1024
	defaultPoolSize         = 8
	defaultQueueSize        = 4
	defaultMaxAttempts      = 4
	defaultPollInterval     = time.Second
	defaultProgressInterval = 500 * time.Millisecond

	minBufferSize   = 512
	maxBufferSize   = 256 * 1024 * 1024
	maxMaxAttempts  = 16
	maxPoolSizeHint = 1024
)

// DefaultConfig returns sensible defaults for copy operations.
func DefaultConfig() *Config {
	return &Config{
		BufferSize:       defaultBufferSize,
		PoolSize:         defaultPoolSize,
		QueueSize:        defaultQueueSize,
		MaxAttempts:      defaultMaxAttempts,
		PollInterval:     defaultPollInterval,
		ProgressInterval: defaultProgressInterval,
		IsRetryable:      IsTransient,
		Clock:            clock.New(),
	}
}

// validateConfig returns a sanitized copy of cfg; nil yields DefaultConfig().
func validateConfig(cfg *Config) *Config {
	if cfg == nil {
		return DefaultConfig()
	}
	c := *cfg

	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.BufferSize < minBufferSize {
		c.BufferSize = minBufferSize
	}
	if c.BufferSize > maxBufferSize {
		c.BufferSize = maxBufferSize
	}

	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.PoolSize > maxPoolSizeHint {
		c.PoolSize = maxPoolSizeHint
	}

	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.MaxAttempts > maxMaxAttempts {
		c.MaxAttempts = maxMaxAttempts
	}

	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = defaultProgressInterval
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsTransient
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}

	return &c
}

// calculateBuffers returns the number of buffer fills needed for length bytes.
func calculateBuffers(length int64, bufferSize int) int64 {
	return (length + int64(bufferSize) - 1) / int64(bufferSize)
}

func newOperationID() string {
	return uuid.NewString()
}

// emitEvent calls the event callback if configured
func (m *Multiplexer) emitEvent(event Event, destination int, message string, err error) {
	if m.config.EventFunc == nil {
		return
	}
	m.config.EventFunc(EventInfo{
		Event:       event,
		ID:          m.id,
		Destination: destination,
		Message:     message,
		Error:       err,
	})
}
