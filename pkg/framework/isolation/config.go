// Package isolation runs script programs so that their failures never
// reach the audio path: every call is serialized onto a per-version
// goroutine, bounded by a time budget, recovered from panics and checked
// for non-finite output.
package isolation

import (
	"fmt"
	"time"
)

// Defaults for Config.
const (
	DefaultThreshold  = 8
	DefaultMultiplier = 3.0
	DefaultMinTimeout = 5 * time.Millisecond
)

// Config tunes failure handling.
type Config struct {
	// Threshold is the number of consecutive failed or timed-out calls
	// after which the version is considered faulted.
	Threshold int
	// Multiplier scales the real-time duration of a block into its budget.
	Multiplier float64
	// MinTimeout is the smallest budget any call gets.
	MinTimeout time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:  DefaultThreshold,
		Multiplier: DefaultMultiplier,
		MinTimeout: DefaultMinTimeout,
	}
}

// Validate rejects unusable values.
func (c Config) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("isolation: threshold must be at least 1, got %d", c.Threshold)
	}
	if c.Multiplier <= 0 {
		return fmt.Errorf("isolation: multiplier must be positive, got %v", c.Multiplier)
	}
	if c.MinTimeout <= 0 {
		return fmt.Errorf("isolation: minimum timeout must be positive, got %v", c.MinTimeout)
	}
	return nil
}

// Budget returns how long one call processing frames samples may take:
// max(MinTimeout, Multiplier * frames / sampleRate).
func (c Config) Budget(frames int, sampleRate float64) time.Duration {
	if frames <= 0 || sampleRate <= 0 {
		return c.MinTimeout
	}
	d := time.Duration(c.Multiplier * float64(frames) / sampleRate * float64(time.Second))
	return max(d, c.MinTimeout)
}
