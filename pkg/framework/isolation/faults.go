package isolation

import "sync/atomic"

// FaultCounter tracks consecutive failures of the active version. It is
// written by the script host and may be read from any goroutine.
type FaultCounter struct {
	threshold   uint64
	consecutive atomic.Uint64
	total       atomic.Uint64
}

// NewFaultCounter creates a counter that trips after threshold
// consecutive failures.
func NewFaultCounter(threshold int) *FaultCounter {
	if threshold < 1 {
		threshold = 1
	}
	return &FaultCounter{threshold: uint64(threshold)}
}

// RecordFailure counts one failure and reports whether the consecutive
// count has reached the threshold.
func (f *FaultCounter) RecordFailure() bool {
	f.total.Add(1)
	return f.consecutive.Add(1) >= f.threshold
}

// RecordSuccess ends the current run of failures.
func (f *FaultCounter) RecordSuccess() {
	f.consecutive.Store(0)
}

// Reset clears the run; called when a new version becomes active.
func (f *FaultCounter) Reset() {
	f.consecutive.Store(0)
}

// Consecutive returns the current run of failures.
func (f *FaultCounter) Consecutive() uint64 {
	return f.consecutive.Load()
}

// Total returns every failure ever recorded.
func (f *FaultCounter) Total() uint64 {
	return f.total.Load()
}

// Threshold returns the configured threshold.
func (f *FaultCounter) Threshold() int {
	return int(f.threshold)
}
