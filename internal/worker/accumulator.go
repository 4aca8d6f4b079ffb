// Package worker implements the Inference Worker: consume frames from
// every camera's FrameBus stream fairly, run detection + embedding,
// maintain per-camera tracker state, publish one DetectionEvent per
// input frame.
package worker

import (
	"time"

	"github.com/retailvision/trinetra/internal/framebus"
)

// DefaultBatchSize and DefaultBatchTimeoutMS are the micro-batch defaults;
// BATCH_SIZE/BATCH_TIMEOUT_MS override them via internal/config.
const (
	DefaultBatchSize      = 4
	DefaultBatchTimeoutMS = 20
)

// MicroBatchAccumulator collects FrameBus entries until either BatchSize
// entries have arrived or BatchTimeout has elapsed since the first entry
// of the current batch, whichever fires first.
type MicroBatchAccumulator struct {
	batchSize int
	timeout   time.Duration

	buf        []framebus.Entry
	batchStart time.Time
}

func NewMicroBatchAccumulator(batchSize int, timeoutMS int) *MicroBatchAccumulator {
	return &MicroBatchAccumulator{
		batchSize: batchSize,
		timeout:   time.Duration(timeoutMS) * time.Millisecond,
	}
}

// Add appends entries to the current batch, starting the timeout clock if
// this is the first entry since the last flush.
func (a *MicroBatchAccumulator) Add(entries []framebus.Entry) {
	if len(entries) == 0 {
		return
	}
	if len(a.buf) == 0 {
		a.batchStart = time.Now()
	}
	a.buf = append(a.buf, entries...)
}

// ReadyToFlush reports whether the accumulated batch should flush now:
// full, or timed out since the first entry arrived.
func (a *MicroBatchAccumulator) ReadyToFlush() bool {
	if len(a.buf) == 0 {
		return false
	}
	if len(a.buf) >= a.batchSize {
		return true
	}
	return time.Since(a.batchStart) >= a.timeout
}

// Flush returns the accumulated batch and resets the accumulator.
func (a *MicroBatchAccumulator) Flush() []framebus.Entry {
	batch := a.buf
	a.buf = nil
	return batch
}

// TimeUntilTimeout returns how long until the current (non-empty) batch's
// timeout fires, used to bound the next Consume's block duration so a
// partial batch doesn't sit past its deadline.
func (a *MicroBatchAccumulator) TimeUntilTimeout() time.Duration {
	if len(a.buf) == 0 {
		return a.timeout
	}
	remaining := a.timeout - time.Since(a.batchStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}
