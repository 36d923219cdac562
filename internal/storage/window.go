// internal/storage/window.go
package storage

import (
	"fmt"

	"lostwheel-gateway/internal/data"
)

// Window is an appendable bounded view over a sample stream.
// Implementations are not safe for concurrent use; the owner serializes access.
type Window interface {
	Append(s data.Sample)
	// Window returns the visible samples, oldest first. The slice aliases
	// internal storage and is only valid until the next Append or Reset.
	Window() []data.Sample
	Len() int
	Reset()
}

// RawWindow keeps the most recent windowSize raw samples.
type RawWindow struct {
	ring
	windowSize int
}

// NewRawWindow returns an empty RawWindow. capacity must be >= windowSize >= 1;
// a larger capacity makes compaction rarer.
func NewRawWindow(capacity, windowSize int) (*RawWindow, error) {
	if windowSize < 1 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	if capacity < windowSize {
		return nil, fmt.Errorf("capacity %d smaller than window size %d", capacity, windowSize)
	}
	return &RawWindow{
		ring:       newRing(capacity, windowSize-1),
		windowSize: windowSize,
	}, nil
}

func (w *RawWindow) Append(s data.Sample) { w.push(s) }

func (w *RawWindow) Window() []data.Sample { return w.tail(w.windowSize) }

func (w *RawWindow) Len() int { return min(w.filled, w.windowSize) }

func (w *RawWindow) Reset() { w.reset() }

// Capacity is the number of stored samples before compaction.
func (w *RawWindow) Capacity() int { return len(w.storage) }

// WindowSize is the number of samples exposed by Window.
func (w *RawWindow) WindowSize() int { return w.windowSize }

// AggregatingWindow sums every binPeriod consecutive samples into one bin and
// keeps the most recent binsCapacity bins. A bin's timestamps are those of the
// last sample folded into it. The bin under construction is never visible.
type AggregatingWindow struct {
	bins        ring
	binPeriod   int
	accumulator data.Sample
	accumulated int
	committed   uint64
}

// NewAggregatingWindow returns an empty AggregatingWindow.
func NewAggregatingWindow(binPeriod, binsCapacity int) (*AggregatingWindow, error) {
	if binPeriod < 1 {
		return nil, fmt.Errorf("bin period must be positive, got %d", binPeriod)
	}
	if binsCapacity < 1 {
		return nil, fmt.Errorf("bins capacity must be positive, got %d", binsCapacity)
	}
	return &AggregatingWindow{
		bins:      newRing(binsCapacity, binsCapacity-1),
		binPeriod: binPeriod,
	}, nil
}

func (w *AggregatingWindow) Append(s data.Sample) {
	w.accumulator.Count += s.Count
	w.accumulator.ProducerTimestamp = s.ProducerTimestamp
	w.accumulator.DeviceTimestamp = s.DeviceTimestamp
	w.accumulated++
	if w.accumulated < w.binPeriod {
		return
	}
	w.bins.push(w.accumulator)
	w.committed++
	w.accumulator = data.Sample{}
	w.accumulated = 0
}

func (w *AggregatingWindow) Window() []data.Sample { return w.bins.tail(w.bins.filled) }

func (w *AggregatingWindow) Len() int { return w.bins.filled }

func (w *AggregatingWindow) Reset() {
	w.bins.reset()
	w.accumulator = data.Sample{}
	w.accumulated = 0
	w.committed = 0
}

// Pending is the number of samples folded into the uncommitted bin.
func (w *AggregatingWindow) Pending() int { return w.accumulated }

// Committed is the number of bins committed since construction or the last Reset.
func (w *AggregatingWindow) Committed() uint64 { return w.committed }

// BinPeriod is the number of raw samples summed into one bin.
func (w *AggregatingWindow) BinPeriod() int { return w.binPeriod }

var (
	_ Window = (*RawWindow)(nil)
	_ Window = (*AggregatingWindow)(nil)
)
