// Package timer exposes the per-process interval timer calls. The kernel
// only drives the periodic scheduler tick so far; these calls accept their
// arguments and report success without arming anything.
package timer

import "smpos/kernel"

// ClockID selects the clock used as the timing base of a timer.
type ClockID int32

// The clocks accepted by Create.
const (
	ClockRealtime ClockID = iota
	ClockMonotonic
)

// ID identifies a per-process timer.
type ID int32

// Timespec holds a time value with nanosecond resolution.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Spec describes the expiration and reload values of a timer.
type Spec struct {
	// Interval is the reload value. A zero Interval makes the timer
	// one-shot.
	Interval Timespec

	// Value is the time until the next expiration. A zero Value disarms
	// the timer.
	Value Timespec
}

// Flags modify the behaviour of SetTime.
type Flags uint32

// FlagAbsTime interprets Spec.Value as an absolute time.
const FlagAbsTime Flags = 1

// Create allocates a disarmed timer using clock as its timing base.
func Create(clock ClockID) (ID, *kernel.Error) {
	return 0, nil
}

// Delete disarms and releases timer.
func Delete(timer ID) *kernel.Error {
	return nil
}

// GetOverrun returns the number of expirations of timer that could not be
// delivered.
func GetOverrun(timer ID) (int, *kernel.Error) {
	return 0, nil
}

// GetTime stores the time left until the next expiration of timer and its
// reload value into value.
func GetTime(timer ID, value *Spec) *kernel.Error {
	return nil
}

// SetTime arms or disarms timer. The previous setting is stored into old
// when it is not nil.
func SetTime(timer ID, flags Flags, value, old *Spec) *kernel.Error {
	return nil
}
