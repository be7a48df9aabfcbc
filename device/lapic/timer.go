package lapic

import (
	"math/bits"
	"smpos/kernel/gate"
)

// TimerMode describes the state of the APIC timer LVT entry.
type TimerMode uint8

const (
	// TimerDisabled indicates that the timer interrupt is masked.
	TimerDisabled TimerMode = iota

	// TimerOneShot indicates that the timer fires once when the current
	// count reaches zero.
	TimerOneShot

	// TimerPeriodic indicates that the timer reloads the initial count
	// and fires each time the current count reaches zero.
	TimerPeriodic
)

// String implements fmt.Stringer for TimerMode.
func (m TimerMode) String() string {
	switch m {
	case TimerOneShot:
		return "one-shot"
	case TimerPeriodic:
		return "periodic"
	default:
		return "disabled"
	}
}

const maxTimerCount = 0xffffffff

// intervalCount converts an interval in microseconds to an initial count for
// a timer running at freq (32.32 ticks per microsecond). The result saturates
// at the largest count the timer can hold.
func intervalCount(freq, us uint64) uint32 {
	hi, lo := bits.Mul64(freq, us)
	if hi>>32 != 0 {
		return maxTimerCount
	}

	count := hi<<32 | lo>>32
	switch {
	case count > maxTimerCount:
		return maxTimerCount
	case count == 0 && us != 0:
		// A non-zero interval must never program a timer that does not
		// fire.
		return 1
	}

	return uint32(count)
}

// SetInterval loads the timer with the count that elapses in us
// microseconds. Programming 0 stops the count without changing the mode.
func (c *Controller) SetInterval(us uint64) {
	c.regs.Write(RegTimerInitCount, intervalCount(loadFrequency(), us))
}

// EnablePeriodic unmasks the timer in periodic mode.
func (c *Controller) EnablePeriodic() {
	c.regs.Write(RegLVTTimer, uint32(gate.LAPICTimer)|lvtPeriodic)
	c.mode = TimerPeriodic
}

// EnableOneShot unmasks the timer in one-shot mode.
func (c *Controller) EnableOneShot() {
	c.regs.Write(RegLVTTimer, uint32(gate.LAPICTimer))
	c.mode = TimerOneShot
}

// Disable masks the timer interrupt.
func (c *Controller) Disable() {
	c.regs.Write(RegLVTTimer, uint32(gate.LAPICTimer)|lvtMasked)
	c.mode = TimerDisabled
}

// Mode returns the current timer mode.
func (c *Controller) Mode() TimerMode {
	return c.mode
}
