package lapic

import (
	"io"
	"math/bits"
	"smpos/kernel"
	"smpos/kernel/gate"
	"smpos/kernel/kfmt"
	"sync/atomic"
)

const (
	// calibrationHz is the rate of the reference clock during calibration.
	calibrationHz = 50

	// calibrationCount is loaded into the APIC timer while measuring.
	calibrationCount = 0xffffffff

	timerDivisor = 8

	usPerSecond = 1000000
)

// calibrator counts reference clock ticks while the BSP measures the APIC
// timer rate.
type calibrator struct {
	ticks uint32
}

// ServiceInterrupt counts one reference clock tick.
func (cal *calibrator) ServiceInterrupt(_ *gate.Registers) {
	atomic.AddUint32(&cal.ticks, 1)
}

func (cal *calibrator) count() uint32 {
	return atomic.LoadUint32(&cal.ticks)
}

// nextTick waits for the tick counter to move past its current value.
func (c *Controller) nextTick(cal *calibrator) bool {
	start := cal.count()
	return c.spinUntil(func() bool { return cal.count() != start })
}

// calibrate measures how many APIC timer ticks elapse during one period of
// the reference clock and returns the timer frequency in 32.32 fixed-point
// ticks per microsecond.
func (c *Controller) calibrate(w io.Writer) (uint64, *kernel.Error) {
	if c.refClock == nil {
		return 0, errCalibrationFailed
	}

	var (
		cal       = &c.cal
		refVector = c.refClock.Vector()
	)

	*cal = calibrator{}
	c.refClock.SetPeriodic(calibrationHz)
	if err := c.vectors.HandleInterrupt(refVector, "pit", cal); err != nil {
		c.refClock.Stop()
		return 0, err
	}

	remaining, err := c.measure(cal)

	c.hw.DisableInterrupts()
	c.vectors.ClearHandler(refVector)

	if err != nil {
		c.refClock.Stop()
		return 0, err
	}

	raw := busHz(remaining)
	kfmt.Fprintf(w, "bus frequency: %d Hz (timer count 0x%x)\n", raw, remaining)

	freq := fixedPointFrequency(raw)
	if freq == 0 {
		c.refClock.Stop()
		return 0, errCalibrationFailed
	}

	return freq, nil
}

// measure runs the APIC timer in one-shot mode for one reference period and
// returns the count left in the timer.
func (c *Controller) measure(cal *calibrator) (uint32, *kernel.Error) {
	c.hw.EnableInterrupts()

	// Align the measurement with a tick edge.
	if !c.nextTick(cal) {
		return 0, errCalibrationTimeout
	}

	c.EnableOneShot()
	c.regs.Write(RegTimerInitCount, calibrationCount)

	if !c.nextTick(cal) {
		c.Disable()
		return 0, errCalibrationTimeout
	}

	c.Disable()
	return c.regs.Read(RegTimerCurrentCount), nil
}

// busHz converts the timer count left after one reference period into the
// bus clock rate in Hz.
func busHz(remaining uint32) uint64 {
	return uint64(calibrationCount-remaining) * timerDivisor * calibrationHz
}

// fixedPointFrequency converts the bus rate to timer ticks per microsecond
// in 32.32 fixed point.
func fixedPointFrequency(busHz uint64) uint64 {
	timerHz := busHz / timerDivisor

	// timerHz<<32 does not fit in 64 bits for multi-GHz buses.
	quo, _ := bits.Div64(timerHz>>32, timerHz<<32, usPerSecond)
	return quo
}
