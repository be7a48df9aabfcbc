package lapic

import (
	"smpos/kernel"
	"smpos/kernel/gate"
	"smpos/kernel/kfmt"
)

// VectorTable binds interrupt handlers to the vectors of one processor.
// It is implemented by gate.Table.
type VectorTable interface {
	HandleInterrupt(intNumber gate.InterruptNumber, name string, handler gate.Handler) *kernel.Error
	ClearHandler(intNumber gate.InterruptNumber)
}

type vectorBinding struct {
	vector gate.InterruptNumber
	name   string
}

// lapicVectors lists the vectors owned by the driver in registration order.
var lapicVectors = [...]vectorBinding{
	{gate.LAPICTimer, "LAPIC_TIMER"},
	{gate.LAPICSpurious, "LAPIC_SPURIOUS"},
	{gate.LAPICIPI, "LAPIC_IPI"},
	{gate.LAPICReschedule, "LAPIC_RESCHEDULE"},
}

// The following types view a Controller as the gate.Handler of one of its
// vectors. Converting a *Controller to them yields a pointer that fits in an
// interface without allocating.
type (
	timerVector      Controller
	spuriousVector   Controller
	ipiVector        Controller
	rescheduleVector Controller
)

func (v *timerVector) ServiceInterrupt(regs *gate.Registers) {
	(*Controller)(v).handleTimer(regs)
}

func (v *spuriousVector) ServiceInterrupt(regs *gate.Registers) {
	(*Controller)(v).handleSpurious(regs)
}

func (v *ipiVector) ServiceInterrupt(regs *gate.Registers) {
	(*Controller)(v).handleIPI(regs)
}

func (v *rescheduleVector) ServiceInterrupt(regs *gate.Registers) {
	(*Controller)(v).handleReschedule(regs)
}

func (c *Controller) handlerFor(vector gate.InterruptNumber) gate.Handler {
	switch vector {
	case gate.LAPICTimer:
		return (*timerVector)(c)
	case gate.LAPICSpurious:
		return (*spuriousVector)(c)
	case gate.LAPICIPI:
		return (*ipiVector)(c)
	default:
		return (*rescheduleVector)(c)
	}
}

// registerVectors installs the APIC interrupt handlers. If any vector is
// already taken the handlers installed so far are removed again.
func (c *Controller) registerVectors() *kernel.Error {
	for i, b := range lapicVectors {
		if err := c.vectors.HandleInterrupt(b.vector, b.name, c.handlerFor(b.vector)); err != nil {
			for _, prev := range lapicVectors[:i] {
				c.vectors.ClearHandler(prev.vector)
			}
			return err
		}
	}

	return nil
}

func (c *Controller) unregisterVectors() {
	for _, b := range lapicVectors {
		c.vectors.ClearHandler(b.vector)
	}
}

// EOI signals the end of interrupt servicing to the APIC.
func (c *Controller) EOI() {
	c.regs.Write(RegEOI, 0)
}

// handleTimer acknowledges the tick before running the scheduler so that
// the next tick is not held back behind it.
func (c *Controller) handleTimer(regs *gate.Registers) {
	c.EOI()

	if c.tick != nil {
		c.tick(regs)
	}
}

// Spurious interrupts do not set an ISR bit; the EOI is harmless.
func (c *Controller) handleSpurious(regs *gate.Registers) {
	c.EOI()
	c.report("spurious interrupt on APIC %d\n", c.ID())
}

func (c *Controller) handleIPI(regs *gate.Registers) {
	c.EOI()
	c.report("IPI received on APIC %d\n", c.ID())
}

// handleReschedule only needs to interrupt whatever wait the processor is
// in; the scheduler notices pending work on its own.
func (c *Controller) handleReschedule(_ *gate.Registers) {
	c.EOI()
}

// report runs in interrupt context and must not wait for the output lock.
// A nil diag writer selects the kfmt output sink.
func (c *Controller) report(format string, args ...interface{}) {
	kfmt.TryFprintf(c.diag, format, args...)
}
