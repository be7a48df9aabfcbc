// Package lapic drives the local APIC of each processor. It moves the
// platform from legacy PIC delivery to symmetric I/O mode, enables each
// processor's local APIC, calibrates the APIC timer against the PIT and
// programs it to raise the periodic scheduler tick.
package lapic

import (
	"io"
	"smpos/kernel"
	"smpos/kernel/gate"
	"smpos/kernel/kfmt"
	ksync "smpos/kernel/sync"
)

const (
	msrAPICBase = 0x1b

	msrAPICBaseBSP    = 1 << 8
	msrAPICBaseEnable = 1 << 11
	msrAPICBaseMask   = 0xffff_f000

	svrAPICEnable    = 1 << 8
	svrFocusDisabled = 1 << 9

	lvtMasked   = 1 << 16
	lvtPeriodic = 1 << 17

	timerDivideBy8 = 0x2

	// minLVTWithPerfCounter is the smallest LVT entry count for which the
	// performance counter entry exists.
	minLVTWithPerfCounter = 4
)

var (
	errNoLAPIC            = &kernel.Error{Module: "lapic", Message: "processor has no local APIC"}
	errLAPICDisabled      = &kernel.Error{Module: "lapic", Message: "local APIC is disabled by firmware"}
	errCalibrationFailed  = &kernel.Error{Module: "lapic", Message: "could not determine the APIC timer frequency"}
	errCalibrationTimeout = &kernel.Error{Module: "lapic", Message: "reference clock did not tick during calibration"}
	errICRTimeout         = &kernel.Error{Module: "lapic", Message: "timed out waiting for IPI delivery"}
	errBSPNotReady        = &kernel.Error{Module: "lapic", Message: "timed out waiting for the BSP to publish the APIC timer frequency"}
	errNotInitialized     = &kernel.Error{Module: "lapic", Message: "local APIC has not been initialized"}
)

// TickFn is invoked on every APIC timer interrupt.
type TickFn func(*gate.Registers)

// Controller manages the local APIC of a single processor. A Controller must
// only be used by the processor it was created for.
type Controller struct {
	hw       Hardware
	vectors  VectorTable
	refClock ReferenceClock
	tick     TickFn
	cfg      Config

	// diag receives the diagnostic lines emitted by the interrupt
	// handlers. If nil they go to the kfmt output sink.
	diag io.Writer

	regs    RegisterFile
	bsp     bool
	version uint8
	maxLVT  uint8
	mode    TimerMode

	// swEnabled is set once configure has software-enabled the APIC.
	swEnabled bool

	cal calibrator
}

// NewController returns a Controller for the processor whose privileged
// operations are exposed by hw. Interrupt handlers are installed in vectors
// and the timer handler forwards each tick to tick. The refClock is only
// used when the processor turns out to be the BSP and may be nil otherwise.
func NewController(hw Hardware, vectors VectorTable, refClock ReferenceClock, tick TickFn, cfg Config) *Controller {
	c := new(Controller)
	c.reset(hw, vectors, refClock, tick, cfg)
	return c
}

// reset reinitializes c in place. The kernel keeps its controllers in static
// storage and sets them up with reset because bring-up runs before the Go
// allocator is initialized.
func (c *Controller) reset(hw Hardware, vectors VectorTable, refClock ReferenceClock, tick TickFn, cfg Config) {
	*c = Controller{
		hw:       hw,
		vectors:  vectors,
		refClock: refClock,
		tick:     tick,
		cfg:      cfg.normalize(),
	}
}

// SetDiagnostics redirects the lines logged by the interrupt handlers to w.
func (c *Controller) SetDiagnostics(w io.Writer) {
	c.diag = w
}

// Init brings the local APIC of the calling processor online and starts the
// periodic tick. It must be called once on each processor with interrupts
// disabled; application processors must call it after the BSP has started
// its own bring-up. Progress is logged to w.
func (c *Controller) Init(w io.Writer) *kernel.Error {
	if err := probe(c.hw, w); err != nil {
		return err
	}

	if c.cfg.DisableLegacyPIC && switchToSymmetricIO(c.hw) {
		kfmt.Fprintf(w, "switched to symmetric I/O mode\n")
	}

	base, err := c.enable(w)
	if err != nil {
		return err
	}

	c.regs = c.hw.Registers(establishBase(base))

	if err = c.registerVectors(); err != nil {
		return err
	}

	if err = c.bringUp(w); err != nil {
		c.abort()
		return err
	}

	kfmt.Fprintf(w, "timer running at %d Hz on APIC %d\n", c.cfg.TickHz, c.ID())
	return nil
}

// bringUp runs the part of the init sequence that happens after the handlers
// are installed.
func (c *Controller) bringUp(w io.Writer) *kernel.Error {
	c.configure(w)

	if err := c.syncArbitrationIDs(); err != nil {
		return err
	}

	if c.bsp {
		freq, err := c.calibrate(w)
		if err != nil {
			return err
		}
		publishFrequency(freq)
	} else if !c.spinUntil(bspReady.IsSet) {
		return errBSPNotReady
	}

	kfmt.Fprintf(w, "timer frequency: 0x%x (32.32 ticks/us)\n", loadFrequency())

	c.SetInterval(c.cfg.tickInterval())
	c.EnablePeriodic()

	if c.bsp {
		c.refClock.Stop()
	}

	c.regs.Write(RegTaskPriority, 0)
	c.regs.Write(RegEOI, 0)

	if c.bsp {
		bspReady.Set()
	}

	return nil
}

// abort undoes the parts of a failed bring-up that would otherwise leave the
// processor taking interrupts from a half-configured APIC.
func (c *Controller) abort() {
	if c.mode != TimerDisabled {
		c.Disable()
	}

	// With the handlers gone, a spurious interrupt or IPI accepted by a
	// software-enabled APIC would land on an unbound vector.
	if c.swEnabled {
		c.regs.Write(RegSpurious, c.regs.Read(RegSpurious)&^svrAPICEnable)
		c.swEnabled = false
	}

	c.unregisterVectors()
}

// enable sets the global enable bit of IA32_APIC_BASE and returns the
// physical address of the register page.
func (c *Controller) enable(w io.Writer) (uint64, *kernel.Error) {
	base := c.hw.ReadMSR(msrAPICBase)
	c.hw.WriteMSR(msrAPICBase, base|msrAPICBaseEnable)

	// Firmware may hard-wire the enable bit to zero.
	base = c.hw.ReadMSR(msrAPICBase)
	if base&msrAPICBaseEnable == 0 {
		return 0, errLAPICDisabled
	}

	c.bsp = base&msrAPICBaseBSP != 0

	role := "AP"
	if c.bsp {
		role = "BSP"
	}
	kfmt.Fprintf(w, "register page at 0x%x (%s)\n", base&msrAPICBaseMask, role)

	return base & msrAPICBaseMask, nil
}

// configure programs the steady-state register values and software-enables
// the APIC with the spurious vector. The timer divider is fixed at 8.
func (c *Controller) configure(w io.Writer) {
	ver := c.regs.Read(RegVersion)
	c.version = uint8(ver)
	c.maxLVT = uint8(ver>>16) + 1

	kfmt.Fprintf(w, "version 0x%x, %d LVT entries\n", c.version, c.maxLVT)

	c.regs.Write(RegTaskPriority, 0)
	c.regs.Write(RegEOI, 0)

	if c.maxLVT >= minLVTWithPerfCounter {
		c.regs.Write(RegLVTPerfCounter, 0)
	}

	// The ESR must be written before it can be read back; the second
	// write clears anything latched by the first.
	c.regs.Write(RegErrorStatus, 0)
	c.regs.Write(RegErrorStatus, 0)

	c.regs.Write(RegSpurious, uint32(gate.LAPICSpurious)|svrAPICEnable|svrFocusDisabled)
	c.swEnabled = true
	c.regs.Write(RegTimerDivideConfig, timerDivideBy8)
}

// IsBSP returns true if the controller belongs to the bootstrap processor.
// It is only meaningful after Init.
func (c *Controller) IsBSP() bool {
	return c.bsp
}

// Version returns the APIC version and number of LVT entries read during
// Init.
func (c *Controller) Version() (version, lvtEntries uint8) {
	return c.version, c.maxLVT
}

// ID returns the APIC ID of the processor or 0 if Init has not mapped the
// register page yet.
func (c *Controller) ID() uint8 {
	if c.regs == nil {
		return 0
	}
	return uint8(c.regs.Read(RegID) >> 24)
}

// dumpedRegisters lists the registers printed by DumpTo.
var dumpedRegisters = [...]Register{
	RegID, RegVersion, RegTaskPriority, RegSpurious, RegErrorStatus,
	RegICRLow, RegICRHigh, RegLVTTimer, RegLVTPerfCounter,
	RegTimerInitCount, RegTimerCurrentCount, RegTimerDivideConfig,
}

// DumpTo outputs the contents of the readable APIC registers to w.
func (c *Controller) DumpTo(w io.Writer) {
	if c.regs == nil {
		kfmt.Fprintf(w, "local APIC not initialized\n")
		return
	}

	for _, reg := range dumpedRegisters {
		kfmt.Fprintf(w, "%10s (0x%3x) = 0x%8x\n", reg.String(), uint16(reg), c.regs.Read(reg))
	}
}

// spinUntil busy-waits for cond under this controller's spin limit. The
// SpinWait stays in this frame so binding c.hw.Pause does not allocate.
func (c *Controller) spinUntil(cond func() bool) bool {
	return ksync.SpinWait{Limit: c.cfg.SpinLimit, Relax: c.hw.Pause}.Until(cond)
}
