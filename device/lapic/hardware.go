package lapic

import (
	"smpos/device/pit"
	"smpos/kernel/cpu"
	"smpos/kernel/gate"
)

// Hardware exposes the privileged processor operations the driver depends
// on. Each processor brings its local APIC up through its own Hardware.
type Hardware interface {
	pit.PortIO

	// HasAPIC reports whether the processor has an on-chip local APIC.
	HasAPIC() bool

	// HasX2APIC reports whether the local APIC supports x2APIC mode.
	HasX2APIC() bool

	ReadMSR(msr uint32) uint64
	WriteMSR(msr uint32, value uint64)

	EnableInterrupts()
	DisableInterrupts()

	// Pause is invoked between the polls of every busy-wait loop.
	Pause()

	// Registers returns the register file of this processor's local
	// APIC given the virtual address where the register page is mapped.
	Registers(base uintptr) RegisterFile
}

// ReferenceClock is an independent periodic timer used to calibrate the
// local APIC timer.
type ReferenceClock interface {
	// SetPeriodic starts raising Vector() hz times per second.
	SetPeriodic(hz uint32)

	// Stop prevents the clock from raising any further interrupts.
	Stop()

	// Vector returns the interrupt vector raised by the clock.
	Vector() gate.InterruptNumber
}

// nativeHardware has no state so that converting it to Hardware does not
// allocate.
type nativeHardware struct{}

func (nativeHardware) PortWriteByte(port uint16, val uint8) { cpu.PortWriteByte(port, val) }
func (nativeHardware) PortReadByte(port uint16) uint8       { return cpu.PortReadByte(port) }

func (nativeHardware) HasAPIC() bool                     { return cpu.HasAPIC() }
func (nativeHardware) HasX2APIC() bool                   { return cpu.HasX2APIC() }
func (nativeHardware) ReadMSR(msr uint32) uint64         { return cpu.ReadMSR(msr) }
func (nativeHardware) WriteMSR(msr uint32, value uint64) { cpu.WriteMSR(msr, value) }
func (nativeHardware) EnableInterrupts()                 { cpu.EnableInterrupts() }
func (nativeHardware) DisableInterrupts()                { cpu.DisableInterrupts() }
func (nativeHardware) Pause()                            { cpu.Pause() }

func (nativeHardware) Registers(base uintptr) RegisterFile {
	return NewMMIORegisters(base)
}

// NativeHardware returns the Hardware implementation for the processor that
// executes the caller.
func NativeHardware() Hardware {
	return nativeHardware{}
}
