// Package pit drives channel 0 of the legacy 8254 programmable interval timer.
// The kernel only uses it as a reference clock while the local APIC timers
// are being calibrated; once they take over, its interrupts are stopped.
package pit

import (
	"smpos/kernel/cpu"
	"smpos/kernel/gate"
)

const (
	// InputFrequency is the frequency (in Hz) of the oscillator that
	// drives the PIT counters.
	InputFrequency = 1193182

	portChannel0 = 0x40
	portCommand  = 0x43

	// data port of the master 8259; bit n masks IRQ n.
	portPICMasterData = 0x21
	irq0Mask          = 1 << 0

	// channel 0, access lobyte/hibyte, binary counting.
	cmdChannel0LoHi = 0x30

	modeInterruptOnTerminalCount = 0 << 1
	modeSquareWave               = 3 << 1
)

// PortIO performs byte-sized port I/O.
type PortIO interface {
	PortWriteByte(port uint16, val uint8)
	PortReadByte(port uint16) uint8
}

type nativePorts struct{}

func (nativePorts) PortWriteByte(port uint16, val uint8) { cpu.PortWriteByte(port, val) }
func (nativePorts) PortReadByte(port uint16) uint8       { return cpu.PortReadByte(port) }

// Timer programs PIT channel 0.
type Timer struct {
	ports PortIO
}

// legacyTimer is statically allocated so Legacy can run before the Go
// allocator exists.
var legacyTimer = Timer{ports: nativePorts{}}

// New returns a Timer that talks to the PIT through ports.
func New(ports PortIO) *Timer {
	return &Timer{ports: ports}
}

// Legacy returns the Timer for the PIT of the running machine.
func Legacy() *Timer {
	return &legacyTimer
}

// Vector returns the interrupt vector raised by channel 0.
func (t *Timer) Vector() gate.InterruptNumber {
	return gate.PITTimer
}

// Reload returns the channel 0 reload value that yields a tick rate as close
// as possible to hz. The hardware interprets a reload value of 0 as 65536.
func Reload(hz uint32) uint16 {
	if hz == 0 {
		return 0
	}

	reload := InputFrequency / hz
	switch {
	case reload == 0:
		return 1
	case reload > 0xffff:
		return 0
	}

	return uint16(reload)
}

// SetPeriodic programs channel 0 to raise IRQ0 hz times per second and
// unmasks IRQ0 at the master PIC.
func (t *Timer) SetPeriodic(hz uint32) {
	reload := Reload(hz)

	t.ports.PortWriteByte(portCommand, cmdChannel0LoHi|modeSquareWave)
	t.ports.PortWriteByte(portChannel0, uint8(reload&0xff))
	t.ports.PortWriteByte(portChannel0, uint8(reload>>8))

	t.ports.PortWriteByte(portPICMasterData, t.ports.PortReadByte(portPICMasterData)&^irq0Mask)
}

// Stop halts channel 0 and masks IRQ0 at the master PIC. Selecting mode 0
// without loading a count leaves the counter waiting for a reload that never
// arrives.
func (t *Timer) Stop() {
	t.ports.PortWriteByte(portCommand, cmdChannel0LoHi|modeInterruptOnTerminalCount)
	t.ports.PortWriteByte(portPICMasterData, t.ports.PortReadByte(portPICMasterData)|irq0Mask)
}
