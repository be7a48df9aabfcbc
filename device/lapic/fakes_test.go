package lapic

import "smpos/kernel/gate"

const (
	testPhysBase = 0xfee00000

	// testVersion reports version 0x14 with 6 LVT entries.
	testVersion = 0x00050014
)

type regAccess struct {
	write bool
	reg   Register
	value uint32
}

// fakeRegisters models the register page of a local APIC. The ICR reports a
// pending delivery for icrDelay reads after each command and the timer
// counts down countPerPause for every Pause of the owning fakeHardware.
type fakeRegisters struct {
	hw   *fakeHardware
	vals map[Register]uint32
	log  []regAccess

	icrDelay    int
	icrBusy     int
	icrOverlaps int

	countPerPause uint64
	initAtPause   uint64
}

func (r *fakeRegisters) Read(reg Register) uint32 {
	value := r.vals[reg]

	switch reg {
	case RegICRLow:
		if r.icrBusy > 0 {
			r.icrBusy--
			value |= icrDeliveryPending
		}
	case RegTimerCurrentCount:
		elapsed := (r.hw.pauses - r.initAtPause) * r.countPerPause
		init := uint64(r.vals[RegTimerInitCount])
		value = 0
		if elapsed < init {
			value = uint32(init - elapsed)
		}
	}

	r.log = append(r.log, regAccess{reg: reg, value: value})
	return value
}

func (r *fakeRegisters) Write(reg Register, value uint32) {
	r.log = append(r.log, regAccess{write: true, reg: reg, value: value})

	switch reg {
	case RegICRLow, RegICRHigh:
		if r.icrBusy > 0 {
			r.icrOverlaps++
		}
		if reg == RegICRLow {
			r.icrBusy = r.icrDelay
		}
	case RegTimerInitCount:
		r.initAtPause = r.hw.pauses
	}

	r.vals[reg] = value
}

// writes returns the values written to reg in order.
func (r *fakeRegisters) writes(reg Register) []uint32 {
	var out []uint32
	for _, a := range r.log {
		if a.write && a.reg == reg {
			out = append(out, a.value)
		}
	}
	return out
}

// lastWrite returns the index in the access log of the last write to reg or
// -1.
func (r *fakeRegisters) lastWrite(reg Register) int {
	for i := len(r.log) - 1; i >= 0; i-- {
		if r.log[i].write && r.log[i].reg == reg {
			return i
		}
	}
	return -1
}

type portWrite struct {
	port  uint16
	value uint8
}

// fakeHardware models one processor. When interrupts are enabled and the
// attached fakeClock is running, every pausesPerTick-th Pause dispatches a
// clock interrupt through table.
type fakeHardware struct {
	hasAPIC   bool
	hasX2APIC bool

	msr        uint64
	msrLocked  bool
	msrReads   int
	msrWrites  int
	mappedBase uintptr

	regs  *fakeRegisters
	ports []portWrite

	intEnabled    bool
	pauses        uint64
	pausesPerTick uint64
	clock         *fakeClock
	table         *gate.Table

	// onPause, if set, runs at the start of every Pause.
	onPause func()
}

func newFakeHardware(bsp bool, table *gate.Table) *fakeHardware {
	hw := &fakeHardware{
		hasAPIC:       true,
		msr:           testPhysBase,
		pausesPerTick: 10,
		table:         table,
	}
	if bsp {
		hw.msr |= msrAPICBaseBSP
	}
	hw.regs = &fakeRegisters{
		hw:            hw,
		vals:          map[Register]uint32{RegVersion: testVersion},
		icrDelay:      3,
		countPerPause: 100,
	}
	return hw
}

func (hw *fakeHardware) PortWriteByte(port uint16, value uint8) {
	hw.ports = append(hw.ports, portWrite{port, value})
}

func (hw *fakeHardware) PortReadByte(_ uint16) uint8 { return 0 }
func (hw *fakeHardware) HasAPIC() bool               { return hw.hasAPIC }
func (hw *fakeHardware) HasX2APIC() bool             { return hw.hasX2APIC }
func (hw *fakeHardware) EnableInterrupts()           { hw.intEnabled = true }
func (hw *fakeHardware) DisableInterrupts()          { hw.intEnabled = false }

func (hw *fakeHardware) ReadMSR(msr uint32) uint64 {
	hw.msrReads++
	if msr != msrAPICBase {
		return 0
	}
	return hw.msr
}

func (hw *fakeHardware) WriteMSR(msr uint32, value uint64) {
	hw.msrWrites++
	if msr != msrAPICBase {
		return
	}
	if hw.msrLocked {
		value &^= msrAPICBaseEnable
	}
	hw.msr = value
}

func (hw *fakeHardware) Pause() {
	hw.pauses++

	if hw.onPause != nil {
		hw.onPause()
	}

	if hw.clock == nil || !hw.clock.running || !hw.intEnabled || hw.pausesPerTick == 0 {
		return
	}

	if hw.pauses%hw.pausesPerTick == 0 {
		hw.table.Dispatch(&gate.Registers{Info: uint64(hw.clock.Vector())})
	}
}

func (hw *fakeHardware) Registers(base uintptr) RegisterFile {
	hw.mappedBase = base
	return hw.regs
}

// fakeClock records how the reference clock is driven.
type fakeClock struct {
	regs *fakeRegisters

	running   bool
	rates     []uint32
	stops     int
	stopIndex int

	// bringupAtStop holds BringupComplete() as observed by Stop.
	bringupAtStop bool
}

func (c *fakeClock) SetPeriodic(hz uint32) {
	c.rates = append(c.rates, hz)
	c.running = true
}

func (c *fakeClock) Stop() {
	c.running = false
	c.stops++
	c.stopIndex = len(c.regs.log)
	c.bringupAtStop = BringupComplete()
}

func (c *fakeClock) Vector() gate.InterruptNumber {
	return gate.PITTimer
}

// testCPU bundles a controller with its simulated hardware.
type testCPU struct {
	hw    *fakeHardware
	table *gate.Table
	clock *fakeClock
	ticks int
	ctrl  *Controller
}

func newTestCPU(bsp bool, cfg Config) *testCPU {
	cpu := &testCPU{table: &gate.Table{}}
	cpu.hw = newFakeHardware(bsp, cpu.table)

	var refClock ReferenceClock
	if bsp {
		cpu.clock = &fakeClock{regs: cpu.hw.regs}
		cpu.hw.clock = cpu.clock
		refClock = cpu.clock
	}

	cpu.ctrl = NewController(cpu.hw, cpu.table, refClock, func(_ *gate.Registers) { cpu.ticks++ }, cfg)
	return cpu
}
