package main

import (
	"bytes"
	"context"
	"fmt"
	"math/bits"
	"runtime"
	"sync"

	"smpos/device/lapic"
	"smpos/device/pit"
	"smpos/kernel/gate"

	"golang.org/x/sync/errgroup"
)

const (
	msrAPICBase       = 0x1b
	msrAPICBaseBSP    = 1 << 8
	msrAPICBaseEnable = 1 << 11

	icrDeliveryPending = 1 << 12
	icrDeliveryMask    = 0x700
	icrShorthandMask   = 0x3 << 18

	lvtPeriodic = 1 << 17

	// maxDispatches bounds the timer interrupts replayed per CPU by Run.
	maxDispatches = 1 << 20

	nanosPerSecond = 1000000000
)

// Machine simulates a multiprocessor whose CPUs bring their local APICs up
// through the real lapic driver. Simulated CPUs run on their own goroutines
// but only one of them executes at a time: a CPU hands the machine over to
// the others whenever it executes PAUSE.
type Machine struct {
	profile *Profile

	mu   sync.Mutex
	cpus []*simCPU
}

// Result reports the state of a simulated CPU.
type Result struct {
	CPU       int
	APICID    uint8
	BSP       bool
	Err       error
	Frequency uint64
	InitCount uint32
	Mode      lapic.TimerMode
	Ticks     uint64
	IPIs      uint64

	// SymmetricIO is set on the CPU that switched the IMCR.
	SymmetricIO bool

	Log string
}

// NewMachine builds the simulated CPUs described by profile.
func NewMachine(profile *Profile) *Machine {
	m := &Machine{profile: profile}
	for i, cp := range profile.CPUs {
		m.cpus = append(m.cpus, newSimCPU(m, i, cp))
	}
	return m
}

// Boot brings the local APIC of every CPU up concurrently. It fails if the
// BSP fails; AP failures are recorded in the per-CPU results.
func (m *Machine) Boot(ctx context.Context) error {
	lapic.ResetForSimulation()

	g, ctx := errgroup.WithContext(ctx)
	for _, cpu := range m.cpus {
		cpu := cpu
		g.Go(func() error {
			m.mu.Lock()
			defer m.mu.Unlock()

			if err := ctx.Err(); err != nil {
				cpu.err = err
				return nil
			}

			if err := cpu.ctrl.Init(&cpu.log); err != nil {
				cpu.err = err
				if cpu.index == 0 {
					return fmt.Errorf("cpu %d: %w", cpu.index, err)
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// Run advances every online CPU by the profile's run time, delivering the
// timer interrupts that would have fired, and then has the BSP send a
// reschedule IPI to every online AP.
func (m *Machine) Run() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := uint64(m.profile.RunFor.Duration().Nanoseconds())
	for _, cpu := range m.cpus {
		if cpu.err == nil {
			cpu.run(elapsed)
		}
	}

	bsp := m.cpus[0]
	if bsp.err != nil {
		return nil
	}

	for _, cpu := range m.cpus[1:] {
		if cpu.err != nil {
			continue
		}
		if err := bsp.ctrl.SendReschedule(cpu.profile.APICID); err != nil {
			return fmt.Errorf("reschedule cpu %d: %w", cpu.index, err)
		}
	}

	return nil
}

// Results returns the state of each CPU.
func (m *Machine) Results() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]Result, 0, len(m.cpus))
	for _, cpu := range m.cpus {
		results = append(results, Result{
			CPU:       cpu.index,
			APICID:    cpu.profile.APICID,
			BSP:       cpu.index == 0,
			Err:       cpu.err,
			Frequency: lapic.BusFrequency(),
			InitCount: cpu.apic.regs[lapic.RegTimerInitCount/16],
			Mode:      cpu.ctrl.Mode(),
			Ticks:     cpu.ticks,
			IPIs:      cpu.ipis,

			SymmetricIO: cpu.symmetricIO,
			Log:         cpu.log.String(),
		})
	}
	return results
}

// deliver raises vector on the CPU whose APIC ID is dest.
func (m *Machine) deliver(dest uint8, vector gate.InterruptNumber) {
	for _, cpu := range m.cpus {
		if cpu.profile.APICID == dest && cpu.err == nil {
			if cpu.table.Dispatch(&gate.Registers{Info: uint64(vector)}) == nil {
				cpu.ipis++
			}
			return
		}
	}
}

// simCPU implements lapic.Hardware for one simulated processor.
type simCPU struct {
	machine *Machine
	index   int
	profile CPUProfile

	now         uint64
	intEnabled  bool
	msr         uint64
	imcrSelect  uint8
	symmetricIO bool

	pit   simPIT
	apic  *simAPIC
	table *gate.Table
	ctrl  *lapic.Controller

	log   bytes.Buffer
	err   error
	ticks uint64
	ipis  uint64
}

func newSimCPU(m *Machine, index int, cp CPUProfile) *simCPU {
	cpu := &simCPU{
		machine: m,
		index:   index,
		profile: cp,
		msr:     defaultPhysBase,
		table:   &gate.Table{},
		pit:     simPIT{picMask: 0xff},
	}
	if index == 0 {
		cpu.msr |= msrAPICBaseBSP
	}
	cpu.apic = &simAPIC{cpu: cpu}
	cpu.apic.regs[lapic.RegID/16] = uint32(cp.APICID) << 24
	cpu.apic.regs[lapic.RegVersion/16] = 0x00050014

	var refClock lapic.ReferenceClock
	if index == 0 {
		refClock = pit.New(cpu)
	}

	cfg := lapic.Config{
		TickHz:           m.profile.TickHz,
		DisableLegacyPIC: m.profile.IMCR,
		SpinLimit:        m.profile.SpinLimit,
	}
	cpu.ctrl = lapic.NewController(cpu, cpu.table, refClock, func(_ *gate.Registers) { cpu.ticks++ }, cfg)
	cpu.ctrl.SetDiagnostics(&cpu.log)
	return cpu
}

func (cpu *simCPU) HasAPIC() bool      { return !cpu.profile.NoAPIC }
func (cpu *simCPU) HasX2APIC() bool    { return cpu.profile.X2APIC }
func (cpu *simCPU) EnableInterrupts()  { cpu.intEnabled = true }
func (cpu *simCPU) DisableInterrupts() { cpu.intEnabled = false }

func (cpu *simCPU) ReadMSR(msr uint32) uint64 {
	if msr != msrAPICBase {
		return 0
	}
	return cpu.msr
}

func (cpu *simCPU) WriteMSR(msr uint32, value uint64) {
	if msr != msrAPICBase {
		return
	}
	if cpu.profile.FirmwareDisabled {
		value &^= msrAPICBaseEnable
	}
	cpu.msr = value
}

func (cpu *simCPU) Registers(_ uintptr) lapic.RegisterFile {
	return cpu.apic
}

func (cpu *simCPU) PortWriteByte(port uint16, value uint8) {
	switch port {
	case 0x22:
		cpu.imcrSelect = value
	case 0x23:
		if cpu.imcrSelect == 0x70 {
			cpu.symmetricIO = value&1 != 0
		}
	default:
		cpu.pit.write(cpu.now, port, value)
	}
}

func (cpu *simCPU) PortReadByte(port uint16) uint8 {
	return cpu.pit.read(port)
}

// Pause advances the CPU clock, raises any PIT interrupt that became due and
// lets the other simulated CPUs run.
func (cpu *simCPU) Pause() {
	cpu.now += cpu.machine.profile.PauseNanos

	if cpu.intEnabled && cpu.pit.due(cpu.now) {
		cpu.table.Dispatch(&gate.Registers{Info: uint64(gate.PITTimer)})
	}

	cpu.machine.mu.Unlock()
	runtime.Gosched()
	cpu.machine.mu.Lock()
}

// run replays the periodic timer interrupts that fire during elapsed
// nanoseconds.
func (cpu *simCPU) run(elapsed uint64) {
	before := cpu.apic.timerTicks(cpu.now) - cpu.apic.timerStart
	cpu.now += elapsed
	after := cpu.apic.timerTicks(cpu.now) - cpu.apic.timerStart

	init := uint64(cpu.apic.regs[lapic.RegTimerInitCount/16])
	if init == 0 || cpu.apic.regs[lapic.RegLVTTimer/16]&lvtPeriodic == 0 {
		return
	}

	fired := after/init - before/init
	if fired > maxDispatches {
		fired = maxDispatches
	}

	vector := uint64(cpu.apic.regs[lapic.RegLVTTimer/16] & 0xff)
	for ; fired > 0; fired-- {
		cpu.table.Dispatch(&gate.Registers{Info: vector})
	}
}

// simAPIC models the register page of a local APIC.
type simAPIC struct {
	cpu  *simCPU
	regs [0x400 / 16]uint32

	icrBusy    int
	timerStart uint64
}

func (a *simAPIC) Read(reg lapic.Register) uint32 {
	switch reg {
	case lapic.RegICRLow:
		v := a.regs[reg/16] &^ icrDeliveryPending
		if a.icrBusy > 0 {
			a.icrBusy--
			v |= icrDeliveryPending
		}
		return v
	case lapic.RegTimerCurrentCount:
		return a.currentCount(a.cpu.now)
	}

	return a.regs[reg/16]
}

func (a *simAPIC) Write(reg lapic.Register, value uint32) {
	a.regs[reg/16] = value

	switch reg {
	case lapic.RegTimerInitCount:
		a.timerStart = a.timerTicks(a.cpu.now)
	case lapic.RegICRLow:
		a.icrBusy = a.cpu.machine.profile.ICRDelay
		if value&icrShorthandMask == 0 && value&icrDeliveryMask == 0 {
			a.cpu.machine.deliver(uint8(a.regs[lapic.RegICRHigh/16]>>24), gate.InterruptNumber(value))
		}
	}
}

// divisor decodes the timer divide configuration register.
func (a *simAPIC) divisor() uint64 {
	dcr := a.regs[lapic.RegTimerDivideConfig/16]
	shift := dcr&0x3 | (dcr>>1)&0x4
	if shift == 7 {
		return 1
	}
	return 2 << shift
}

// timerTicks returns the number of timer input ticks since power-on at now.
func (a *simAPIC) timerTicks(now uint64) uint64 {
	hi, lo := bits.Mul64(now, uint64(a.cpu.machine.profile.BusFrequency)/a.divisor())
	ticks, _ := bits.Div64(hi, lo, nanosPerSecond)
	return ticks
}

func (a *simAPIC) currentCount(now uint64) uint32 {
	init := uint64(a.regs[lapic.RegTimerInitCount/16])
	if init == 0 {
		return 0
	}

	elapsed := a.timerTicks(now) - a.timerStart
	if a.regs[lapic.RegLVTTimer/16]&lvtPeriodic != 0 {
		return uint32(init - elapsed%init)
	}
	if elapsed >= init {
		return 0
	}
	return uint32(init - elapsed)
}

// simPIT models channel 0 of the 8254 and the IRQ0 mask of the master PIC.
type simPIT struct {
	mode     uint8
	expectHi bool
	lo       uint8
	armed    bool
	period   uint64
	next     uint64
	picMask  uint8
}

func (p *simPIT) write(now uint64, port uint16, value uint8) {
	switch port {
	case 0x43:
		if value>>6 != 0 {
			return
		}
		p.mode = (value >> 1) & 0x7
		p.expectHi = false
		p.armed = false
	case 0x40:
		if !p.expectHi {
			p.lo = value
			p.expectHi = true
			return
		}
		p.expectHi = false

		reload := uint64(p.lo) | uint64(value)<<8
		if reload == 0 {
			reload = 0x10000
		}
		p.period = reload * nanosPerSecond / pit.InputFrequency
		p.next = now + p.period
		p.armed = p.mode == 2 || p.mode == 3
	case 0x21:
		p.picMask = value
	}
}

func (p *simPIT) read(port uint16) uint8 {
	if port == 0x21 {
		return p.picMask
	}
	return 0
}

// due reports whether IRQ0 fires at now and schedules the next one.
func (p *simPIT) due(now uint64) bool {
	if !p.armed || p.picMask&1 != 0 || now < p.next {
		return false
	}

	p.next += p.period
	return true
}
