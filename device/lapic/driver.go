package lapic

import (
	"io"
	"smpos/device"
	"smpos/device/pit"
	"smpos/kernel"
	"smpos/kernel/cpu"
	"smpos/kernel/gate"
	"smpos/kernel/sched"
	"smpos/multiboot"
)

var (
	errCPUIndex = &kernel.Error{Module: "lapic", Message: "processor index out of range"}

	hasAPICFn   = cpu.HasAPIC
	hardwareFn  = NativeHardware
	tableFn     = gate.TableForCPU
	refClockFn  = func() ReferenceClock { return pit.Legacy() }
	cmdLineFn   = multiboot.CmdLineValue
	tickFn      = TickFn(sched.Tick)
	setCPUIndex = sched.SetCPUIndexFn

	// controllerSlots provides the storage for the controller of each
	// processor; bring-up runs before the Go allocator is available.
	controllerSlots [gate.MaxCPUs]Controller

	// controllers holds the controller of each processor that has been
	// brought up, indexed by processor number.
	controllers [gate.MaxCPUs]*Controller

	// cpuByAPICID maps APIC IDs to processor numbers plus one. Zero marks
	// an APIC ID that belongs to no brought-up processor.
	cpuByAPICID [256]uint8

	bspDriver  lapicDriver
	driverInfo = device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForLAPIC,
	}
)

func init() {
	device.RegisterDriver(&driverInfo)
}

// lapicDriver brings up the local APIC of the BSP during hardware detection.
type lapicDriver struct {
	ctrl *Controller
}

// DriverName returns the name of this driver.
func (*lapicDriver) DriverName() string {
	return "LAPIC"
}

// DriverVersion returns the version of this driver.
func (*lapicDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit initializes this driver.
func (drv *lapicDriver) DriverInit(w io.Writer) *kernel.Error {
	return bringUpCPU(0, drv.ctrl, w)
}

func probeForLAPIC() device.Driver {
	if !hasAPICFn() {
		return nil
	}

	ctrl, err := newControllerForCPU(0, refClockFn())
	if err != nil {
		return nil
	}

	bspDriver.ctrl = ctrl
	return &bspDriver
}

func newControllerForCPU(index int, refClock ReferenceClock) (*Controller, *kernel.Error) {
	table, err := tableFn(index)
	if err != nil {
		return nil, errCPUIndex
	}

	ctrl := &controllerSlots[index]
	ctrl.reset(hardwareFn(), table, refClock, tickFn, ConfigFromCmdLine(cmdLineFn))
	return ctrl, nil
}

func bringUpCPU(index int, ctrl *Controller, w io.Writer) *kernel.Error {
	if err := ctrl.Init(w); err != nil {
		return err
	}

	controllers[index] = ctrl
	cpuByAPICID[ctrl.ID()] = uint8(index + 1)

	if index == 0 {
		setCPUIndex(CurrentCPU)
	}

	return nil
}

// InitAP brings up the local APIC of the application processor with the
// given index. It must run on that processor after the BSP has initialized
// its own local APIC.
func InitAP(index int, w io.Writer) *kernel.Error {
	if index <= 0 || index >= gate.MaxCPUs {
		return errCPUIndex
	}

	ctrl, err := newControllerForCPU(index, nil)
	if err != nil {
		return err
	}

	return bringUpCPU(index, ctrl, w)
}

// ForCPU returns the controller of the processor with the given index or nil
// if that processor has not been brought up.
func ForCPU(index int) *Controller {
	if index < 0 || index >= gate.MaxCPUs {
		return nil
	}
	return controllers[index]
}

// CurrentCPU returns the index of the processor executing the caller by
// looking up its APIC ID. It returns -1 before the local APIC is mapped or
// when the processor was never brought up.
func CurrentCPU() int {
	base := ControllerBase()
	if base == 0 {
		return -1
	}

	return cpuForAPICID(uint8(NewMMIORegisters(base).Read(RegID) >> 24))
}

// cpuForAPICID returns the processor index for an APIC ID or -1.
func cpuForAPICID(id uint8) int {
	return int(cpuByAPICID[id]) - 1
}
