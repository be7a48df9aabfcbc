package kmain

import (
	"smpos/device/lapic"
	"smpos/kernel"
	"smpos/kernel/cpu"
	"smpos/kernel/gate"
	"smpos/kernel/hal"
	"smpos/kernel/kfmt"
	"smpos/multiboot"
)

var (
	errKmainReturned  = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoLocalAPIC    = &kernel.Error{Module: "kmain", Message: "BSP local APIC failed to initialize; symmetric interrupt delivery is unavailable"}
	errAPMainReturned = &kernel.Error{Module: "kmain", Message: "APMain returned"}

	// The following functions are mocked by tests.
	detectHardwareFn = hal.DetectHardware
	driverByNameFn   = hal.DriverByName
	initAPFn         = lapic.InitAP
	panicFn          = kfmt.Panic
	idleFn           = idle

	// apWriters holds the log writer of each application processor. APs
	// run before the Go allocator exists, so the writers are static. Slot
	// 0 belongs to the BSP and catches out-of-range indices.
	apWriters [gate.MaxCPUs]kfmt.PrefixWriter
	apPrefix  = []byte("[smp] ")
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. The rt0 code passes the address of the multiboot info
// payload provided by the bootloader.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	detectHardwareFn()

	// The kernel cannot run without the BSP's local APIC.
	if driverByNameFn("LAPIC") == nil {
		panicFn(errNoLocalAPIC)
		return
	}

	idleFn()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// APMain is invoked by the AP trampoline code on the application processor
// with the given index once it runs in long mode on its own stack.
//
//go:noinline
func APMain(cpuIndex int) {
	slot := cpuIndex
	if slot < 0 || slot >= len(apWriters) {
		slot = 0
	}

	w := &apWriters[slot]
	*w = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: apPrefix}

	if err := initAPFn(cpuIndex, w); err != nil {
		kfmt.Fprintf(w, "CPU %d: local APIC init failed: %s\n", cpuIndex, err.Message)
		panicFn(err)
		return
	}

	kfmt.Fprintf(w, "CPU %d online\n", cpuIndex)
	idleFn()
	panicFn(errAPMainReturned)
}

// idle waits for interrupts with interrupts enabled. The periodic tick wakes
// the processor up.
func idle() {
	cpu.EnableInterrupts()
	for {
		cpu.Halt()
	}
}
