package lapic

import (
	"smpos/kernel/mm"
	"smpos/kernel/sync"
	"sync/atomic"
)

// State shared by all processors. Each value is written exactly once, by the
// processor that discovers or computes it, and is read-only afterwards.
var (
	// controllerBase is the kernel virtual address of the local APIC
	// register page. Every processor maps its own APIC at the same
	// physical address so a single virtual window serves all of them.
	controllerBase uint64

	// busFrequency is the local APIC timer frequency in timer ticks per
	// microsecond, as a 32.32 fixed-point value. Zero means not yet
	// calibrated.
	busFrequency uint64

	// bspReady is raised by the BSP once its local APIC is fully
	// initialized. Application processors must observe it before they
	// read busFrequency.
	bspReady sync.Flag

	// symmetricIO is raised by the first processor to switch the
	// platform from PIC mode to symmetric I/O mode.
	symmetricIO sync.Flag
)

// ControllerBase returns the virtual address of the local APIC register page
// or 0 if no processor has enabled its local APIC yet.
func ControllerBase() uintptr {
	return uintptr(atomic.LoadUint64(&controllerBase))
}

// BusFrequency returns the calibrated timer frequency in 32.32 fixed-point
// ticks per microsecond or 0 if the BSP has not published it yet.
func BusFrequency() uint64 {
	if !bspReady.IsSet() {
		return 0
	}

	return loadFrequency()
}

// loadFrequency returns the stored frequency without waiting for its
// publication. Only the BSP, which stores it, may use it before bspReady.
func loadFrequency() uint64 {
	return atomic.LoadUint64(&busFrequency)
}

// BringupComplete returns true once the BSP has finished initializing its
// local APIC.
func BringupComplete() bool {
	return bspReady.IsSet()
}

// establishBase records the virtual address of the register page located at
// physBase unless another processor has already done so. It returns the
// address every processor must use.
func establishBase(physBase uint64) uintptr {
	virt := mm.FrameFromAddress(uintptr(physBase)).DirectMapAddress()
	atomic.CompareAndSwapUint64(&controllerBase, 0, uint64(virt))
	return uintptr(atomic.LoadUint64(&controllerBase))
}

// publishFrequency stores the calibrated frequency. It becomes visible to
// other processors once the BSP raises bspReady.
func publishFrequency(freq uint64) {
	atomic.StoreUint64(&busFrequency, freq)
}

// resetState discards all shared state. It is used by tests and by the
// hosted simulator which boot several machines in one process.
func resetState() {
	atomic.StoreUint64(&controllerBase, 0)
	atomic.StoreUint64(&busFrequency, 0)
	bspReady.Reset()
	symmetricIO.Reset()
}

// ResetForSimulation discards all shared state so that a new simulated
// machine can be brought up. It must never be called on real hardware.
func ResetForSimulation() {
	resetState()
}
