// Package sched receives the periodic preemption tick raised by the local
// APIC timer of every processor.
package sched

import (
	"smpos/kernel/gate"
	"sync/atomic"
)

// cpuTicks counts the ticks observed by each processor.
var cpuTicks [gate.MaxCPUs]uint64

// currentCPUFn returns the index of the processor executing the caller.
var currentCPUFn = func() int { return 0 }

// SetCPUIndexFn installs the function used to identify the running
// processor. The lapic driver installs a lookup based on the APIC ID once
// the local APIC is mapped.
func SetCPUIndexFn(fn func() int) {
	if fn != nil {
		currentCPUFn = fn
	}
}

// Tick is invoked from interrupt context, after the interrupt has been
// acknowledged, each time the running processor's tick timer fires.
func Tick(_ *gate.Registers) {
	cpu := currentCPUFn()
	if cpu < 0 || cpu >= gate.MaxCPUs {
		return
	}

	atomic.AddUint64(&cpuTicks[cpu], 1)
}

// Ticks returns the number of ticks observed by the given processor.
func Ticks(cpu int) uint64 {
	if cpu < 0 || cpu >= gate.MaxCPUs {
		return 0
	}

	return atomic.LoadUint64(&cpuTicks[cpu])
}
