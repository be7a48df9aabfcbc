package lapic

import (
	"io"
	"smpos/kernel"
	"smpos/kernel/kfmt"
)

// probe checks that the processor has a local APIC. It only executes CPUID
// so a failed probe leaves every APIC register and MSR untouched.
func probe(hw Hardware, w io.Writer) *kernel.Error {
	if !hw.HasAPIC() {
		return errNoLAPIC
	}

	// x2APIC mode is reported but the driver always uses xAPIC MMIO.
	kfmt.Fprintf(w, "x2APIC supported: %t\n", hw.HasX2APIC())
	return nil
}
