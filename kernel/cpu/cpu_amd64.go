package cpu

var (
	cpuidFn = ID
)

const (
	// cpuid leaf 1 feature bits.
	featureEDXAPIC   = 1 << 9
	featureECXX2APIC = 1 << 21
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// Pause hints the processor that the caller is running a spin-wait loop.
func Pause()

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// HasAPIC returns true if the processor exposes an on-chip local APIC.
func HasAPIC() bool {
	_, _, _, edx := cpuidFn(1)
	return edx&featureEDXAPIC != 0
}

// HasX2APIC returns true if the local APIC supports x2APIC (MSR-based)
// operation.
func HasX2APIC() bool {
	_, _, ecx, _ := cpuidFn(1)
	return ecx&featureECXX2APIC != 0
}

// ReadMSR returns the contents of the model-specific register msr.
func ReadMSR(msr uint32) uint64

// WriteMSR stores value into the model-specific register msr.
func WriteMSR(msr uint32, value uint64)

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8
