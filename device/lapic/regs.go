package lapic

import (
	"smpos/kernel"
	"smpos/kernel/mm"
	"sync/atomic"
	"unsafe"
)

// Register is the byte offset of a local APIC register within the 4 KiB
// register page. All registers are 32 bits wide and 16-byte aligned.
type Register uint16

// The local APIC registers used by the driver.
const (
	RegID                Register = 0x020
	RegVersion           Register = 0x030
	RegTaskPriority      Register = 0x080
	RegEOI               Register = 0x0b0
	RegSpurious          Register = 0x0f0
	RegErrorStatus       Register = 0x280
	RegICRLow            Register = 0x300
	RegICRHigh           Register = 0x310
	RegLVTTimer          Register = 0x320
	RegLVTPerfCounter    Register = 0x340
	RegTimerInitCount    Register = 0x380
	RegTimerCurrentCount Register = 0x390
	RegTimerDivideConfig Register = 0x3e0
)

// String returns the mnemonic for the register.
func (r Register) String() string {
	switch r {
	case RegID:
		return "ID"
	case RegVersion:
		return "VERSION"
	case RegTaskPriority:
		return "TPR"
	case RegEOI:
		return "EOI"
	case RegSpurious:
		return "SVR"
	case RegErrorStatus:
		return "ESR"
	case RegICRLow:
		return "ICR_LO"
	case RegICRHigh:
		return "ICR_HI"
	case RegLVTTimer:
		return "LVT_TIMER"
	case RegLVTPerfCounter:
		return "LVT_PERF"
	case RegTimerInitCount:
		return "TIMER_ICR"
	case RegTimerCurrentCount:
		return "TIMER_CCR"
	case RegTimerDivideConfig:
		return "TIMER_DCR"
	default:
		return "UNKNOWN"
	}
}

// valid returns true if r is an aligned offset inside the register page.
func (r Register) valid() bool {
	return r&0xf == 0 && uintptr(r) < mm.PageSize
}

// RegisterFile provides access to the register page of one local APIC.
// Register accesses never fail; passing an invalid register is a programming
// error.
type RegisterFile interface {
	Read(reg Register) uint32
	Write(reg Register, value uint32)
}

var (
	errBadRegister = &kernel.Error{Module: "lapic", Message: "register offset outside the APIC page"}
	errNilBase     = &kernel.Error{Module: "lapic", Message: "register access before the APIC base is mapped"}
)

// pageWords is the number of 32-bit words in the register page.
const pageWords = 1024

// mmioRegisters accesses the register page through a kernel virtual mapping.
// The atomic loads and stores keep the compiler from caching, merging or
// reordering the device accesses. Being pointer-shaped, it is stored in a
// RegisterFile interface without allocating.
type mmioRegisters struct {
	page *[pageWords]uint32
}

// NewMMIORegisters returns a RegisterFile for the register page mapped at
// the virtual address base.
func NewMMIORegisters(base uintptr) RegisterFile {
	if base == 0 {
		panic(errNilBase)
	}

	return mmioRegisters{page: pageAt(base)}
}

// pageAt converts the virtual address of a register page into a pointer.
// The address names device memory that the Go runtime does not manage, so
// pointer checking is disabled for the conversion.
//
//go:nocheckptr
func pageAt(base uintptr) *[pageWords]uint32 {
	return (*[pageWords]uint32)(unsafe.Pointer(base))
}

func (r mmioRegisters) addr(reg Register) *uint32 {
	if !reg.valid() {
		panic(errBadRegister)
	}

	return &r.page[reg>>2]
}

// Read performs a 32-bit load from reg.
func (r mmioRegisters) Read(reg Register) uint32 {
	return atomic.LoadUint32(r.addr(reg))
}

// Write performs a 32-bit store to reg.
func (r mmioRegisters) Write(reg Register, value uint32) {
	atomic.StoreUint32(r.addr(reg), value)
}
