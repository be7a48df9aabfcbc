package gate

import (
	"io"
	"smpos/kernel"
	"smpos/kernel/kfmt"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info contains the exception code for exceptions, the syscall number
	// for syscall entries or the vector number for HW interrupts.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// IRQBase is the first vector used for legacy ISA interrupts. The
	// 8259 PICs are remapped so that IRQ n is delivered at IRQBase+n.
	IRQBase = InterruptNumber(32)

	// PITTimer is the vector of ISA IRQ0 which is wired to channel 0 of
	// the 8254 programmable interval timer.
	PITTimer = IRQBase

	// LAPICTimer is raised by the local APIC timer of each processor and
	// drives the scheduler tick.
	LAPICTimer = InterruptNumber(0xec)

	// LAPICIPI is the vector used for generic inter-processor messages.
	LAPICIPI = InterruptNumber(0xfb)

	// LAPICReschedule is sent to a processor to kick it out of an idle
	// wait so that it re-examines its run queue.
	LAPICReschedule = InterruptNumber(0xfd)

	// LAPICSpurious is delivered by the local APIC when an interrupt is
	// withdrawn before it can be serviced. Its low nibble must be 0xf for
	// compatibility with P6-family processors.
	LAPICSpurious = InterruptNumber(0xff)
)

// Handler services an interrupt. The supplied Registers snapshot may be
// modified; any changes will be restored when the interrupt returns.
//
// Handlers are installed before the Go allocator is available, so drivers
// bind them through pointer-shaped values rather than method values, which
// would be heap-allocated closures.
type Handler interface {
	ServiceInterrupt(*Registers)
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(*Registers)

// ServiceInterrupt calls f(regs).
func (f HandlerFunc) ServiceInterrupt(regs *Registers) {
	f(regs)
}

var (
	errVectorInUse     = &kernel.Error{Module: "gate", Message: "interrupt vector already has a handler"}
	errNilHandler      = &kernel.Error{Module: "gate", Message: "nil interrupt handler"}
	errUnhandledVector = &kernel.Error{Module: "gate", Message: "no handler for interrupt vector"}
	errCPUOutOfRange   = &kernel.Error{Module: "gate", Message: "cpu index out of range"}
)

// MaxCPUs is the number of processors that can own a vector table.
const MaxCPUs = 64

type entry struct {
	name    string
	handler Handler
}

// Table maps interrupt vectors to handlers for a single processor. The IDT
// entry stubs of that processor route every hardware interrupt through
// Table.Dispatch.
type Table struct {
	entries [256]entry
}

// HandleInterrupt binds handler to intNumber. Binding a vector that already
// has a handler is a programming error and is reported as such.
func (t *Table) HandleInterrupt(intNumber InterruptNumber, name string, handler Handler) *kernel.Error {
	if handler == nil {
		return errNilHandler
	}

	if t.entries[intNumber].handler != nil {
		return errVectorInUse
	}

	t.entries[intNumber] = entry{name: name, handler: handler}
	return nil
}

// ClearHandler removes any handler bound to intNumber.
func (t *Table) ClearHandler(intNumber InterruptNumber) {
	t.entries[intNumber] = entry{}
}

// HandlerName returns the name the handler for intNumber was registered with
// or an empty string if the vector is unbound.
func (t *Table) HandlerName(intNumber InterruptNumber) string {
	return t.entries[intNumber].name
}

// Dispatch invokes the handler bound to the vector stored in regs.Info.
func (t *Table) Dispatch(regs *Registers) *kernel.Error {
	e := &t.entries[uint8(regs.Info)]
	if e.handler == nil {
		return errUnhandledVector
	}

	e.handler.ServiceInterrupt(regs)
	return nil
}

// tables holds the vector table of each processor.
var tables [MaxCPUs]Table

// TableForCPU returns the vector table owned by the processor with the given
// index.
func TableForCPU(index int) (*Table, *kernel.Error) {
	if index < 0 || index >= MaxCPUs {
		return nil, errCPUOutOfRange
	}

	return &tables[index], nil
}
