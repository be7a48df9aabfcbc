package kfmt

import (
	"io"
	"smpos/kernel/sync"
	"unsafe"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// earlyPrintBuffer stores Printf output until the hal installs a sink.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer used by Printf. A nil sink redirects
	// the output to earlyPrintBuffer.
	outputSink io.Writer

	// printLock serializes all output. Every CPU logs while it brings its
	// local APIC up and the formatter scratch space in out is shared.
	printLock sync.Spinlock
	out       printer
)

// printer holds the scratch space used while formatting. It lives in a
// global so that formatting never allocates.
type printer struct {
	w   io.Writer
	num [maxBufSize + 1]byte
	one [1]byte
}

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	printLock.Acquire()
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
	printLock.Release()
}

// GetOutputSink returns the default target for calls to Printf. A nil value
// means that output is captured by the early ring buffer.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf provides a minimal Printf implementation that can be safely used
// before the Go runtime has been properly initialized. This implementation
// does not allocate any memory and may be called concurrently from several
// CPUs; each call is written out as a single unit.
//
// The following subset of the fmt verbs is supported:
//
//	%s the uninterpreted bytes of a string or byte slice
//	%o base 8
//	%d base 10
//	%x base 16, with lower-case letters for a-f
//	%t "true" or "false"
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes.
//
// Arguments are matched against the built-in string and integer types only.
// io.Stringer is not consulted as the itables may not be set up yet and %p is
// not offered since it would pull in reflect, whose use makes the compiler
// emit calls to runtime.convT2E and therefore allocate.
//
// Without a sink installed by SetOutputSink, the output is kept in a ring
// buffer and replayed into the first sink that gets installed.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	printLock.Acquire()
	out.w = w
	out.format(format, args)
	out.w = nil
	printLock.Release()
}

// TryFprintf behaves like Fprintf but never waits for another CPU's output
// to complete. It is meant for interrupt handlers, which may preempt a
// Printf call on their own CPU. The message is dropped and false is returned
// if the output is busy.
func TryFprintf(w io.Writer, format string, args ...interface{}) bool {
	if !printLock.TryToAcquire() {
		return false
	}

	if w == nil {
		w = outputSink
	}
	out.w = w
	out.format(format, args)
	out.w = nil
	printLock.Release()
	return true
}

func (p *printer) format(format string, args []interface{}) {
	var argIndex int

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			p.writeByte(format[i])
			continue
		}

		// Parse the optional width followed by the verb.
		padLen := 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			padLen = padLen*10 + int(format[i]-'0')
		}

		if i == len(format) {
			p.write(errNoVerb)
			break
		}

		verb := format[i]
		if verb == '%' {
			p.writeByte('%')
			continue
		}

		if verb != 'd' && verb != 'x' && verb != 'o' && verb != 's' && verb != 't' {
			p.write(errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			p.write(errMissingArg)
			continue
		}

		switch verb {
		case 'o':
			p.fmtInt(args[argIndex], 8, padLen)
		case 'd':
			p.fmtInt(args[argIndex], 10, padLen)
		case 'x':
			p.fmtInt(args[argIndex], 16, padLen)
		case 's':
			p.fmtString(args[argIndex], padLen)
		case 't':
			p.fmtBool(args[argIndex])
		}
		argIndex++
	}

	for ; argIndex < len(args); argIndex++ {
		p.write(errExtraArg)
	}
}

func (p *printer) fmtBool(v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		p.write(errWrongArgType)
	case b:
		p.write(trueValue)
	default:
		p.write(falseValue)
	}
}

// fmtString writes a string or []byte value, left-padded to padLen.
func (p *printer) fmtString(v interface{}, padLen int) {
	switch s := v.(type) {
	case string:
		p.repeat(' ', padLen-len(s))
		// s[i:j] would be converted to a []byte, which allocates.
		for i := 0; i < len(s); i++ {
			p.writeByte(s[i])
		}
	case []byte:
		p.repeat(' ', padLen-len(s))
		p.write(s)
	default:
		p.write(errWrongArgType)
	}
}

func (p *printer) repeat(ch byte, count int) {
	for ; count > 0; count-- {
		p.writeByte(ch)
	}
}

// fmtInt writes any built-in signed or unsigned integer in base 8, 10 or 16,
// padded to padLen (capped at maxBufSize-1).
func (p *printer) fmtInt(v interface{}, base uint64, padLen int) {
	var (
		uval uint64
		neg  bool
	)

	switch n := v.(type) {
	case uint8:
		uval = uint64(n)
	case uint16:
		uval = uint64(n)
	case uint32:
		uval = uint64(n)
	case uint64:
		uval = n
	case uintptr:
		uval = uint64(n)
	case int8:
		uval, neg = abs(int64(n))
	case int16:
		uval, neg = abs(int64(n))
	case int32:
		uval, neg = abs(int64(n))
	case int64:
		uval, neg = abs(n)
	case int:
		uval, neg = abs(int64(n))
	default:
		p.write(errWrongArgType)
		return
	}

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	// Digits are produced right to left, ending at the end of p.num.
	pos := len(p.num)
	for {
		pos--
		p.num[pos] = "0123456789abcdef"[uval%base]
		uval /= base
		if uval == 0 {
			break
		}
	}

	// With space padding the sign counts towards the width; with zero
	// padding it is placed in front of the padded digits.
	digits := len(p.num) - pos
	if neg && padCh == ' ' {
		pos--
		p.num[pos] = '-'
		digits++
	}

	for ; digits < padLen; digits++ {
		pos--
		p.num[pos] = padCh
	}

	if neg && padCh == '0' {
		pos--
		p.num[pos] = '-'
	}

	p.write(p.num[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func (p *printer) writeByte(b byte) {
	p.one[0] = b
	p.write(p.one[:])
}

// write hides buf from the compiler's escape analysis. Without this, buf is
// flagged as escaping because of the call through the io.Writer interface and
// every Printf call site ends up in runtime.convT2E, which allocates and
// crashes the kernel when it runs before the Go allocator is initialized.
func (p *printer) write(buf []byte) {
	doRealWrite(p.w, noEscape(unsafe.Pointer(&buf)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	buf := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(buf)
	} else {
		earlyPrintBuffer.Write(buf)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
