package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// DirectMapBase is the start of the kernel virtual window that maps
	// all physical memory, including device MMIO ranges, 1:1 at a fixed
	// offset.
	DirectMapBase = uintptr(0xffff800000000000)
)
