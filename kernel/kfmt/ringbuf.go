package kfmt

import "io"

// ringBufferSize is large enough to hold the boot log of the BSP up to the
// point where the hal installs a sink. It must be a power of 2.
const ringBufferSize = 2048

// ringBuffer keeps the most recent ringBufferSize bytes written to it. Once
// full, each write overwrites the oldest byte.
type ringBuffer struct {
	buffer [ringBufferSize]byte

	// start indexes the oldest unread byte and count is the number of
	// unread bytes.
	start, count int
}

// Write appends p to the buffer and never fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.start+rb.count)&(ringBufferSize-1)] = b
		if rb.count == ringBufferSize {
			rb.start = (rb.start + 1) & (ringBufferSize - 1)
			continue
		}
		rb.count++
	}

	return len(p), nil
}

// Read implements io.Reader. Reads never wrap around the end of the backing
// array so a full drain may take two calls.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.count == 0 {
		return 0, io.EOF
	}

	n := rb.count
	if tail := ringBufferSize - rb.start; tail < n {
		n = tail
	}
	if len(p) < n {
		n = len(p)
	}

	copy(p, rb.buffer[rb.start:rb.start+n])
	rb.start = (rb.start + n) & (ringBufferSize - 1)
	rb.count -= n

	return n, nil
}
