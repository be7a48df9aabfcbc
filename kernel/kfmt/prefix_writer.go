package kfmt

import (
	"bytes"
	"io"
)

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line.
type PrefixWriter struct {
	// Sink receives the prefixed output.
	Sink io.Writer

	// Prefix is written in front of every line.
	Prefix []byte

	// bytesAfterPrefix is non-zero while a line is partially written.
	bytesAfterPrefix int
}

// Write writes p to the sink, emitting the prefix before the first byte of
// each line. A line that ends with p only gets its prefix once the next
// write arrives. The returned count excludes the injected prefixes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) != 0 {
		if w.bytesAfterPrefix == 0 {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
		}

		line := p
		if eol := bytes.IndexByte(p, '\n'); eol != -1 {
			line = p[:eol+1]
		}

		n, err := w.Sink.Write(line)
		written += n
		if err != nil {
			return written, err
		}

		if line[len(line)-1] == '\n' {
			w.bytesAfterPrefix = 0
		} else {
			w.bytesAfterPrefix += n
		}
		p = p[len(line):]
	}

	return written, nil
}
