// Package multiboot extracts the boot parameters handed to the kernel by a
// multiboot2-compliant bootloader.
package multiboot

import "unsafe"

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
)

// tagHeader describes the header the preceedes each tag.
type tagHeader struct {
	// The type of the tag
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. According to the spec, each tag starts at a 8-byte aligned
	// address.
	size uint32
}

var infoData uintptr

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// CmdLineValue looks up key in the command line passed to the kernel. Flags
// without a value (e.g. "nosmp") map to themselves and a key given more than
// once yields its last value.
//
// The returned string aliases the multiboot info data. The lookup does not
// allocate, so it is safe to use before the Go allocator exists.
//
//go:nocheckptr
func CmdLineValue(key string) (string, bool) {
	curPtr, size := findTagByType(tagBootCmdLine)
	if size <= 1 {
		return "", false
	}

	// The command line is a C-style NULL-terminated string
	cmdLine := unsafe.String((*byte)(unsafe.Pointer(curPtr)), size-1)

	var (
		value string
		found bool
	)
	for start, end := 0, 0; start < len(cmdLine); start = end {
		for start < len(cmdLine) && isSpace(cmdLine[start]) {
			start++
		}
		for end = start; end < len(cmdLine) && !isSpace(cmdLine[end]); end++ {
		}

		if v, ok := matchPair(cmdLine[start:end], key); ok {
			value, found = v, true
		}
	}

	return value, found
}

// matchPair reports whether pair ("foo=bar" or "nofoo") names key and returns
// its value.
func matchPair(pair, key string) (string, bool) {
	if len(pair) == 0 {
		return "", false
	}

	for i := 0; i < len(pair); i++ {
		if pair[i] == '=' {
			if pair[:i] != key {
				return "", false
			}
			return pair[i+1:], true
		}
	}

	return pair, pair == key
}

func isSpace(ch byte) bool {
	switch ch {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// findTagByType scans the multiboot info data looking for the start of of the
// specified type. It returns a pointer to the tag contents start offset and
// the content length exluding the tag header.
//
// If the tag is not present in the multiboot info, findTagSection will return
// back (0,0).
//
//go:nocheckptr
func findTagByType(tagType tagType) (uintptr, uint32) {
	if infoData == 0 {
		return 0, 0
	}

	var ptrTagHeader *tagHeader

	curPtr := infoData + 8
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			return curPtr + 8, ptrTagHeader.size - 8
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}

	return 0, 0
}
