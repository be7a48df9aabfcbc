package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to Error and compared by identity; they are created before the Go
// allocator is online, so errors.New is not an option for code that runs
// during early bring-up.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// String returns the error prefixed with the module that raised it.
func (e *Error) String() string {
	return "[" + e.Module + "] " + e.Message
}
