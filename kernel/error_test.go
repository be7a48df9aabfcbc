package kernel

import "testing"

func TestKernelError(t *testing.T) {
	err := &Error{
		Module:  "lapic",
		Message: "local APIC not present",
	}

	if err.Error() != err.Message {
		t.Fatalf("expected to err.Error() to return %q; got %q", err.Message, err.Error())
	}

	if exp, got := "[lapic] local APIC not present", err.String(); got != exp {
		t.Fatalf("expected err.String() to return %q; got %q", exp, got)
	}
}
