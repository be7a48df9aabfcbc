package gate

import (
	"bytes"
	"testing"
)

func TestRegistersDumpTo(t *testing.T) {
	regs := Registers{
		RAX: 1,
		RBX: 2,
		RCX: 3,
		RDX: 4,
		RSI: 5,
		RDI: 6,
		RBP: 7,
		R8:  8,
		R9:  9,
		R10: 10,
		R11: 11,
		R12: 12,
		R13: 13,
		R14: 14,
		R15: 15,
		RIP: 16,
		CS:  17,
		RSP: 18,
		SS:  19,

		RFlags: 20,
	}

	exp := "RAX = 0000000000000001 RBX = 0000000000000002\nRCX = 0000000000000003 RDX = 0000000000000004\nRSI = 0000000000000005 RDI = 0000000000000006\nRBP = 0000000000000007\nR8  = 0000000000000008 R9  = 0000000000000009\nR10 = 000000000000000a R11 = 000000000000000b\nR12 = 000000000000000c R13 = 000000000000000d\nR14 = 000000000000000e R15 = 000000000000000f\n\nRIP = 0000000000000010 CS  = 0000000000000011\nRSP = 0000000000000012 SS  = 0000000000000013\nRFL = 0000000000000014\n"

	var buf bytes.Buffer
	regs.DumpTo(&buf)

	if got := buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}
}

func TestTableHandleInterrupt(t *testing.T) {
	var (
		table   Table
		invoked []uint64
	)

	handler := HandlerFunc(func(regs *Registers) { invoked = append(invoked, regs.Info) })

	if err := table.HandleInterrupt(LAPICTimer, "LAPIC_TIMER", handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := table.HandleInterrupt(LAPICTimer, "LAPIC_TIMER", handler); got != errVectorInUse {
		t.Fatalf("expected double registration to fail with errVectorInUse; got %v", got)
	}

	if got := table.HandleInterrupt(LAPICIPI, "LAPIC_IPI", nil); got != errNilHandler {
		t.Fatalf("expected errNilHandler; got %v", got)
	}

	if exp, got := "LAPIC_TIMER", table.HandlerName(LAPICTimer); got != exp {
		t.Fatalf("expected handler name %q; got %q", exp, got)
	}

	if err := table.Dispatch(&Registers{Info: uint64(LAPICTimer)}); err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	if err := table.Dispatch(&Registers{Info: uint64(LAPICSpurious)}); err != errUnhandledVector {
		t.Fatalf("expected errUnhandledVector; got %v", err)
	}

	table.ClearHandler(LAPICTimer)
	if table.HandlerName(LAPICTimer) != "" {
		t.Fatal("expected handler name to be cleared")
	}

	if err := table.Dispatch(&Registers{Info: uint64(LAPICTimer)}); err != errUnhandledVector {
		t.Fatalf("expected errUnhandledVector after ClearHandler; got %v", err)
	}

	if len(invoked) != 1 || invoked[0] != uint64(LAPICTimer) {
		t.Fatalf("expected handler to be invoked once with vector %d; got %v", LAPICTimer, invoked)
	}
}

func TestTableForCPU(t *testing.T) {
	specs := []struct {
		index  int
		expErr bool
	}{
		{0, false},
		{MaxCPUs - 1, false},
		{-1, true},
		{MaxCPUs, true},
	}

	for specIndex, spec := range specs {
		table, err := TableForCPU(spec.index)
		if spec.expErr {
			if err != errCPUOutOfRange {
				t.Errorf("[spec %d] expected errCPUOutOfRange; got %v", specIndex, err)
			}
			continue
		}

		if err != nil || table != &tables[spec.index] {
			t.Errorf("[spec %d] expected table for cpu %d; got %p, %v", specIndex, spec.index, table, err)
		}
	}
}
