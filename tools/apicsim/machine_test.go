package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"smpos/device/lapic"
)

func testProfile(cpus ...CPUProfile) *Profile {
	return &Profile{
		Name:         "test",
		BusFrequency: 100000000,
		TickHz:       1000,
		SpinLimit:    1 << 20,
		PauseNanos:   10000,
		ICRDelay:     3,
		RunFor:       Duration(10 * time.Millisecond),
		CPUs:         cpus,
	}
}

func TestMachineBoot(t *testing.T) {
	m := NewMachine(testProfile(
		CPUProfile{APICID: 0},
		CPUProfile{APICID: 1},
		CPUProfile{APICID: 2},
		CPUProfile{APICID: 5, NoAPIC: true},
	))
	defer lapic.ResetForSimulation()

	if err := m.Boot(context.Background()); err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}
	if err := m.Run(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	results := m.Results()

	// 100MHz / 8 = 12.5 timer ticks per microsecond.
	freq := results[0].Frequency
	if exp := uint64(12.5 * (1 << 32)); freq < exp*99/100 || freq > exp*101/100 {
		t.Fatalf("expected a calibrated frequency close to 0x%x; got 0x%x", exp, freq)
	}

	for _, r := range results[:3] {
		if r.Err != nil {
			t.Errorf("cpu %d: unexpected error: %v", r.CPU, r.Err)
			continue
		}

		if r.Mode != lapic.TimerPeriodic {
			t.Errorf("cpu %d: expected periodic timer; got %s", r.CPU, r.Mode)
		}

		if r.InitCount < 12400 || r.InitCount > 12600 {
			t.Errorf("cpu %d: expected a 1ms initial count close to 12500; got %d", r.CPU, r.InitCount)
		}

		// 10ms at 1000 Hz.
		if r.Ticks < 9 || r.Ticks > 11 {
			t.Errorf("cpu %d: expected about 10 ticks; got %d", r.CPU, r.Ticks)
		}
	}

	for _, r := range results[1:3] {
		if r.IPIs != 1 {
			t.Errorf("cpu %d: expected one reschedule IPI; got %d", r.CPU, r.IPIs)
		}
	}

	if results[3].Err == nil {
		t.Fatal("expected the CPU without a local APIC to fail")
	}
	if !strings.Contains(results[3].Err.Error(), "no local APIC") {
		t.Fatalf("unexpected error for the CPU without a local APIC: %v", results[3].Err)
	}
}

func TestMachineBootFailsWithoutBSP(t *testing.T) {
	m := NewMachine(testProfile(
		CPUProfile{APICID: 0, FirmwareDisabled: true},
		CPUProfile{APICID: 1},
	))
	defer lapic.ResetForSimulation()

	err := m.Boot(context.Background())
	if err == nil || !strings.Contains(err.Error(), "cpu 0") {
		t.Fatalf("expected the BSP failure to be reported; got %v", err)
	}

	results := m.Results()
	if results[1].Err == nil {
		t.Fatal("expected the AP to give up waiting for the BSP")
	}

	if results[0].Mode != lapic.TimerDisabled || results[1].Mode != lapic.TimerDisabled {
		t.Fatal("expected no timer to be running")
	}
}

func TestMachineSwitchesToSymmetricIO(t *testing.T) {
	p := testProfile(CPUProfile{APICID: 0}, CPUProfile{APICID: 1}, CPUProfile{APICID: 2})
	p.IMCR = true

	m := NewMachine(p)
	defer lapic.ResetForSimulation()

	if err := m.Boot(context.Background()); err != nil {
		t.Fatal(err)
	}

	var switched int
	for _, r := range m.Results() {
		if r.SymmetricIO {
			switched++
		}
	}

	if switched != 1 {
		t.Fatalf("expected exactly one CPU to program the IMCR; got %d", switched)
	}
}

func TestSimulate(t *testing.T) {
	p, err := LoadProfile("testdata/smp4.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer lapic.ResetForSimulation()

	var buf bytes.Buffer
	if err = simulate(context.Background(), p, &buf, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, exp := range []string{
		`machine "smp4": 4 cpus`,
		"cpu  0 BSP apic   0: freq",
		"mode periodic",
		"cpu  3 AP  apic   3: FAILED",
		"x2APIC supported: true",
	} {
		if !strings.Contains(out, exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, out)
		}
	}
}
