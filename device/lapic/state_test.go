package lapic

import (
	"smpos/kernel/mm"
	"sync"
	"testing"
)

func TestEstablishBaseOnce(t *testing.T) {
	resetState()
	defer resetState()

	exp := mm.FrameFromAddress(testPhysBase).DirectMapAddress()

	var wg sync.WaitGroup
	results := make([]uintptr, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every caller but one loses the race and must adopt the
			// winner's address.
			phys := uint64(testPhysBase)
			if i%2 == 1 {
				phys += uint64(i) << 12
			}
			results[i] = establishBase(phys)
		}(i)
	}
	wg.Wait()

	winner := ControllerBase()
	for i, got := range results {
		if got != winner {
			t.Errorf("caller %d: expected base 0x%x; got 0x%x", i, winner, got)
		}
	}

	if got := establishBase(testPhysBase + 0x1000); got != winner {
		t.Fatalf("expected established base 0x%x to be kept; got 0x%x", winner, got)
	}

	resetState()
	if got := establishBase(testPhysBase); got != exp {
		t.Fatalf("expected base 0x%x; got 0x%x", exp, got)
	}
}

func TestFrequencyPublication(t *testing.T) {
	resetState()
	defer resetState()

	publishFrequency(1 << 32)
	if got := BusFrequency(); got != 0 {
		t.Fatalf("expected the frequency to stay hidden until the BSP is ready; got 0x%x", got)
	}

	bspReady.Set()
	if exp, got := uint64(1<<32), BusFrequency(); got != exp {
		t.Fatalf("expected frequency 0x%x; got 0x%x", exp, got)
	}

	if !BringupComplete() {
		t.Fatal("expected bring-up to be complete")
	}

	ResetForSimulation()
	if BusFrequency() != 0 || BringupComplete() || ControllerBase() != 0 {
		t.Fatal("expected all shared state to be cleared")
	}
}

func TestSwitchToSymmetricIO(t *testing.T) {
	resetState()
	defer resetState()

	first := newFakeHardware(true, nil)
	second := newFakeHardware(false, nil)

	if !switchToSymmetricIO(first) {
		t.Fatal("expected the first caller to program the IMCR")
	}
	if switchToSymmetricIO(second) {
		t.Fatal("expected the second caller to skip the IMCR")
	}

	exp := []portWrite{{0x22, 0x70}, {0x23, 0x01}}
	if got := first.ports; len(got) != 2 || got[0] != exp[0] || got[1] != exp[1] {
		t.Fatalf("expected port writes %v; got %v", exp, got)
	}
	if len(second.ports) != 0 {
		t.Fatalf("expected no port writes; got %v", second.ports)
	}
}
