// Command apicsim boots the LAPIC driver on a simulated multiprocessor
// described by a YAML profile and reports the state of every CPU.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[apicsim] error: %s\n", err.Error())
	os.Exit(1)
}

func main() {
	verbose := flag.Bool("v", false, "print the driver log of every CPU")
	flag.Parse()

	if len(flag.Args()) != 1 {
		exit(errors.New("usage: apicsim [-v] profile.yaml"))
	}

	profile, err := LoadProfile(flag.Arg(0))
	if err != nil {
		exit(err)
	}

	if err = simulate(context.Background(), profile, os.Stdout, *verbose); err != nil {
		exit(err)
	}
}

// simulate boots and runs the machine described by profile and writes a
// per-CPU report to w.
func simulate(ctx context.Context, profile *Profile, w io.Writer, verbose bool) error {
	m := NewMachine(profile)

	bootErr := m.Boot(ctx)
	if bootErr == nil {
		if err := m.Run(); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "machine %q: %d cpus, bus %d Hz\n", profile.Name, len(profile.CPUs), uint64(profile.BusFrequency))
	for _, r := range m.Results() {
		writeResult(w, r)
		if verbose && r.Log != "" {
			fmt.Fprintf(w, "    %s\n", strings.ReplaceAll(strings.TrimSuffix(r.Log, "\n"), "\n", "\n    "))
		}
	}

	return bootErr
}

func writeResult(w io.Writer, r Result) {
	role := "AP "
	if r.BSP {
		role = "BSP"
	}

	if r.Err != nil {
		fmt.Fprintf(w, "cpu %2d %s apic %3d: FAILED: %v\n", r.CPU, role, r.APICID, r.Err)
		return
	}

	fmt.Fprintf(w, "cpu %2d %s apic %3d: freq 0x%x init %d mode %s ticks %d ipis %d\n",
		r.CPU, role, r.APICID, r.Frequency, r.InitCount, r.Mode, r.Ticks, r.IPIs)
}
