package lapic

const (
	// DefaultTickHz is the preemption tick rate used when none is
	// configured.
	DefaultTickHz = 1000

	maxTickHz = 1000000
)

// Config controls the bring-up of a local APIC.
type Config struct {
	// TickHz is the rate of the periodic scheduler tick.
	TickHz uint32

	// DisableLegacyPIC is set when platform enumeration reports that the
	// IMCR must be programmed to leave PIC mode (MP table IMCRP bit).
	DisableLegacyPIC bool

	// SpinLimit bounds every busy-wait loop to the given number of polls.
	// Zero waits forever.
	SpinLimit uint64
}

// DefaultConfig returns the configuration used when the boot command line
// does not override anything.
func DefaultConfig() Config {
	return Config{TickHz: DefaultTickHz}
}

// CmdLineLookup returns the value of a boot command line key and whether the
// key was present. It is implemented by multiboot.CmdLineValue.
type CmdLineLookup func(key string) (string, bool)

// ConfigFromCmdLine builds a Config from the kernel boot command line.
// Recognized keys:
//
//	lapic.hz=<n>          tick rate in Hz
//	lapic.imcr=on|off     switch to symmetric I/O mode via the IMCR
//	lapic.spinlimit=<n>   bound busy-wait loops to n polls
//
// Malformed values are ignored. ConfigFromCmdLine does not allocate.
func ConfigFromCmdLine(lookup CmdLineLookup) Config {
	cfg := DefaultConfig()
	if lookup == nil {
		return cfg
	}

	if v, ok := lookup("lapic.hz"); ok {
		if hz, ok := parseDecimal(v, maxTickHz); ok && hz > 0 {
			cfg.TickHz = uint32(hz)
		}
	}

	if v, _ := lookup("lapic.imcr"); v == "on" || v == "1" || v == "true" {
		cfg.DisableLegacyPIC = true
	}

	if v, ok := lookup("lapic.spinlimit"); ok {
		if limit, ok := parseDecimal(v, ^uint64(0)); ok {
			cfg.SpinLimit = limit
		}
	}

	return cfg
}

// parseDecimal parses an unsigned decimal number no larger than max without
// allocating.
func parseDecimal(s string, max uint64) (uint64, bool) {
	if len(s) == 0 {
		return 0, false
	}

	var v uint64
	for i := 0; i < len(s); i++ {
		d := uint64(s[i] - '0')
		if s[i] < '0' || s[i] > '9' || d > max || v > (max-d)/10 {
			return 0, false
		}
		v = v*10 + d
	}

	return v, true
}

// normalize replaces out-of-range settings with their defaults.
func (cfg Config) normalize() Config {
	if cfg.TickHz == 0 || cfg.TickHz > maxTickHz {
		cfg.TickHz = DefaultTickHz
	}
	return cfg
}

// tickInterval returns the tick period in microseconds.
func (cfg Config) tickInterval() uint64 {
	return uint64(1000000 / cfg.TickHz)
}
