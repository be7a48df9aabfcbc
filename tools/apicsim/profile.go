package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"smpos/kernel/gate"

	"gopkg.in/yaml.v3"
)

const (
	defaultPauseNanos = 2000
	defaultICRDelay   = 4
	defaultSpinLimit  = 1 << 22
	defaultPhysBase   = 0xfee00000
)

// Profile describes a simulated machine.
type Profile struct {
	Name string `yaml:"name"`

	// BusFrequency is the rate at which the APIC timer input runs before
	// the divide configuration is applied.
	BusFrequency Frequency `yaml:"bus_frequency"`

	// TickHz, IMCR and SpinLimit are handed to the LAPIC driver.
	TickHz    uint32 `yaml:"tick_hz"`
	IMCR      bool   `yaml:"imcr"`
	SpinLimit uint64 `yaml:"spin_limit"`

	// PauseNanos is the simulated time consumed by a single PAUSE.
	PauseNanos uint64 `yaml:"pause_ns"`

	// ICRDelay is the number of ICR polls that report a pending delivery
	// after each interrupt command.
	ICRDelay int `yaml:"icr_delay"`

	// RunFor is the simulated time to run after bring-up.
	RunFor Duration `yaml:"run_for"`

	CPUs []CPUProfile `yaml:"cpus"`
}

// CPUProfile describes a single simulated processor. The first entry is the
// BSP.
type CPUProfile struct {
	APICID uint8 `yaml:"apic_id"`

	// NoAPIC removes the local APIC from the CPUID feature flags.
	NoAPIC bool `yaml:"no_apic"`

	// X2APIC advertises x2APIC support.
	X2APIC bool `yaml:"x2apic"`

	// FirmwareDisabled hard-wires the IA32_APIC_BASE enable bit to 0.
	FirmwareDisabled bool `yaml:"firmware_disabled"`
}

// Frequency wraps a rate in Hz for YAML unmarshaling. It accepts plain
// numbers as well as values with a Hz, kHz, MHz or GHz suffix.
type Frequency uint64

// UnmarshalYAML implements yaml.Unmarshaler for Frequency.
func (f *Frequency) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	parsed, err := ParseFrequency(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFrequency parses strings such as "100MHz" or "2.4 GHz".
func ParseFrequency(s string) (Frequency, error) {
	s = strings.TrimSpace(s)

	multiplier := 1.0
	lower := strings.ToLower(s)
	for _, unit := range []struct {
		suffix string
		mul    float64
	}{
		{"ghz", 1e9},
		{"mhz", 1e6},
		{"khz", 1e3},
		{"hz", 1},
	} {
		if strings.HasSuffix(lower, unit.suffix) {
			multiplier = unit.mul
			s = strings.TrimSpace(s[:len(s)-len(unit.suffix)])
			break
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid frequency %q", s)
	}

	return Frequency(v * multiplier), nil
}

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// LoadProfile loads a machine profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	return ParseProfile(data)
}

// ParseProfile decodes a YAML machine profile and fills in defaults.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	if err := p.validate(); err != nil {
		return nil, err
	}

	if p.PauseNanos == 0 {
		p.PauseNanos = defaultPauseNanos
	}
	if p.ICRDelay == 0 {
		p.ICRDelay = defaultICRDelay
	}
	if p.SpinLimit == 0 {
		p.SpinLimit = defaultSpinLimit
	}

	return &p, nil
}

func (p *Profile) validate() error {
	switch {
	case len(p.CPUs) == 0:
		return fmt.Errorf("profile %q: no cpus defined", p.Name)
	case len(p.CPUs) > gate.MaxCPUs:
		return fmt.Errorf("profile %q: %d cpus exceed the limit of %d", p.Name, len(p.CPUs), gate.MaxCPUs)
	case p.BusFrequency == 0:
		return fmt.Errorf("profile %q: bus_frequency must be set", p.Name)
	case p.ICRDelay < 0:
		return fmt.Errorf("profile %q: icr_delay must not be negative", p.Name)
	}

	seen := make(map[uint8]bool, len(p.CPUs))
	for i, cpu := range p.CPUs {
		if seen[cpu.APICID] {
			return fmt.Errorf("profile %q: cpu %d reuses APIC ID %d", p.Name, i, cpu.APICID)
		}
		seen[cpu.APICID] = true
	}

	return nil
}
