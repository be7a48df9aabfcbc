// Package hal probes for hardware devices and initializes their drivers.
package hal

import (
	"smpos/device"
	"smpos/kernel/kfmt"
)

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	// activeDrivers tracks all initialized device drivers.
	activeDrivers [device.MaxDrivers]device.Driver
	activeCount   int
}

// Driver initialization runs before the Go allocator exists, so the state
// used while probing is statically allocated.
var (
	devices   managedDevices
	prefixBuf prefixBuffer
	drvWriter kfmt.PrefixWriter
)

// prefixBuffer is an io.Writer that collects a line prefix into a fixed-size
// array. Output past its capacity is discarded.
type prefixBuffer struct {
	data [64]byte
	len  int
}

func (b *prefixBuffer) Write(p []byte) (int, error) {
	b.len += copy(b.data[b.len:], p)
	return len(p), nil
}

func (b *prefixBuffer) Reset()        { b.len = 0 }
func (b *prefixBuffer) Bytes() []byte { return b.data[:b.len] }

// ActiveDrivers returns the drivers that were successfully initialized.
func ActiveDrivers() []device.Driver {
	return devices.activeDrivers[:devices.activeCount]
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers.
func DetectHardware() {
	// Get driver list sorted by detection priority
	probe(device.DriverList())
}

// DriverByName returns the active driver with the given name or nil.
func DriverByName(name string) device.Driver {
	for _, drv := range ActiveDrivers() {
		if drv.DriverName() == name {
			return drv
		}
	}

	return nil
}

// probe executes the probe function for each driver and records each driver
// that initializes successfully.
func probe(driverInfoList device.DriverInfoList) {
	drvWriter = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		prefixBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&prefixBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		drvWriter.Prefix = prefixBuf.Bytes()

		if err := drv.DriverInit(&drvWriter); err != nil {
			kfmt.Fprintf(&drvWriter, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&drvWriter, "initialized\n")
		if devices.activeCount < len(devices.activeDrivers) {
			devices.activeDrivers[devices.activeCount] = drv
			devices.activeCount++
		}
	}
}
