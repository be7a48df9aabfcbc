// Package device defines the contract between the hal and the drivers for
// the per-CPU hardware that the kernel brings up at boot.
package device

import (
	"io"
	"smpos/kernel"
)

// Driver is implemented by every device driver the hal can initialize.
type Driver interface {
	// DriverName returns the name under which the driver is looked up.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit brings the device online on the bootstrap processor. Any
	// diagnostics should be written to the supplied io.Writer via
	// kfmt.Fprintf; the hal prefixes them with the driver name.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn checks for a particular piece of hardware and returns a driver
// for it or nil if the hardware is absent.
type ProbeFn func() Driver

// DetectOrder controls when the hal invokes a driver's probe function.
type DetectOrder int8

const (
	// DetectOrderEarly is used by the interrupt controllers. Every other
	// driver expects interrupt delivery to be configured by then.
	DetectOrderEarly DetectOrder = -128

	// DetectOrderTimers is used by clock sources that are only needed
	// once the interrupt controllers are online.
	DetectOrderTimers DetectOrder = 0

	// DetectOrderLast runs after all other probes.
	DetectOrderLast DetectOrder = 127
)

// DriverInfo describes a driver registered with the hal.
type DriverInfo struct {
	Order DetectOrder
	Probe ProbeFn
}

// DriverInfoList is a list of drivers ordered by DetectOrder.
type DriverInfoList []*DriverInfo

// sortByOrder is a stable in-place insertion sort; drivers that share a
// DetectOrder keep their registration order. It does not allocate.
func (l DriverInfoList) sortByOrder() {
	for i := 1; i < len(l); i++ {
		for j := i; j > 0 && l[j].Order < l[j-1].Order; j-- {
			l[j], l[j-1] = l[j-1], l[j]
		}
	}
}

// MaxDrivers is the number of drivers that can be registered.
const MaxDrivers = 16

// The registry is populated by RegisterDriver calls from the init blocks of
// the driver packages. It is statically allocated since the hal walks it
// before the Go allocator exists.
var (
	registeredDrivers [MaxDrivers]*DriverInfo
	driverCount       int
)

// RegisterDriver adds info to the list of drivers probed by the hal. It
// reports false and drops info once MaxDrivers drivers are registered.
func RegisterDriver(info *DriverInfo) bool {
	if driverCount == len(registeredDrivers) {
		return false
	}

	registeredDrivers[driverCount] = info
	driverCount++
	return true
}

// DriverList sorts the registered drivers by DetectOrder and returns them.
// The returned list shares its storage with the registry.
func DriverList() DriverInfoList {
	list := DriverInfoList(registeredDrivers[:driverCount])
	list.sortByOrder()
	return list
}
