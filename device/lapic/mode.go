package lapic

import "smpos/device/pit"

const (
	// The interrupt mode configuration register is reached through an
	// index/data port pair on chipsets implementing PIC mode.
	portIMCRSelect = 0x22
	portIMCRData   = 0x23

	imcrRegister = 0x70

	// imcrSymmetricIO routes INTR and NMI through the APIC instead of
	// the PIC.
	imcrSymmetricIO = 0x01
)

// switchToSymmetricIO moves the platform from PIC mode to symmetric I/O mode.
// Only the first caller programs the IMCR; it returns true for that caller.
func switchToSymmetricIO(ports pit.PortIO) bool {
	if !symmetricIO.TrySet() {
		return false
	}

	ports.PortWriteByte(portIMCRSelect, imcrRegister)
	ports.PortWriteByte(portIMCRData, imcrSymmetricIO)
	return true
}
