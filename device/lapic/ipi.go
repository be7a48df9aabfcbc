package lapic

import (
	"smpos/kernel"
	"smpos/kernel/gate"
)

// DeliveryMode selects how the target processor handles an IPI.
type DeliveryMode uint32

// The IPI delivery modes encoded in bits 8-10 of the ICR.
const (
	DeliveryFixed          DeliveryMode = 0x000
	DeliveryLowestPriority DeliveryMode = 0x100
	DeliverySMI            DeliveryMode = 0x200
	DeliveryNMI            DeliveryMode = 0x400
	DeliveryINIT           DeliveryMode = 0x500
	DeliveryStartup        DeliveryMode = 0x600
)

const (
	icrDeliveryPending = 1 << 12
	icrLevelAssert     = 1 << 14
	icrTriggerLevel    = 1 << 15

	// icrAllIncludingSelf is the destination shorthand that targets every
	// processor in the system including the sender.
	icrAllIncludingSelf = 0x3 << 18

	icrDestinationShift = 24
)

// sendCommand issues an interrupt command. The ICR holds a single command at
// a time so sendCommand waits for any previous command to be accepted before
// writing and for this one to be accepted before returning.
func (c *Controller) sendCommand(high, low uint32) *kernel.Error {
	if !c.spinUntil(c.icrIdle) {
		return errICRTimeout
	}

	// Writing the low half dispatches the command.
	c.regs.Write(RegICRHigh, high)
	c.regs.Write(RegICRLow, low)

	if !c.spinUntil(c.icrIdle) {
		return errICRTimeout
	}

	return nil
}

func (c *Controller) icrIdle() bool {
	return c.regs.Read(RegICRLow)&icrDeliveryPending == 0
}

// syncArbitrationIDs broadcasts an INIT level de-assert so that every APIC
// on the bus loads its arbitration ID from its APIC ID.
func (c *Controller) syncArbitrationIDs() *kernel.Error {
	return c.sendCommand(0, icrAllIncludingSelf|uint32(DeliveryINIT)|icrTriggerLevel)
}

// SendIPI sends vector to the processor whose APIC ID is dest using the
// given delivery mode.
func (c *Controller) SendIPI(dest uint8, mode DeliveryMode, vector gate.InterruptNumber) *kernel.Error {
	if c.regs == nil {
		return errNotInitialized
	}

	return c.sendCommand(
		uint32(dest)<<icrDestinationShift,
		icrLevelAssert|uint32(mode)|uint32(vector),
	)
}

// SendReschedule forces the processor whose APIC ID is dest out of any wait
// state so that it re-examines its run queue.
func (c *Controller) SendReschedule(dest uint8) *kernel.Error {
	return c.SendIPI(dest, DeliveryFixed, gate.LAPICReschedule)
}
