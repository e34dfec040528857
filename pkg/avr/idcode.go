package avr

import "fmt"

// DeviceID is the decoded 32-bit JTAG identification register.
type DeviceID struct {
	Raw          uint32
	Version      uint8  // bits 31:28, die revision
	PartNumber   uint16 // bits 27:12
	Manufacturer uint16 // bits 11:1, JEDEC code
}

// ParseDeviceID splits a raw identification value into its fields.
func ParseDeviceID(raw uint32) DeviceID {
	return DeviceID{
		Raw:          raw,
		Version:      uint8(raw >> 28),
		PartNumber:   uint16(raw >> 12),
		Manufacturer: uint16(raw>>1) & 0x7FF,
	}
}

// String renders the register the way datasheets print it: most significant
// byte first, the reverse of the order the bytes come off the wire.
func (id DeviceID) String() string {
	return fmt.Sprintf("%08x", id.Raw)
}
