// Package ftdi drives an FT232R in synchronous bit-bang mode over USB. In
// this mode the chip samples all eight port pins into its read FIFO before
// every byte written to the port takes effect, which is exactly the
// byte-in/byte-out contract bitbang.Exchanger expects.
package ftdi

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
)

const (
	// Default FT232R USB identifiers.
	VendorIDFTDI   = 0x0403
	ProductIDFT232 = 0x6001

	// Vendor control requests, from the FTDI application notes.
	reqReset      = 0x00
	reqSetBaud    = 0x03
	reqSetBitMode = 0x0B

	// reqReset wValue codes.
	resetSIO = 0
	purgeRX  = 1
	purgeTX  = 2

	// Bit-bang modes for reqSetBitMode's high value byte.
	bitModeReset  = 0x00
	bitModeSyncBB = 0x04

	// The FT232R has a single port; FTDI requests address it as index 1.
	portIndex = 1

	// Every IN packet starts with two modem status bytes.
	statusBytes = 2

	// DefaultBaud is the bit-bang pacing rate. The effective pin clock is
	// 16x the programmed baud rate.
	DefaultBaud = 57600

	// maxTransfer is the largest write the device keeps up with before its
	// 128-byte read FIFO overruns; responses must be drained this often.
	maxTransfer = 256
)

// Config selects the device and its bit-bang setup.
type Config struct {
	VID, PID uint16 // zero: VendorIDFTDI / ProductIDFT232
	Baud     int    // zero: DefaultBaud

	// Direction is the output-enable mask for the port, ones for driven
	// pins. Callers pass PinMap.Direction().
	Direction byte

	Logger *logrus.Logger // nil: logrus.StandardLogger()
}

// FT232R is a bitbang.Transport backed by a real FT232R. It satisfies
// bitbang.Sizer so the Exchanger paces writes to the chip's FIFO.
type FT232R struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	done func()

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
	pending    []byte
	log        *logrus.Entry
}

// Open claims the FT232R, resets it and switches it into synchronous
// bit-bang mode with the given direction mask.
func Open(cfg Config) (*FT232R, error) {
	vid, pid := cfg.VID, cfg.PID
	if vid == 0 {
		vid = VendorIDFTDI
	}
	if pid == 0 {
		pid = ProductIDFT232
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("ftdi: open device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("ftdi: device not found (VID:0x%04X PID:0x%04X)", vid, pid)
	}

	// The kernel's ftdi_sio driver binds this chip as a serial port; it
	// must be detached before the interface can be claimed.
	if err := dev.SetAutoDetach(true); err != nil {
		logger.WithError(err).Debug("auto-detach not supported")
	}

	t := &FT232R{
		ctx: ctx,
		dev: dev,
		log: logger.WithField("pkg", "ftdi"),
	}
	if err := t.claim(); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.configure(baud, cfg.Direction); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// claim takes the single serial interface and opens its bulk endpoint pair.
func (t *FT232R) claim() error {
	intf, done, err := t.dev.DefaultInterface()
	if err != nil {
		return fmt.Errorf("ftdi: claim interface: %w", err)
	}
	t.intf = intf
	t.done = done

	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionIn:
			in, err := intf.InEndpoint(ep.Number)
			if err != nil {
				return fmt.Errorf("ftdi: open IN endpoint: %w", err)
			}
			t.epIn = in
			t.packetSize = ep.MaxPacketSize
		case gousb.EndpointDirectionOut:
			out, err := intf.OutEndpoint(ep.Number)
			if err != nil {
				return fmt.Errorf("ftdi: open OUT endpoint: %w", err)
			}
			t.epOut = out
		}
	}
	if t.epIn == nil || t.epOut == nil {
		return fmt.Errorf("ftdi: bulk endpoint pair not found")
	}
	if t.packetSize == 0 {
		t.packetSize = 64
	}
	return nil
}

func (t *FT232R) control(request uint8, value, index uint16) error {
	rType := uint8(gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice)
	if _, err := t.dev.Control(rType, request, value, index, nil); err != nil {
		return fmt.Errorf("ftdi: control 0x%02X: %w", request, err)
	}
	return nil
}

func (t *FT232R) configure(baud int, direction byte) error {
	if err := t.control(reqReset, resetSIO, portIndex); err != nil {
		return err
	}
	value, index, err := baudDivisor(baud)
	if err != nil {
		return err
	}
	if err := t.control(reqSetBaud, value, index); err != nil {
		return err
	}
	// value: mode in the high byte, direction mask in the low byte.
	mode := uint16(bitModeSyncBB)<<8 | uint16(direction)
	if err := t.control(reqSetBitMode, mode, portIndex); err != nil {
		return err
	}
	t.log.WithFields(logrus.Fields{"baud": baud, "direction": fmt.Sprintf("%#02x", direction)}).
		Debug("synchronous bit-bang enabled")
	return t.Flush()
}

// baudDivisor encodes a baud rate as the FT232R divisor: a 14-bit integer
// part with a 3-bit fraction spread over the top of wValue and bit 0 of
// wIndex, against the 3 MHz prescaler clock.
func baudDivisor(baud int) (value, index uint16, err error) {
	const clock = 3000000
	if baud <= 0 || baud > clock {
		return 0, 0, fmt.Errorf("ftdi: baud rate %d out of range", baud)
	}
	div := (clock*8 + baud/2) / baud // divisor in eighths
	switch div {
	case 8: // 3 MBaud
		return 0, portIndex, nil
	case 12: // 2 MBaud
		return 1, portIndex, nil
	}
	frac := [8]uint16{0, 3, 2, 4, 1, 5, 6, 7}
	code := frac[div&7]
	value = uint16(div>>3)&0x3FFF | code&3<<14
	index = code>>2 | portIndex
	return value, index, nil
}

// MaxTransfer bounds each write so the response FIFO never overruns.
func (t *FT232R) MaxTransfer() int {
	return maxTransfer
}

func (t *FT232R) Write(p []byte) (int, error) {
	n, err := t.epOut.Write(p)
	if err != nil {
		return n, fmt.Errorf("ftdi: write: %w", err)
	}
	return n, nil
}

// Read returns sampled port bytes, stripping the two modem status bytes the
// chip prepends to every IN packet.
func (t *FT232R) Read(p []byte) (int, error) {
	buf := make([]byte, t.packetSize)
	for len(t.pending) == 0 {
		n, err := t.epIn.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("ftdi: read: %w", err)
		}
		if n < statusBytes {
			return 0, fmt.Errorf("ftdi: short status read (%d bytes)", n)
		}
		// A status-only packet means the FIFO had nothing yet; the next
		// poll will carry data.
		t.pending = append(t.pending, buf[statusBytes:n]...)
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

// Flush purges both FIFOs and drops any sampled bytes not yet consumed.
func (t *FT232R) Flush() error {
	t.pending = t.pending[:0]
	if err := t.control(reqReset, purgeRX, portIndex); err != nil {
		return err
	}
	return t.control(reqReset, purgeTX, portIndex)
}

// Close takes the port out of bit-bang mode and releases the device.
func (t *FT232R) Close() error {
	if t.dev != nil {
		// Best effort; the device may already be gone.
		_ = t.control(reqSetBitMode, bitModeReset<<8, portIndex)
	}
	if t.done != nil {
		t.done()
		t.done = nil
		t.intf = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}
