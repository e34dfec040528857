package bitbang

// Device models the target side of a loopback transport at TCK-edge
// granularity. Clock is invoked once per rising edge with the TMS/TDI levels
// driven on that edge; TDO reports the level the device presents afterwards.
type Device interface {
	Clock(tms, tdi bool)
	TDO() bool
}

// EchoDevice drives TDO with the TDI level captured on the most recent
// edge, which makes a register shift return its input unchanged. Useful as
// a round-trip test double.
type EchoDevice struct {
	tdo bool
}

func (d *EchoDevice) Clock(tms, tdi bool) {
	d.tdo = tdi
}

func (d *EchoDevice) TDO() bool {
	return d.tdo
}

// Loopback is an in-memory Transport with synchronous bit-bang semantics:
// each written byte queues one response byte holding the port state sampled
// before the write took effect. Driven lines read back their previous
// values; TDO reads from the attached Device.
type Loopback struct {
	pins  PinMap
	dev   Device
	prev  byte
	queue []byte
}

// NewLoopback builds a loopback transport around dev. A nil device keeps
// TDO low.
func NewLoopback(pins PinMap, dev Device) *Loopback {
	return &Loopback{pins: pins, dev: dev}
}

func (l *Loopback) Write(p []byte) (int, error) {
	for _, b := range p {
		// Sample before applying: previous output levels plus the
		// device's current TDO.
		sample := l.prev &^ l.pins.TDO
		if l.dev != nil && l.dev.TDO() {
			sample |= l.pins.TDO
		}
		l.queue = append(l.queue, sample)

		if l.dev != nil && b&l.pins.TCK != 0 && l.prev&l.pins.TCK == 0 {
			l.dev.Clock(b&l.pins.TMS != 0, b&l.pins.TDI != 0)
		}
		l.prev = b
	}
	return len(p), nil
}

func (l *Loopback) Read(p []byte) (int, error) {
	n := copy(p, l.queue)
	l.queue = l.queue[n:]
	return n, nil
}

func (l *Loopback) Flush() error {
	l.queue = l.queue[:0]
	return nil
}
