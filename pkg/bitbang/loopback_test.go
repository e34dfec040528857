package bitbang

import (
	"errors"
	"fmt"
	"testing"
)

func TestLoopbackSampleLag(t *testing.T) {
	pins := DefaultPins
	lb := NewLoopback(pins, &EchoDevice{})

	w := NewWaveform(pins)
	idx := w.Clock(false, true) // TDI high on the first edge

	// Two idle bytes give the sample somewhere to land.
	out := append(w.Bytes(), 0x00, 0x00)
	xch := NewExchanger(lb)
	resp, err := xch.Exchange(out)
	if err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}

	if resp[idx]&pins.TDO == 0 {
		t.Fatalf("sample at lagged index %d should carry TDO", idx)
	}
	// The edge's own bytes are sampled too early to see the result.
	for i := 0; i < idx; i++ {
		if resp[i]&pins.TDO != 0 {
			t.Fatalf("index %d reflects the edge before the lag elapsed", i)
		}
	}
}

func TestLoopbackEchoesDrivenLines(t *testing.T) {
	pins := DefaultPins
	lb := NewLoopback(pins, nil)

	out := []byte{pins.TMS, pins.TMS | pins.TCK, 0x00}
	if _, err := lb.Write(out); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	resp := make([]byte, len(out))
	if n, err := lb.Read(resp); err != nil || n != len(out) {
		t.Fatalf("Read = %d, %v", n, err)
	}

	if resp[0] != 0 {
		t.Fatalf("first sample = %#02x, want 0 (nothing driven yet)", resp[0])
	}
	if resp[1]&pins.TMS == 0 {
		t.Fatalf("second sample should read back the driven TMS level")
	}
}

func TestExchangerChunksInOrder(t *testing.T) {
	lb := NewLoopback(DefaultPins, nil)
	rec := &recordingTransport{Transport: lb}
	xch := &Exchanger{T: rec, Chunk: 4}

	out := make([]byte, 11)
	for i := range out {
		out[i] = byte(i)
	}
	resp, err := xch.Exchange(out)
	if err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}
	if len(resp) != len(out) {
		t.Fatalf("response length = %d, want %d", len(resp), len(out))
	}
	if got, want := fmt.Sprint(rec.writes), fmt.Sprint([]int{4, 4, 3}); got != want {
		t.Fatalf("chunk sizes = %s, want %s", got, want)
	}
}

func TestExchangerShortRead(t *testing.T) {
	lb := NewLoopback(DefaultPins, nil)
	xch := NewExchanger(&truncatingTransport{Transport: lb})

	if _, err := xch.Exchange(make([]byte, 8)); err == nil {
		t.Fatalf("expected error when the transport loses response bytes")
	}
}

func TestExchangerWriteError(t *testing.T) {
	boom := errors.New("usb gone")
	xch := NewExchanger(&failingTransport{err: boom})
	if _, err := xch.Exchange(make([]byte, 4)); !errors.Is(err, boom) {
		t.Fatalf("Exchange error = %v, want wrapped %v", err, boom)
	}
}

type recordingTransport struct {
	Transport
	writes []int
}

func (r *recordingTransport) Write(p []byte) (int, error) {
	r.writes = append(r.writes, len(p))
	return r.Transport.Write(p)
}

// truncatingTransport drops every response byte after the first.
type truncatingTransport struct {
	Transport
	served bool
}

func (tt *truncatingTransport) Read(p []byte) (int, error) {
	if tt.served {
		return 0, nil
	}
	tt.served = true
	return tt.Transport.Read(p[:1])
}

type failingTransport struct {
	err error
}

func (f *failingTransport) Write(p []byte) (int, error) { return 0, f.err }
func (f *failingTransport) Read(p []byte) (int, error)  { return 0, f.err }
func (f *failingTransport) Flush() error                { return nil }
