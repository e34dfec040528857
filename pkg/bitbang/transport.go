package bitbang

import "fmt"

// Transport is a synchronous bit-bang byte pipe: every byte written yields
// exactly one byte readable back, holding the input pin state sampled before
// that byte took effect on the wire. Implementations must preserve order.
type Transport interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Flush() error
}

// Sizer lets a transport advertise the largest single transfer it accepts.
type Sizer interface {
	MaxTransfer() int
}

// DefaultChunkSize bounds one write/read exchange when the transport does
// not advertise its own limit.
const DefaultChunkSize = 256

// Exchanger writes a compiled waveform through a Transport in bounded
// chunks, reading each chunk's response back before the next write. Chunks
// are never reordered or interleaved, so the concatenated responses line up
// byte for byte with the output stream.
type Exchanger struct {
	T     Transport
	Chunk int
}

// NewExchanger wraps t, taking the chunk size from the transport when it
// provides one.
func NewExchanger(t Transport) *Exchanger {
	chunk := DefaultChunkSize
	if s, ok := t.(Sizer); ok && s.MaxTransfer() > 0 {
		chunk = s.MaxTransfer()
	}
	return &Exchanger{T: t, Chunk: chunk}
}

// Exchange sends out and returns the response buffer of identical length.
func (e *Exchanger) Exchange(out []byte) ([]byte, error) {
	if err := e.T.Flush(); err != nil {
		return nil, fmt.Errorf("bitbang: flush: %w", err)
	}

	chunk := e.Chunk
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	resp := make([]byte, 0, len(out))
	for offset := 0; offset < len(out); offset += chunk {
		end := offset + chunk
		if end > len(out) {
			end = len(out)
		}
		part := out[offset:end]

		n, err := e.T.Write(part)
		if err != nil {
			return nil, fmt.Errorf("bitbang: write at %d: %w", offset, err)
		}
		if n != len(part) {
			return nil, fmt.Errorf("bitbang: short write at %d: %d of %d bytes", offset, n, len(part))
		}

		echo, err := e.readFull(n)
		if err != nil {
			return nil, fmt.Errorf("bitbang: read at %d: %w", offset, err)
		}
		resp = append(resp, echo...)
	}

	if len(resp) != len(out) {
		return nil, fmt.Errorf("bitbang: response length %d != waveform length %d", len(resp), len(out))
	}
	return resp, nil
}

func (e *Exchanger) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := e.T.Read(buf[got:])
		if err != nil {
			return nil, err
		}
		if m == 0 {
			return nil, fmt.Errorf("short read: %d of %d bytes", got, n)
		}
		got += m
	}
	return buf, nil
}
