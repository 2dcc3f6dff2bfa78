// Package q2testing provides small loopback helpers for driving two ends of
// a datagram conversation in tests, without needing a real UDP socket pair.
package q2testing

import (
	"context"
	"errors"
)

// ErrClosed is returned by ReadDatagram once the pipe has been closed.
var ErrClosed = errors.New("q2testing: pipe closed")

// datagramPipe is a buffered, single-reader channel of byte slices, so a
// write does not wait for the reader, as with a real UDP send. It plays the
// same role ipx.ReadWriteCloser plays in fragglet-ipxbox's testing helper,
// but for raw datagrams rather than decoded packets.
type datagramPipe struct {
	ch     chan []byte
	closed chan struct{}
}

func newDatagramPipe() *datagramPipe {
	return &datagramPipe{
		ch:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *datagramPipe) write(b []byte) error {
	select {
	case p.ch <- b:
		return nil
	case <-p.closed:
		return ErrClosed
	}
}

func (p *datagramPipe) read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.ch:
		return b, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *datagramPipe) close() {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
}

// LoopbackEnd is one side of a simulated two-party UDP conversation, used in
// place of a real socket pair so netchan tests can run without binding
// ports or racing real deadlines.
type LoopbackEnd struct {
	side   string
	other  *LoopbackEnd
	rxpipe *datagramPipe
}

// MakeLoopbackPair returns two connected ends; a datagram written to one is
// read from the other.
func MakeLoopbackPair(side1, side2 string) (*LoopbackEnd, *LoopbackEnd) {
	x := &LoopbackEnd{side: side1, rxpipe: newDatagramPipe()}
	y := &LoopbackEnd{side: side2, rxpipe: newDatagramPipe()}
	x.other = y
	y.other = x
	return x, y
}

// ReadDatagram blocks until a datagram sent by the other end is available.
func (e *LoopbackEnd) ReadDatagram(ctx context.Context) ([]byte, error) {
	return e.rxpipe.read(ctx)
}

// WriteDatagram delivers b to the other end.
func (e *LoopbackEnd) WriteDatagram(b []byte) error {
	return e.other.rxpipe.write(b)
}

// Close unblocks any pending ReadDatagram call on this end.
func (e *LoopbackEnd) Close() error {
	e.rxpipe.close()
	return nil
}
