// Package msgbuf implements the bounded, append-only byte buffer used to
// build netchan payloads before they are handed to the transport.
package msgbuf

import (
	"errors"

	"github.com/fragglet/q2client/internal/cursor"
)

const (
	// Capacity is the maximum size of a single MsgBuf, matching the
	// maximum egress payload size of the netchan layer.
	Capacity = 4096

	// MaxString is the longest string WriteString will accept.
	MaxString = 2048
)

// ErrStringTooLong is returned by WriteString when the string exceeds
// MaxString. A single NUL byte is still emitted so the buffer's framing
// stays consistent, but the string itself is not written.
var ErrStringTooLong = errors.New("msgbuf: string exceeds maximum length")

// MsgBuf is a cursor-backed, fixed-capacity byte buffer with a cursor that
// only ever moves forward until Rewind is called.
type MsgBuf struct {
	w *cursor.Writer
}

// New returns an empty MsgBuf with the standard netchan capacity.
func New() *MsgBuf {
	return &MsgBuf{w: cursor.NewWriter(Capacity)}
}

// WriteUint8 appends a single byte.
func (m *MsgBuf) WriteUint8(v uint8) error {
	return m.w.WriteUint8(v)
}

// WriteUint16LE appends a little-endian 16-bit unsigned integer.
func (m *MsgBuf) WriteUint16LE(v uint16) error {
	return m.w.WriteUint16LE(v)
}

// WriteUint32LE appends a little-endian 32-bit unsigned integer.
func (m *MsgBuf) WriteUint32LE(v uint32) error {
	return m.w.WriteUint32LE(v)
}

// WriteBytes appends raw bytes.
func (m *MsgBuf) WriteBytes(b []byte) error {
	return m.w.WriteBytes(b)
}

// WriteString appends s followed by a terminating NUL. Strings longer than
// MaxString are rejected: a bare NUL is emitted in their place and
// ErrStringTooLong is returned.
func (m *MsgBuf) WriteString(s string) error {
	if len(s) > MaxString {
		m.w.WriteUint8(0)
		return ErrStringTooLong
	}
	if err := m.w.WriteBytes([]byte(s)); err != nil {
		return err
	}
	return m.w.WriteUint8(0)
}

// Rewind empties the buffer without reallocating.
func (m *MsgBuf) Rewind() {
	m.w.Rewind()
}

// Bytes returns the written prefix. The returned slice aliases the buffer's
// internal storage and is only valid until the next write or Rewind.
func (m *MsgBuf) Bytes() []byte {
	return m.w.Bytes()
}

// Len reports how many bytes have been written since the buffer was last
// rewound.
func (m *MsgBuf) Len() int {
	return m.w.Len()
}
