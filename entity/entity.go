// Package entity implements the variable-length bitfield header and delta
// payload used by Quake II's SpawnBaseline and (future) PacketEntities
// messages to describe changes to entity state.
package entity

import (
	"github.com/fragglet/q2client/internal/cursor"
)

// Bits is the 32-bit set of fields present in a delta-entity update. Named
// bit positions match the wire protocol exactly; treat this as a flag set,
// not as a type hierarchy.
type Bits uint32

const (
	Origin1    Bits = 1 << 0
	Origin2    Bits = 1 << 1
	Angle2     Bits = 1 << 2
	Angle3     Bits = 1 << 3
	Frame8     Bits = 1 << 4
	Event      Bits = 1 << 5
	Remove     Bits = 1 << 6
	MoreBits1  Bits = 1 << 7
	Number16   Bits = 1 << 8
	Origin3    Bits = 1 << 9
	Angle1     Bits = 1 << 10
	Model      Bits = 1 << 11
	RenderFx8  Bits = 1 << 12
	Angle16    Bits = 1 << 13
	Effects8   Bits = 1 << 14
	MoreBits2  Bits = 1 << 15
	Skin8      Bits = 1 << 16
	Frame16    Bits = 1 << 17
	RenderFx16 Bits = 1 << 18
	Effects16  Bits = 1 << 19
	Model2     Bits = 1 << 20
	Model3     Bits = 1 << 21
	Model4     Bits = 1 << 22
	MoreBits3  Bits = 1 << 23
	OldOrigin  Bits = 1 << 24
	Skin16     Bits = 1 << 25
	Sound      Bits = 1 << 26
	Solid      Bits = 1 << 27
)

// Delta is a partial entity-state update. Fields that did not change are
// left as nil pointers; Event has no optional form on the wire and so is a
// plain value that defaults to zero.
type Delta struct {
	Number int16
	Bits   Bits

	ModelIndex  *uint8
	ModelIndex2 *uint8
	ModelIndex3 *uint8
	ModelIndex4 *uint8

	Frame *int16

	Skin     *uint32
	Effects  *uint32
	RenderFx *uint32

	Origin    [3]*float32
	Angle     [3]*float32
	OldOrigin [3]*float32

	Sound *uint8
	Event uint8
	Solid *uint16

	// Removed reports whether this is a removal notice for Number rather
	// than a baseline/update.
	Removed bool
}

// ParseHeader reads the variable-length (1-4 byte) bit header and entity
// number that precede every delta-entity payload.
func ParseHeader(r *cursor.Reader) (number int16, bits Bits, err error) {
	b0, err := r.ReadUint8()
	if err != nil {
		return 0, 0, err
	}
	total := uint32(b0)

	if Bits(total)&MoreBits1 != 0 {
		b, err := r.ReadUint8()
		if err != nil {
			return 0, 0, err
		}
		total |= uint32(b) << 8
	}
	if Bits(total)&MoreBits2 != 0 {
		b, err := r.ReadUint8()
		if err != nil {
			return 0, 0, err
		}
		total |= uint32(b) << 16
	}
	if Bits(total)&MoreBits3 != 0 {
		b, err := r.ReadUint8()
		if err != nil {
			return 0, 0, err
		}
		total |= uint32(b) << 24
	}

	if Bits(total)&Number16 != 0 {
		n, err := r.ReadInt16LE()
		if err != nil {
			return 0, 0, err
		}
		number = n
	} else {
		n, err := r.ReadInt8()
		if err != nil {
			return 0, 0, err
		}
		number = int16(n)
	}

	return number, Bits(total), nil
}

// ParseDelta reads the header and then every field gated by it, producing a
// fully populated Delta.
func ParseDelta(r *cursor.Reader) (*Delta, error) {
	number, bits, err := ParseHeader(r)
	if err != nil {
		return nil, err
	}

	d := &Delta{Number: number, Bits: bits, Removed: bits&Remove != 0}

	if d.ModelIndex, err = readOptByte(r, bits&Model != 0); err != nil {
		return nil, err
	}
	if d.ModelIndex2, err = readOptByte(r, bits&Model2 != 0); err != nil {
		return nil, err
	}
	if d.ModelIndex3, err = readOptByte(r, bits&Model3 != 0); err != nil {
		return nil, err
	}
	if d.ModelIndex4, err = readOptByte(r, bits&Model4 != 0); err != nil {
		return nil, err
	}

	if d.Frame, err = parseFrame(r, bits); err != nil {
		return nil, err
	}
	if d.Skin, err = parseWideField(r, bits, Skin8, Skin16); err != nil {
		return nil, err
	}
	if d.Effects, err = parseWideField(r, bits, Effects8, Effects16); err != nil {
		return nil, err
	}
	if d.RenderFx, err = parseWideField(r, bits, RenderFx8, RenderFx16); err != nil {
		return nil, err
	}

	if bits&Origin1 != 0 {
		if d.Origin[0], err = parseCoord(r); err != nil {
			return nil, err
		}
	}
	if bits&Origin2 != 0 {
		if d.Origin[1], err = parseCoord(r); err != nil {
			return nil, err
		}
	}
	if bits&Origin3 != 0 {
		if d.Origin[2], err = parseCoord(r); err != nil {
			return nil, err
		}
	}

	if bits&Angle1 != 0 {
		if d.Angle[0], err = parseAngle(r); err != nil {
			return nil, err
		}
	}
	if bits&Angle2 != 0 {
		if d.Angle[1], err = parseAngle(r); err != nil {
			return nil, err
		}
	}
	if bits&Angle3 != 0 {
		if d.Angle[2], err = parseAngle(r); err != nil {
			return nil, err
		}
	}

	if bits&OldOrigin != 0 {
		for i := range d.OldOrigin {
			if d.OldOrigin[i], err = parseCoord(r); err != nil {
				return nil, err
			}
		}
	}

	if bits&Sound != 0 {
		b, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		d.Sound = &b
	}

	if bits&Event != 0 {
		if d.Event, err = r.ReadUint8(); err != nil {
			return nil, err
		}
	}

	if bits&Solid != 0 {
		v, err := r.ReadUint16LE()
		if err != nil {
			return nil, err
		}
		d.Solid = &v
	}

	return d, nil
}

func readOptByte(r *cursor.Reader, present bool) (*uint8, error) {
	if !present {
		return nil, nil
	}
	b, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// parseFrame implements the FRAME8/FRAME16 tie-break: when both bits are
// set, a byte is read and discarded before the 16-bit frame is read.
func parseFrame(r *cursor.Reader, bits Bits) (*int16, error) {
	has8 := bits&Frame8 != 0
	has16 := bits&Frame16 != 0
	switch {
	case has8 && has16:
		if _, err := r.ReadUint8(); err != nil {
			return nil, err
		}
		v, err := r.ReadInt16LE()
		if err != nil {
			return nil, err
		}
		return &v, nil
	case has8:
		b, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		v := int16(b)
		return &v, nil
	case has16:
		v, err := r.ReadInt16LE()
		if err != nil {
			return nil, err
		}
		return &v, nil
	default:
		return nil, nil
	}
}

// parseWideField implements the skin/effects/render-fx tie-break: when both
// the 8-bit and 16-bit bits are set (the "laser" combination) a full
// 32-bit little-endian value is read.
func parseWideField(r *cursor.Reader, bits, bit8, bit16 Bits) (*uint32, error) {
	has8 := bits&bit8 != 0
	has16 := bits&bit16 != 0
	switch {
	case has8 && has16:
		v, err := r.ReadUint32LE()
		if err != nil {
			return nil, err
		}
		return &v, nil
	case has8:
		b, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		v := uint32(b)
		return &v, nil
	case has16:
		b, err := r.ReadUint16LE()
		if err != nil {
			return nil, err
		}
		v := uint32(b)
		return &v, nil
	default:
		return nil, nil
	}
}

func parseCoord(r *cursor.Reader) (*float32, error) {
	v, err := r.ReadUint16LE()
	if err != nil {
		return nil, err
	}
	f := float32(v) / 8.0
	return &f, nil
}

func parseAngle(r *cursor.Reader) (*float32, error) {
	v, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	f := float32(v) * 360.0 / 256.0
	return &f, nil
}
