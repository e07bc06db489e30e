// Package field reads and writes fixed-width integer and fixed-point
// fields at explicit offsets inside a byte buffer.
package field

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Errors.
var (
	ErrOutOfRange   = errors.New("field out of range")
	ErrInvalidWidth = errors.New("invalid field width")
)

// Tag is a four character code.
type Tag [4]byte

func (t Tag) String() string {
	return string(t[:])
}

// NewTag returns the tag for s. Strings shorter than
// four bytes are padded with spaces, longer ones truncated.
func NewTag(s string) Tag {
	tag := Tag{' ', ' ', ' ', ' '}
	copy(tag[:], s)
	return tag
}

func checkRange(buf []byte, off int, width int) error {
	if off < 0 || off+width > len(buf) {
		return fmt.Errorf("%w: offset %d width %d buffer %d",
			ErrOutOfRange, off, width, len(buf))
	}
	return nil
}

// PutUint writes v truncated to width bytes at off.
func PutUint(buf []byte, off int, width int, v uint32, order binary.ByteOrder) error {
	switch width {
	case 1, 2, 4:
	default:
		return fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}
	if err := checkRange(buf, off, width); err != nil {
		return err
	}

	switch width {
	case 1:
		buf[off] = byte(v)
	case 2:
		order.PutUint16(buf[off:], uint16(v))
	case 4:
		order.PutUint32(buf[off:], v)
	}
	return nil
}

// Uint reads a width byte unsigned integer at off.
func Uint(buf []byte, off int, width int, order binary.ByteOrder) (uint32, error) {
	switch width {
	case 1, 2, 4:
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}
	if err := checkRange(buf, off, width); err != nil {
		return 0, err
	}

	switch width {
	case 1:
		return uint32(buf[off]), nil
	case 2:
		return uint32(order.Uint16(buf[off:])), nil
	default:
		return order.Uint32(buf[off:]), nil
	}
}

// PutTag writes the four tag bytes at off.
func PutTag(buf []byte, off int, tag Tag) error {
	if err := checkRange(buf, off, 4); err != nil {
		return err
	}
	copy(buf[off:], tag[:])
	return nil
}

// ReadTag reads four tag bytes at off.
func ReadTag(buf []byte, off int) (Tag, error) {
	if err := checkRange(buf, off, 4); err != nil {
		return Tag{}, err
	}
	var tag Tag
	copy(tag[:], buf[off:off+4])
	return tag, nil
}

// ToFixed16_16 encodes x as round(x * 2^16) wrapped to 32 bits.
// Values from 32768 up to 65536 keep their bit pattern, w<<16.
func ToFixed16_16(x float64) uint32 {
	return uint32(int64(math.Round(x * 65536)))
}

// FromFixed16_16 decodes a 16.16 fixed-point value.
func FromFixed16_16(v uint32) float64 {
	return float64(int32(v)) / 65536
}

// ToFixed8_8 encodes x as round(x * 2^8) wrapped to 16 bits.
func ToFixed8_8(x float64) uint16 {
	return uint16(int64(math.Round(x * 256)))
}

// FromFixed8_8 decodes a 8.8 fixed-point value.
func FromFixed8_8(v uint16) float64 {
	return float64(int16(v)) / 256
}

// PutFixed16_16 writes x as a 16.16 fixed-point value at off.
// Integer part in the high 16 bits, fraction in the low 16 bits.
func PutFixed16_16(buf []byte, off int, x float64, order binary.ByteOrder) error {
	return PutUint(buf, off, 4, ToFixed16_16(x), order)
}

// Fixed16_16 reads a 16.16 fixed-point value at off.
func Fixed16_16(buf []byte, off int, order binary.ByteOrder) (float64, error) {
	v, err := Uint(buf, off, 4, order)
	if err != nil {
		return 0, err
	}
	return FromFixed16_16(v), nil
}

// PutFixed8_8 writes x as a 8.8 fixed-point value at off.
func PutFixed8_8(buf []byte, off int, x float64, order binary.ByteOrder) error {
	return PutUint(buf, off, 2, uint32(ToFixed8_8(x)), order)
}

// Fixed8_8 reads a 8.8 fixed-point value at off.
func Fixed8_8(buf []byte, off int, order binary.ByteOrder) (float64, error) {
	v, err := Uint(buf, off, 2, order)
	if err != nil {
		return 0, err
	}
	return FromFixed8_8(uint16(v)), nil
}

// Writer writes consecutive fields into a fixed size buffer.
// The first error is kept and every later write is skipped.
type Writer struct {
	buf   []byte
	pos   int
	order binary.ByteOrder

	// TryError holds the first error occurred in TryXXX() methods.
	TryError error
}

// NewWriter returns a field writer over buf.
func NewWriter(buf []byte, order binary.ByteOrder) *Writer {
	return &Writer{buf: buf, order: order}
}

// Pos returns the current offset.
func (w *Writer) Pos() int { return w.pos }

func (w *Writer) tryUint(width int, v uint32) {
	if w.TryError != nil {
		return
	}
	w.TryError = PutUint(w.buf, w.pos, width, v, w.order)
	w.pos += width
}

// TryUint8 writes 1 byte.
func (w *Writer) TryUint8(v uint8) { w.tryUint(1, uint32(v)) }

// TryUint16 writes 2 bytes.
func (w *Writer) TryUint16(v uint16) { w.tryUint(2, uint32(v)) }

// TryUint32 writes 4 bytes.
func (w *Writer) TryUint32(v uint32) { w.tryUint(4, v) }

// TryFixed16_16 writes a 16.16 fixed-point value.
func (w *Writer) TryFixed16_16(x float64) { w.tryUint(4, ToFixed16_16(x)) }

// TryFixed8_8 writes a 8.8 fixed-point value.
func (w *Writer) TryFixed8_8(x float64) { w.tryUint(2, uint32(ToFixed8_8(x))) }

// TryTag writes a four character code.
func (w *Writer) TryTag(tag Tag) {
	if w.TryError != nil {
		return
	}
	w.TryError = PutTag(w.buf, w.pos, tag)
	w.pos += 4
}

// TryZeros skips n bytes, leaving them zero.
func (w *Writer) TryZeros(n int) {
	if w.TryError != nil {
		return
	}
	if err := checkRange(w.buf, w.pos, n); err != nil {
		w.TryError = err
		return
	}
	clear(w.buf[w.pos : w.pos+n])
	w.pos += n
}
