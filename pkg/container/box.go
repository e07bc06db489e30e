// Package container assembles length-prefixed block trees for the
// RIFF and ISO-BMFF container families.
package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"vconv/pkg/container/bitio"
	"vconv/pkg/container/field"
)

// Tag is a block type.
type Tag = field.Tag

// Errors.
var (
	ErrSizeMismatch = errors.New("size mismatch")
	ErrBlockOrder   = errors.New("invalid top-level block order")
	ErrTooLarge     = errors.New("block too large")
)

// Box is common interface of chunks and boxes.
type Box interface {
	// Type returns the block tag.
	Type() Tag

	// Size returns the marshaled payload size in bytes, excluding
	// the header and children. The size must be known before
	// marshaling since the header contains the size.
	Size() int

	// Marshal payload to writer.
	Marshal(w *bitio.Writer) error
}

// Boxes is a structure of boxes that can be marshaled together.
type Boxes struct {
	Box      Box
	Children []Boxes
}

// Size returns the total size of the box including header and children.
func (b *Boxes) Size() int {
	total := headerSize + b.Box.Size()
	for _, child := range b.Children {
		total += child.Size()
	}
	return total
}

// Marshal box including children. The number of bytes
// written must match the declared size of every box.
func (b *Boxes) Marshal(w *bitio.Writer, l Layout) error {
	size := b.Size()
	if uint64(size) > math.MaxUint32 {
		return fmt.Errorf("%w: %v %d bytes", ErrTooLarge, b.Box.Type(), size)
	}
	start := w.Written()

	l.writeHeader(w, b.Box.Type(), l.declaredSize(size))
	if w.TryError != nil {
		return w.TryError
	}

	payloadStart := w.Written()
	if err := b.Box.Marshal(w); err != nil {
		return fmt.Errorf("marshal %v: %w", b.Box.Type(), err)
	}
	if n := w.Written() - payloadStart; n != int64(b.Box.Size()) {
		return fmt.Errorf("%w: %v payload declared %d, serialized %d",
			ErrSizeMismatch, b.Box.Type(), b.Box.Size(), n)
	}

	for _, child := range b.Children {
		if err := child.Marshal(w, l); err != nil {
			return err
		}
	}

	if n := w.Written() - start; n != int64(size) {
		return fmt.Errorf("%w: %v declared %d, serialized %d",
			ErrSizeMismatch, b.Box.Type(), size, n)
	}
	return nil
}

// WriteTo writes the top-level blocks in order to out.
func WriteTo(out io.Writer, l Layout, tops ...Boxes) (int64, error) {
	if err := l.checkOrder(tops); err != nil {
		return 0, err
	}

	w := bitio.NewWriter(out, l.order)
	for i := range tops {
		if err := tops[i].Marshal(w, l); err != nil {
			return w.Written(), err
		}
	}
	return w.Written(), nil
}

// Assemble concatenates the top-level blocks into one buffer.
func Assemble(l Layout, tops ...Boxes) ([]byte, error) {
	var total int
	for i := range tops {
		total += tops[i].Size()
	}

	var buf bytes.Buffer
	buf.Grow(total)
	if _, err := WriteTo(&buf, l, tops...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Raw is a box with an opaque payload.
type Raw struct {
	Tag  Tag
	Data []byte
}

// Type returns the block tag.
func (b *Raw) Type() Tag { return b.Tag }

// Size returns the marshaled size in bytes.
func (b *Raw) Size() int { return len(b.Data) }

// Marshal box to writer.
func (b *Raw) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}

// MarshalFields encodes a fixed layout payload of size bytes
// field by field and writes it. Fields past size fail with
// field.ErrOutOfRange, unwritten bytes stay zero.
func MarshalFields(w *bitio.Writer, size int, fn func(fw *field.Writer)) error {
	buf := make([]byte, size)
	fw := field.NewWriter(buf, w.Order())
	fn(fw)
	if fw.TryError != nil {
		return fw.TryError
	}
	w.TryWrite(buf)
	return w.TryError
}
