// Package bitio writes block headers and payloads to a stream
// in either byte order and keeps count of the bytes written.
package bitio

import (
	"encoding/binary"
	"io"
	"math/bits"

	"github.com/icza/bitio"
)

// counter is io.Writer and io.ByteWriter at the same time,
// this prevents bitio from wrapping it in a bufio.Writer.
type counter struct {
	out io.Writer
	n   int64
}

func (c *counter) Write(p []byte) (int, error) {
	n, err := c.out.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *counter) WriteByte(b byte) error {
	if bw, ok := c.out.(io.ByteWriter); ok {
		if err := bw.WriteByte(b); err != nil {
			return err
		}
		c.n++
		return nil
	}
	_, err := c.Write([]byte{b})
	return err
}

// Writer is the byte order aware writer implementation.
type Writer struct {
	*bitio.Writer
	c     *counter
	order binary.ByteOrder
}

// NewWriter returns a new Writer using the specified io.Writer as the output.
func NewWriter(out io.Writer, order binary.ByteOrder) *Writer {
	c := &counter{out: out}
	return &Writer{
		Writer: bitio.NewWriter(c),
		c:      c,
		order:  order,
	}
}

// Order returns the byte order of multi-byte values.
func (w *Writer) Order() binary.ByteOrder {
	return w.order
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.c.n
}

func (w *Writer) isLittle() bool {
	return w.order == binary.LittleEndian
}

// TryWriteUint16 tries to write 16 bits.
func (w *Writer) TryWriteUint16(r uint16) {
	if w.isLittle() {
		r = bits.ReverseBytes16(r)
	}
	w.TryWriteBits(uint64(r), 16)
}

// TryWriteUint32 tries to write 32 bits.
func (w *Writer) TryWriteUint32(r uint32) {
	if w.isLittle() {
		r = bits.ReverseBytes32(r)
	}
	w.TryWriteBits(uint64(r), 32)
}

// TryWriteTag tries to write a four character code.
func (w *Writer) TryWriteTag(tag [4]byte) {
	w.TryWrite(tag[:])
}
