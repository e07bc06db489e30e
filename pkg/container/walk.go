package container

import (
	"errors"
	"fmt"

	"vconv/pkg/container/field"
)

// ErrTruncated block extends past its parent.
var ErrTruncated = errors.New("truncated block")

// Node is a block header found while walking a container.
type Node struct {
	Tag      Tag
	Form     Tag    // List type of RIFF and LIST chunks.
	Declared uint32 // Size field as stored.
	Offset   int    // Offset of the header.
	Total    int    // Header, payload and children.
	Depth    int
}

// Payload returns the payload offset and length, excluding
// the header but including children.
func (n Node) Payload() (int, int) {
	return n.Offset + headerSize, n.Total - headerSize
}

// WalkFunc is called for every block in depth-first order.
type WalkFunc func(Node) error

// Walk reads the block headers in data and calls fn for every
// block. Container blocks are descended into.
func Walk(l Layout, data []byte, fn WalkFunc) error {
	return l.walk(data, 0, len(data), 0, fn)
}

func (l Layout) walk(data []byte, start int, end int, depth int, fn WalkFunc) error {
	for off := start; off < end; {
		tag, declared, err := l.readHeader(data[:end], off)
		if err != nil {
			return fmt.Errorf("%w: header at %d: %v", ErrTruncated, off, err)
		}

		total := l.totalSize(declared)
		if total < headerSize || int64(off)+total > int64(end) {
			return fmt.Errorf("%w: %v at %d declares %d bytes, %d available",
				ErrTruncated, tag, off, declared, end-off)
		}

		node := Node{
			Tag:      tag,
			Declared: declared,
			Offset:   off,
			Total:    int(total),
			Depth:    depth,
		}

		childOffset, isContainer := l.containers[tag]
		if isContainer && childOffset == 4 {
			form, err := field.ReadTag(data[:end], off+headerSize)
			if err != nil {
				return fmt.Errorf("%w: form of %v at %d", ErrTruncated, tag, off)
			}
			node.Form = form
		}

		if err := fn(node); err != nil {
			return err
		}

		if isContainer && !l.opaque[node.Form] {
			childStart := off + headerSize + childOffset
			childEnd := off + int(total)
			if err := l.walk(data, childStart, childEnd, depth+1, fn); err != nil {
				return err
			}
		}
		off += int(total)
	}
	return nil
}
