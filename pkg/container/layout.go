package container

import (
	"encoding/binary"
	"fmt"

	"vconv/pkg/container/bitio"
	"vconv/pkg/container/field"
)

// Both families use an 8 byte header, a 4 byte tag and a 4 byte size.
const headerSize = 8

// Family of a container.
type Family uint8

// Container families.
const (
	FamilyRIFF Family = iota + 1
	FamilyISOBMFF
)

func (f Family) String() string {
	switch f {
	case FamilyRIFF:
		return "RIFF"
	case FamilyISOBMFF:
		return "ISO-BMFF"
	}
	return fmt.Sprintf("Family(%d)", uint8(f))
}

// Layout describes how one container family lays out its blocks.
type Layout struct {
	family Family
	order  binary.ByteOrder

	// Mandatory top-level block order.
	top []Tag

	// Blocks that contain children. The value is the number
	// of payload bytes that precede the first child.
	containers map[Tag]int

	// Lists whose payload is not walked.
	opaque map[Tag]bool

	signature func([]byte) bool
}

// RIFF chunks store the tag first, then the little-endian
// size of the payload excluding the header.
var RIFF = Layout{
	family: FamilyRIFF,
	order:  binary.LittleEndian,
	top:    []Tag{field.NewTag("RIFF")},
	containers: map[Tag]int{
		field.NewTag("RIFF"): 4,
		field.NewTag("LIST"): 4,
	},
	opaque: map[Tag]bool{
		field.NewTag("movi"): true,
	},
	signature: IsValidRIFFAVI,
}

// ISOBMFF boxes store the big-endian size first,
// including the header, then the tag.
var ISOBMFF = Layout{
	family: FamilyISOBMFF,
	order:  binary.BigEndian,
	top: []Tag{
		field.NewTag("ftyp"),
		field.NewTag("moov"),
		field.NewTag("mdat"),
	},
	containers: map[Tag]int{
		field.NewTag("moov"): 0,
		field.NewTag("trak"): 0,
	},
	signature: IsValidISOBMFF,
}

// Family returns the container family.
func (l Layout) Family() Family {
	return l.family
}

// ByteOrder returns the byte order of header and payload fields.
func (l Layout) ByteOrder() binary.ByteOrder {
	return l.order
}

// TopLevel returns the mandatory top-level block order.
func (l Layout) TopLevel() []Tag {
	return append([]Tag(nil), l.top...)
}

// Valid reports whether head starts with the family signature.
func (l Layout) Valid(head []byte) bool {
	return l.signature(head)
}

func (l Layout) declaredSize(total int) uint32 {
	if l.family == FamilyRIFF {
		return uint32(total - headerSize)
	}
	return uint32(total)
}

func (l Layout) totalSize(declared uint32) int64 {
	if l.family == FamilyRIFF {
		return int64(declared) + headerSize
	}
	return int64(declared)
}

func (l Layout) writeHeader(w *bitio.Writer, tag Tag, size uint32) {
	if l.family == FamilyRIFF {
		w.TryWriteTag(tag)
		w.TryWriteUint32(size)
		return
	}
	w.TryWriteUint32(size)
	w.TryWriteTag(tag)
}

func (l Layout) readHeader(buf []byte, off int) (Tag, uint32, error) {
	tagOff, sizeOff := 4, 0
	if l.family == FamilyRIFF {
		tagOff, sizeOff = 0, 4
	}
	tag, err := field.ReadTag(buf, off+tagOff)
	if err != nil {
		return Tag{}, 0, err
	}
	size, err := field.Uint(buf, off+sizeOff, 4, l.order)
	if err != nil {
		return Tag{}, 0, err
	}
	return tag, size, nil
}

func (l Layout) checkOrder(tops []Boxes) error {
	if len(tops) != len(l.top) {
		return fmt.Errorf("%w: %v expects %d top-level blocks, got %d",
			ErrBlockOrder, l.family, len(l.top), len(tops))
	}
	for i, top := range tops {
		if top.Box.Type() != l.top[i] {
			return fmt.Errorf("%w: %v block %d is %v, expected %v",
				ErrBlockOrder, l.family, i, top.Box.Type(), l.top[i])
		}
	}
	return nil
}

// IsValidRIFFAVI reports whether b starts with a RIFF AVI header.
func IsValidRIFFAVI(b []byte) bool {
	if len(b) < 12 {
		return false
	}
	return string(b[0:4]) == "RIFF" && string(b[8:12]) == "AVI "
}

// MaxFtypSize exclusive upper bound of a sane ftyp box size.
// A minimal ftyp is 16 bytes.
const MaxFtypSize = 100

// IsValidISOBMFF reports whether b starts with an ftyp box
// with a small positive size.
func IsValidISOBMFF(b []byte) bool {
	if len(b) < 8 {
		return false
	}
	size := binary.BigEndian.Uint32(b[0:4])
	return string(b[4:8]) == "ftyp" && size > 0 && size < MaxFtypSize
}
