package isobmff

import (
	"vconv/pkg/container"
	"vconv/pkg/container/bitio"
	"vconv/pkg/container/field"
)

// Matrix is a 3x3 transformation matrix. The first two
// columns are 16.16 values, the last column is 2.30.
type Matrix [9]uint32

// IdentityMatrix unity transformation.
var IdentityMatrix = Matrix{
	0x00010000, 0, 0,
	0, 0x00010000, 0,
	0, 0, 0x40000000,
}

func (m Matrix) marshal(fw *field.Writer) {
	for _, v := range m {
		fw.TryUint32(v)
	}
}

/************************* FullBox **************************/

// FullBox is ISOBMFF FullBox.
type FullBox struct {
	Version uint8
	Flags   [3]byte
}

// GetFlags returns the flags.
func (b *FullBox) GetFlags() uint32 {
	return uint32(b.Flags[0])<<16 | uint32(b.Flags[1])<<8 | uint32(b.Flags[2])
}

func (b *FullBox) marshal(fw *field.Writer) {
	fw.TryUint8(b.Version)
	fw.TryUint8(b.Flags[0])
	fw.TryUint8(b.Flags[1])
	fw.TryUint8(b.Flags[2])
}

// TrackEnabled tkhd flag.
const TrackEnabled = 0x000001

/*************************** ftyp ****************************/

// Ftyp is ISOBMFF ftyp box type.
type Ftyp struct {
	MajorBrand       container.Tag
	MinorVersion     uint32
	CompatibleBrands []container.Tag
}

// Type returns the BoxType.
func (*Ftyp) Type() container.Tag {
	return [4]byte{'f', 't', 'y', 'p'}
}

// Size returns the marshaled size in bytes.
func (b *Ftyp) Size() int {
	return 8 + len(b.CompatibleBrands)*4
}

// Marshal box to writer.
func (b *Ftyp) Marshal(w *bitio.Writer) error {
	w.TryWriteTag(b.MajorBrand)
	w.TryWriteUint32(b.MinorVersion)
	for _, brand := range b.CompatibleBrands {
		w.TryWriteTag(brand)
	}
	return w.TryError
}

/*************************** mdat ****************************/

// Mdat is ISOBMFF mdat box type.
type Mdat struct {
	Data []byte
}

// Type returns the BoxType.
func (*Mdat) Type() container.Tag {
	return [4]byte{'m', 'd', 'a', 't'}
}

// Size returns the marshaled size in bytes.
func (b *Mdat) Size() int {
	return len(b.Data)
}

// Marshal box to writer.
func (b *Mdat) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}

/*************************** moov ****************************/

// Moov is ISOBMFF moov box type.
type Moov struct{}

// Type returns the BoxType.
func (*Moov) Type() container.Tag {
	return [4]byte{'m', 'o', 'o', 'v'}
}

// Size returns the marshaled size in bytes.
func (*Moov) Size() int {
	return 0
}

// Marshal is never called.
func (*Moov) Marshal(*bitio.Writer) error { return nil }

/*************************** mvhd ****************************/

// Mvhd is ISOBMFF mvhd box type, version 0.
type Mvhd struct {
	FullBox
	CreationTime     uint32
	ModificationTime uint32
	Timescale        uint32
	Duration         uint32
	Rate             float64 // 16.16
	Volume           float64 // 8.8
	Matrix           Matrix
	NextTrackID      uint32
}

// Type returns the BoxType.
func (*Mvhd) Type() container.Tag {
	return [4]byte{'m', 'v', 'h', 'd'}
}

// Size returns the marshaled size in bytes.
func (*Mvhd) Size() int {
	return 100
}

// Marshal box to writer.
func (b *Mvhd) Marshal(w *bitio.Writer) error {
	return container.MarshalFields(w, b.Size(), func(fw *field.Writer) {
		b.FullBox.marshal(fw)
		fw.TryUint32(b.CreationTime)
		fw.TryUint32(b.ModificationTime)
		fw.TryUint32(b.Timescale)
		fw.TryUint32(b.Duration)
		fw.TryFixed16_16(b.Rate)
		fw.TryFixed8_8(b.Volume)
		fw.TryZeros(10) // Reserved.
		b.Matrix.marshal(fw)
		fw.TryZeros(24) // Pre-defined.
		fw.TryUint32(b.NextTrackID)
	})
}

/*************************** trak ****************************/

// Trak is ISOBMFF trak box type.
type Trak struct{}

// Type returns the BoxType.
func (*Trak) Type() container.Tag {
	return [4]byte{'t', 'r', 'a', 'k'}
}

// Size returns the marshaled size in bytes.
func (*Trak) Size() int {
	return 0
}

// Marshal is never called.
func (*Trak) Marshal(*bitio.Writer) error { return nil }

/*************************** tkhd ****************************/

// Tkhd is ISOBMFF tkhd box type, version 0.
type Tkhd struct {
	FullBox
	CreationTime     uint32
	ModificationTime uint32
	TrackID          uint32
	Duration         uint32
	Layer            int16
	AlternateGroup   int16
	Volume           float64 // 8.8
	Matrix           Matrix
	Width            float64 // 16.16
	Height           float64 // 16.16
}

// Type returns the BoxType.
func (*Tkhd) Type() container.Tag {
	return [4]byte{'t', 'k', 'h', 'd'}
}

// Size returns the marshaled size in bytes.
func (*Tkhd) Size() int {
	return 84
}

// Marshal box to writer.
func (b *Tkhd) Marshal(w *bitio.Writer) error {
	return container.MarshalFields(w, b.Size(), func(fw *field.Writer) {
		b.FullBox.marshal(fw)
		fw.TryUint32(b.CreationTime)
		fw.TryUint32(b.ModificationTime)
		fw.TryUint32(b.TrackID)
		fw.TryZeros(4) // Reserved.
		fw.TryUint32(b.Duration)
		fw.TryZeros(8) // Reserved.
		fw.TryUint16(uint16(b.Layer))
		fw.TryUint16(uint16(b.AlternateGroup))
		fw.TryFixed8_8(b.Volume)
		fw.TryZeros(2) // Reserved.
		b.Matrix.marshal(fw)
		fw.TryFixed16_16(b.Width)
		fw.TryFixed16_16(b.Height)
	})
}
