package riff

import (
	"vconv/pkg/container"
	"vconv/pkg/container/bitio"
	"vconv/pkg/container/field"
)

// Main header flags.
const (
	FlagHasIndex       = 0x00000010
	FlagMustUseIndex   = 0x00000020
	FlagIsInterleaved  = 0x00000100
	FlagTrustCKType    = 0x00000800
	FlagWasCaptureFile = 0x00010000
	FlagCopyrighted    = 0x00020000
)

/*************************** RIFF ****************************/

// Riff is the root chunk, its payload starts with the form type.
type Riff struct {
	Form container.Tag
}

// Type returns the chunk tag.
func (*Riff) Type() container.Tag {
	return [4]byte{'R', 'I', 'F', 'F'}
}

// Size returns the marshaled size in bytes.
func (*Riff) Size() int {
	return 4
}

// Marshal chunk to writer.
func (b *Riff) Marshal(w *bitio.Writer) error {
	w.TryWriteTag(b.Form)
	return w.TryError
}

/*************************** LIST ****************************/

// List is a LIST chunk. Data follows the list type and is
// written verbatim, children are appended after it.
type List struct {
	ListType container.Tag
	Data     []byte
}

// Type returns the chunk tag.
func (*List) Type() container.Tag {
	return [4]byte{'L', 'I', 'S', 'T'}
}

// Size returns the marshaled size in bytes.
func (b *List) Size() int {
	return 4 + len(b.Data)
}

// Marshal chunk to writer.
func (b *List) Marshal(w *bitio.Writer) error {
	w.TryWriteTag(b.ListType)
	w.TryWrite(b.Data)
	return w.TryError
}

/*************************** avih ****************************/

// Avih is the main AVI header.
type Avih struct {
	MicroSecPerFrame    uint32
	MaxBytesPerSec      uint32
	PaddingGranularity  uint32
	Flags               uint32
	TotalFrames         uint32
	InitialFrames       uint32
	Streams             uint32
	SuggestedBufferSize uint32
	Width               uint32
	Height              uint32
}

// Type returns the chunk tag.
func (*Avih) Type() container.Tag {
	return [4]byte{'a', 'v', 'i', 'h'}
}

// Size returns the marshaled size in bytes.
func (*Avih) Size() int {
	return 56
}

// Marshal chunk to writer.
func (b *Avih) Marshal(w *bitio.Writer) error {
	return container.MarshalFields(w, b.Size(), func(fw *field.Writer) {
		fw.TryUint32(b.MicroSecPerFrame)
		fw.TryUint32(b.MaxBytesPerSec)
		fw.TryUint32(b.PaddingGranularity)
		fw.TryUint32(b.Flags)
		fw.TryUint32(b.TotalFrames)
		fw.TryUint32(b.InitialFrames)
		fw.TryUint32(b.Streams)
		fw.TryUint32(b.SuggestedBufferSize)
		fw.TryUint32(b.Width)
		fw.TryUint32(b.Height)
		fw.TryZeros(16) // Reserved.
	})
}

/*************************** strh ****************************/

// Rect is a frame rectangle.
type Rect struct {
	Left   uint16
	Top    uint16
	Right  uint16
	Bottom uint16
}

// Strh is a stream header.
type Strh struct {
	FccType             container.Tag
	FccHandler          container.Tag
	Flags               uint32
	Priority            uint16
	Language            uint16
	InitialFrames       uint32
	Scale               uint32
	Rate                uint32
	Start               uint32
	Length              uint32
	SuggestedBufferSize uint32
	Quality             uint32
	SampleSize          uint32
	Frame               Rect
}

// Type returns the chunk tag.
func (*Strh) Type() container.Tag {
	return [4]byte{'s', 't', 'r', 'h'}
}

// Size returns the marshaled size in bytes.
func (*Strh) Size() int {
	return 56
}

// Marshal chunk to writer.
func (b *Strh) Marshal(w *bitio.Writer) error {
	return container.MarshalFields(w, b.Size(), func(fw *field.Writer) {
		fw.TryTag(b.FccType)
		fw.TryTag(b.FccHandler)
		fw.TryUint32(b.Flags)
		fw.TryUint16(b.Priority)
		fw.TryUint16(b.Language)
		fw.TryUint32(b.InitialFrames)
		fw.TryUint32(b.Scale)
		fw.TryUint32(b.Rate)
		fw.TryUint32(b.Start)
		fw.TryUint32(b.Length)
		fw.TryUint32(b.SuggestedBufferSize)
		fw.TryUint32(b.Quality)
		fw.TryUint32(b.SampleSize)
		fw.TryUint16(b.Frame.Left)
		fw.TryUint16(b.Frame.Top)
		fw.TryUint16(b.Frame.Right)
		fw.TryUint16(b.Frame.Bottom)
	})
}
