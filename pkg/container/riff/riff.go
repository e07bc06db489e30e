// Package riff builds RIFF/AVI containers around a raw payload.
//
// The source bytes are copied verbatim into the movi list as a
// structural placeholder. They are not demuxed into frames and the
// declared frame count is unrelated to the payload.
package riff

import (
	"errors"
	"fmt"
	"math"

	"vconv/pkg/container"
	"vconv/pkg/container/field"
)

// ErrInvalidParams invalid builder parameters.
var ErrInvalidParams = errors.New("invalid parameters")

// DefaultPayloadCap maximum number of payload bytes copied by default.
const DefaultPayloadCap = 10 * 1024 * 1024

// FrameRate frames per second as Num/Den.
type FrameRate struct {
	Num uint32 `yaml:"num"`
	Den uint32 `yaml:"den"`
}

// Float returns the frame rate as a float.
func (r FrameRate) Float() float64 {
	return float64(r.Num) / float64(r.Den)
}

// Reduced returns the frame rate as scale and rate with the
// common divisor removed, 30/1 returns scale 1 and rate 30.
func (r FrameRate) Reduced() (scale uint32, rate uint32) {
	d := gcd(r.Num, r.Den)
	if d == 0 {
		return 0, 0
	}
	return r.Den / d, r.Num / d
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Params declared header values.
type Params struct {
	FrameRate           FrameRate `yaml:"frameRate"`
	Width               uint16    `yaml:"width"`
	Height              uint16    `yaml:"height"`
	TotalFrames         uint32    `yaml:"totalFrames"`
	StreamCount         uint32    `yaml:"streamCount"`
	FourCC              string    `yaml:"fourCC"`
	Flags               uint32    `yaml:"flags"`
	MaxBytesPerSec      uint32    `yaml:"maxBytesPerSec"`
	SuggestedBufferSize uint32    `yaml:"suggestedBufferSize"`
	Quality             uint32    `yaml:"quality"`
	PayloadCap          int       `yaml:"-"`
}

// DefaultParams returns 30fps 640x480 XVID parameters.
func DefaultParams() Params {
	return Params{
		FrameRate:      FrameRate{Num: 30, Den: 1},
		Width:          640,
		Height:         480,
		TotalFrames:    100,
		StreamCount:    1,
		FourCC:         "XVID",
		Flags:          FlagHasIndex | FlagIsInterleaved | FlagTrustCKType,
		MaxBytesPerSec: 1500000,
		Quality:        10000,
		PayloadCap:     DefaultPayloadCap,
	}
}

// Validate parameters.
func (p Params) Validate() error {
	switch {
	case p.FrameRate.Num == 0 || p.FrameRate.Den == 0:
		return fmt.Errorf("%w: frame rate %d/%d",
			ErrInvalidParams, p.FrameRate.Num, p.FrameRate.Den)
	case len(p.FourCC) == 0 || len(p.FourCC) > 4:
		return fmt.Errorf("%w: fourCC %q", ErrInvalidParams, p.FourCC)
	case p.PayloadCap < 0:
		return fmt.Errorf("%w: payload cap %d", ErrInvalidParams, p.PayloadCap)
	}
	return nil
}

// MicroSecPerFrame returns round(1e6 / fps).
func (p Params) MicroSecPerFrame() uint32 {
	return uint32(math.Round(1e6 * float64(p.FrameRate.Den) / float64(p.FrameRate.Num)))
}

// Payload returns the first min(len(src), cap) bytes of src.
func Payload(src []byte, payloadCap int) []byte {
	if len(src) > payloadCap {
		return src[:payloadCap]
	}
	return src
}

// Tree returns the chunk tree.
//
//	RIFF 'AVI '
//	  LIST 'hdrl'
//	    avih
//	    strh
//	  LIST 'movi'
func Tree(src []byte, p Params) container.Boxes {
	scale, rate := p.FrameRate.Reduced()
	return container.Boxes{
		Box: &Riff{Form: field.NewTag("AVI ")},
		Children: []container.Boxes{
			{
				Box: &List{ListType: field.NewTag("hdrl")},
				Children: []container.Boxes{
					{Box: &Avih{
						MicroSecPerFrame:    p.MicroSecPerFrame(),
						MaxBytesPerSec:      p.MaxBytesPerSec,
						Flags:               p.Flags,
						TotalFrames:         p.TotalFrames,
						Streams:             p.StreamCount,
						SuggestedBufferSize: p.SuggestedBufferSize,
						Width:               uint32(p.Width),
						Height:              uint32(p.Height),
					}},
					{Box: &Strh{
						FccType:             field.NewTag("vids"),
						FccHandler:          field.NewTag(p.FourCC),
						Scale:               scale,
						Rate:                rate,
						Length:              p.TotalFrames,
						SuggestedBufferSize: p.SuggestedBufferSize,
						Quality:             p.Quality,
						Frame: Rect{
							Right:  p.Width,
							Bottom: p.Height,
						},
					}},
				},
			},
			{Box: &List{
				ListType: field.NewTag("movi"),
				Data:     Payload(src, p.PayloadCap),
			}},
		},
	}
}

// Build returns a complete AVI file.
func Build(src []byte, p Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return container.Assemble(container.RIFF, Tree(src, p))
}

// IsValid reports whether head starts with a RIFF AVI header.
func IsValid(head []byte) bool {
	return container.IsValidRIFFAVI(head)
}
