// Package isobmff builds minimal ISO-BMFF (MP4/M4V) files around a raw
// payload: ftyp, moov with a single track header and mdat.
//
// The payload is copied verbatim into mdat. The trak box carries no
// media box, so players see a track without samples.
package isobmff

import (
	"errors"
	"fmt"

	"vconv/pkg/container"
	"vconv/pkg/container/field"
)

// ErrInvalidParams invalid builder parameters.
var ErrInvalidParams = errors.New("invalid parameters")

// DefaultPayloadCap maximum number of payload bytes copied by default.
const DefaultPayloadCap = 20 * 1024 * 1024

// MaxBrands most compatible brands that keep ftyp
// below container.MaxFtypSize.
const MaxBrands = (container.MaxFtypSize - 16 - 1) / 4

// Params declared header values.
type Params struct {
	MajorBrand          string   `yaml:"majorBrand"`
	MinorVersion        uint32   `yaml:"minorVersion"`
	CompatibleBrands    []string `yaml:"compatibleBrands"`
	MaxCompatibleBrands int      `yaml:"maxCompatibleBrands"`
	Timescale           uint32   `yaml:"timescale"`
	Duration            uint32   `yaml:"duration"`
	TrackID             uint32   `yaml:"trackID"`
	Width               uint16   `yaml:"width"`
	Height              uint16   `yaml:"height"`
	Volume              float64  `yaml:"volume"`
	PayloadCap          int      `yaml:"-"`
}

// M4VParams returns Apple M4V parameters, 30 seconds of 640x480.
func M4VParams() Params {
	return Params{
		MajorBrand:          "M4V ",
		CompatibleBrands:    []string{"M4V ", "mp42"},
		MaxCompatibleBrands: 4,
		Timescale:           1000,
		Duration:            30000,
		TrackID:             1,
		Width:               640,
		Height:              480,
		Volume:              1,
		PayloadCap:          DefaultPayloadCap,
	}
}

// MP4Params returns the same parameters as M4VParams with ISO brands.
func MP4Params() Params {
	p := M4VParams()
	p.MajorBrand = "isom"
	p.CompatibleBrands = []string{"isom", "mp42"}
	return p
}

// Validate parameters.
func (p Params) Validate() error {
	switch {
	case len(p.MajorBrand) == 0 || len(p.MajorBrand) > 4:
		return fmt.Errorf("%w: major brand %q", ErrInvalidParams, p.MajorBrand)
	case p.Timescale == 0:
		return fmt.Errorf("%w: zero timescale", ErrInvalidParams)
	case p.TrackID == 0:
		return fmt.Errorf("%w: zero track id", ErrInvalidParams)
	case p.MaxCompatibleBrands < 1:
		return fmt.Errorf("%w: max compatible brands %d",
			ErrInvalidParams, p.MaxCompatibleBrands)
	case p.PayloadCap < 0:
		return fmt.Errorf("%w: payload cap %d", ErrInvalidParams, p.PayloadCap)
	}
	for _, brand := range p.CompatibleBrands {
		if len(brand) > 4 {
			return fmt.Errorf("%w: compatible brand %q", ErrInvalidParams, brand)
		}
	}
	if n := len(p.compatibleBrands()); n > MaxBrands {
		return fmt.Errorf("%w: %d compatible brands, max %d",
			ErrInvalidParams, n, MaxBrands)
	}
	return nil
}

// compatibleBrands returns at least one and at most
// MaxCompatibleBrands space padded brands.
func (p Params) compatibleBrands() []container.Tag {
	brands := p.CompatibleBrands
	if len(brands) == 0 {
		brands = []string{p.MajorBrand}
	}
	if p.MaxCompatibleBrands > 0 && len(brands) > p.MaxCompatibleBrands {
		brands = brands[:p.MaxCompatibleBrands]
	}
	tags := make([]container.Tag, 0, len(brands))
	for _, brand := range brands {
		tags = append(tags, field.NewTag(brand))
	}
	return tags
}

// Payload returns the first min(len(src), cap) bytes of src.
func Payload(src []byte, payloadCap int) []byte {
	if len(src) > payloadCap {
		return src[:payloadCap]
	}
	return src
}

// Tree returns the top-level boxes.
//
//	ftyp
//	moov
//	  mvhd
//	  trak
//	    tkhd
//	mdat
func Tree(src []byte, p Params) []container.Boxes {
	ftyp := container.Boxes{Box: &Ftyp{
		MajorBrand:       field.NewTag(p.MajorBrand),
		MinorVersion:     p.MinorVersion,
		CompatibleBrands: p.compatibleBrands(),
	}}

	moov := container.Boxes{
		Box: &Moov{},
		Children: []container.Boxes{
			{Box: &Mvhd{
				Timescale:   p.Timescale,
				Duration:    p.Duration,
				Rate:        1,
				Volume:      p.Volume,
				Matrix:      IdentityMatrix,
				NextTrackID: p.TrackID + 1,
			}},
			{
				Box: &Trak{},
				Children: []container.Boxes{
					{Box: &Tkhd{
						FullBox: FullBox{
							Flags: [3]byte{0, 0, TrackEnabled},
						},
						TrackID:  p.TrackID,
						Duration: p.Duration,
						Matrix:   IdentityMatrix,
						Width:    float64(p.Width),
						Height:   float64(p.Height),
					}},
				},
			},
		},
	}

	mdat := container.Boxes{Box: &Mdat{Data: Payload(src, p.PayloadCap)}}

	return []container.Boxes{ftyp, moov, mdat}
}

// Build returns a complete file.
func Build(src []byte, p Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return container.Assemble(container.ISOBMFF, Tree(src, p)...)
}

// IsValid reports whether head starts with a plausible ftyp box.
func IsValid(head []byte) bool {
	return container.IsValidISOBMFF(head)
}
