package container

import (
	"bytes"
	"testing"

	"vconv/pkg/container/bitio"
	"vconv/pkg/container/field"

	"github.com/stretchr/testify/require"
)

// lyingBox declares one byte more than it writes.
type lyingBox struct{}

func (*lyingBox) Type() Tag { return field.NewTag("free") }
func (*lyingBox) Size() int { return 3 }
func (*lyingBox) Marshal(w *bitio.Writer) error {
	w.TryWrite([]byte{1, 2})
	return w.TryError
}

type formBox struct {
	tag  string
	form string
}

func (b *formBox) Type() Tag { return field.NewTag(b.tag) }
func (b *formBox) Size() int { return 4 }
func (b *formBox) Marshal(w *bitio.Writer) error {
	w.TryWriteTag(field.NewTag(b.form))
	return w.TryError
}

func raw(tag string, data ...byte) *Raw {
	return &Raw{Tag: field.NewTag(tag), Data: data}
}

func TestAssembleISOBMFF(t *testing.T) {
	moov := Boxes{
		Box: raw("moov"),
		Children: []Boxes{
			{Box: raw("mvhd", 1, 2, 3, 4)},
			{Box: raw("trak"), Children: []Boxes{{Box: raw("tkhd", 5)}}},
		},
	}
	require.Equal(t, 8+12+8+9, moov.Size())

	out, err := Assemble(ISOBMFF,
		Boxes{Box: raw("ftyp", 'i', 's', 'o', 'm')},
		moov,
		Boxes{Box: raw("mdat", 9, 9)},
	)
	require.NoError(t, err)

	expected := []byte{
		0, 0, 0, 12, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm',
		0, 0, 0, 37, 'm', 'o', 'o', 'v',
		0, 0, 0, 12, 'm', 'v', 'h', 'd', 1, 2, 3, 4,
		0, 0, 0, 17, 't', 'r', 'a', 'k',
		0, 0, 0, 9, 't', 'k', 'h', 'd', 5,
		0, 0, 0, 10, 'm', 'd', 'a', 't', 9, 9,
	}
	require.Equal(t, expected, out)
	require.True(t, ISOBMFF.Valid(out))

	var tags []string
	err = Walk(ISOBMFF, out, func(n Node) error {
		tags = append(tags, n.Tag.String())
		require.Equal(t, uint32(n.Total), n.Declared)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"ftyp", "moov", "mvhd", "trak", "tkhd", "mdat"}, tags)
}

func TestAssembleRIFF(t *testing.T) {
	root := Boxes{
		Box: &formBox{"RIFF", "AVI "},
		Children: []Boxes{
			{
				Box:      &formBox{"LIST", "hdrl"},
				Children: []Boxes{{Box: raw("avih", 1, 2, 3, 4)}},
			},
			{
				Box:      &formBox{"LIST", "movi"},
				Children: []Boxes{{Box: raw("junk", 'R', 'I', 'F', 'F')}},
			},
		},
	}

	out, err := Assemble(RIFF, root)
	require.NoError(t, err)

	expected := []byte{
		'R', 'I', 'F', 'F', 52, 0, 0, 0, 'A', 'V', 'I', ' ',
		'L', 'I', 'S', 'T', 16, 0, 0, 0, 'h', 'd', 'r', 'l',
		'a', 'v', 'i', 'h', 4, 0, 0, 0, 1, 2, 3, 4,
		'L', 'I', 'S', 'T', 16, 0, 0, 0, 'm', 'o', 'v', 'i',
		'j', 'u', 'n', 'k', 4, 0, 0, 0, 'R', 'I', 'F', 'F',
	}
	require.Equal(t, expected, out)
	require.True(t, RIFF.Valid(out))

	var nodes []Node
	err = Walk(RIFF, out, func(n Node) error {
		nodes = append(nodes, n)
		require.Equal(t, n.Total, int(n.Declared)+8)
		return nil
	})
	require.NoError(t, err)

	// The movi payload is opaque.
	require.Len(t, nodes, 4)
	require.Equal(t, "hdrl", nodes[1].Form.String())
	require.Equal(t, "avih", nodes[2].Tag.String())
	require.Equal(t, 2, nodes[2].Depth)
	require.Equal(t, "movi", nodes[3].Form.String())

	off, n := nodes[3].Payload()
	require.Equal(t, 44, off)
	require.Equal(t, 16, n)
}

func TestAssembleErrors(t *testing.T) {
	t.Run("sizeMismatch", func(t *testing.T) {
		_, err := Assemble(RIFF, Boxes{
			Box:      &formBox{"RIFF", "AVI "},
			Children: []Boxes{{Box: &lyingBox{}}},
		})
		require.ErrorIs(t, err, ErrSizeMismatch)
	})
	t.Run("order", func(t *testing.T) {
		_, err := Assemble(ISOBMFF,
			Boxes{Box: raw("moov")},
			Boxes{Box: raw("ftyp")},
			Boxes{Box: raw("mdat")},
		)
		require.ErrorIs(t, err, ErrBlockOrder)
	})
	t.Run("missing", func(t *testing.T) {
		_, err := Assemble(ISOBMFF, Boxes{Box: raw("ftyp")})
		require.ErrorIs(t, err, ErrBlockOrder)
	})
	t.Run("duplicate", func(t *testing.T) {
		_, err := Assemble(RIFF,
			Boxes{Box: &formBox{"RIFF", "AVI "}},
			Boxes{Box: &formBox{"RIFF", "AVI "}},
		)
		require.ErrorIs(t, err, ErrBlockOrder)
	})
	t.Run("fieldOverflow", func(t *testing.T) {
		var buf bytes.Buffer
		w := bitio.NewWriter(&buf, RIFF.ByteOrder())
		err := MarshalFields(w, 2, func(fw *field.Writer) {
			fw.TryUint32(1)
		})
		require.ErrorIs(t, err, field.ErrOutOfRange)
		require.Zero(t, buf.Len())
	})
}

func TestWalkTruncated(t *testing.T) {
	cases := map[string]struct {
		layout Layout
		input  []byte
	}{
		"partialHeader": {ISOBMFF, []byte{0, 0, 0}},
		"sizeTooLarge":  {ISOBMFF, []byte{0, 0, 0, 9, 'f', 'r', 'e', 'e'}},
		"sizeTooSmall":  {ISOBMFF, []byte{0, 0, 0, 4, 'f', 'r', 'e', 'e'}},
		"riffTooLarge":  {RIFF, []byte{'j', 'u', 'n', 'k', 1, 0, 0, 0}},
		"missingForm":   {RIFF, []byte{'L', 'I', 'S', 'T', 0, 0, 0, 0}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := Walk(tc.layout, tc.input, func(Node) error { return nil })
			require.ErrorIs(t, err, ErrTruncated)
		})
	}
}

func TestSignatures(t *testing.T) {
	riffCases := map[string]struct {
		input    []byte
		expected bool
	}{
		"valid":   {[]byte("RIFF\x00\x00\x00\x00AVI "), true},
		"wave":    {[]byte("RIFF\x00\x00\x00\x00WAVE"), false},
		"short":   {[]byte("RIFF\x00\x00\x00\x00AVI"), false},
		"empty":   {nil, false},
		"notRIFF": {[]byte("RIFX\x00\x00\x00\x00AVI "), false},
	}
	for name, tc := range riffCases {
		t.Run("riff_"+name, func(t *testing.T) {
			require.Equal(t, tc.expected, IsValidRIFFAVI(tc.input))
		})
	}

	bmffCases := map[string]struct {
		input    []byte
		expected bool
	}{
		"valid":     {[]byte("\x00\x00\x00\x18ftypM4V "), true},
		"zeroSize":  {[]byte("\x00\x00\x00\x00ftyp"), false},
		"hugeSize":  {[]byte("\x00\x00\x01\x00ftyp"), false},
		"wrongType": {[]byte("\x00\x00\x00\x18moov"), false},
		"short":     {[]byte("\x00\x00\x00\x18fty"), false},
		"empty":     {nil, false},
	}
	for name, tc := range bmffCases {
		t.Run("bmff_"+name, func(t *testing.T) {
			require.Equal(t, tc.expected, IsValidISOBMFF(tc.input))
		})
	}
}

func TestFamily(t *testing.T) {
	require.Equal(t, "RIFF", RIFF.Family().String())
	require.Equal(t, "ISO-BMFF", ISOBMFF.Family().String())
	require.Equal(t, []Tag{field.NewTag("RIFF")}, RIFF.TopLevel())
}
