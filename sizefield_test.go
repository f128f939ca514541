package bsa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizeFieldPackUnpack(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		field sizeField
		raw   uint32
	}{
		{name: "plain", field: sizeField{size: 1234}, raw: 1234},
		{name: "toggle", field: sizeField{size: 1234, toggle: true}, raw: 0x400004d2},
		{name: "reserved", field: sizeField{size: 7, reserved: true}, raw: 0x80000007},
		{name: "both bits at max", field: sizeField{size: sizeMask, toggle: true, reserved: true}, raw: 0xffffffff},
		{name: "zero", field: sizeField{}, raw: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			raw, err := packSizeField(tc.field)
			require.NoError(t, err)
			require.Equal(t, tc.raw, raw)
			require.Equal(t, tc.field, unpackSizeField(raw))
		})
	}
}

func TestSizeFieldRejectsOversize(t *testing.T) {
	t.Parallel()

	_, err := packSizeField(sizeField{size: sizeMask + 1})
	require.ErrorIs(t, err, ErrSizeLimitExceeded)

	_, err = checkedEntrySize("big.bin", int64(MaxEntrySize)+1)
	require.ErrorIs(t, err, ErrSizeLimitExceeded)

	_, err = checkedEntrySize("neg.bin", -1)
	require.ErrorIs(t, err, ErrSizeLimitExceeded)

	size, err := checkedEntrySize("max.bin", int64(MaxEntrySize))
	require.NoError(t, err)
	require.Equal(t, MaxEntrySize, size)
}

func TestDecodeSizePrefixRejectsCorruptSize(t *testing.T) {
	t.Parallel()

	size, err := decodeSizePrefix([]byte{0x00, 0x08, 0x00, 0x00})
	require.NoError(t, err)
	require.Equal(t, 2048, size)

	_, err = decodeSizePrefix([]byte{0xff, 0xff, 0xff, 0xff})
	require.ErrorIs(t, err, ErrCorruptArchive)

	layout := payloadLayout{codec: zlibCodec{}, format: FormatFallout3, framing: framingSizePrefixed}
	_, err = layout.decodeStored("big.bin", []byte{0xff, 0xff, 0xff, 0x7f, 0x78, 0x9c}, CompressionCompressed, 0)
	require.ErrorIs(t, err, ErrCorruptArchive)

	ba2 := payloadLayout{codec: zlibCodec{}, format: FormatBA2General, framing: framingBare}
	_, err = ba2.decodeStored("big.bin", []byte{0x78, 0x9c}, CompressionCompressed, 0xffffffff)
	require.ErrorIs(t, err, ErrCorruptArchive)
}

func TestCompressionToggleTable(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		archiveCompressed bool
		toggle            bool
		want              Compression
	}{
		{archiveCompressed: false, toggle: false, want: CompressionRaw},
		{archiveCompressed: false, toggle: true, want: CompressionCompressed},
		{archiveCompressed: true, toggle: false, want: CompressionCompressed},
		{archiveCompressed: true, toggle: true, want: CompressionRaw},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.want, effectiveCompression(tc.archiveCompressed, tc.toggle))
		require.Equal(t, tc.toggle, toggleFor(tc.archiveCompressed, tc.want))
	}

	require.Equal(t, "raw", CompressionRaw.String())
	require.Equal(t, "compressed", CompressionCompressed.String())
}
