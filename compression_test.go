package bsa

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/woozymasta/pathrules"
)

func TestCodecsRoundTrip(t *testing.T) {
	t.Parallel()

	payloads := map[string][]byte{
		"text":           compressible(100*1024, "the quick brown fox "),
		"random":         incompressible(8192),
		"single byte":    {0x42},
		"binary pattern": bytes.Repeat([]byte{0, 1, 2, 3, 0xff}, 4096),
	}

	for _, id := range []CodecID{CodecZlib, CodecLZ4Frame, CodecZstd, CodecLZSS} {
		codec, err := NewCodec(id)
		require.NoError(t, err)
		require.Equal(t, id, codec.ID())

		for name, payload := range payloads {
			t.Run(id.String()+"/"+name, func(t *testing.T) {
				t.Parallel()

				encoded, err := codec.Encode(payload)
				require.NoError(t, err)

				decoded, err := codec.Decode(encoded, len(payload))
				require.NoError(t, err)
				require.Equal(t, len(payload), len(decoded))
				require.True(t, bytes.Equal(payload, decoded))

				dec, ok := codec.(streamDecoder)
				require.True(t, ok)
				var streamed bytes.Buffer
				require.NoError(t, dec.DecodeTo(&streamed, bytes.NewReader(encoded), len(payload)))
				require.True(t, bytes.Equal(payload, streamed.Bytes()))
			})
		}
	}
}

func TestCodecsRejectWrongSize(t *testing.T) {
	t.Parallel()

	payload := compressible(4096, "size check ")
	for _, id := range []CodecID{CodecZlib, CodecLZ4Frame, CodecZstd, CodecLZSS} {
		codec, err := NewCodec(id)
		require.NoError(t, err)

		encoded, err := codec.Encode(payload)
		require.NoError(t, err)

		_, err = codec.Decode(encoded, len(payload)+10)
		require.Error(t, err, id.String())
	}
}

func TestCodecsShrinkRepetitiveData(t *testing.T) {
	t.Parallel()

	payload := compressible(64*1024, "repeat ")
	for _, id := range []CodecID{CodecZlib, CodecLZ4Frame, CodecZstd, CodecLZSS} {
		codec, err := NewCodec(id)
		require.NoError(t, err)

		encoded, err := codec.Encode(payload)
		require.NoError(t, err)
		require.Less(t, len(encoded), len(payload)/4, id.String())
	}
}

func TestNewCodecUnknown(t *testing.T) {
	t.Parallel()

	_, err := NewCodec(CodecNone)
	require.ErrorIs(t, err, ErrUnknownCodec)

	_, err = NewCodec(CodecID(42))
	require.ErrorIs(t, err, ErrUnknownCodec)
	require.Equal(t, "codec(42)", CodecID(42).String())

	_, err = New(FormatUnknown)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = newArchive(FormatFallout3, OpenOptions{Codec: CodecID(42)})
	require.ErrorIs(t, err, ErrUnknownCodec)
}

func TestFormatDefaults(t *testing.T) {
	t.Parallel()

	require.Equal(t, CodecLZ4Frame, FormatSkyrimSE.DefaultCodec())
	require.Equal(t, CodecZlib, FormatOblivion.DefaultCodec())
	require.Equal(t, CodecZlib, FormatFallout3.DefaultCodec())
	require.Equal(t, CodecZlib, FormatBA2Texture.DefaultCodec())
	require.Equal(t, CodecNone, FormatMorrowind.DefaultCodec())
	require.False(t, FormatMorrowind.SupportsCompression())
	require.True(t, FormatBA2General.IsBA2())
	require.True(t, FormatSkyrimSE.IsTES4())
	require.False(t, FormatBA2Texture.IsTES4())
}

func TestCompressMatcherMatch(t *testing.T) {
	t.Parallel()

	matcher, err := newCompressMatcher(includeRules(
		"*.wav",
		"textures/",
		"/sound/voice/**/*.fuz",
	), pathrules.MatcherOptions{
		CaseInsensitive: true,
		DefaultAction:   pathrules.ActionExclude,
	})
	require.NoError(t, err)

	testCases := []struct {
		name string
		path string
		want bool
	}{
		{name: "extension rule", path: `sound\fx\hit.WAV`, want: true},
		{name: "dir-only rule", path: "data/textures/a.dds", want: true},
		{name: "anchored root match", path: "sound/voice/npc/line.fuz", want: true},
		{name: "anchored root miss", path: "x/sound/voice/npc/line.fuz", want: false},
		{name: "no match", path: "meshes/rock.nif", want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, matcher.Match(tc.path))
		})
	}
}

func TestCompressMatcherIncludeExcludeRules(t *testing.T) {
	t.Parallel()

	matcher, err := newCompressMatcher([]pathrules.Rule{
		{Action: pathrules.ActionInclude, Pattern: "scripts/**"},
		{Action: pathrules.ActionExclude, Pattern: "scripts/source/**"},
		{Action: pathrules.ActionInclude, Pattern: "scripts/source/keep/**"},
	}, pathrules.MatcherOptions{
		CaseInsensitive: true,
		DefaultAction:   pathrules.ActionExclude,
	})
	require.NoError(t, err)

	require.True(t, matcher.Match("scripts/quest.pex"))
	require.False(t, matcher.Match("scripts/source/quest.psc"))
	require.True(t, matcher.Match("SCRIPTS/SOURCE/keep/quest.psc"))
}

func TestPathRuleMatchersHandleEmptyAndInvalidRules(t *testing.T) {
	t.Parallel()

	matcher, err := newCompressMatcher(includeRules("", "   "), pathrules.MatcherOptions{})
	require.NoError(t, err)
	require.Nil(t, matcher)
	require.False(t, matcher.Match("anything.wav"))

	filter, err := newFilterMatcher(nil, "include")
	require.NoError(t, err)
	require.Nil(t, filter)

	invalid := []pathrules.Rule{{Action: pathrules.ActionUnknown, Pattern: "*.dds"}}
	_, err = newCompressMatcher(invalid, pathrules.MatcherOptions{DefaultAction: pathrules.ActionExclude})
	require.ErrorIs(t, err, ErrInvalidPathRules)

	_, err = newFilterMatcher(invalid, "exclude")
	require.ErrorIs(t, err, ErrInvalidPathRules)
}
