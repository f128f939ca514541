package bsa

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/woozymasta/pathrules"
	"github.com/zeebo/blake3"
)

// testEntry is one input file of a test archive.
type testEntry struct {
	path     string
	data     []byte
	compress bool
}

// bytesInput returns Input backed by an in-memory payload.
func bytesInput(archivePath string, data []byte) Input {
	return Input{
		Path:     archivePath,
		SizeHint: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// includeRules returns include rules for patterns.
func includeRules(patterns ...string) []pathrules.Rule {
	rules := make([]pathrules.Rule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: p})
	}

	return rules
}

// compressible returns n bytes of repetitive text.
func compressible(n int, seed string) []byte {
	return bytes.Repeat([]byte(seed), n/len(seed)+1)[:n]
}

// incompressible returns n deterministic pseudo-random bytes.
func incompressible(n int) []byte {
	out := make([]byte, n)
	x := uint32(2463534242)
	for i := range out {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		out[i] = byte(x)
	}

	return out
}

// newTestArchive creates an archive of format with flags applied before entries are added.
func newTestArchive(t testing.TB, format Format, flags ArchiveFlags, entries []testEntry) *Archive {
	t.Helper()

	a, err := New(format)
	require.NoError(t, err)
	if format.IsTES4() && flags != 0 {
		require.NoError(t, a.SetFlags(flags))
	}

	for _, e := range entries {
		in := bytesInput(e.path, e.data)
		in.ToggleCompressed = e.compress != a.Compressed()
		_, err := a.AddInput(in)
		require.NoError(t, err)
	}

	return a
}

// saveTestArchive builds and saves an archive and returns its path.
func saveTestArchive(t testing.TB, format Format, flags ArchiveFlags, entries []testEntry) string {
	t.Helper()

	a := newTestArchive(t, format, flags, entries)
	path := filepath.Join(t.TempDir(), "test."+format.String())
	_, err := a.Save(context.Background(), path, SaveOptions{})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	return path
}

// mixedEntries returns entries in several folders with mixed compression requests.
func mixedEntries() []testEntry {
	return []testEntry{
		{path: `meshes\rock.nif`, data: compressible(12000, "nif-block;"), compress: false},
		{path: `meshes\trees\oak.nif`, data: compressible(9000, "oak leaves "), compress: true},
		{path: `textures\rock.tga`, data: incompressible(4096), compress: true},
		{path: `scripts\quest.pex`, data: compressible(2048, "pex"), compress: true},
		{path: `readme.txt`, data: []byte("root file"), compress: false},
		{path: `sound\fx\hit.wav`, data: incompressible(1500), compress: false},
	}
}

// contentsOf reads every file of the archive keyed by lower-case path.
func contentsOf(t testing.TB, a *Archive) map[string][]byte {
	t.Helper()

	out := make(map[string][]byte)
	for _, f := range a.Files() {
		data, err := a.ReadFile(f.Path())
		require.NoError(t, err, f.Path())
		out[nameKey(f.Path())] = data
	}

	return out
}

// expectedContents maps test entries by lower-case path.
func expectedContents(entries []testEntry) map[string][]byte {
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		out[nameKey(e.path)] = e.data
	}

	return out
}

func TestSaveOpenRoundTripByteIdentical(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		format Format
		flags  ArchiveFlags
	}{
		{name: "morrowind", format: FormatMorrowind},
		{name: "oblivion", format: FormatOblivion, flags: DefaultArchiveFlags | FlagCompressed},
		{name: "fallout3 embedded names", format: FormatFallout3, flags: DefaultArchiveFlags | FlagEmbedFileNames},
		{name: "fallout3 compressed embedded names", format: FormatFallout3, flags: DefaultArchiveFlags | FlagCompressed | FlagEmbedFileNames},
		{name: "skyrimse", format: FormatSkyrimSE, flags: DefaultArchiveFlags | FlagCompressed},
		{name: "ba2 general", format: FormatBA2General},
		{name: "ba2 texture", format: FormatBA2Texture},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			entries := mixedEntries()
			first := saveTestArchive(t, tc.format, tc.flags, entries)

			a, err := Open(first)
			require.NoError(t, err)
			defer func() { _ = a.Close() }()

			require.Equal(t, tc.format, a.Format())
			require.Len(t, a.Files(), len(entries))
			require.Equal(t, expectedContents(entries), contentsOf(t, a))

			second := filepath.Join(t.TempDir(), "second")
			res, err := a.Save(context.Background(), second, SaveOptions{})
			require.NoError(t, err)
			require.Equal(t, len(entries), res.WrittenEntries)
			require.Equal(t, len(entries), res.CopiedEntries)
			require.Zero(t, res.TranscodedEntries)

			firstBytes, err := os.ReadFile(first)
			require.NoError(t, err)
			secondBytes, err := os.ReadFile(second)
			require.NoError(t, err)
			require.Equal(t, firstBytes, secondBytes)
			require.Equal(t, blake3.Sum256(secondBytes), res.Checksum)
			require.Equal(t, int64(len(secondBytes)), res.DataSize+res.IndexSize)
		})
	}
}

func TestSaveRebindsArchiveToWrittenFile(t *testing.T) {
	t.Parallel()

	entries := mixedEntries()
	a := newTestArchive(t, FormatSkyrimSE, DefaultArchiveFlags|FlagCompressed, entries)
	defer func() { _ = a.Close() }()

	for _, f := range a.Files() {
		require.True(t, f.IsNew())
	}

	path := filepath.Join(t.TempDir(), "rebind.bsa")
	_, err := a.Save(context.Background(), path, SaveOptions{})
	require.NoError(t, err)
	require.Equal(t, path, a.Path())

	for _, f := range a.Files() {
		require.False(t, f.IsNew(), f.Path())
		require.Equal(t, f.WriteDataOffset(), f.DataOffset())
		require.Equal(t, f.WantCompression(), f.Compression())
	}
	require.Equal(t, expectedContents(entries), contentsOf(t, a))

	// A second save of the rebound archive copies everything.
	res, err := a.Save(context.Background(), filepath.Join(t.TempDir(), "again.bsa"), SaveOptions{})
	require.NoError(t, err)
	require.Equal(t, len(entries), res.CopiedEntries)
}

func TestSaveTranscodesToggledEntry(t *testing.T) {
	t.Parallel()

	payload := compressible(32*1024, "transcode me ")
	entries := []testEntry{
		{path: `meshes\a.nif`, data: payload, compress: true},
		{path: `meshes\b.nif`, data: compressible(4000, "bbb"), compress: true},
	}
	path := saveTestArchive(t, FormatSkyrimSE, DefaultArchiveFlags|FlagCompressed, entries)

	a, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	f, ok := a.FindFile(`meshes/A.NIF`)
	require.True(t, ok)
	require.Equal(t, CompressionCompressed, f.Compression())
	require.False(t, f.CompressToggled())

	f.SetCompressed(false)
	require.True(t, f.CompressToggled())
	require.Equal(t, CompressionCompressed, f.Compression(), "stored state changes only on save")

	rawPath := filepath.Join(t.TempDir(), "raw.bsa")
	res, err := a.Save(context.Background(), rawPath, SaveOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.TranscodedEntries)
	require.Equal(t, 1, res.CopiedEntries)

	reopened, err := Open(rawPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	f, ok = reopened.FindFile(`meshes\a.nif`)
	require.True(t, ok)
	require.Equal(t, CompressionRaw, f.Compression())
	require.Equal(t, uint32(len(payload)), f.Size())
	data, err := reopened.ReadFile(`meshes\a.nif`)
	require.NoError(t, err)
	require.Equal(t, payload, data)

	f.SetCompressed(true)
	backPath := filepath.Join(t.TempDir(), "back.bsa")
	res, err = reopened.Save(context.Background(), backPath, SaveOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.TranscodedEntries)

	back, err := Open(backPath)
	require.NoError(t, err)
	defer func() { _ = back.Close() }()

	f, ok = back.FindFile(`meshes\a.nif`)
	require.True(t, ok)
	require.Equal(t, CompressionCompressed, f.Compression())
	require.Less(t, f.Size(), uint32(len(payload)))
	data, err = back.ReadFile(`meshes\a.nif`)
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestSaveChangedDefaultCompressionKeepsEntryStates(t *testing.T) {
	t.Parallel()

	entries := []testEntry{
		{path: `a\packed.txt`, data: compressible(8000, "packed "), compress: true},
		{path: `a\plain.txt`, data: compressible(8000, "plain "), compress: false},
	}
	path := saveTestArchive(t, FormatFallout3, DefaultArchiveFlags|FlagCompressed, entries)

	a, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	require.NoError(t, a.SetCompressed(false))
	out := filepath.Join(t.TempDir(), "flipped.bsa")
	res, err := a.Save(context.Background(), out, SaveOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.CopiedEntries)

	flipped, err := Open(out)
	require.NoError(t, err)
	defer func() { _ = flipped.Close() }()

	require.False(t, flipped.Compressed())
	packed, ok := flipped.FindFile(`a\packed.txt`)
	require.True(t, ok)
	require.Equal(t, CompressionCompressed, packed.Compression())
	require.True(t, packed.CompressToggled())

	plain, ok := flipped.FindFile(`a\plain.txt`)
	require.True(t, ok)
	require.Equal(t, CompressionRaw, plain.Compression())
	require.False(t, plain.CompressToggled())
	require.Equal(t, expectedContents(entries), contentsOf(t, flipped))
}

func TestSaveConvertsBetweenFormats(t *testing.T) {
	t.Parallel()

	entries := mixedEntries()
	src := saveTestArchive(t, FormatSkyrimSE, DefaultArchiveFlags|FlagCompressed, entries)

	for _, target := range []Format{FormatMorrowind, FormatOblivion, FormatFallout3, FormatBA2General, FormatBA2Texture} {
		t.Run(target.String(), func(t *testing.T) {
			t.Parallel()

			a, err := Open(src)
			require.NoError(t, err)
			defer func() { _ = a.Close() }()

			out := filepath.Join(t.TempDir(), "converted")
			res, err := a.Save(context.Background(), out, SaveOptions{Format: target})
			require.NoError(t, err)
			require.Equal(t, target, res.Format)
			require.Equal(t, target, a.Format())

			converted, err := Open(out)
			require.NoError(t, err)
			defer func() { _ = converted.Close() }()

			require.Equal(t, target, converted.Format())
			require.Equal(t, expectedContents(entries), contentsOf(t, converted))

			info, err := OpenWithOptions(out, OpenOptions{VerifyHashes: true})
			require.NoError(t, err)
			require.NoError(t, info.Close())
		})
	}
}

func TestSaveSkipsCompressionThatDoesNotShrink(t *testing.T) {
	t.Parallel()

	entries := []testEntry{
		{path: `noise.bin`, data: incompressible(4096), compress: true},
		{path: `tiny.txt`, data: []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), compress: true},
		{path: `text.txt`, data: compressible(4096, "text "), compress: true},
	}
	a := newTestArchive(t, FormatBA2General, 0, entries)
	defer func() { _ = a.Close() }()

	path := filepath.Join(t.TempDir(), "skip.ba2")
	res, err := a.Save(context.Background(), path, SaveOptions{MinCompressSize: 64})
	require.NoError(t, err)
	require.Equal(t, 1, res.CompressedEntries)
	require.Equal(t, 2, res.SkippedCompressionEntries)

	noise, ok := a.FindFile("noise.bin")
	require.True(t, ok)
	require.Equal(t, CompressionRaw, noise.Compression())

	tiny, ok := a.FindFile("tiny.txt")
	require.True(t, ok)
	require.Equal(t, CompressionRaw, tiny.Compression())

	text, ok := a.FindFile("text.txt")
	require.True(t, ok)
	require.Equal(t, CompressionCompressed, text.Compression())
	require.Equal(t, expectedContents(entries), contentsOf(t, a))
}

func TestSaveForceCompressionKeepsLargerPayload(t *testing.T) {
	t.Parallel()

	entries := []testEntry{{path: `noise.bin`, data: incompressible(2048), compress: true}}
	a := newTestArchive(t, FormatFallout3, DefaultArchiveFlags, entries)
	defer func() { _ = a.Close() }()

	res, err := a.Save(context.Background(), filepath.Join(t.TempDir(), "forced.bsa"), SaveOptions{ForceCompression: true})
	require.NoError(t, err)
	require.Equal(t, 1, res.CompressedEntries)
	require.Zero(t, res.SkippedCompressionEntries)

	f, ok := a.FindFile("noise.bin")
	require.True(t, ok)
	require.Equal(t, CompressionCompressed, f.Compression())
	require.Greater(t, f.Size(), uint32(2048))
	require.Equal(t, expectedContents(entries), contentsOf(t, a))
}

func TestSaveWithAlternativeCodecs(t *testing.T) {
	t.Parallel()

	for _, codec := range []CodecID{CodecZlib, CodecLZ4Frame, CodecZstd, CodecLZSS} {
		t.Run(codec.String(), func(t *testing.T) {
			t.Parallel()

			entries := []testEntry{{path: `data\a.txt`, data: compressible(16*1024, "codec "), compress: true}}
			a := newTestArchive(t, FormatFallout3, DefaultArchiveFlags|FlagCompressed, entries)
			defer func() { _ = a.Close() }()

			path := filepath.Join(t.TempDir(), "codec.bsa")
			_, err := a.Save(context.Background(), path, SaveOptions{Codec: codec})
			require.NoError(t, err)

			reopened, err := OpenWithOptions(path, OpenOptions{Codec: codec})
			require.NoError(t, err)
			defer func() { _ = reopened.Close() }()
			require.Equal(t, expectedContents(entries), contentsOf(t, reopened))
		})
	}
}

func TestSaveReportsProgressInWriteOrder(t *testing.T) {
	t.Parallel()

	entries := mixedEntries()
	a := newTestArchive(t, FormatOblivion, DefaultArchiveFlags|FlagCompressed, entries)
	defer func() { _ = a.Close() }()

	var events []SaveEntryProgress
	_, err := a.Save(context.Background(), filepath.Join(t.TempDir(), "progress.bsa"), SaveOptions{
		MaxWorkers: 2,
		OnEntryDone: func(entry SaveEntryProgress) {
			events = append(events, entry)
		},
	})
	require.NoError(t, err)
	require.Len(t, events, len(entries))

	files := a.Files()
	for i := range events {
		require.Equal(t, files[i].Path(), events[i].Path)
		require.Equal(t, files[i].DataOffset(), events[i].Offset)
		if i > 0 {
			require.Greater(t, events[i].Offset, events[i-1].Offset)
		}
	}
}

func TestSaveEmptyArchive(t *testing.T) {
	t.Parallel()

	for _, format := range []Format{FormatMorrowind, FormatOblivion, FormatSkyrimSE, FormatBA2General, FormatBA2Texture} {
		path := saveTestArchive(t, format, 0, nil)

		a, err := Open(path)
		require.NoError(t, err, format.String())
		require.Equal(t, format, a.Format())
		require.Empty(t, a.Files())
		require.NoError(t, a.Close())
	}
}

func TestSaveAbortsOnEntryError(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t, FormatFallout3, 0, []testEntry{{path: `ok.txt`, data: []byte("ok")}})
	_, err := a.AddInput(Input{
		Path: `broken.txt`,
		Open: func() (io.ReadCloser, error) { return nil, os.ErrPermission },
	})
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = a.Save(context.Background(), filepath.Join(dir, "broken.bsa"), SaveOptions{})
	require.ErrorIs(t, err, ErrMissingSource)
	require.ErrorIs(t, err, os.ErrPermission)

	leftovers, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestSaveKeepsBackupGenerations(t *testing.T) {
	t.Parallel()

	path := saveTestArchive(t, FormatFallout3, 0, []testEntry{{path: `v.txt`, data: []byte("v1")}})
	for _, version := range []string{"v2", "v3"} {
		a, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, a.RemoveFile(`v.txt`))
		_, err = a.AddInput(bytesInput(`v.txt`, []byte(version)))
		require.NoError(t, err)
		_, err = a.Save(context.Background(), path, SaveOptions{BackupKeep: 2})
		require.NoError(t, err)
		require.NoError(t, a.Close())
	}

	for file, want := range map[string]string{path: "v3", path + ".bak": "v2", path + ".bak.1": "v1"} {
		a, err := Open(file)
		require.NoError(t, err, file)
		data, err := a.ReadFile(`v.txt`)
		require.NoError(t, err)
		require.Equal(t, want, string(data), file)
		require.NoError(t, a.Close())
	}
}

func TestSaveCancelledContext(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t, FormatFallout3, 0, mixedEntries())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Save(ctx, filepath.Join(t.TempDir(), "cancelled.bsa"), SaveOptions{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpenVerifyHashesDetectsMismatch(t *testing.T) {
	t.Parallel()

	path := saveTestArchive(t, FormatFallout3, 0, []testEntry{
		{path: `meshes\rock.nif`, data: []byte("rock")},
		{path: `meshes\tree.nif`, data: []byte("tree")},
	})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var needle [8]byte
	binary.LittleEndian.PutUint64(needle[:], Hash(FormatFallout3, `meshes\rock.nif`))
	idx := bytes.Index(raw, needle[:])
	require.Positive(t, idx)
	raw[idx+4] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	a, err := Open(path)
	require.NoError(t, err)
	require.Len(t, a.Files(), 2)
	require.NoError(t, a.Close())

	_, err = OpenWithOptions(path, OpenOptions{VerifyHashes: true})
	require.ErrorIs(t, err, ErrHashMismatch)
	require.ErrorIs(t, err, ErrCorruptArchive)
}

func TestOpenPreservesReservedSizeBit(t *testing.T) {
	t.Parallel()

	path := saveTestArchive(t, FormatFallout3, 0, []testEntry{{path: `meshes\rock.nif`, data: []byte("rock data")}})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var needle [8]byte
	binary.LittleEndian.PutUint64(needle[:], Hash(FormatFallout3, `meshes\rock.nif`))
	idx := bytes.Index(raw, needle[:])
	require.Positive(t, idx)
	raw[idx+8+3] |= 0x80
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	a, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	f, ok := a.FindFile(`meshes\rock.nif`)
	require.True(t, ok)
	require.True(t, f.ReservedFlag())
	require.Equal(t, uint32(len("rock data")), f.Size())

	out := filepath.Join(t.TempDir(), "reserved.bsa")
	_, err = a.Save(context.Background(), out, SaveOptions{})
	require.NoError(t, err)

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, raw, written)
}

func TestOpenRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.bsa")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err := Open(empty)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	garbage := filepath.Join(dir, "garbage.bsa")
	require.NoError(t, os.WriteFile(garbage, []byte("this is not an archive"), 0o600))
	_, err = Open(garbage)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	path := saveTestArchive(t, FormatSkyrimSE, 0, mixedEntries())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	truncated := filepath.Join(dir, "truncated.bsa")
	require.NoError(t, os.WriteFile(truncated, raw[:60], 0o600))
	_, err = Open(truncated)
	require.ErrorIs(t, err, ErrCorruptArchive)

	_, err = OpenReaderAt(nil, 0, OpenOptions{})
	require.ErrorIs(t, err, ErrNilReader)
}

func TestReadFileReportsTruncatedPayload(t *testing.T) {
	t.Parallel()

	path := saveTestArchive(t, FormatFallout3, 0, []testEntry{{path: `big.bin`, data: incompressible(8192)}})
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	a, err := OpenReaderAt(bytes.NewReader(raw[:len(raw)-100]), int64(len(raw)-100), OpenOptions{})
	require.NoError(t, err)

	_, err = a.ReadFile(`big.bin`)
	require.ErrorIs(t, err, ErrDataTransfer)

	_, err = a.Save(context.Background(), filepath.Join(t.TempDir(), "out.bsa"), SaveOptions{})
	require.ErrorIs(t, err, ErrDataTransfer)
}

func TestMorrowindIgnoresCompressionRequests(t *testing.T) {
	t.Parallel()

	entries := []testEntry{{path: `meshes\x.nif`, data: compressible(4096, "mw"), compress: true}}
	a := newTestArchive(t, FormatMorrowind, 0, entries)
	defer func() { _ = a.Close() }()

	f, ok := a.FindFile(`meshes\x.nif`)
	require.True(t, ok)
	require.Equal(t, CompressionRaw, f.WantCompression())
	require.ErrorIs(t, a.SetCompressed(true), ErrFormatMismatch)
	require.ErrorIs(t, a.SetFlags(FlagCompressed), ErrFormatMismatch)

	f.SetCompressed(true)
	res, err := a.Save(context.Background(), filepath.Join(t.TempDir(), "mw.bsa"), SaveOptions{})
	require.NoError(t, err)
	require.Zero(t, res.CompressedEntries)
	require.Equal(t, uint32(4096), f.Size())
}

func TestAddInputRejectsOversizedEntry(t *testing.T) {
	t.Parallel()

	a, err := New(FormatFallout3)
	require.NoError(t, err)

	in := bytesInput(`huge.bin`, nil)
	in.SizeHint = int64(MaxEntrySize) + 1
	_, err = a.AddInput(in)
	require.ErrorIs(t, err, ErrSizeLimitExceeded)
	require.Empty(t, a.Files())
}

func TestAddFromCarriesEntryBetweenArchives(t *testing.T) {
	t.Parallel()

	srcPath := saveTestArchive(t, FormatSkyrimSE, DefaultArchiveFlags|FlagCompressed, mixedEntries())
	src, err := Open(srcPath)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	dst, err := New(FormatBA2General)
	require.NoError(t, err)

	_, err = dst.AddFrom(src, `meshes\rock.nif`, `models\stone.nif`)
	require.NoError(t, err)
	_, err = dst.AddFrom(src, `scripts\quest.pex`, "")
	require.NoError(t, err)
	_, err = dst.AddFrom(src, `missing.nif`, "")
	require.ErrorIs(t, err, ErrEntryNotFound)

	out := filepath.Join(t.TempDir(), "carried.ba2")
	_, err = dst.Save(context.Background(), out, SaveOptions{})
	require.NoError(t, err)

	want, err := src.ReadFile(`meshes\rock.nif`)
	require.NoError(t, err)
	got, err := dst.ReadFile(`models\stone.nif`)
	require.NoError(t, err)
	require.Equal(t, want, got)

	want, err = src.ReadFile(`scripts\quest.pex`)
	require.NoError(t, err)
	got, err = dst.ReadFile(`scripts\quest.pex`)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestAddDirectoryAppliesRules(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	files := map[string][]byte{
		"meshes/rock.nif":      compressible(3000, "nif "),
		"sound/voice/line.wav": compressible(3000, "wav "),
		"notes/skip.tmp":       []byte("skip"),
	}
	for rel, data := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
		require.NoError(t, os.WriteFile(full, data, 0o600))
	}

	a, err := New(FormatFallout3)
	require.NoError(t, err)
	require.NoError(t, a.SetCompressed(true))

	added, err := a.AddDirectory(root, "", AddOptions{
		Compress: includeRules("*.wav"),
		Exclude:  includeRules("*.tmp"),
	})
	require.NoError(t, err)
	require.Len(t, added, 2)

	nif, ok := a.FindFile(`meshes\rock.nif`)
	require.True(t, ok)
	require.Equal(t, CompressionCompressed, nif.WantCompression())
	require.Equal(t, filepath.Join(root, "meshes", "rock.nif"), nif.SourcePath())

	wav, ok := a.FindFile(`sound\voice\line.wav`)
	require.True(t, ok)
	require.True(t, wav.CompressToggled())
	require.Equal(t, CompressionRaw, wav.WantCompression())

	_, ok = a.FindFile(`notes\skip.tmp`)
	require.False(t, ok)

	path := filepath.Join(t.TempDir(), "dir.bsa")
	_, err = a.Save(context.Background(), path, SaveOptions{})
	require.NoError(t, err)

	hdr, err := ReadHeader(path)
	require.NoError(t, err)
	require.Equal(t, ContentMeshes|ContentVoices, hdr.ContentFlags)
}

func TestConcurrentReadFile(t *testing.T) {
	t.Parallel()

	entries := mixedEntries()
	path := saveTestArchive(t, FormatSkyrimSE, DefaultArchiveFlags|FlagCompressed, entries)
	a, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	var wg sync.WaitGroup
	errs := make(chan error, len(entries)*4)
	for round := 0; round < 4; round++ {
		for _, e := range entries {
			wg.Go(func() {
				data, err := a.ReadFile(e.path)
				if err == nil && !bytes.Equal(data, e.data) {
					err = fmt.Errorf("%s: content mismatch", e.path)
				}
				errs <- err
			})
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}

func TestClosedArchiveRejectsReads(t *testing.T) {
	t.Parallel()

	path := saveTestArchive(t, FormatFallout3, 0, []testEntry{{path: `a.txt`, data: []byte("a")}})
	a, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = a.ReadFile(`a.txt`)
	require.ErrorIs(t, err, ErrClosed)
	_, err = a.OpenFile(`a.txt`)
	require.ErrorIs(t, err, ErrClosed)
	_, err = a.Save(context.Background(), filepath.Join(t.TempDir(), "x.bsa"), SaveOptions{})
	require.ErrorIs(t, err, ErrClosed)
}

func TestSaveKeepsHashesOfUnnamedTES4Entries(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		flags ArchiveFlags
	}{
		{name: "no file names", flags: DefaultArchiveFlags &^ FlagFileNames},
		{name: "no folder names", flags: (DefaultArchiveFlags &^ FlagDirectoryNames) | FlagCompressed},
		{name: "no names embedded", flags: FlagCompressed | FlagEmbedFileNames},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			entries := mixedEntries()
			first := saveTestArchive(t, FormatFallout3, tc.flags, entries)

			a, err := Open(first)
			require.NoError(t, err)
			defer func() { _ = a.Close() }()

			want := make(map[uint64]int, len(entries))
			for _, e := range entries {
				want[Hash(FormatFallout3, e.path)] = len(e.data)
			}
			for _, f := range a.Files() {
				require.True(t, f.HashOnly(), f.Path())
				size, ok := want[f.Hash()]
				require.True(t, ok, f.Path())
				data, err := a.ReadFile(f.Path())
				require.NoError(t, err)
				require.Len(t, data, size)
			}

			second := filepath.Join(t.TempDir(), "second.bsa")
			res, err := a.Save(context.Background(), second, SaveOptions{})
			require.NoError(t, err)
			require.Equal(t, len(entries), res.CopiedEntries)

			firstBytes, err := os.ReadFile(first)
			require.NoError(t, err)
			secondBytes, err := os.ReadFile(second)
			require.NoError(t, err)
			require.Equal(t, firstBytes, secondBytes)

			third := filepath.Join(t.TempDir(), "third.bsa")
			_, err = a.Save(context.Background(), third, SaveOptions{})
			require.NoError(t, err)
			thirdBytes, err := os.ReadFile(third)
			require.NoError(t, err)
			require.Equal(t, firstBytes, thirdBytes)
		})
	}
}

func TestSaveKeepsBA2WithoutNameTable(t *testing.T) {
	t.Parallel()

	for _, format := range []Format{FormatBA2General, FormatBA2Texture} {
		t.Run(format.String(), func(t *testing.T) {
			t.Parallel()

			entries := mixedEntries()
			path := saveTestArchive(t, format, 0, entries)
			raw, err := os.ReadFile(path)
			require.NoError(t, err)

			nameTable := binary.LittleEndian.Uint64(raw[16:24])
			require.Positive(t, nameTable)
			raw = raw[:nameTable]
			binary.LittleEndian.PutUint64(raw[16:24], 0)
			require.NoError(t, os.WriteFile(path, raw, 0o600))

			a, err := Open(path)
			require.NoError(t, err)
			defer func() { _ = a.Close() }()

			want := make(map[uint64][]byte, len(entries))
			for _, e := range entries {
				want[Hash(format, e.path)] = e.data
			}
			require.Len(t, a.Files(), len(entries))
			for _, f := range a.Files() {
				require.True(t, f.HashOnly(), f.Path())
				data, err := a.ReadFile(f.Path())
				require.NoError(t, err)
				require.Equal(t, want[f.Hash()], data, f.Path())
			}

			out := filepath.Join(t.TempDir(), "nameless.ba2")
			_, err = a.Save(context.Background(), out, SaveOptions{})
			require.NoError(t, err)
			written, err := os.ReadFile(out)
			require.NoError(t, err)
			require.Equal(t, raw, written)
		})
	}
}

func TestSaveAddsEntryToUnnamedBA2(t *testing.T) {
	t.Parallel()

	path := saveTestArchive(t, FormatBA2General, 0, []testEntry{{path: `meshes\rock.nif`, data: []byte("rock")}})
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	nameTable := binary.LittleEndian.Uint64(raw[16:24])
	raw = raw[:nameTable]
	binary.LittleEndian.PutUint64(raw[16:24], 0)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	a, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	_, err = a.AddInput(bytesInput(`meshes\tree.nif`, []byte("tree")))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "unnamed.ba2")
	_, err = a.Save(context.Background(), out, SaveOptions{})
	require.NoError(t, err)

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Zero(t, binary.LittleEndian.Uint64(written[16:24]))

	b, err := Open(out)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	hashes := make([]uint64, 0, 2)
	for _, f := range b.Files() {
		require.True(t, f.HashOnly(), f.Path())
		hashes = append(hashes, f.Hash())
	}
	require.ElementsMatch(t, []uint64{Hash(FormatBA2General, `meshes\rock.nif`), Hash(FormatBA2General, `meshes\tree.nif`)}, hashes)
}

func TestOpenResolvesUncompressedSizeOfTES4Entries(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		flags ArchiveFlags
	}{
		{name: "compressed", flags: DefaultArchiveFlags | FlagCompressed},
		{name: "embedded names", flags: DefaultArchiveFlags | FlagEmbedFileNames},
		{name: "compressed embedded names", flags: DefaultArchiveFlags | FlagCompressed | FlagEmbedFileNames},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			entries := mixedEntries()
			path := saveTestArchive(t, FormatFallout3, tc.flags, entries)

			a, err := Open(path)
			require.NoError(t, err)
			defer func() { _ = a.Close() }()

			want := expectedContents(entries)
			for _, f := range a.Files() {
				require.Equal(t, uint32(len(want[nameKey(f.Path())])), f.UncompressedSize(), f.Path())
			}

			quest, ok := a.FindFile(`scripts\quest.pex`)
			require.True(t, ok)
			if tc.flags.Has(FlagCompressed) {
				require.Equal(t, CompressionCompressed, quest.Compression())
				require.Less(t, quest.Size(), uint32(2048))
			}
			require.Equal(t, uint32(2048), quest.Info().UncompressedSize)

			_, err = a.Save(context.Background(), filepath.Join(t.TempDir(), "again.bsa"), SaveOptions{})
			require.NoError(t, err)
			require.Equal(t, uint32(2048), quest.UncompressedSize())
		})
	}
}

func TestOpenRejectsOversizedSizePrefix(t *testing.T) {
	t.Parallel()

	path := saveTestArchive(t, FormatFallout3, DefaultArchiveFlags|FlagCompressed, []testEntry{
		{path: `scripts\quest.pex`, data: compressible(2048, "pex"), compress: true},
	})

	a, err := Open(path)
	require.NoError(t, err)
	f, ok := a.FindFile(`scripts\quest.pex`)
	require.True(t, ok)
	offset := f.DataOffset()
	require.NoError(t, a.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(raw[offset:offset+4], 0xffffffff)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = Open(path)
	require.ErrorIs(t, err, ErrCorruptArchive)
}

func TestSaveKeepsBA2RecordFlags(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		format Format
		value  uint32
		width  int
	}{
		{format: FormatBA2General, value: 0x00000123, width: 4},
		{format: FormatBA2Texture, value: 0x07, width: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.format.String(), func(t *testing.T) {
			t.Parallel()

			path := saveTestArchive(t, tc.format, 0, mixedEntries())
			raw, err := os.ReadFile(path)
			require.NoError(t, err)

			// first record: name hash, extension and folder hash precede the flags
			const flagsAt = ba2HeaderSize + 12
			if tc.width == 4 {
				require.Equal(t, uint32(ba2GeneralFlags), binary.LittleEndian.Uint32(raw[flagsAt:]))
				binary.LittleEndian.PutUint32(raw[flagsAt:], tc.value)
			} else {
				require.Zero(t, raw[flagsAt])
				raw[flagsAt] = byte(tc.value)
			}
			require.NoError(t, os.WriteFile(path, raw, 0o600))

			a, err := Open(path)
			require.NoError(t, err)
			defer func() { _ = a.Close() }()

			out := filepath.Join(t.TempDir(), "flags.ba2")
			_, err = a.Save(context.Background(), out, SaveOptions{})
			require.NoError(t, err)
			written, err := os.ReadFile(out)
			require.NoError(t, err)
			require.Equal(t, raw, written)
		})
	}
}
