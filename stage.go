// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"path"
	"strings"
)

// writeTarget is the resolved on-disk layout of a Save.
type writeTarget struct {
	hasher       Hasher
	names        *storedNames
	written      storedNames
	layout       payloadLayout
	version      uint32
	contentFlags uint32
	flags        ArchiveFlags
	format       Format
}

// compressedDefault returns default compression of the target.
func (t *writeTarget) compressedDefault() bool {
	return t.format.IsTES4() && t.flags.Has(FlagCompressed)
}

// newWriteTarget resolves target layout from archive state and save options.
func (a *Archive) newWriteTarget(opts SaveOptions) (*writeTarget, error) {
	format := opts.Format
	if format == FormatUnknown {
		format = a.format
	}

	codecID := opts.Codec
	if codecID == CodecNone && format == a.format && a.codec != nil {
		codecID = a.codec.ID()
	}

	codec, err := resolveCodec(format, codecID)
	if err != nil {
		return nil, err
	}

	t := &writeTarget{
		hasher: format.hasher(),
		format: format,
	}

	switch {
	case format == a.format:
		t.version = a.version
		t.flags = a.flags
		t.contentFlags = a.contentFlags
		names := a.names
		t.names = &names
	case format.IsTES4():
		t.version = format.tes4Version()
		t.flags = DefaultArchiveFlags
		if a.format.IsTES4() {
			t.flags = a.flags
			t.contentFlags = a.contentFlags
		}
	case format.IsBA2():
		t.version = DefaultBA2Version
		if a.format.IsBA2() {
			t.version = a.version
		}
	case format == FormatMorrowind:
		t.version = magicTES3
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	t.layout = payloadLayout{
		codec:      codec,
		format:     format,
		framing:    framingOf(format),
		embedNames: format.IsTES4() && t.version >= versionTES4B && t.flags.Has(FlagEmbedFileNames),
	}

	return t, nil
}

// stagedPart is one payload blob of a staged entry: either copied from a source or held in memory.
type stagedPart struct {
	src       *source
	data      []byte
	srcOffset uint64
	offset    uint64
	size      uint32
	unpacked  uint32
	startMip  uint16
	endMip    uint16
	state     Compression
	skipped   bool
}

// copied reports whether the part is copied verbatim.
func (p *stagedPart) copied() bool {
	return p.src != nil
}

// stagedEntry is one file with final payload decisions for the target.
type stagedEntry struct {
	file        *File
	texture     *TextureHeader
	path        string
	dir         string
	name        string
	parts       []stagedPart
	nameHash    uint64
	folderHash  uint64
	recordFlags uint32
	reserved    bool

	// stored hashes reused for names derived from hashes
	keptName bool
	keptDir  bool
}

// size returns total on-disk payload size.
func (e *stagedEntry) size() uint64 {
	var total uint64
	for i := range e.parts {
		total += uint64(e.parts[i].size)
	}

	return total
}

// allCopied reports whether every part is copied verbatim.
func (e *stagedEntry) allCopied() bool {
	for i := range e.parts {
		if !e.parts[i].copied() {
			return false
		}
	}

	return len(e.parts) > 0
}

// compressed reports whether any part is written compressed.
func (e *stagedEntry) compressed() bool {
	for i := range e.parts {
		if e.parts[i].state == CompressionCompressed {
			return true
		}
	}

	return false
}

// skipped reports whether any compression request was stored raw.
func (e *stagedEntry) skipped() bool {
	for i := range e.parts {
		if e.parts[i].skipped {
			return true
		}
	}

	return false
}

// stageFile decides copy-through or transcode for f and produces final bytes.
func (t *writeTarget) stageFile(f *File, opts *SaveOptions, logger *slog.Logger) (*stagedEntry, error) {
	e := &stagedEntry{
		file: f,
		path: f.Path(),
	}
	e.dir, e.name = splitArchivePath(e.path)
	e.nameHash, e.folderHash, e.keptName, e.keptDir = entryHashes(t.hasher, f, e.dir, e.name)
	e.reserved = f.reserved && t.format.IsTES4()
	e.recordFlags = t.recordFlagsFor(f)

	var err error
	if t.format == FormatBA2Texture {
		err = t.stageChunked(e, f, opts)
	} else {
		err = t.stageFlat(e, f, opts)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("entry staged",
		slog.String("path", e.path),
		slog.Int("parts", len(e.parts)),
		slog.Bool("copied", e.allCopied()),
		slog.Bool("compressed", e.compressed()),
	)
	return e, nil
}

// recordFlagsFor returns BA2 record flags of f: parsed value when f stays in its format.
func (t *writeTarget) recordFlagsFor(f *File) uint32 {
	if !f.isNew && f.src != nil && f.src.layout.format == t.format {
		return f.recordFlags
	}
	if t.format == FormatBA2General {
		return ba2GeneralFlags
	}

	return 0
}

// hashOnlyUnchanged reports whether entries are the parsed entry set with every
// hash-derived file name (or folder name when dirs is set) left in place.
func (t *writeTarget) hashOnlyUnchanged(entries []*stagedEntry, dirs bool) bool {
	if t.names == nil || len(entries) != int(t.names.files) {
		return false
	}

	for _, e := range entries {
		if (dirs && !e.keptDir) || (!dirs && !e.keptName) {
			return false
		}
	}

	return true
}

// wantFor clamps requested compression to what the target can store.
func (t *writeTarget) wantFor(want Compression) Compression {
	if t.layout.codec == nil {
		return CompressionRaw
	}

	return want
}

// stageFlat stages a single-blob record (TES4, Morrowind, BA2 general).
func (t *writeTarget) stageFlat(e *stagedEntry, f *File, opts *SaveOptions) error {
	want := t.wantFor(f.want)
	if ok, err := t.canCopyFlat(e, f, want); err != nil {
		return err
	} else if ok {
		e.parts = []stagedPart{{
			src:       f.src,
			srcOffset: f.dataOffset,
			size:      f.size,
			unpacked:  f.uncompressedSize,
			state:     f.stored,
		}}
		return nil
	}

	content, err := f.content()
	if err != nil {
		return err
	}

	part, err := t.encode(e.path, content, want, true, opts)
	if err != nil {
		return err
	}

	e.parts = []stagedPart{part}
	return nil
}

// canCopyFlat reports whether stored bytes of f are valid unchanged in the target.
func (t *writeTarget) canCopyFlat(e *stagedEntry, f *File, want Compression) (bool, error) {
	if f.isNew || f.src == nil || f.chunked() || want != f.stored {
		return false, nil
	}
	if f.stored == CompressionCompressed && !f.src.layout.compatible(t.layout) {
		return false, nil
	}
	if f.src.layout.embedNames != t.layout.embedNames {
		return false, nil
	}
	if !t.layout.embedNames {
		return true, nil
	}

	prefix, err := f.src.readRange(e.path, f.dataOffset, min(f.size, 256))
	if err != nil {
		return false, err
	}

	embedded, _, err := stripEmbeddedName(e.path, prefix)
	if err != nil {
		return false, err
	}
	if f.origin != nil && f.origin.at(e.dir, e.name) && f.src.layout.format == t.format {
		return true, nil
	}

	return embedded == e.path, nil
}

// stageChunked stages a DX10 record: chunk-level copy for texture records, DDS split for new ones.
func (t *writeTarget) stageChunked(e *stagedEntry, f *File, opts *SaveOptions) error {
	if f.chunked() && !f.isNew && f.src != nil {
		tex := TextureHeader{}
		if f.texture != nil {
			tex = *f.texture
		}
		e.texture = &tex
		e.parts = make([]stagedPart, len(f.chunks))

		for i := range f.chunks {
			c := f.chunks[i]
			want := t.wantFor(c.want)
			stored := c.Compression()
			if want == stored && (stored == CompressionRaw || f.src.layout.compatible(t.layout)) {
				e.parts[i] = stagedPart{
					src:       f.src,
					srcOffset: c.Offset,
					size:      c.StoredSize(),
					unpacked:  c.UnpackedSize,
					state:     stored,
				}
			} else {
				data, err := f.readChunk(i)
				if err != nil {
					return err
				}
				part, err := t.encode(e.path, data, want, false, opts)
				if err != nil {
					return err
				}
				e.parts[i] = part
			}
			e.parts[i].startMip = c.StartMip
			e.parts[i].endMip = c.EndMip
		}

		return nil
	}

	content, err := f.content()
	if err != nil {
		return err
	}

	want := t.wantFor(f.want)
	if strings.EqualFold(path.Ext(e.name), ".dds") {
		header, pixels, err := parseDDS(content)
		if err != nil {
			return fmt.Errorf("%s: %w", e.path, err)
		}

		spans := splitMipChunks(header, pixels)
		if len(spans) > 0xff {
			return fmt.Errorf("%w: %s has %d chunks", ErrSizeLimitExceeded, e.path, len(spans))
		}

		e.texture = &header
		e.parts = make([]stagedPart, len(spans))
		for i, span := range spans {
			part, err := t.encode(e.path, pixels[span.start:span.end], want, false, opts)
			if err != nil {
				return err
			}
			part.startMip = span.startMip
			part.endMip = span.endMip
			e.parts[i] = part
		}

		return nil
	}

	part, err := t.encode(e.path, content, want, false, opts)
	if err != nil {
		return err
	}

	e.texture = &TextureHeader{}
	e.parts = []stagedPart{part}
	return nil
}

// encode produces final payload bytes for logical content.
// Compressed output that is not smaller than content is stored raw unless forced.
func (t *writeTarget) encode(entryPath string, content []byte, want Compression, embed bool, opts *SaveOptions) (stagedPart, error) {
	unpacked, err := checkedEntrySize(entryPath, int64(len(content)))
	if err != nil {
		return stagedPart{}, err
	}

	part := stagedPart{unpacked: unpacked, state: want}
	body := content
	if want == CompressionCompressed && unpacked < opts.MinCompressSize {
		part.state = CompressionRaw
		part.skipped = true
	}

	if part.state == CompressionCompressed {
		encoded, err := t.layout.codec.Encode(content)
		if err != nil {
			return stagedPart{}, fmt.Errorf("encode %s with %s: %w", entryPath, t.layout.codec.ID(), err)
		}
		if t.layout.framing == framingSizePrefixed {
			prefixed := make([]byte, 4, 4+len(encoded))
			binary.LittleEndian.PutUint32(prefixed, unpacked)
			encoded = append(prefixed, encoded...)
		}

		if !opts.ForceCompression && len(encoded) >= len(content) {
			part.state = CompressionRaw
			part.skipped = true
		} else {
			body = encoded
		}
	}

	data := body
	if embed && t.layout.embedNames {
		if len(entryPath) > 0xff {
			return stagedPart{}, fmt.Errorf("%w: embedded name %s longer than 255 bytes", ErrSizeLimitExceeded, entryPath)
		}
		data = make([]byte, 0, 1+len(entryPath)+len(body))
		data = append(data, byte(len(entryPath)))
		data = append(data, entryPath...)
		data = append(data, body...)
	}

	size, err := checkedEntrySize(entryPath, int64(len(data)))
	if err != nil {
		return stagedPart{}, err
	}

	part.data = data
	part.size = size
	return part, nil
}
