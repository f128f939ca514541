// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"fmt"
	"io"
	"os"
)

// framing describes how compressed payload bytes are wrapped on disk.
type framing uint8

const (
	// framingNone means the format never compresses.
	framingNone framing = iota
	// framingSizePrefixed means u32 original size precedes the codec stream (TES4 BSA).
	framingSizePrefixed
	// framingBare means sizes live in the record and the codec stream is stored alone (BA2).
	framingBare
)

// framingOf returns compressed payload framing of format.
func framingOf(f Format) framing {
	switch {
	case f.IsTES4():
		return framingSizePrefixed
	case f.IsBA2():
		return framingBare
	default:
		return framingNone
	}
}

// payloadLayout is everything needed to interpret payload bytes of one archive.
type payloadLayout struct {
	codec      Codec
	format     Format
	framing    framing
	embedNames bool
}

// compatible reports whether compressed bytes of l can be stored unchanged under other.
func (l payloadLayout) compatible(other payloadLayout) bool {
	if l.framing != other.framing || l.codec == nil || other.codec == nil {
		return false
	}

	return l.codec.ID() == other.codec.ID()
}

// source is an opened archive stream that payloads are read from.
type source struct {
	ra     io.ReaderAt
	closer io.Closer
	path   string
	layout payloadLayout
	size   int64
}

// openSource opens archive file for reading.
func openSource(path string) (*source, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return nil, err
	}

	return &source{ra: f, closer: f, path: path, size: size}, nil
}

// close releases underlying stream when owned.
func (s *source) close() error {
	if s == nil || s.closer == nil {
		return nil
	}

	err := s.closer.Close()
	s.closer = nil
	return err
}

// readRange reads exactly n bytes at off or fails with ErrDataTransfer.
func (s *source) readRange(entryPath string, off uint64, n uint32) ([]byte, error) {
	if err := s.checkRange(entryPath, off, uint64(n)); err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := s.ra.ReadAt(buf, int64(off)); err != nil { //nolint:gosec // bounded by checkRange
		return nil, fmt.Errorf("%w: %w: read %s at %d: %w", ErrDataTransfer, ErrCorruptArchive, entryPath, off, err)
	}

	return buf, nil
}

// section returns bounded reader over stored payload bytes.
func (s *source) section(entryPath string, off uint64, n uint32) (*io.SectionReader, error) {
	if err := s.checkRange(entryPath, off, uint64(n)); err != nil {
		return nil, err
	}

	return io.NewSectionReader(s.ra, int64(off), int64(n)), nil //nolint:gosec // bounded by checkRange
}

// checkRange validates that payload range lies inside the source stream.
func (s *source) checkRange(entryPath string, off uint64, n uint64) error {
	if s == nil || s.ra == nil {
		return fmt.Errorf("%w: %s has no source archive", ErrDataTransfer, entryPath)
	}
	if off > uint64(s.size) || n > uint64(s.size)-off { //nolint:gosec // size is non-negative
		return fmt.Errorf(
			"%w: %w: %s range %d+%d outside archive size %d",
			ErrDataTransfer, ErrCorruptArchive, entryPath, off, n, s.size,
		)
	}

	return nil
}

// stripEmbeddedName removes the embedded path prefix and returns it.
func stripEmbeddedName(entryPath string, raw []byte) (string, []byte, error) {
	if len(raw) == 0 || int(raw[0])+1 > len(raw) {
		return "", nil, fmt.Errorf("%w: %s embedded name exceeds payload", ErrCorruptArchive, entryPath)
	}

	n := int(raw[0])
	return string(raw[1 : 1+n]), raw[1+n:], nil
}

// decodeStored turns stored payload body (after any embedded name) into logical bytes.
func (l payloadLayout) decodeStored(entryPath string, body []byte, state Compression, unpacked uint32) ([]byte, error) {
	if state == CompressionRaw {
		return body, nil
	}
	if l.codec == nil {
		return nil, fmt.Errorf("%w: %s is compressed in %s archive", ErrCorruptArchive, entryPath, l.format)
	}

	if err := checkDecodedSize(unpacked); err != nil {
		return nil, fmt.Errorf("%s: %w", entryPath, err)
	}

	size := int(unpacked)
	if l.framing == framingSizePrefixed {
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: %s compressed payload shorter than size prefix", ErrCorruptArchive, entryPath)
		}
		prefixed, err := decodeSizePrefix(body[:4])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entryPath, err)
		}
		size = prefixed
		body = body[4:]
	}

	out, err := l.codec.Decode(body, size)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s with %s: %w", ErrCorruptArchive, entryPath, l.codec.ID(), err)
	}

	return out, nil
}

// readPayload reads and decodes stored bytes of a non-chunked archive entry.
func (f *File) readPayload() ([]byte, error) {
	entryPath := f.Path()
	raw, err := f.src.readRange(entryPath, f.dataOffset, f.size)
	if err != nil {
		return nil, err
	}

	if f.src.layout.embedNames {
		if _, raw, err = stripEmbeddedName(entryPath, raw); err != nil {
			return nil, err
		}
	}

	return f.src.layout.decodeStored(entryPath, raw, f.stored, f.uncompressedSize)
}

// readChunk reads and decodes one stored texture chunk.
func (f *File) readChunk(index int) ([]byte, error) {
	c := f.chunks[index].TextureChunk
	entryPath := f.Path()
	raw, err := f.src.readRange(entryPath, c.Offset, c.StoredSize())
	if err != nil {
		return nil, err
	}

	return f.src.layout.decodeStored(entryPath, raw, c.Compression(), c.UnpackedSize)
}

// readChunkData returns concatenated logical chunk bytes without a DDS header.
func (f *File) readChunkData() ([]byte, error) {
	total := 0
	for i := range f.chunks {
		total += int(f.chunks[i].UnpackedSize)
	}

	out := make([]byte, 0, total)
	for i := range f.chunks {
		chunk, err := f.readChunk(i)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}

	return out, nil
}

// readInput reads full loose source payload.
func (f *File) readInput() ([]byte, error) {
	if f.input == nil || f.input.Open == nil {
		return nil, fmt.Errorf("%w: %s has no input", ErrMissingSource, f.Path())
	}

	rc, err := f.input.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMissingSource, f.Path(), err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, int64(sizeMask)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrMissingSource, f.Path(), err)
	}
	if _, err := checkedEntrySize(f.Path(), int64(len(data))); err != nil {
		return nil, err
	}

	return data, nil
}

// content returns logical file bytes as they would appear on disk after extraction.
// Texture records get a synthesized DDS header.
func (f *File) content() ([]byte, error) {
	if f.isNew {
		return f.readInput()
	}
	if f.src == nil {
		return nil, fmt.Errorf("%w: %s has no source archive", ErrDataTransfer, f.Path())
	}
	if !f.chunked() {
		return f.readPayload()
	}

	data, err := f.readChunkData()
	if err != nil {
		return nil, err
	}
	if f.texture == nil || f.texture.IsZero() {
		return data, nil
	}

	header, err := buildDDSHeader(*f.texture)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidTexture, f.Path(), err)
	}

	return append(header, data...), nil
}

// openFileWithSize opens a file and returns a handle plus current size.
func openFileWithSize(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open archive: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat: %w", err)
	}

	return f, fi.Size(), nil
}
