// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bytes"
	"fmt"
	"io"
)

// nopCloser wraps a reader and provides a no-op close.
type nopCloser struct {
	io.Reader
}

// Close closes nopCloser (no-op).
func (nopCloser) Close() error {
	return nil
}

// OpenFile opens named file for reading.
// Returned stream yields logical content; texture records include a DDS header.
func (a *Archive) OpenFile(archivePath string) (io.ReadCloser, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}

	f, ok := a.FindFile(archivePath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, archivePath)
	}

	return f.Open()
}

// Open opens logical content of the file.
// Flat archive entries are streamed from the source; other entries are read into memory.
func (f *File) Open() (io.ReadCloser, error) {
	if f.isNew || f.src == nil || f.chunked() {
		data, err := f.content()
		if err != nil {
			return nil, err
		}

		return nopCloser{Reader: bytes.NewReader(data)}, nil
	}

	return f.openStored()
}

// openStored streams one flat stored payload, skipping embedded names and decoding on the fly.
func (f *File) openStored() (io.ReadCloser, error) {
	entryPath := f.Path()
	sr, err := f.src.section(entryPath, f.dataOffset, f.size)
	if err != nil {
		return nil, err
	}

	var r io.Reader = sr
	if f.src.layout.embedNames {
		var n [1]byte
		if _, err := io.ReadFull(sr, n[:]); err != nil {
			return nil, fmt.Errorf("%w: %s embedded name: %w", ErrCorruptArchive, entryPath, err)
		}
		if int64(n[0])+1 > sr.Size() {
			return nil, fmt.Errorf("%w: %s embedded name exceeds payload", ErrCorruptArchive, entryPath)
		}
		r = io.NewSectionReader(sr, int64(n[0])+1, sr.Size()-int64(n[0])-1)
	}

	if f.stored == CompressionRaw {
		return nopCloser{Reader: r}, nil
	}

	layout := f.src.layout
	if layout.codec == nil {
		return nil, fmt.Errorf("%w: %s is compressed in %s archive", ErrCorruptArchive, entryPath, layout.format)
	}

	if err := checkDecodedSize(f.uncompressedSize); err != nil {
		return nil, fmt.Errorf("%s: %w", entryPath, err)
	}

	size := int(f.uncompressedSize)
	if layout.framing == framingSizePrefixed {
		var prefix [4]byte
		if _, err := io.ReadFull(r, prefix[:]); err != nil {
			return nil, fmt.Errorf("%w: %s size prefix: %w", ErrCorruptArchive, entryPath, err)
		}
		prefixed, err := decodeSizePrefix(prefix[:])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entryPath, err)
		}
		size = prefixed
	}

	dec, ok := layout.codec.(streamDecoder)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDataTransfer, entryPath, err)
		}
		out, err := layout.codec.Decode(data, size)
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s with %s: %w", ErrCorruptArchive, entryPath, layout.codec.ID(), err)
		}

		return nopCloser{Reader: bytes.NewReader(out)}, nil
	}

	pr, pw := io.Pipe()
	go streamDecodeEntry(entryPath, dec, layout.codec.ID(), pw, r, size)

	return pr, nil
}

// streamDecodeEntry decodes one compressed entry stream into pipe writer.
func streamDecodeEntry(entryPath string, dec streamDecoder, id CodecID, dst *io.PipeWriter, src io.Reader, size int) {
	if err := dec.DecodeTo(dst, src, size); err != nil {
		_ = dst.CloseWithError(fmt.Errorf("%w: decode %s with %s: %w", ErrCorruptArchive, entryPath, id, err))
		return
	}

	_ = dst.Close()
}
