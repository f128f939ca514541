// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ba2Writer writes GNRL and DX10 archives.
type ba2Writer struct {
	t         *writeTarget
	nameTable uint64
	omitNames bool
}

// order keeps insertion order.
func (w *ba2Writer) order(entries []*stagedEntry) {
	sortStaged(w.t.format, entries)
}

// layout returns absolute offset of the first payload byte and the name table position.
func (w *ba2Writer) layout(entries []*stagedEntry) (uint64, error) {
	dataStart := uint64(ba2HeaderSize)
	for _, e := range entries {
		if len(e.path) > math.MaxUint16 {
			return 0, fmt.Errorf("%w: name %s longer than 65535 bytes", ErrSizeLimitExceeded, e.path)
		}

		if w.t.format == FormatBA2Texture {
			if len(e.parts) > math.MaxUint8 {
				return 0, fmt.Errorf("%w: %s has %d chunks", ErrSizeLimitExceeded, e.path, len(e.parts))
			}
			dataStart += ba2TextureRecordLen + uint64(len(e.parts))*ba2ChunkHeaderSize
		} else {
			dataStart += ba2GeneralRecLen
		}
	}

	w.omitNames = w.t.names != nil && w.t.names.noNameTable
	w.nameTable = 0
	if !w.omitNames {
		w.nameTable = dataStart
		for _, e := range entries {
			w.nameTable += e.size()
		}
	}

	w.t.written = storedNames{
		files:       uint32(len(entries)), //nolint:gosec // counts bounded by memory
		noNameTable: w.omitNames,
	}

	return dataStart, nil
}

// writeIndex writes header and file records.
func (w *ba2Writer) writeIndex(out io.Writer, entries []*stagedEntry) error {
	le := binary.LittleEndian
	buf := make([]byte, 0, 4096)
	buf = le.AppendUint32(buf, magicBA2)
	buf = le.AppendUint32(buf, w.t.version)
	if w.t.format == FormatBA2Texture {
		buf = le.AppendUint32(buf, ba2TypeDX10)
	} else {
		buf = le.AppendUint32(buf, ba2TypeGNRL)
	}
	buf = le.AppendUint32(buf, uint32(len(entries))) //nolint:gosec // counts bounded by memory
	buf = le.AppendUint64(buf, w.nameTable)

	for _, e := range entries {
		buf = le.AppendUint32(buf, uint32(e.nameHash))
		buf = le.AppendUint32(buf, uint32(e.nameHash>>32))
		buf = le.AppendUint32(buf, uint32(e.folderHash))

		if w.t.format != FormatBA2Texture {
			part := e.parts[0]
			buf = le.AppendUint32(buf, e.recordFlags)
			buf = le.AppendUint64(buf, part.offset)
			buf = le.AppendUint32(buf, packedSizeOf(part))
			buf = le.AppendUint32(buf, part.unpacked)
			buf = le.AppendUint32(buf, ba2RecordSentinel)
			continue
		}

		tex := TextureHeader{}
		if e.texture != nil {
			tex = *e.texture
		}
		buf = append(buf, byte(e.recordFlags), byte(len(e.parts)))
		buf = le.AppendUint16(buf, ba2ChunkHeaderSize)
		buf = le.AppendUint16(buf, tex.Height)
		buf = le.AppendUint16(buf, tex.Width)
		buf = append(buf, tex.MipCount, tex.Format, tex.Flags, tex.TileMode)

		for i := range e.parts {
			part := e.parts[i]
			buf = le.AppendUint64(buf, part.offset)
			buf = le.AppendUint32(buf, packedSizeOf(part))
			buf = le.AppendUint32(buf, part.unpacked)
			buf = le.AppendUint16(buf, part.startMip)
			buf = le.AppendUint16(buf, part.endMip)
			buf = le.AppendUint32(buf, ba2RecordSentinel)
		}
	}

	if _, err := out.Write(buf); err != nil {
		return fmt.Errorf("%w: write records: %w", ErrWrite, err)
	}

	return nil
}

// writeTrailer writes the name table after payload data.
func (w *ba2Writer) writeTrailer(out io.Writer, entries []*stagedEntry) error {
	if w.omitNames {
		return nil
	}

	le := binary.LittleEndian
	buf := make([]byte, 0, 4096)
	for _, e := range entries {
		buf = le.AppendUint16(buf, uint16(len(e.path))) //nolint:gosec // checked in layout
		buf = append(buf, e.path...)
	}

	if _, err := out.Write(buf); err != nil {
		return fmt.Errorf("%w: write name table: %w", ErrWrite, err)
	}

	return nil
}

// packedSizeOf returns BA2 packed size field: zero for raw parts.
func packedSizeOf(part stagedPart) uint32 {
	if part.state == CompressionCompressed {
		return part.size
	}

	return 0
}
