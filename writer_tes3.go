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

// tes3Writer writes Morrowind archives.
type tes3Writer struct {
	t          *writeTarget
	dataStart  uint64
	namesLen   uint64
	hashOffset uint64
}

// order sorts entries by Morrowind hash.
func (w *tes3Writer) order(entries []*stagedEntry) {
	sortStaged(FormatMorrowind, entries)
}

// layout returns absolute offset of the first payload byte.
func (w *tes3Writer) layout(entries []*stagedEntry) (uint64, error) {
	n := uint64(len(entries))
	w.namesLen = 0
	for _, e := range entries {
		w.namesLen += uint64(len(e.path)) + 1
	}

	w.hashOffset = n*(tes3RecordSize+tes3NameOffsetSize) + w.namesLen
	if w.hashOffset > math.MaxUint32 {
		return 0, fmt.Errorf("%w: Morrowind directory of %d bytes", ErrSizeLimitExceeded, w.hashOffset)
	}

	w.dataStart = tes3HeaderSize + w.hashOffset + n*tes3HashSize
	return w.dataStart, nil
}

// writeIndex writes header, size/offset table, name offsets, names and hash table.
func (w *tes3Writer) writeIndex(out io.Writer, entries []*stagedEntry) error {
	le := binary.LittleEndian
	buf := make([]byte, 0, int(w.dataStart))
	buf = le.AppendUint32(buf, magicTES3)
	buf = le.AppendUint32(buf, uint32(w.hashOffset))
	buf = le.AppendUint32(buf, uint32(len(entries))) //nolint:gosec // counts bounded by memory

	for _, e := range entries {
		part := e.parts[0]
		rel := part.offset - w.dataStart
		if rel > math.MaxUint32 {
			return fmt.Errorf("%w: %s data offset %d exceeds 4 GiB", ErrSizeLimitExceeded, e.path, rel)
		}

		buf = le.AppendUint32(buf, part.size)
		buf = le.AppendUint32(buf, uint32(rel))
	}

	var nameOffset uint32
	for _, e := range entries {
		buf = le.AppendUint32(buf, nameOffset)
		nameOffset += uint32(len(e.path)) + 1 //nolint:gosec // bounded by hashOffset check
	}

	for _, e := range entries {
		buf = append(buf, e.path...)
		buf = append(buf, 0)
	}

	for _, e := range entries {
		buf = le.AppendUint32(buf, uint32(e.nameHash))
		buf = le.AppendUint32(buf, uint32(e.nameHash>>32))
	}

	if _, err := out.Write(buf); err != nil {
		return fmt.Errorf("%w: write directory: %w", ErrWrite, err)
	}

	return nil
}

// writeTrailer is a no-op; Morrowind archives end with payload data.
func (w *tes3Writer) writeTrailer(io.Writer, []*stagedEntry) error {
	return nil
}
