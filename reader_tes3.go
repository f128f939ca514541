// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"encoding/binary"
	"fmt"
)

// Morrowind BSA layout.
const (
	tes3HeaderSize     = 12
	tes3RecordSize     = 8
	tes3NameOffsetSize = 4
	tes3HashSize       = 8
)

// parseTES3 parses Morrowind directory: size/offset table, name offsets, names, hash table.
func (a *Archive) parseTES3(src *source, verify bool) error {
	var head [tes3HeaderSize]byte
	if _, err := src.ra.ReadAt(head[:], 0); err != nil {
		return fmt.Errorf("%w: read header: %w", ErrCorruptArchive, err)
	}

	hashOffset := int64(binary.LittleEndian.Uint32(head[4:8]))
	count := binary.LittleEndian.Uint32(head[8:12])
	if err := checkCount("file", count, tes3RecordSize+tes3NameOffsetSize+tes3HashSize, src.size-tes3HeaderSize); err != nil {
		return err
	}

	dataStart := tes3HeaderSize + hashOffset + int64(count)*tes3HashSize
	namesStart := int64(count) * (tes3RecordSize + tes3NameOffsetSize)
	if hashOffset < namesStart || dataStart > src.size {
		return fmt.Errorf("%w: hash table offset %d", ErrCorruptArchive, hashOffset)
	}

	tr := newTableReader(src.ra, tes3HeaderSize, dataStart)
	defer tr.release()

	sizes := make([]uint32, count)
	offsets := make([]uint32, count)
	for i := range sizes {
		sizes[i] = tr.u32()
		offsets[i] = tr.u32()
	}

	nameOffsets := make([]uint32, count)
	for i := range nameOffsets {
		nameOffsets[i] = tr.u32()
	}

	names := tr.bytes(int(hashOffset - namesStart))
	hashes := make([]uint64, count)
	for i := range hashes {
		low := tr.u32()
		high := tr.u32()
		hashes[i] = uint64(high)<<32 | uint64(low)
	}
	if tr.err != nil {
		return tr.err
	}

	for i := uint32(0); i < count; i++ {
		name, err := tes3Name(names, nameOffsets[i])
		if err != nil {
			return err
		}

		entryPath, err := normalizeArchiveEntryPath(name)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptArchive, err)
		}

		dir, base := splitArchivePath(entryPath)
		if verify {
			if computed := a.arena.hasher.FileHash(dir, base); computed != hashes[i] {
				return hashMismatch("file", name, hashes[i], computed)
			}
		}

		offset := uint64(dataStart) + uint64(offsets[i]) //nolint:gosec // dataStart bounded by size
		f := newOutOfBandFile(src, base, sizes[i], offset, sizes[i], CompressionRaw, nil, nil)
		f.nameHash = hashes[i]
		f.ordinal = uint64(i) + 1
		if err := a.attachParsed(dir, f); err != nil {
			return err
		}
	}

	return nil
}

// tes3Name returns NUL-terminated name at offset inside the name block.
func tes3Name(names []byte, offset uint32) (string, error) {
	if int64(offset) >= int64(len(names)) {
		return "", fmt.Errorf("%w: name offset %d outside name table", ErrCorruptArchive, offset)
	}

	rest := names[offset:]
	for i, b := range rest {
		if b == 0 {
			return string(rest[:i]), nil
		}
	}

	return "", fmt.Errorf("%w: unterminated name at %d", ErrCorruptArchive, offset)
}
