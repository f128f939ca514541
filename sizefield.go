// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"encoding/binary"
	"fmt"
)

// Packed TES4 size field layout: size:30 | toggle:1 | reserved:1.
const (
	sizeMask     uint32 = 0x3fffffff
	compressMask uint32 = 0xc0000000
	toggleBit    uint32 = 0x40000000
	reservedBit  uint32 = 0x80000000

	// MaxEntrySize is the largest on-disk entry size representable by the packed size field.
	MaxEntrySize = sizeMask
)

// Compression is an absolute payload compression state.
type Compression uint8

// Payload compression states.
const (
	// CompressionRaw means payload bytes are stored as-is.
	CompressionRaw Compression = iota
	// CompressionCompressed means payload bytes are encoded by the archive codec.
	CompressionCompressed
)

// String returns state name.
func (c Compression) String() string {
	if c == CompressionCompressed {
		return "compressed"
	}

	return "raw"
}

// compressionOf converts boolean into compression state.
func compressionOf(compressed bool) Compression {
	if compressed {
		return CompressionCompressed
	}

	return CompressionRaw
}

// sizeField is the decoded form of one packed size field.
type sizeField struct {
	size     uint32
	toggle   bool
	reserved bool
}

// unpackSizeField splits raw packed size into size and flag bits.
func unpackSizeField(raw uint32) sizeField {
	return sizeField{
		size:     raw & sizeMask,
		toggle:   raw&toggleBit != 0,
		reserved: raw&reservedBit != 0,
	}
}

// packSizeField assembles packed size and fails instead of truncating oversized values.
func packSizeField(field sizeField) (uint32, error) {
	if field.size > sizeMask {
		return 0, fmt.Errorf("%w: size %d exceeds %d", ErrSizeLimitExceeded, field.size, sizeMask)
	}

	raw := field.size
	if field.toggle {
		raw |= toggleBit
	}
	if field.reserved {
		raw |= reservedBit
	}

	return raw, nil
}

// checkedEntrySize validates int64 size against packed field range.
func checkedEntrySize(path string, size int64) (uint32, error) {
	if size < 0 || size > int64(sizeMask) {
		return 0, fmt.Errorf("%w: entry %s size %d exceeds %d", ErrSizeLimitExceeded, path, size, sizeMask)
	}

	return uint32(size), nil //nolint:gosec // bounded above
}

// decodeSizePrefix reads the little-endian original-size prefix of a compressed payload.
// Sizes past the packed field range are corrupt and rejected before any allocation.
func decodeSizePrefix(prefix []byte) (int, error) {
	size := binary.LittleEndian.Uint32(prefix)
	if err := checkDecodedSize(size); err != nil {
		return 0, err
	}

	return int(size), nil
}

// checkDecodedSize rejects decode targets past the packed field range.
func checkDecodedSize(size uint32) error {
	if size > sizeMask {
		return fmt.Errorf("%w: decoded size %d exceeds %d", ErrCorruptArchive, size, sizeMask)
	}

	return nil
}

// effectiveCompression resolves absolute state from archive default and per-entry toggle.
func effectiveCompression(archiveCompressed bool, toggle bool) Compression {
	return compressionOf(archiveCompressed != toggle)
}

// toggleFor returns toggle bit value that encodes state c under archive default.
func toggleFor(archiveCompressed bool, c Compression) bool {
	return (c == CompressionCompressed) != archiveCompressed
}
