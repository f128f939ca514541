// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Format identifies one on-disk archive revision.
type Format uint8

// Supported archive formats.
const (
	// FormatUnknown is the zero value for undetected input.
	FormatUnknown Format = iota
	// FormatMorrowind is the original flat BSA without compression.
	FormatMorrowind
	// FormatOblivion is BSA version 103.
	FormatOblivion
	// FormatFallout3 is BSA version 104 (Fallout 3, New Vegas, Skyrim).
	FormatFallout3
	// FormatSkyrimSE is BSA version 105 with LZ4 frame compression.
	FormatSkyrimSE
	// FormatBA2General is a BA2 archive with general file records.
	FormatBA2General
	// FormatBA2Texture is a BA2 archive with chunked texture records.
	FormatBA2Texture
)

// On-disk magic values and versions.
const (
	magicTES3    uint32 = 0x00000100
	magicTES4    uint32 = 0x00415342 // "BSA\0"
	magicBA2     uint32 = 0x58445442 // "BTDX"
	ba2TypeGNRL  uint32 = 0x4c524e47 // "GNRL"
	ba2TypeDX10  uint32 = 0x30315844 // "DX10"
	versionTES4A uint32 = 103
	versionTES4B uint32 = 104
	versionTES4C uint32 = 105

	// DefaultBA2Version is the Fallout 4 BA2 revision written for new archives.
	DefaultBA2Version uint32 = 1
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatMorrowind:
		return "morrowind"
	case FormatOblivion:
		return "oblivion"
	case FormatFallout3:
		return "fallout3"
	case FormatSkyrimSE:
		return "skyrimse"
	case FormatBA2General:
		return "ba2-general"
	case FormatBA2Texture:
		return "ba2-texture"
	default:
		return "unknown"
	}
}

// IsTES4 reports whether the format is a BSA with folder records (v103-v105).
func (f Format) IsTES4() bool {
	return f == FormatOblivion || f == FormatFallout3 || f == FormatSkyrimSE
}

// IsBA2 reports whether the format is a BA2 container.
func (f Format) IsBA2() bool {
	return f == FormatBA2General || f == FormatBA2Texture
}

// SupportsCompression reports whether payloads of this format may be compressed.
func (f Format) SupportsCompression() bool {
	return f != FormatMorrowind && f != FormatUnknown
}

// DefaultCodec returns the codec used by the game for this format.
func (f Format) DefaultCodec() CodecID {
	switch f {
	case FormatSkyrimSE:
		return CodecLZ4Frame
	case FormatOblivion, FormatFallout3, FormatBA2General, FormatBA2Texture:
		return CodecZlib
	default:
		return CodecNone
	}
}

// tes4Version returns the BSA header version for TES4 formats.
func (f Format) tes4Version() uint32 {
	switch f {
	case FormatOblivion:
		return versionTES4A
	case FormatFallout3:
		return versionTES4B
	default:
		return versionTES4C
	}
}

// hasher returns the name hash engine used by the format.
func (f Format) hasher() Hasher {
	switch {
	case f == FormatMorrowind:
		return tes3Hasher{}
	case f.IsBA2():
		return ba2Hasher{}
	default:
		return tes4Hasher{}
	}
}

// ArchiveFlags are TES4 BSA header flags.
type ArchiveFlags uint32

// TES4 archive flag bits.
const (
	FlagDirectoryNames        ArchiveFlags = 0x1
	FlagFileNames             ArchiveFlags = 0x2
	FlagCompressed            ArchiveFlags = 0x4
	FlagRetainDirectoryNames  ArchiveFlags = 0x8
	FlagRetainFileNames       ArchiveFlags = 0x10
	FlagRetainFileNameOffsets ArchiveFlags = 0x20
	FlagXbox360               ArchiveFlags = 0x40
	FlagRetainStrings         ArchiveFlags = 0x80
	FlagEmbedFileNames        ArchiveFlags = 0x100
	FlagXMemCodec             ArchiveFlags = 0x200

	// DefaultArchiveFlags are written for new TES4 archives.
	DefaultArchiveFlags = FlagDirectoryNames | FlagFileNames
)

// Has reports whether all bits of flag are set.
func (f ArchiveFlags) Has(flag ArchiveFlags) bool {
	return f&flag == flag
}

// headerProbe carries the detection result of the first header bytes.
type headerProbe struct {
	format     Format
	version    uint32
	ba2Version uint32
}

// detectFormat reads the leading magic and returns detected archive format.
func detectFormat(ra io.ReaderAt, size int64) (headerProbe, error) {
	if ra == nil {
		return headerProbe{}, ErrNilReader
	}
	if size < 12 {
		return headerProbe{}, fmt.Errorf("%w: short header", ErrUnsupportedFormat)
	}

	var head [12]byte
	if _, err := ra.ReadAt(head[:], 0); err != nil {
		return headerProbe{}, fmt.Errorf("%w: read header: %w", ErrCorruptArchive, err)
	}

	magic := binary.LittleEndian.Uint32(head[0:4])
	version := binary.LittleEndian.Uint32(head[4:8])
	switch magic {
	case magicTES3:
		return headerProbe{format: FormatMorrowind, version: magicTES3}, nil
	case magicTES4:
		switch version {
		case versionTES4A:
			return headerProbe{format: FormatOblivion, version: version}, nil
		case versionTES4B:
			return headerProbe{format: FormatFallout3, version: version}, nil
		case versionTES4C:
			return headerProbe{format: FormatSkyrimSE, version: version}, nil
		}

		return headerProbe{}, fmt.Errorf("%w: BSA version %d", ErrUnsupportedFormat, version)
	case magicBA2:
		if !isSupportedBA2Version(version) {
			return headerProbe{}, fmt.Errorf("%w: BA2 version %d", ErrUnsupportedFormat, version)
		}

		switch binary.LittleEndian.Uint32(head[8:12]) {
		case ba2TypeGNRL:
			return headerProbe{format: FormatBA2General, ba2Version: version}, nil
		case ba2TypeDX10:
			return headerProbe{format: FormatBA2Texture, ba2Version: version}, nil
		}

		return headerProbe{}, fmt.Errorf("%w: BA2 type %q", ErrUnsupportedFormat, head[8:12])
	}

	return headerProbe{}, fmt.Errorf("%w: magic %08x", ErrUnsupportedFormat, magic)
}

// isSupportedBA2Version reports whether BA2 revision shares the Fallout 4 header layout.
func isSupportedBA2Version(version uint32) bool {
	return version == 1 || version == 7 || version == 8
}
