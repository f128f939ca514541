// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

// BA2 texture record layout.
const (
	ba2ChunkHeaderSize  = 24
	ba2TextureRecordLen = 24
	ba2RecordSentinel   = 0xbaadf00d

	// TextureFlagCubemap marks a six-face cube texture.
	TextureFlagCubemap uint8 = 0x1
)

// TextureHeader is the fixed texture description stored before the chunk table.
type TextureHeader struct {
	// Height is texture height in pixels.
	Height uint16 `json:"height" yaml:"height"`
	// Width is texture width in pixels.
	Width uint16 `json:"width" yaml:"width"`
	// MipCount is mip chain depth.
	MipCount uint8 `json:"mip_count" yaml:"mip_count"`
	// Format is DXGI_FORMAT pixel format value.
	Format uint8 `json:"format" yaml:"format"`
	// Flags stores texture flags (TextureFlagCubemap).
	Flags uint8 `json:"flags,omitempty" yaml:"flags,omitempty"`
	// TileMode is console tiling mode (8 on PC).
	TileMode uint8 `json:"tile_mode,omitempty" yaml:"tile_mode,omitempty"`
}

// IsZero reports whether the header describes no texture (plain file stored in a texture archive).
func (h TextureHeader) IsZero() bool {
	return h == TextureHeader{}
}

// TextureChunk describes one independently addressable part of texture payload.
type TextureChunk struct {
	// Offset is payload offset in the archive.
	Offset uint64 `json:"offset" yaml:"offset"`
	// PackedSize is compressed size; zero when chunk is stored raw.
	PackedSize uint32 `json:"packed_size,omitempty" yaml:"packed_size,omitempty"`
	// UnpackedSize is logical chunk size.
	UnpackedSize uint32 `json:"unpacked_size" yaml:"unpacked_size"`
	// StartMip is first mip level stored in chunk.
	StartMip uint16 `json:"start_mip" yaml:"start_mip"`
	// EndMip is last mip level stored in chunk.
	EndMip uint16 `json:"end_mip" yaml:"end_mip"`
}

// StoredSize returns on-disk chunk size.
func (c TextureChunk) StoredSize() uint32 {
	if c.PackedSize != 0 {
		return c.PackedSize
	}

	return c.UnpackedSize
}

// Compression returns stored chunk compression state.
func (c TextureChunk) Compression() Compression {
	return compressionOf(c.PackedSize != 0)
}

// fileChunk is a chunk with its own write intent.
type fileChunk struct {
	TextureChunk
	want Compression
}
