// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"encoding/binary"
	"fmt"
)

// DDS container layout.
const (
	ddsMagic         = 0x20534444 // "DDS "
	ddsHeaderSize    = 124
	ddsPrefixSize    = 4 + ddsHeaderSize
	ddsDX10Size      = 20
	ddsPixelFmtSize  = 32
	ddsChunkMinBytes = 64 * 1024
	ddsPCTileMode    = 8
)

// DDS header flag bits.
const (
	ddsdCaps        = 0x1
	ddsdHeight      = 0x2
	ddsdWidth       = 0x4
	ddsdPitch       = 0x8
	ddsdPixelFormat = 0x1000
	ddsdMipMapCount = 0x20000
	ddsdLinearSize  = 0x80000

	ddpfAlphaPixels = 0x1
	ddpfFourCC      = 0x4
	ddpfRGB         = 0x40

	ddsCapsComplex = 0x8
	ddsCapsTexture = 0x1000
	ddsCapsMipMap  = 0x400000

	ddsCaps2Cubemap    = 0x200
	ddsCaps2AllFaces   = 0xfc00
	ddsResourceMisc2D  = 3
	ddsMiscTextureCube = 0x4
)

// DXGI formats with a legacy FourCC or mask mapping.
const (
	dxgiR8G8B8A8UNorm = 28
	dxgiBC1UNorm      = 71
	dxgiBC2UNorm      = 74
	dxgiBC3UNorm      = 77
	dxgiBC4UNorm      = 80
	dxgiBC5UNorm      = 83
	dxgiBC5SNorm      = 84
	dxgiB8G8R8A8UNorm = 87
)

// legacyFourCC maps DXGI format to pre-DX10 FourCC code.
var legacyFourCC = map[uint8]string{
	dxgiBC1UNorm: "DXT1",
	dxgiBC2UNorm: "DXT3",
	dxgiBC3UNorm: "DXT5",
	dxgiBC4UNorm: "ATI1",
	dxgiBC5UNorm: "ATI2",
}

// fourCCFormats maps legacy FourCC code to DXGI format.
var fourCCFormats = map[string]uint8{
	"DXT1": dxgiBC1UNorm,
	"DXT3": dxgiBC2UNorm,
	"DXT5": dxgiBC3UNorm,
	"ATI1": dxgiBC4UNorm,
	"BC4U": dxgiBC4UNorm,
	"ATI2": dxgiBC5UNorm,
	"BC5U": dxgiBC5UNorm,
	"BC5S": dxgiBC5SNorm,
}

// dxgiLayout returns block size in bytes for block-compressed formats or bits per pixel otherwise.
func dxgiLayout(format uint8) (blockBytes int, bitsPerPixel int, ok bool) {
	switch format {
	case 70, 71, 72, 79, 80, 81: // BC1, BC4
		return 8, 0, true
	case 73, 74, 75, 76, 77, 78, 82, 83, 84, 94, 95, 96, 97, 98, 99: // BC2, BC3, BC5, BC6H, BC7
		return 16, 0, true
	case 27, 28, 29, 30, 31, 32, 87, 88, 90, 91: // 32-bit RGBA/BGRA
		return 0, 32, true
	case 85, 86, 115: // 16-bit B5G6R5, B5G5R5A1, B4G4R4A4
		return 0, 16, true
	case 60, 61, 62, 63, 64, 65: // 8-bit single channel
		return 0, 8, true
	}

	return 0, 0, false
}

// mipSize returns byte size of one mip level.
func mipSize(format uint8, width, height uint32) (int, bool) {
	blockBytes, bpp, ok := dxgiLayout(format)
	if !ok {
		return 0, false
	}

	width = max(width, 1)
	height = max(height, 1)
	if blockBytes > 0 {
		return int((width+3)/4) * int((height+3)/4) * blockBytes, true
	}

	return int(width) * int(height) * bpp / 8, true
}

// parseDDS reads a DDS file and returns texture header and pixel data following the header.
func parseDDS(data []byte) (TextureHeader, []byte, error) {
	if len(data) < ddsPrefixSize || binary.LittleEndian.Uint32(data[0:4]) != ddsMagic {
		return TextureHeader{}, nil, fmt.Errorf("%w: not a DDS file", ErrInvalidTexture)
	}
	if binary.LittleEndian.Uint32(data[4:8]) != ddsHeaderSize {
		return TextureHeader{}, nil, fmt.Errorf("%w: DDS header size", ErrInvalidTexture)
	}

	height := binary.LittleEndian.Uint32(data[12:16])
	width := binary.LittleEndian.Uint32(data[16:20])
	mips := binary.LittleEndian.Uint32(data[28:32])
	pfFlags := binary.LittleEndian.Uint32(data[80:84])
	fourCC := string(data[84:88])
	bitCount := binary.LittleEndian.Uint32(data[88:92])
	redMask := binary.LittleEndian.Uint32(data[92:96])
	caps2 := binary.LittleEndian.Uint32(data[112:116])

	if height > 0xffff || width > 0xffff || mips > 0xff {
		return TextureHeader{}, nil, fmt.Errorf("%w: DDS dimensions %dx%d mips %d", ErrInvalidTexture, width, height, mips)
	}
	if mips == 0 {
		mips = 1
	}

	header := TextureHeader{
		Height:   uint16(height),
		Width:    uint16(width),
		MipCount: uint8(mips),
		TileMode: ddsPCTileMode,
	}
	if caps2&ddsCaps2Cubemap != 0 {
		header.Flags |= TextureFlagCubemap
	}

	payload := data[ddsPrefixSize:]
	switch {
	case pfFlags&ddpfFourCC != 0 && fourCC == "DX10":
		if len(data) < ddsPrefixSize+ddsDX10Size {
			return TextureHeader{}, nil, fmt.Errorf("%w: short DX10 header", ErrInvalidTexture)
		}
		ext := data[ddsPrefixSize : ddsPrefixSize+ddsDX10Size]
		dxgi := binary.LittleEndian.Uint32(ext[0:4])
		if dxgi > 0xff {
			return TextureHeader{}, nil, fmt.Errorf("%w: DXGI format %d", ErrInvalidTexture, dxgi)
		}
		header.Format = uint8(dxgi)
		if binary.LittleEndian.Uint32(ext[8:12])&ddsMiscTextureCube != 0 {
			header.Flags |= TextureFlagCubemap
		}
		payload = data[ddsPrefixSize+ddsDX10Size:]
	case pfFlags&ddpfFourCC != 0:
		format, ok := fourCCFormats[fourCC]
		if !ok {
			return TextureHeader{}, nil, fmt.Errorf("%w: FourCC %q", ErrInvalidTexture, fourCC)
		}
		header.Format = format
	case pfFlags&ddpfRGB != 0 && bitCount == 32:
		if redMask == 0x000000ff {
			header.Format = dxgiR8G8B8A8UNorm
		} else {
			header.Format = dxgiB8G8R8A8UNorm
		}
	default:
		return TextureHeader{}, nil, fmt.Errorf("%w: unsupported pixel format", ErrInvalidTexture)
	}

	return header, payload, nil
}

// buildDDSHeader synthesizes DDS magic and header for texture record extraction.
// Formats with a legacy FourCC or mask layout get a plain header; the rest get the DX10 extension.
func buildDDSHeader(h TextureHeader) ([]byte, error) {
	blockBytes, bpp, ok := dxgiLayout(h.Format)
	if !ok {
		return nil, fmt.Errorf("DXGI format %d", h.Format)
	}

	cube := h.Flags&TextureFlagCubemap != 0
	fourCC, legacy := legacyFourCC[h.Format]
	rgba := h.Format == dxgiR8G8B8A8UNorm || h.Format == dxgiB8G8R8A8UNorm
	size := ddsPrefixSize
	if !legacy && !rgba {
		size += ddsDX10Size
	}

	out := make([]byte, size)
	le := binary.LittleEndian
	le.PutUint32(out[0:4], ddsMagic)
	le.PutUint32(out[4:8], ddsHeaderSize)

	flags := uint32(ddsdCaps | ddsdHeight | ddsdWidth | ddsdPixelFormat)
	caps := uint32(ddsCapsTexture)
	if h.MipCount > 1 {
		flags |= ddsdMipMapCount
		caps |= ddsCapsComplex | ddsCapsMipMap
	}

	var pitch uint32
	if blockBytes > 0 {
		flags |= ddsdLinearSize
		top, _ := mipSize(h.Format, uint32(h.Width), uint32(h.Height))
		pitch = uint32(top) //nolint:gosec // bounded by 16-bit dimensions
	} else {
		flags |= ddsdPitch
		pitch = (uint32(h.Width)*uint32(bpp) + 7) / 8 //nolint:gosec // small constant
	}

	le.PutUint32(out[8:12], flags)
	le.PutUint32(out[12:16], uint32(h.Height))
	le.PutUint32(out[16:20], uint32(h.Width))
	le.PutUint32(out[20:24], pitch)
	le.PutUint32(out[28:32], uint32(max(h.MipCount, 1)))

	le.PutUint32(out[76:80], ddsPixelFmtSize)
	switch {
	case legacy:
		le.PutUint32(out[80:84], ddpfFourCC)
		copy(out[84:88], fourCC)
	case rgba:
		le.PutUint32(out[80:84], ddpfRGB|ddpfAlphaPixels)
		le.PutUint32(out[88:92], 32)
		if h.Format == dxgiR8G8B8A8UNorm {
			le.PutUint32(out[92:96], 0x000000ff)
			le.PutUint32(out[96:100], 0x0000ff00)
			le.PutUint32(out[100:104], 0x00ff0000)
		} else {
			le.PutUint32(out[92:96], 0x00ff0000)
			le.PutUint32(out[96:100], 0x0000ff00)
			le.PutUint32(out[100:104], 0x000000ff)
		}
		le.PutUint32(out[104:108], 0xff000000)
	default:
		le.PutUint32(out[80:84], ddpfFourCC)
		copy(out[84:88], "DX10")
	}

	if cube {
		caps |= ddsCapsComplex
		le.PutUint32(out[112:116], ddsCaps2Cubemap|ddsCaps2AllFaces)
	}
	le.PutUint32(out[108:112], caps)

	if size > ddsPrefixSize {
		ext := out[ddsPrefixSize:]
		le.PutUint32(ext[0:4], uint32(h.Format))
		le.PutUint32(ext[4:8], ddsResourceMisc2D)
		if cube {
			le.PutUint32(ext[8:12], ddsMiscTextureCube)
		}
		le.PutUint32(ext[12:16], 1)
	}

	return out, nil
}

// chunkSpan is a slice of texture data mapped to a mip range.
type chunkSpan struct {
	start    int
	end      int
	startMip uint16
	endMip   uint16
}

// splitMipChunks maps texture pixel data to chunks.
// Large leading mips get one chunk each; the small tail is merged.
// Cubemaps and unknown layouts stay in a single chunk.
func splitMipChunks(h TextureHeader, data []byte) []chunkSpan {
	lastMip := uint16(max(h.MipCount, 1) - 1)
	whole := []chunkSpan{{start: 0, end: len(data), startMip: 0, endMip: lastMip}}
	if h.Flags&TextureFlagCubemap != 0 || h.MipCount <= 1 {
		return whole
	}

	spans := make([]chunkSpan, 0, 4)
	width, height := uint32(h.Width), uint32(h.Height)
	pos := 0
	for mip := uint16(0); mip < lastMip; mip++ {
		size, ok := mipSize(h.Format, width, height)
		if !ok {
			return whole
		}
		if size < ddsChunkMinBytes || pos+size > len(data) {
			break
		}

		spans = append(spans, chunkSpan{start: pos, end: pos + size, startMip: mip, endMip: mip})
		pos += size
		width >>= 1
		height >>= 1
	}

	if pos >= len(data) {
		return whole
	}

	startMip := uint16(len(spans)) //nolint:gosec // at most 255 mips
	spans = append(spans, chunkSpan{start: pos, end: len(data), startMip: startMip, endMip: lastMip})
	return spans
}
