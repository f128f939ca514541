// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"encoding/binary"
	"hash/crc32"
	"strings"
)

// Hasher derives lookup keys from entry names.
// Input is case-normalized by the implementation, so equal names in any case hash equally.
type Hasher interface {
	// FileHash returns the key stored for file name located in dir.
	FileHash(dir string, name string) uint64
	// FolderHash returns the key stored for folder path dir.
	FolderHash(dir string) uint64
}

// Hash returns the file name hash for archivePath in format f.
func Hash(f Format, archivePath string) uint64 {
	dir, name := splitArchivePath(archivePath)
	return f.hasher().FileHash(dir, name)
}

// hashKey lower-cases ASCII letters and converts "/" into "\".
func hashKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "/", `\`))
}

// tes4Hasher implements the 64-bit hash of Oblivion/Fallout/Skyrim BSA archives.
type tes4Hasher struct{}

// FileHash hashes the base name with extension markers.
func (tes4Hasher) FileHash(_ string, name string) uint64 {
	return tes4Hash(hashKey(name), true)
}

// FolderHash hashes the whole folder path without extension split.
func (tes4Hasher) FolderHash(dir string) uint64 {
	return tes4Hash(hashKey(dir), false)
}

// tes4Hash computes TES4 hash of already normalized name.
func tes4Hash(name string, splitExt bool) uint64 {
	root, ext := name, ""
	if splitExt {
		if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
			root, ext = name[:dot], name[dot:]
		}
	}

	var h1 uint32
	if n := len(root); n > 0 {
		h1 = uint32(root[n-1]) | uint32(n)<<16 | uint32(root[0])<<24 //nolint:gosec // name length wraps like the game
		if n > 2 {
			h1 |= uint32(root[n-2]) << 8
		}
	}

	switch ext {
	case ".kf":
		h1 |= 0x80
	case ".nif":
		h1 |= 0x8000
	case ".dds":
		h1 |= 0x8080
	case ".wav":
		h1 |= 0x80000000
	}

	var h2 uint32
	for i := 1; i < len(root)-2; i++ {
		h2 = h2*0x1003f + uint32(root[i])
	}

	var h3 uint32
	for i := 0; i < len(ext); i++ {
		h3 = h3*0x1003f + uint32(ext[i])
	}

	return uint64(h2+h3)<<32 | uint64(h1)
}

// tes3Hasher implements the Morrowind hash of full archive paths.
type tes3Hasher struct{}

// FileHash hashes joined folder and file name.
func (tes3Hasher) FileHash(dir string, name string) uint64 {
	return tes3Hash(hashKey(joinArchivePath(dir, name)))
}

// FolderHash uses TES4 folder hash; Morrowind stores no folder records.
func (tes3Hasher) FolderHash(dir string) uint64 {
	return tes4Hash(hashKey(dir), false)
}

// tes3Hash computes Morrowind hash: low word xors the first half, high word xor-rotates the rest.
func tes3Hash(name string) uint64 {
	half := len(name) >> 1

	var low uint32
	var off uint32
	for i := 0; i < half; i++ {
		low ^= uint32(name[i]) << (off & 0x1f)
		off += 8
	}

	var high uint32
	off = 0
	for i := half; i < len(name); i++ {
		temp := uint32(name[i]) << (off & 0x1f)
		high ^= temp
		n := temp & 0x1f
		high = high<<(32-n) | high>>n
		off += 8
	}

	return uint64(high)<<32 | uint64(low)
}

// ba2Hasher implements BA2 CRC-32 hashes with the extension packed into the high word.
type ba2Hasher struct{}

// ba2CRCTable is the IEEE table; BA2 applies it without pre/post inversion.
var ba2CRCTable = crc32.MakeTable(crc32.IEEE)

// FileHash returns CRC of base name without extension and the 4-byte extension.
func (ba2Hasher) FileHash(_ string, name string) uint64 {
	stem, ext := splitBA2Name(hashKey(name))
	return uint64(binary.LittleEndian.Uint32(ext[:]))<<32 | uint64(ba2CRC(stem))
}

// FolderHash returns CRC of folder path.
func (ba2Hasher) FolderHash(dir string) uint64 {
	return uint64(ba2CRC(hashKey(dir)))
}

// ba2CRC computes table CRC without register inversion.
func ba2CRC(s string) uint32 {
	var crc uint32
	for i := 0; i < len(s); i++ {
		crc = ba2CRCTable[byte(crc)^s[i]] ^ crc>>8
	}

	return crc
}

// splitBA2Name splits name into stem and zero-padded extension without dot.
func splitBA2Name(name string) (string, [4]byte) {
	var ext [4]byte
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return name, ext
	}

	copy(ext[:], name[dot+1:])
	return name[:dot], ext
}
