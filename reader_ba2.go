// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

// BA2 layout.
const (
	ba2HeaderSize     = 24
	ba2GeneralRecLen  = 36
	ba2GeneralFlags   = 0x00100100
	ba2NameLengthSize = 2
)

// ba2Record is one parsed BA2 file record.
type ba2Record struct {
	texture    *TextureHeader
	chunks     []TextureChunk
	nameHash   uint32
	ext        uint32
	dirHash    uint32
	flags      uint32
	offset     uint64
	packedSize uint32
	unpacked   uint32
}

// parseBA2 parses GNRL or DX10 records and the trailing name table.
func (a *Archive) parseBA2(src *source, verify bool) error {
	var head [ba2HeaderSize]byte
	if _, err := src.ra.ReadAt(head[:], 0); err != nil {
		return fmt.Errorf("%w: read header: %w", ErrCorruptArchive, err)
	}

	count := binary.LittleEndian.Uint32(head[12:16])
	nameTable := binary.LittleEndian.Uint64(head[16:24])
	minRecord := int64(ba2GeneralRecLen)
	if a.format == FormatBA2Texture {
		minRecord = ba2TextureRecordLen
	}
	if err := checkCount("file", count, minRecord, src.size-ba2HeaderSize); err != nil {
		return err
	}
	if nameTable != 0 && nameTable > uint64(src.size) { //nolint:gosec // size is non-negative
		return fmt.Errorf("%w: name table offset %d past archive size %d", ErrCorruptArchive, nameTable, src.size)
	}

	tr := newTableReader(src.ra, ba2HeaderSize, src.size)
	records := make([]ba2Record, count)
	for i := range records {
		if a.format == FormatBA2Texture {
			records[i] = readBA2TextureRecord(tr)
		} else {
			records[i] = readBA2GeneralRecord(tr)
		}
		if tr.err != nil {
			tr.release()
			return tr.err
		}
	}
	tr.release()

	a.names = storedNames{files: count, noNameTable: nameTable == 0}
	names := make([]string, count)
	if nameTable != 0 {
		nr := newTableReader(src.ra, int64(nameTable), src.size) //nolint:gosec // bounded above
		for i := range names {
			n := int(nr.u16())
			names[i] = string(nr.bytes(n))
		}
		err := nr.err
		nr.release()
		if err != nil {
			return err
		}
	} else {
		a.logger.Warn("BA2 archive has no name table; names derived from hashes")
		for i := range names {
			names[i] = fmt.Sprintf("%08x_%08x", records[i].dirHash, records[i].nameHash)
		}
	}

	for i := range records {
		if err := a.attachBA2Record(src, records[i], names[i], uint64(i)+1, nameTable != 0, verify); err != nil {
			return err
		}
	}

	return nil
}

// readBA2GeneralRecord reads one 36-byte GNRL record.
func readBA2GeneralRecord(tr *tableReader) ba2Record {
	rec := ba2Record{
		nameHash: tr.u32(),
		ext:      tr.u32(),
		dirHash:  tr.u32(),
	}
	rec.flags = tr.u32()
	rec.offset = tr.u64()
	rec.packedSize = tr.u32()
	rec.unpacked = tr.u32()
	if sentinel := tr.u32(); tr.err == nil && sentinel != ba2RecordSentinel {
		tr.err = fmt.Errorf("%w: record sentinel %08x", ErrCorruptArchive, sentinel)
	}

	return rec
}

// readBA2TextureRecord reads one DX10 record with its chunk table.
func readBA2TextureRecord(tr *tableReader) ba2Record {
	rec := ba2Record{
		nameHash: tr.u32(),
		ext:      tr.u32(),
		dirHash:  tr.u32(),
	}
	rec.flags = uint32(tr.u8())
	numChunks := int(tr.u8())
	if headerSize := tr.u16(); tr.err == nil && headerSize != ba2ChunkHeaderSize {
		tr.err = fmt.Errorf("%w: chunk header size %d", ErrCorruptArchive, headerSize)
		return rec
	}

	tex := TextureHeader{
		Height: tr.u16(),
		Width:  tr.u16(),
	}
	tex.MipCount = tr.u8()
	tex.Format = tr.u8()
	tex.Flags = tr.u8()
	tex.TileMode = tr.u8()
	rec.texture = &tex

	rec.chunks = make([]TextureChunk, numChunks)
	for i := range rec.chunks {
		c := &rec.chunks[i]
		c.Offset = tr.u64()
		c.PackedSize = tr.u32()
		c.UnpackedSize = tr.u32()
		c.StartMip = tr.u16()
		c.EndMip = tr.u16()
		if sentinel := tr.u32(); tr.err == nil && sentinel != ba2RecordSentinel {
			tr.err = fmt.Errorf("%w: chunk sentinel %08x", ErrCorruptArchive, sentinel)
			return rec
		}
	}

	return rec
}

// attachBA2Record converts parsed record into a tree entry.
func (a *Archive) attachBA2Record(src *source, rec ba2Record, name string, ordinal uint64, named bool, verify bool) error {
	entryPath, err := normalizeArchiveEntryPath(name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}

	dir, base := splitArchivePath(entryPath)
	hash := uint64(rec.ext)<<32 | uint64(rec.nameHash)
	if verify && named {
		if computed := a.arena.hasher.FileHash(dir, base); computed != hash {
			return hashMismatch("file", name, hash, computed)
		}
		if computed := a.arena.hasher.FolderHash(dir); computed != uint64(rec.dirHash) {
			return hashMismatch("folder", dir, uint64(rec.dirHash), computed)
		}
	}

	var f *File
	if rec.texture == nil {
		stored := compressionOf(rec.packedSize != 0)
		size := rec.unpacked
		if stored == CompressionCompressed {
			size = rec.packedSize
		}
		f = newOutOfBandFile(src, base, size, rec.offset, rec.unpacked, stored, nil, nil)
	} else {
		if len(rec.chunks) == 0 {
			a.logger.Warn("texture record without chunks", slog.String("path", entryPath))
		}

		var size, unpacked uint32
		var offset uint64
		stored := CompressionRaw
		for i, c := range rec.chunks {
			if i == 0 {
				offset = c.Offset
				stored = c.Compression()
			}
			size += c.StoredSize()
			unpacked += c.UnpackedSize
		}
		f = newOutOfBandFile(src, base, size, offset, unpacked, stored, rec.texture, rec.chunks)
	}

	f.nameHash = hash
	f.ordinal = ordinal
	f.recordFlags = rec.flags
	f.origin = newHashOrigin(a.arena.hasher, dir, base, uint64(rec.dirHash), !named, !named)
	return a.attachParsed(dir, f)
}
