// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
)

// TES4 BSA layout.
const (
	tes4HeaderSize       = 36
	tes4FileRecordSize   = 16
	tes4FolderRecordSize = 16
	tes4FolderRecordSE   = 24
)

// tes4Header is the fixed 36-byte TES4 header.
type tes4Header struct {
	version               uint32
	folderOffset          uint32
	flags                 ArchiveFlags
	folderCount           uint32
	fileCount             uint32
	totalFolderNameLength uint32
	totalFileNameLength   uint32
	contentFlags          uint32
}

// folderRecordSize returns folder record size for version.
func folderRecordSize(version uint32) int64 {
	if version == versionTES4C {
		return tes4FolderRecordSE
	}

	return tes4FolderRecordSize
}

// readTES4Header reads and validates the fixed header.
func readTES4Header(ra io.ReaderAt, size int64) (tes4Header, error) {
	if size < tes4HeaderSize {
		return tes4Header{}, fmt.Errorf("%w: short BSA header", ErrCorruptArchive)
	}

	var buf [tes4HeaderSize]byte
	if _, err := ra.ReadAt(buf[:], 0); err != nil {
		return tes4Header{}, fmt.Errorf("%w: read BSA header: %w", ErrCorruptArchive, err)
	}

	le := binary.LittleEndian
	h := tes4Header{
		version:               le.Uint32(buf[4:8]),
		folderOffset:          le.Uint32(buf[8:12]),
		flags:                 ArchiveFlags(le.Uint32(buf[12:16])),
		folderCount:           le.Uint32(buf[16:20]),
		fileCount:             le.Uint32(buf[20:24]),
		totalFolderNameLength: le.Uint32(buf[24:28]),
		totalFileNameLength:   le.Uint32(buf[28:32]),
		contentFlags:          le.Uint32(buf[32:36]),
	}
	if h.folderOffset < tes4HeaderSize || int64(h.folderOffset) > size {
		return tes4Header{}, fmt.Errorf("%w: folder record offset %d", ErrCorruptArchive, h.folderOffset)
	}

	return h, nil
}

// directoryEnd returns absolute end of folder records, file records and name table.
func (h tes4Header) directoryEnd() int64 {
	end := int64(h.folderOffset) + int64(h.folderCount)*folderRecordSize(h.version)
	if h.flags.Has(FlagDirectoryNames) {
		end += int64(h.folderCount) + int64(h.totalFolderNameLength)
	}
	end += int64(h.fileCount) * tes4FileRecordSize
	if h.flags.Has(FlagFileNames) {
		end += int64(h.totalFileNameLength)
	}

	return end
}

// tes4FolderRecord is one parsed folder record.
type tes4FolderRecord struct {
	hash   uint64
	offset uint64
	count  uint32
}

// tes4PendingFile is a file record waiting for its name.
type tes4PendingFile struct {
	file   *File
	folder int
}

// parseTES4 parses v103/v104/v105 directory into the tree.
func (a *Archive) parseTES4(src *source, verify bool) error {
	h, err := readTES4Header(src.ra, src.size)
	if err != nil {
		return err
	}

	a.version = h.version
	a.flags = h.flags
	a.contentFlags = h.contentFlags
	a.names = storedNames{
		folders:          h.folderCount,
		files:            h.fileCount,
		folderNameLength: h.totalFolderNameLength,
		fileNameLength:   h.totalFileNameLength,
	}
	src.layout.embedNames = h.version >= versionTES4B && h.flags.Has(FlagEmbedFileNames)
	if h.flags.Has(FlagXbox360) {
		a.logger.Warn("archive carries Xbox 360 flag; hashes are kept as stored", slog.Uint64("flags", uint64(h.flags)))
	}

	remaining := src.size - int64(h.folderOffset)
	if err := checkCount("folder", h.folderCount, folderRecordSize(h.version), remaining); err != nil {
		return err
	}
	if err := checkCount("file", h.fileCount, tes4FileRecordSize, remaining); err != nil {
		return err
	}

	end := h.directoryEnd()
	if end > src.size {
		return fmt.Errorf("%w: directory ends at %d past archive size %d", ErrCorruptArchive, end, src.size)
	}

	tr := newTableReader(src.ra, int64(h.folderOffset), end)
	defer tr.release()

	folders := make([]tes4FolderRecord, h.folderCount)
	var total uint64
	for i := range folders {
		folders[i].hash = tr.u64()
		folders[i].count = tr.u32()
		if h.version == versionTES4C {
			tr.skip(4)
			folders[i].offset = tr.u64()
		} else {
			folders[i].offset = uint64(tr.u32())
		}
		total += uint64(folders[i].count)
	}
	if tr.err != nil {
		return tr.err
	}
	if total != uint64(h.fileCount) {
		return fmt.Errorf("%w: folder records hold %d files, header says %d", ErrCorruptArchive, total, h.fileCount)
	}

	compressed := h.flags.Has(FlagCompressed)
	dirs := make([]string, len(folders))
	rawDirs := make([]string, len(folders))
	pending := make([]tes4PendingFile, 0, h.fileCount)
	reserved := 0
	for i := range folders {
		rec := folders[i]
		if blockPos := int64(rec.offset) - int64(h.totalFileNameLength); blockPos != tr.pos { //nolint:gosec // offsets bounded by size check
			a.logger.Debug("folder record offset differs from sequential position",
				slog.Int("folder", i),
				slog.Int64("stored", blockPos),
				slog.Int64("actual", tr.pos),
			)
		}

		if h.flags.Has(FlagDirectoryNames) {
			n := int(tr.u8())
			raw := tr.bytes(n)
			rawDirs[i] = string(bytes.TrimRight(raw, "\x00"))
			dirs[i] = NormalizePath(rawDirs[i])
		} else {
			dirs[i] = fmt.Sprintf("%016x", rec.hash)
		}

		for j := uint32(0); j < rec.count; j++ {
			hash := tr.u64()
			field := unpackSizeField(tr.u32())
			offset := tr.u32()
			if field.reserved {
				reserved++
			}

			f := newArchiveFile(src, hash, field, uint64(offset), compressed)
			f.ordinal = uint64(len(pending) + 1)
			pending = append(pending, tes4PendingFile{file: f, folder: i})
		}
		if tr.err != nil {
			return tr.err
		}
	}

	for i := range pending {
		if h.flags.Has(FlagFileNames) {
			pending[i].file.name = tr.cstring()
		} else {
			pending[i].file.name = fmt.Sprintf("%016x", pending[i].file.nameHash)
		}
	}
	if tr.err != nil {
		return tr.err
	}

	if reserved > 0 {
		a.logger.Warn("archive sets reserved size bit; bit is preserved", slog.Int("entries", reserved))
	}

	if verify && h.flags.Has(FlagDirectoryNames) {
		for i := range folders {
			if computed := a.arena.hasher.FolderHash(rawDirs[i]); computed != folders[i].hash {
				return hashMismatch("folder", rawDirs[i], folders[i].hash, computed)
			}
		}
	}

	hasDirs, hasNames := h.flags.Has(FlagDirectoryNames), h.flags.Has(FlagFileNames)
	for i := range pending {
		f := pending[i].file
		dir := dirs[pending[i].folder]
		f.origin = newHashOrigin(a.arena.hasher, dir, f.name, folders[pending[i].folder].hash, !hasDirs, !hasNames)
		if verify && hasNames {
			if computed := a.arena.hasher.FileHash(dir, f.name); computed != f.nameHash {
				return hashMismatch("file", joinArchivePath(dir, f.name), f.nameHash, computed)
			}
		}
		if f.uncompressedSize, err = tes4LogicalSize(src, f); err != nil {
			return fmt.Errorf("%s: %w", joinArchivePath(dir, f.name), err)
		}
		if err := a.attachParsed(dir, f); err != nil {
			return err
		}
	}

	return nil
}

// tes4LogicalSize returns content size of a TES4 entry. Entries with an embedded name or
// a compressed body have it read from the payload head.
func tes4LogicalSize(src *source, f *File) (uint32, error) {
	embed := src.layout.embedNames
	if f.stored == CompressionRaw && !embed {
		return f.size, nil
	}

	var buf [1 + 0xff + 4]byte
	head := buf[:min(int(f.size), len(buf))]
	if n, err := src.ra.ReadAt(head, int64(f.dataOffset)); n < len(head) { //nolint:gosec // offsets are u32 in TES4
		return 0, fmt.Errorf("%w: read payload head at %d: %w", ErrCorruptArchive, f.dataOffset, err)
	}

	skip := 0
	if embed {
		if len(head) == 0 || int(head[0])+1 > len(head) {
			return 0, fmt.Errorf("%w: embedded name exceeds payload", ErrCorruptArchive)
		}
		skip = 1 + int(head[0])
	}
	if f.stored == CompressionRaw {
		return f.size - uint32(skip), nil //nolint:gosec // skip checked against size
	}
	if src.layout.framing != framingSizePrefixed {
		return 0, nil
	}
	if skip+4 > len(head) {
		return 0, fmt.Errorf("%w: compressed payload shorter than size prefix", ErrCorruptArchive)
	}

	size, err := decodeSizePrefix(head[skip : skip+4])
	if err != nil {
		return 0, err
	}

	return uint32(size), nil //nolint:gosec // bounded by sizeMask
}
