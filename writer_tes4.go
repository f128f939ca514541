// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

// TES4 content type flags derived from top-level folder names.
const (
	ContentMeshes   uint32 = 0x1
	ContentTextures uint32 = 0x2
	ContentMenus    uint32 = 0x4
	ContentSounds   uint32 = 0x8
	ContentVoices   uint32 = 0x10
	ContentShaders  uint32 = 0x20
	ContentTrees    uint32 = 0x40
	ContentFonts    uint32 = 0x80
	ContentMisc     uint32 = 0x100
)

// tes4Writer writes v103/v104/v105 archives.
type tes4Writer struct {
	t       *writeTarget
	folders []tes4WriteFolder

	totalFolderNameLength uint32
	totalFileNameLength   uint32
}

// tes4WriteFolder is one folder record group in write order.
type tes4WriteFolder struct {
	name    string
	entries []*stagedEntry
	hash    uint64
}

// order sorts entries by folder hash, then file hash, and groups them into folders.
func (w *tes4Writer) order(entries []*stagedEntry) {
	sortStaged(w.t.format, entries)

	w.folders = w.folders[:0]
	for _, e := range entries {
		n := len(w.folders)
		if n > 0 && strings.EqualFold(w.folders[n-1].name, e.dir) {
			w.folders[n-1].entries = append(w.folders[n-1].entries, e)
			continue
		}

		w.folders = append(w.folders, tes4WriteFolder{name: e.dir, hash: e.folderHash, entries: []*stagedEntry{e}})
	}
}

// layout returns absolute offset of the first payload byte.
func (w *tes4Writer) layout(entries []*stagedEntry) (uint64, error) {
	w.totalFolderNameLength = 0
	w.totalFileNameLength = 0

	dataStart := uint64(tes4HeaderSize) + uint64(len(w.folders))*uint64(folderRecordSize(w.t.version))
	for _, folder := range w.folders {
		if len(folder.name)+1 > math.MaxUint8 {
			return 0, fmt.Errorf("%w: folder name %s longer than 254 bytes", ErrSizeLimitExceeded, folder.name)
		}
		if w.t.flags.Has(FlagDirectoryNames) {
			dataStart += uint64(len(folder.name)) + 2
		}
		w.totalFolderNameLength += uint32(len(folder.name)) + 1 //nolint:gosec // bounded above
	}

	dataStart += uint64(len(entries)) * tes4FileRecordSize
	for _, e := range entries {
		w.totalFileNameLength += uint32(len(e.name)) + 1 //nolint:gosec // names bounded by record tables
	}
	if w.t.flags.Has(FlagFileNames) {
		dataStart += uint64(w.totalFileNameLength)
	}

	// unknown names keep the stored totals
	if names := w.t.names; names != nil {
		if !w.t.flags.Has(FlagDirectoryNames) && len(w.folders) == int(names.folders) && w.t.hashOnlyUnchanged(entries, true) {
			w.totalFolderNameLength = names.folderNameLength
		}
		if !w.t.flags.Has(FlagFileNames) && w.t.hashOnlyUnchanged(entries, false) {
			w.totalFileNameLength = names.fileNameLength
		}
	}

	w.t.written = storedNames{
		folders:          uint32(len(w.folders)), //nolint:gosec // counts bounded by memory
		files:            uint32(len(entries)),   //nolint:gosec // counts bounded by memory
		folderNameLength: w.totalFolderNameLength,
		fileNameLength:   w.totalFileNameLength,
	}

	return dataStart, nil
}

// writeIndex writes header, folder records, file record blocks and file name table.
func (w *tes4Writer) writeIndex(out io.Writer, entries []*stagedEntry) error {
	le := binary.LittleEndian
	contentFlags := w.t.contentFlags
	if contentFlags == 0 {
		contentFlags = contentFlagsFor(w.folders)
	}

	buf := make([]byte, 0, 4096)
	buf = le.AppendUint32(buf, magicTES4)
	buf = le.AppendUint32(buf, w.t.version)
	buf = le.AppendUint32(buf, tes4HeaderSize)
	buf = le.AppendUint32(buf, uint32(w.t.flags))
	buf = le.AppendUint32(buf, uint32(len(w.folders)))     //nolint:gosec // counts bounded by memory
	buf = le.AppendUint32(buf, uint32(len(entries)))       //nolint:gosec // counts bounded by memory
	buf = le.AppendUint32(buf, w.totalFolderNameLength)
	buf = le.AppendUint32(buf, w.totalFileNameLength)
	buf = le.AppendUint32(buf, contentFlags)

	blockPos := uint64(tes4HeaderSize) + uint64(len(w.folders))*uint64(folderRecordSize(w.t.version))
	for _, folder := range w.folders {
		offset := blockPos + uint64(w.totalFileNameLength)
		buf = le.AppendUint64(buf, folder.hash)
		buf = le.AppendUint32(buf, uint32(len(folder.entries))) //nolint:gosec // counts bounded by memory
		if w.t.version == versionTES4C {
			buf = le.AppendUint32(buf, 0)
			buf = le.AppendUint64(buf, offset)
		} else {
			if offset > math.MaxUint32 {
				return fmt.Errorf("%w: folder %s record offset %d", ErrSizeLimitExceeded, folder.name, offset)
			}
			buf = le.AppendUint32(buf, uint32(offset))
		}

		if w.t.flags.Has(FlagDirectoryNames) {
			blockPos += uint64(len(folder.name)) + 2
		}
		blockPos += uint64(len(folder.entries)) * tes4FileRecordSize
	}

	compressed := w.t.compressedDefault()
	for _, folder := range w.folders {
		if w.t.flags.Has(FlagDirectoryNames) {
			buf = append(buf, byte(len(folder.name)+1))
			buf = append(buf, folder.name...)
			buf = append(buf, 0)
		}

		for _, e := range folder.entries {
			part := e.parts[0]
			packed, err := packSizeField(sizeField{
				size:     part.size,
				toggle:   toggleFor(compressed, part.state),
				reserved: e.reserved,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", e.path, err)
			}
			if part.offset > math.MaxUint32 {
				return fmt.Errorf("%w: %s data offset %d exceeds 4 GiB", ErrSizeLimitExceeded, e.path, part.offset)
			}

			buf = le.AppendUint64(buf, e.nameHash)
			buf = le.AppendUint32(buf, packed)
			buf = le.AppendUint32(buf, uint32(part.offset))
		}
	}

	if w.t.flags.Has(FlagFileNames) {
		for _, e := range entries {
			buf = append(buf, e.name...)
			buf = append(buf, 0)
		}
	}

	if _, err := out.Write(buf); err != nil {
		return fmt.Errorf("%w: write directory: %w", ErrWrite, err)
	}

	return nil
}

// writeTrailer is a no-op; TES4 archives end with payload data.
func (w *tes4Writer) writeTrailer(io.Writer, []*stagedEntry) error {
	return nil
}

// contentFlagsFor derives content type flags from top-level folder names.
func contentFlagsFor(folders []tes4WriteFolder) uint32 {
	var flags uint32
	for _, folder := range folders {
		top := strings.ToLower(folder.name)
		if idx := strings.IndexByte(top, '\\'); idx >= 0 {
			top = top[:idx]
		}

		switch top {
		case "meshes":
			flags |= ContentMeshes
		case "textures":
			flags |= ContentTextures
		case "menus", "interface":
			flags |= ContentMenus
		case "sound":
			if strings.HasPrefix(strings.ToLower(folder.name), `sound\voice`) {
				flags |= ContentVoices
			} else {
				flags |= ContentSounds
			}
		case "shaders":
			flags |= ContentShaders
		case "trees":
			flags |= ContentTrees
		case "fonts":
			flags |= ContentFonts
		default:
			flags |= ContentMisc
		}
	}

	return flags
}
