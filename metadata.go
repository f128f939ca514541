// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadHeader opens an archive and returns only header metadata without parsing the entry tree.
func ReadHeader(path string) (HeaderInfo, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return HeaderInfo{}, err
	}
	defer func() { _ = f.Close() }()

	return ReadHeaderFromReaderAt(f, size)
}

// ReadHeaderFromReaderAt reads header metadata from a random-access source.
func ReadHeaderFromReaderAt(ra io.ReaderAt, size int64) (HeaderInfo, error) {
	probe, err := detectFormat(ra, size)
	if err != nil {
		return HeaderInfo{}, err
	}

	info := HeaderInfo{Format: probe.format, Version: probe.version}
	switch {
	case probe.format.IsTES4():
		h, err := readTES4Header(ra, size)
		if err != nil {
			return HeaderInfo{}, err
		}

		info.Flags = h.flags
		info.ContentFlags = h.contentFlags
		info.FolderCount = h.folderCount
		info.FileCount = h.fileCount
	case probe.format == FormatMorrowind:
		var buf [4]byte
		if _, err := ra.ReadAt(buf[:], 8); err != nil {
			return HeaderInfo{}, fmt.Errorf("%w: read Morrowind header: %w", ErrCorruptArchive, err)
		}

		info.FileCount = binary.LittleEndian.Uint32(buf[:])
	case probe.format.IsBA2():
		if size < ba2HeaderSize {
			return HeaderInfo{}, fmt.Errorf("%w: short BA2 header", ErrCorruptArchive)
		}

		var buf [4]byte
		if _, err := ra.ReadAt(buf[:], 12); err != nil {
			return HeaderInfo{}, fmt.Errorf("%w: read BA2 header: %w", ErrCorruptArchive, err)
		}

		info.Version = probe.ba2Version
		info.FileCount = binary.LittleEndian.Uint32(buf[:])
	}

	return info, nil
}

// ListEntries opens an archive and returns entry metadata without payload reads.
func ListEntries(path string) ([]EntryInfo, error) {
	return ListEntriesWithOptions(path, ListOptions{})
}

// ListEntriesWithOptions opens an archive and returns filtered entry metadata without payload reads.
func ListEntriesWithOptions(path string, opts ListOptions) ([]EntryInfo, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return ListEntriesFromReaderAt(f, size, opts)
}

// ListEntriesFromReaderAt parses entry metadata from a random-access source.
// Entries are returned in archive write order.
func ListEntriesFromReaderAt(ra io.ReaderAt, size int64, opts ListOptions) ([]EntryInfo, error) {
	a, err := OpenReaderAt(ra, size, opts.Open)
	if err != nil {
		return nil, err
	}

	entries := filterEntriesBySize(a.Entries(), opts.MinUncompressedSize, opts.MinEntrySize)
	if opts.ASCIIOnly {
		entries = filterEntriesByASCIIOnly(entries)
	}
	entries = filterEntriesByPrefix(entries, opts.EntryPathPrefix)

	if opts.SanitizeControlChars {
		entries, err = sanitizeEntryInfoControlPaths(entries)
		if err != nil {
			return nil, err
		}
	}
	if opts.SanitizeNames {
		entries, err = sanitizeEntryInfoPaths(entries)
		if err != nil {
			return nil, err
		}
	}

	return entries, nil
}
