// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import "strings"

// logicalSize returns UncompressedSize when known, otherwise stored Size.
func logicalSize(entry EntryInfo) uint32 {
	if entry.UncompressedSize == 0 {
		return entry.Size
	}

	return entry.UncompressedSize
}

// filterEntriesBySize keeps entries that satisfy min logical and stored size thresholds.
func filterEntriesBySize(entries []EntryInfo, minUncompressedSize uint32, minSize uint32) []EntryInfo {
	if minUncompressedSize == 0 && minSize == 0 {
		return entries
	}

	out := make([]EntryInfo, 0, len(entries))
	for _, entry := range entries {
		if logicalSize(entry) < minUncompressedSize || entry.Size < minSize {
			continue
		}

		out = append(out, entry)
	}

	return out
}

// filterEntriesByASCIIOnly keeps entries whose path contains only ASCII bytes.
func filterEntriesByASCIIOnly(entries []EntryInfo) []EntryInfo {
	out := make([]EntryInfo, 0, len(entries))
	for _, entry := range entries {
		if isASCIIOnly(entry.Path) {
			out = append(out, entry)
		}
	}

	return out
}

// isASCIIOnly reports whether value contains only ASCII bytes.
func isASCIIOnly(value string) bool {
	for idx := 0; idx < len(value); idx++ {
		if value[idx] >= 0x80 {
			return false
		}
	}

	return true
}

// filterEntriesByPrefix keeps entries under folder prefix (or exact match if it points to a file).
// Matching is case-insensitive like archive lookups.
func filterEntriesByPrefix(entries []EntryInfo, prefix string) []EntryInfo {
	prefix = strings.ToLower(NormalizePath(prefix))
	if prefix == "" {
		return entries
	}

	folderPrefix := prefix + "/"
	out := make([]EntryInfo, 0, len(entries))
	for _, entry := range entries {
		entryPath := strings.ToLower(NormalizePath(entry.Path))
		if entryPath == prefix || strings.HasPrefix(entryPath, folderPrefix) {
			out = append(out, entry)
		}
	}

	return out
}
