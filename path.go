// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"fmt"
	"path"
	"strings"
)

// NormalizePath converts an archive/internal path to normalized slash-separated form.
// It trims spaces, accepts both "/" and "\", removes leading "./" and "/", and cleans "." segments.
func NormalizePath(raw string) string {
	raw = normalizePathForMatching(raw)
	raw = strings.TrimPrefix(raw, "/")
	raw = path.Clean("/" + raw)
	raw = strings.TrimPrefix(raw, "/")
	if raw == "." {
		return ""
	}

	return strings.TrimSuffix(raw, "/")
}

// normalizePathForMatching normalizes user/input paths for matcher use.
func normalizePathForMatching(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, `\`, `/`)
	p = strings.TrimPrefix(p, "./")
	return p
}

// normalizeArchiveEntryPath converts input path to canonical archive form with "\" separators.
func normalizeArchiveEntryPath(raw string) (string, error) {
	normalizedPath := NormalizePath(raw)
	if normalizedPath == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryPath, raw)
	}

	return strings.ReplaceAll(normalizedPath, "/", `\`), nil
}

// splitArchivePath splits canonical or raw path into folder path and base name.
func splitArchivePath(p string) (string, string) {
	p = strings.ReplaceAll(p, "/", `\`)
	idx := strings.LastIndexByte(p, '\\')
	if idx < 0 {
		return "", p
	}

	return p[:idx], p[idx+1:]
}

// joinArchivePath joins folder path and name with "\".
func joinArchivePath(dir string, name string) string {
	if dir == "" {
		return name
	}

	return dir + `\` + name
}

// folderSegments splits canonical folder path into non-empty segments.
func folderSegments(dir string) []string {
	if dir == "" {
		return nil
	}

	parts := strings.Split(strings.ReplaceAll(dir, "/", `\`), `\`)
	out := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}

		out = append(out, part)
	}

	return out
}

// nameKey returns case-insensitive comparison key for a single entry name.
func nameKey(name string) string {
	return strings.ToLower(name)
}
