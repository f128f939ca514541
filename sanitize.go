// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"fmt"
	"hash/fnv"
	"io"
	"path"
	"strconv"
	"strings"
	"unicode"
)

const (
	// maxSanitizedSegmentLen bounds one output path segment.
	maxSanitizedSegmentLen = 240

	// windowsUnsafeChars are replaced with "_" by strict segment sanitizing.
	windowsUnsafeChars = `<>:"/\|?*`
)

// dosDeviceNames lists reserved DOS, Windows and OS/2 device stems.
// Numbered COM and LPT ports are matched by isNumberedPort.
var dosDeviceNames = map[string]struct{}{
	"$": {}, "$addstor": {}, "$idle$": {}, "386max$$": {}, "4dosstak": {}, "82164a": {},
	"aux": {}, "cloak$$$": {}, "clock": {}, "clock$": {}, "con": {}, "config$": {},
	"dblssys$": {}, "dpmixxx0": {}, "dpmsxxx0": {}, "emm$$$$$": {}, "emmqxxx0": {},
	"emmxxxq0": {}, "emmxxxx0": {}, "hmaldsys": {}, "ifs$hlp$": {}, "kbd$": {}, "keybd$": {},
	"lst": {}, "mouse$": {}, "ndosstak": {}, "nul": {}, "pc$mouse": {}, "plt": {},
	"pointer$": {}, "prn": {}, "protman$": {}, "qdpmi$$$": {}, "qemm386$": {}, "qextxxx0": {},
	"qmmxxxx0": {}, "screen$": {}, "vcpixxx0": {}, "xmsxxxx0": {},
}

// SanitizePath rewrites one archive path into a filesystem-safe slash-separated path.
func SanitizePath(archivePath string) (string, error) {
	normalized := NormalizePath(archivePath)
	if normalized == "" {
		return "", nil
	}

	out, err := sanitizeSegments(normalized, sanitizePathSegment)
	if err != nil {
		return "", err
	}
	if _, err := normalizeExtractEntryPath(out); err != nil {
		return "", err
	}

	return out, nil
}

// entryPathSanitizer rewrites entry paths and keeps results unique.
// Archive names are case-insensitive, so uniqueness is case-insensitive too.
type entryPathSanitizer struct {
	segment  func(string) (string, error)
	taken    map[string]struct{}
	next     map[string]int
	validate bool
}

// newEntryPathSanitizer returns sanitizer for about n paths.
func newEntryPathSanitizer(n int, segment func(string) (string, error), validate bool) *entryPathSanitizer {
	return &entryPathSanitizer{
		segment:  segment,
		taken:    make(map[string]struct{}, n),
		next:     make(map[string]int, n),
		validate: validate,
	}
}

// sanitizeEntryInfoPaths rewrites entry paths to filesystem-safe names.
func sanitizeEntryInfoPaths(entries []EntryInfo) ([]EntryInfo, error) {
	return rewriteEntryPaths(entries, newEntryPathSanitizer(len(entries), sanitizePathSegment, true))
}

// sanitizeEntryInfoControlPaths replaces control and format runes in entry paths.
func sanitizeEntryInfoControlPaths(entries []EntryInfo) ([]EntryInfo, error) {
	return rewriteEntryPaths(entries, newEntryPathSanitizer(len(entries), sanitizeControlCharPathSegment, false))
}

// rewriteEntryPaths returns copies of entries with sanitized paths.
func rewriteEntryPaths(entries []EntryInfo, s *entryPathSanitizer) ([]EntryInfo, error) {
	out := make([]EntryInfo, len(entries))
	for i, entry := range entries {
		rewritten, err := s.rewrite(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("sanitize path %s: %w", entry.Path, err)
		}

		out[i] = entry
		out[i].Path = rewritten
	}

	return out, nil
}

// rewrite sanitizes one entry path and claims a unique result.
func (s *entryPathSanitizer) rewrite(entryPath string) (string, error) {
	rel, err := normalizeExtractEntryPath(entryPath)
	if err != nil {
		// unsafe names still get a usable output name
		rel = strings.ReplaceAll(entryPath, `\`, "/")
	}

	out, err := sanitizeSegments(rel, s.segment)
	if err != nil {
		return "", err
	}

	out, err = s.claim(out)
	if err != nil {
		return "", err
	}

	if s.validate {
		if _, err := normalizeExtractEntryPath(out); err != nil {
			return "", err
		}
	}

	return out, nil
}

// claim reserves p, appending "~N" before the extension on collision.
func (s *entryPathSanitizer) claim(p string) (string, error) {
	key := strings.ToLower(p)
	if _, taken := s.taken[key]; !taken {
		s.taken[key] = struct{}{}
		return p, nil
	}

	dir, name := path.Split(p)
	for n := max(s.next[key], 2); n < 1000000; n++ {
		candidate := dir + withNumericSuffix(name, n)
		candidateKey := strings.ToLower(candidate)
		if _, taken := s.taken[candidateKey]; taken {
			continue
		}

		s.taken[candidateKey] = struct{}{}
		s.next[key] = n + 1
		return candidate, nil
	}

	return "", ErrInvalidExtractPath
}

// sanitizeSegments applies segment to every non-empty segment of a slash-separated path.
func sanitizeSegments(rel string, segment func(string) (string, error)) (string, error) {
	parts := make([]string, 0, strings.Count(rel, "/")+1)
	for part := range strings.SplitSeq(rel, "/") {
		part = strings.TrimSpace(part)
		if part == "" || part == "." {
			continue
		}

		clean, err := segment(part)
		if err != nil {
			return "", err
		}

		parts = append(parts, clean)
	}
	if len(parts) == 0 {
		return "_", nil
	}

	return strings.Join(parts, "/"), nil
}

// sanitizePathSegment makes one segment safe on Windows, macOS and Linux filesystems.
func sanitizePathSegment(segment string) (string, error) {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return "_", nil
	}

	segment = rewriteGUIDSuffix(segment)
	reserved := isReservedDeviceName(segment)

	out := strings.Map(func(r rune) rune {
		if isUnsafeControlCharRune(r) || strings.ContainsRune(windowsUnsafeChars, r) {
			return '_'
		}

		return r
	}, segment)

	out = strings.TrimRight(out, ". ")
	if out == "" {
		out = "_"
	}

	stem, _, _ := strings.Cut(out, ".")
	if reserved || isReservedDeviceName(stem) {
		out = "_" + out
	}

	return shortenSegmentDeterministic(out, maxSanitizedSegmentLen), nil
}

// sanitizeControlCharPathSegment replaces only runes unsafe for terminal output.
func sanitizeControlCharPathSegment(segment string) (string, error) {
	if segment == ".." {
		return "_", nil
	}

	out := strings.Map(func(r rune) rune {
		if isUnsafeControlCharRune(r) {
			return '_'
		}

		return r
	}, segment)
	if out == "" {
		return "_", nil
	}

	return out, nil
}

// isUnsafeControlCharRune reports control, format and replacement runes.
func isUnsafeControlCharRune(r rune) bool {
	return unicode.IsControl(r) || unicode.In(r, unicode.Cf) || r == unicode.ReplacementChar
}

// rewriteGUIDSuffix turns trailing ".{GUID}" into "_{GUID}" so Explorer does not treat the
// segment as a shell namespace junction.
func rewriteGUIDSuffix(segment string) string {
	idx := strings.LastIndex(segment, ".{")
	if idx < 0 || !isBracedGUID(segment[idx+1:]) {
		return segment
	}

	return segment[:idx] + "_" + segment[idx+1:]
}

// isBracedGUID reports whether token has the "{8-4-4-4-12}" hex layout.
func isBracedGUID(token string) bool {
	if len(token) != 38 || token[0] != '{' || token[37] != '}' {
		return false
	}

	for i := 1; i < 37; i++ {
		switch i {
		case 9, 14, 19, 24:
			if token[i] != '-' {
				return false
			}
		default:
			if strings.IndexByte("0123456789abcdefABCDEF", token[i]) < 0 {
				return false
			}
		}
	}

	return true
}

// isReservedDeviceName reports whether the stem of name is a reserved device identifier.
func isReservedDeviceName(name string) bool {
	stem := strings.ToLower(strings.TrimRight(strings.TrimSpace(name), ". :"))
	stem, _, _ = strings.Cut(stem, ".")
	stem = strings.TrimRight(stem, ". :")
	if stem == "" {
		return false
	}
	if isNumberedPort(stem) {
		return true
	}

	_, ok := dosDeviceNames[stem]
	return ok
}

// isNumberedPort matches com1..com9 and lpt1..lpt9.
func isNumberedPort(stem string) bool {
	if len(stem) != 4 || (stem[:3] != "com" && stem[:3] != "lpt") {
		return false
	}

	return stem[3] >= '1' && stem[3] <= '9'
}

// withNumericSuffix inserts "~n" before the extension within the segment limit.
func withNumericSuffix(name string, n int) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	suffix := "~" + strconv.Itoa(n)

	return shortenSegmentDeterministic(stem, max(maxSanitizedSegmentLen-len(ext)-len(suffix), 1)) + suffix + ext
}

// shortenSegmentDeterministic cuts value to limit bytes keeping an FNV-1a tag of the full value.
func shortenSegmentDeterministic(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	if limit <= 10 {
		return value[:limit]
	}

	h := fnv.New32a()
	_, _ = io.WriteString(h, value)
	tag := fmt.Sprintf("~%08x", h.Sum32())

	return value[:max(limit-len(tag), 1)] + tag
}
