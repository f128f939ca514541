// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/woozymasta/lzss"
	"github.com/woozymasta/pathrules"
)

// CodecID identifies a payload codec.
type CodecID uint8

// Known payload codecs.
const (
	// CodecNone means the format stores no compressed payloads.
	CodecNone CodecID = iota
	// CodecZlib is zlib stream used by Oblivion, Fallout 3, Skyrim and BA2.
	CodecZlib
	// CodecLZ4Frame is LZ4 frame stream used by Skyrim Special Edition.
	CodecLZ4Frame
	// CodecZstd is zstd stream for non-game consumers.
	CodecZstd
	// CodecLZSS is LZSS stream for non-game consumers.
	CodecLZSS
)

// String returns codec name.
func (id CodecID) String() string {
	switch id {
	case CodecNone:
		return "none"
	case CodecZlib:
		return "zlib"
	case CodecLZ4Frame:
		return "lz4"
	case CodecZstd:
		return "zstd"
	case CodecLZSS:
		return "lzss"
	default:
		return fmt.Sprintf("codec(%d)", uint8(id))
	}
}

// Codec encodes and decodes one payload block.
type Codec interface {
	// ID returns codec identifier.
	ID() CodecID
	// Encode compresses src.
	Encode(src []byte) ([]byte, error)
	// Decode decompresses src into exactly size bytes.
	Decode(src []byte, size int) ([]byte, error)
}

// NewCodec returns built-in codec implementation.
func NewCodec(id CodecID) (Codec, error) {
	switch id {
	case CodecZlib:
		return zlibCodec{}, nil
	case CodecLZ4Frame:
		return lz4Codec{}, nil
	case CodecZstd:
		return zstdCodec{}, nil
	case CodecLZSS:
		return lzssCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, id)
	}
}

// zlibCodec wraps klauspost zlib streams.
type zlibCodec struct{}

// ID returns CodecZlib.
func (zlibCodec) ID() CodecID { return CodecZlib }

// Encode compresses src with best compression, like the game archivers.
func (zlibCodec) Encode(src []byte) ([]byte, error) {
	var dst bytes.Buffer
	w, err := zlib.NewWriterLevel(&dst, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return dst.Bytes(), nil
}

// Decode inflates src.
func (zlibCodec) Decode(src []byte, size int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	return readExactly(r, size)
}

// lz4Codec wraps pierrec LZ4 frames.
type lz4Codec struct{}

// ID returns CodecLZ4Frame.
func (lz4Codec) ID() CodecID { return CodecLZ4Frame }

// Encode compresses src into one LZ4 frame.
func (lz4Codec) Encode(src []byte) ([]byte, error) {
	var dst bytes.Buffer
	w := lz4.NewWriter(&dst)
	if err := w.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return dst.Bytes(), nil
}

// Decode reads one LZ4 frame.
func (lz4Codec) Decode(src []byte, size int) ([]byte, error) {
	return readExactly(lz4.NewReader(bytes.NewReader(src)), size)
}

// zstdCodec wraps klauspost zstd streams.
type zstdCodec struct{}

// ID returns CodecZstd.
func (zstdCodec) ID() CodecID { return CodecZstd }

// Encode compresses src into one zstd frame.
func (zstdCodec) Encode(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer func() { _ = enc.Close() }()

	return enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

// Decode decompresses one zstd frame.
func (zstdCodec) Decode(src []byte, size int) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	out, err := dec.DecodeAll(src, make([]byte, 0, size))
	if err != nil {
		return nil, err
	}
	if len(out) != size {
		return nil, fmt.Errorf("decoded %d bytes, want %d", len(out), size)
	}

	return out, nil
}

// lzssCodec wraps woozymasta LZSS streams.
type lzssCodec struct{}

// ID returns CodecLZSS.
func (lzssCodec) ID() CodecID { return CodecLZSS }

// Encode compresses src with default LZSS options.
func (lzssCodec) Encode(src []byte) ([]byte, error) {
	return lzss.Compress(src, lzss.DefaultCompressOptions())
}

// Decode expands src into size bytes.
func (lzssCodec) Decode(src []byte, size int) ([]byte, error) {
	var dst bytes.Buffer
	dst.Grow(size)
	if _, err := lzss.DecompressToWriter(&dst, bytes.NewReader(src), size, nil); err != nil {
		return nil, err
	}
	if dst.Len() != size {
		return nil, fmt.Errorf("decoded %d bytes, want %d", dst.Len(), size)
	}

	return dst.Bytes(), nil
}

// streamDecoder is implemented by codecs that can decode without buffering the whole payload.
type streamDecoder interface {
	// DecodeTo writes exactly size decoded bytes from src into dst.
	DecodeTo(dst io.Writer, src io.Reader, size int) error
}

// DecodeTo inflates src into dst.
func (zlibCodec) DecodeTo(dst io.Writer, src io.Reader, size int) error {
	r, err := zlib.NewReader(src)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	return copyExactly(dst, r, size)
}

// DecodeTo reads one LZ4 frame into dst.
func (lz4Codec) DecodeTo(dst io.Writer, src io.Reader, size int) error {
	return copyExactly(dst, lz4.NewReader(src), size)
}

// DecodeTo decompresses one zstd stream into dst.
func (zstdCodec) DecodeTo(dst io.Writer, src io.Reader, size int) error {
	dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return err
	}
	defer dec.Close()

	return copyExactly(dst, dec, size)
}

// DecodeTo expands src into dst.
func (lzssCodec) DecodeTo(dst io.Writer, src io.Reader, size int) error {
	cw := &countingWriter{w: dst}
	if _, err := lzss.DecompressToWriter(cw, src, size, nil); err != nil {
		return err
	}
	if cw.n != uint64(size) { //nolint:gosec // size is non-negative
		return fmt.Errorf("decoded %d bytes, want %d", cw.n, size)
	}

	return nil
}

// copyExactly copies exactly size bytes from r and fails on short streams.
func copyExactly(dst io.Writer, r io.Reader, size int) error {
	n, err := io.CopyN(dst, r, int64(size))
	if err != nil {
		return fmt.Errorf("decoded stream shorter than %d bytes (got %d): %w", size, n, err)
	}

	return nil
}

// readExactly reads exactly size bytes and fails on short or long streams.
func readExactly(r io.Reader, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("decoded stream shorter than %d bytes: %w", size, err)
	}

	var probe [1]byte
	n, err := r.Read(probe[:])
	if n > 0 {
		return nil, fmt.Errorf("decoded stream longer than %d bytes", size)
	}
	if err != nil && err != io.EOF {
		return nil, err
	}

	return out, nil
}

// compressMatcher holds compiled allow-list rules for compression.
type compressMatcher struct {
	matcher *pathrules.Matcher
}

// newCompressMatcher compiles compression path rules.
func newCompressMatcher(rules []pathrules.Rule, opts pathrules.MatcherOptions) (*compressMatcher, error) {
	rules = normalizeRules(rules)
	if len(rules) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidPathRules, err)
	}

	return &compressMatcher{matcher: matcher}, nil
}

// newFilterMatcher compiles case-insensitive selection rules; nil when no rule remains.
func newFilterMatcher(rules []pathrules.Rule, what string) (*pathrules.Matcher, error) {
	rules = normalizeRules(rules)
	if len(rules) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(rules, pathrules.MatcherOptions{
		CaseInsensitive: true,
		DefaultAction:   pathrules.ActionExclude,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s rules: %w", ErrInvalidPathRules, what, err)
	}

	return matcher, nil
}

// normalizeRules normalizes rule patterns and drops empty patterns.
func normalizeRules(rules []pathrules.Rule) []pathrules.Rule {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := normalizePathForMatching(rule.Pattern)
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{
			Action:  rule.Action,
			Pattern: pattern,
		})
	}

	return normalized
}

// Match reports whether path is included by the rules.
func (m *compressMatcher) Match(p string) bool {
	if m == nil || m.matcher == nil {
		return false
	}

	candidate := NormalizePath(p)
	if candidate == "" {
		return false
	}

	return m.matcher.Included(candidate, false)
}
