// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

const (
	// readerTableBufferSize is a sequential read buffer for directory table parsing.
	readerTableBufferSize = 64 * 1024
)

var (
	// tableReaderPool reuses buffered readers for sequential table parsing.
	tableReaderPool = sync.Pool{
		New: func() any {
			return bufio.NewReaderSize(bytes.NewReader(nil), readerTableBufferSize)
		},
	}
)

// tableReader reads little-endian directory fields and keeps the first error.
type tableReader struct {
	br  *bufio.Reader
	err error
	pos int64
	end int64
}

// newTableReader starts sequential reading of [off, end) from ra.
func newTableReader(ra io.ReaderAt, off int64, end int64) *tableReader {
	br, _ := tableReaderPool.Get().(*bufio.Reader)
	if br == nil {
		br = bufio.NewReaderSize(bytes.NewReader(nil), readerTableBufferSize)
	}
	if end < off {
		end = off
	}

	br.Reset(io.NewSectionReader(ra, off, end-off))
	return &tableReader{br: br, pos: off, end: end}
}

// release returns buffered reader to pool.
func (r *tableReader) release() {
	if r.br == nil {
		return
	}

	r.br.Reset(bytes.NewReader(nil))
	tableReaderPool.Put(r.br)
	r.br = nil
}

// read fills buf or records truncated table error.
func (r *tableReader) read(buf []byte) bool {
	if r.err != nil {
		return false
	}
	if _, err := io.ReadFull(r.br, buf); err != nil {
		r.err = fmt.Errorf("%w: truncated directory at %d: %w", ErrCorruptArchive, r.pos, err)
		return false
	}

	r.pos += int64(len(buf))
	return true
}

// u8 reads one byte.
func (r *tableReader) u8() uint8 {
	var buf [1]byte
	if !r.read(buf[:]) {
		return 0
	}

	return buf[0]
}

// u16 reads little-endian uint16.
func (r *tableReader) u16() uint16 {
	var buf [2]byte
	if !r.read(buf[:]) {
		return 0
	}

	return binary.LittleEndian.Uint16(buf[:])
}

// u32 reads little-endian uint32.
func (r *tableReader) u32() uint32 {
	var buf [4]byte
	if !r.read(buf[:]) {
		return 0
	}

	return binary.LittleEndian.Uint32(buf[:])
}

// u64 reads little-endian uint64.
func (r *tableReader) u64() uint64 {
	var buf [8]byte
	if !r.read(buf[:]) {
		return 0
	}

	return binary.LittleEndian.Uint64(buf[:])
}

// bytes reads n raw bytes.
func (r *tableReader) bytes(n int) []byte {
	if int64(n) > r.end-r.pos {
		if r.err == nil {
			r.err = fmt.Errorf("%w: field of %d bytes at %d exceeds directory", ErrCorruptArchive, n, r.pos)
		}
		return nil
	}

	buf := make([]byte, n)
	if !r.read(buf) {
		return nil
	}

	return buf
}

// cstring reads NUL-terminated string.
func (r *tableReader) cstring() string {
	if r.err != nil {
		return ""
	}

	raw, err := r.br.ReadBytes(0)
	if err != nil {
		r.err = fmt.Errorf("%w: unterminated name at %d: %w", ErrCorruptArchive, r.pos, err)
		return ""
	}

	r.pos += int64(len(raw))
	return string(raw[:len(raw)-1])
}

// skip discards n bytes.
func (r *tableReader) skip(n int) {
	if r.err != nil || n <= 0 {
		return
	}
	if _, err := r.br.Discard(n); err != nil {
		r.err = fmt.Errorf("%w: truncated directory at %d: %w", ErrCorruptArchive, r.pos, err)
		return
	}

	r.pos += int64(n)
}

// checkCount fails when count records of recordSize cannot fit into the remaining source.
func checkCount(what string, count uint32, recordSize int64, remaining int64) error {
	if int64(count)*recordSize > remaining {
		return fmt.Errorf("%w: %d %s records exceed archive size", ErrCorruptArchive, count, what)
	}

	return nil
}

// hashMismatch builds verification error for stored vs computed hash.
func hashMismatch(what string, name string, stored uint64, computed uint64) error {
	return fmt.Errorf(
		"%w: %w: %s %q stored %016x computed %016x",
		ErrCorruptArchive, ErrHashMismatch, what, name, stored, computed,
	)
}

// attachParsed places a parsed entry into the tree under dir.
func (a *Archive) attachParsed(dir string, f *File) error {
	folder, err := a.arena.ensurePath(dir)
	if err != nil {
		return fmt.Errorf("%w: folder %q: %w", ErrCorruptArchive, dir, err)
	}
	if err := folder.addFile(f); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}

	return nil
}
