// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

var (
	// defaultSaveWriterPool reuses default-sized bufio writers between Save calls.
	defaultSaveWriterPool = sync.Pool{
		New: func() any {
			return bufio.NewWriterSize(io.Discard, DefaultWriteBuffer)
		},
	}
	// defaultSaveCopyBufferPool reuses payload copy buffers between Save calls.
	defaultSaveCopyBufferPool = sync.Pool{
		New: func() any {
			return new([DefaultCopyBuffer]byte)
		},
	}
)

// formatWriter writes the directory structures of one archive format.
type formatWriter interface {
	// order sorts entries into the deterministic write order of the format.
	order(entries []*stagedEntry)
	// layout sizes directory tables and returns absolute offset of the first payload byte.
	layout(entries []*stagedEntry) (uint64, error)
	// writeIndex writes everything before payload data.
	writeIndex(out io.Writer, entries []*stagedEntry) error
	// writeTrailer writes everything after payload data.
	writeTrailer(out io.Writer, entries []*stagedEntry) error
}

// newFormatWriter returns writer for target format.
func newFormatWriter(t *writeTarget) formatWriter {
	switch {
	case t.format.IsTES4():
		return &tes4Writer{t: t}
	case t.format.IsBA2():
		return &ba2Writer{t: t}
	default:
		return &tes3Writer{t: t}
	}
}

// orderKey holds the fields that define write order of one entry.
type orderKey struct {
	dir        string
	name       string
	folderHash uint64
	nameHash   uint64
	ordinal    uint64
}

// lessInFormat compares two entries in the write order of format f.
func lessInFormat(f Format, left, right orderKey) bool {
	switch {
	case f.IsTES4():
		if left.folderHash != right.folderHash {
			return left.folderHash < right.folderHash
		}
		if ld, rd := nameKey(left.dir), nameKey(right.dir); ld != rd {
			return ld < rd
		}
		if left.nameHash != right.nameHash {
			return left.nameHash < right.nameHash
		}
		return nameKey(left.name) < nameKey(right.name)
	case f == FormatMorrowind:
		ll, rl := uint32(left.nameHash), uint32(right.nameHash)
		if ll != rl {
			return ll < rl
		}
		if lh, rh := uint32(left.nameHash>>32), uint32(right.nameHash>>32); lh != rh {
			return lh < rh
		}
		return nameKey(joinArchivePath(left.dir, left.name)) < nameKey(joinArchivePath(right.dir, right.name))
	default:
		return left.ordinal < right.ordinal
	}
}

// sortStaged sorts staged entries into write order.
func sortStaged(f Format, entries []*stagedEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return lessInFormat(f, entries[i].orderKey(), entries[j].orderKey())
	})
}

// orderKey returns write order key of staged entry.
func (e *stagedEntry) orderKey() orderKey {
	return orderKey{
		dir:        e.dir,
		name:       e.name,
		folderHash: e.folderHash,
		nameHash:   e.nameHash,
		ordinal:    e.file.ordinal,
	}
}

// orderFiles sorts files into the write order of format f.
func orderFiles(f Format, files []*File) []*File {
	hasher := f.hasher()
	keys := make(map[*File]orderKey, len(files))
	for _, file := range files {
		dir, name := splitArchivePath(file.Path())
		nameHash, folderHash, _, _ := entryHashes(hasher, file, dir, name)
		keys[file] = orderKey{
			dir:        dir,
			name:       name,
			folderHash: folderHash,
			nameHash:   nameHash,
			ordinal:    file.ordinal,
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		return lessInFormat(f, keys[files[i]], keys[files[j]])
	})
	return files
}

// Save writes the archive to path and rebinds the archive to the written file.
//
// Payloads are staged in parallel, offsets are assigned on one goroutine, and
// the result is written to a temp file in the target directory that replaces
// path only after a successful fsync. Any entry error aborts the whole save.
func (a *Archive) Save(ctx context.Context, path string, opts SaveOptions) (*SaveResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty output path", ErrWrite)
	}

	opts.applyDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = a.logger
	}

	started := time.Now()
	target, err := a.newWriteTarget(opts)
	if err != nil {
		return nil, err
	}

	staged, err := stageAll(ctx, target, a.collectFiles(), &opts, logger)
	if err != nil {
		return nil, err
	}

	fw := newFormatWriter(target)
	fw.order(staged)
	dataStart, err := fw.layout(staged)
	if err != nil {
		return nil, err
	}
	assignOffsets(staged, dataStart)

	res, err := commitArchive(ctx, path, fw, staged, dataStart, &opts)
	if err != nil {
		return nil, err
	}

	res.Format = target.format
	res.Duration = time.Since(started)
	logger.Debug("archive saved",
		slog.String("path", path),
		slog.String("format", target.format.String()),
		slog.Int("entries", res.WrittenEntries),
		slog.Int("copied", res.CopiedEntries),
		slog.Duration("duration", res.Duration),
	)

	if err := a.rebind(path, target, staged); err != nil {
		return res, err
	}

	return res, nil
}

// stageAll stages every file with a bounded worker group.
func stageAll(ctx context.Context, t *writeTarget, files []*File, opts *SaveOptions, logger *slog.Logger) ([]*stagedEntry, error) {
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	staged := make([]*stagedEntry, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			e, err := t.stageFile(f, opts, logger)
			if err != nil {
				return fmt.Errorf("stage %s: %w", f.Path(), err)
			}

			staged[i] = e
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return staged, nil
}

// assignOffsets lays payload parts out sequentially from dataStart.
func assignOffsets(entries []*stagedEntry, dataStart uint64) {
	pos := dataStart
	for _, e := range entries {
		for i := range e.parts {
			e.parts[i].offset = pos
			pos += uint64(e.parts[i].size)
		}
	}
}

// countingWriter tracks bytes written through it.
type countingWriter struct {
	w io.Writer
	n uint64
}

// Write forwards to the wrapped writer.
func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n) //nolint:gosec // n is non-negative
	return n, err
}

// writeErrTracker remembers the last write error to tell it apart from read errors.
type writeErrTracker struct {
	w   io.Writer
	err error
}

// Write forwards to the wrapped writer.
func (t *writeErrTracker) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}

	return n, err
}

// commitArchive writes staged archive into a temp file and moves it over path.
func commitArchive(
	ctx context.Context,
	path string,
	fw formatWriter,
	entries []*stagedEntry,
	dataStart uint64,
	opts *SaveOptions,
) (*SaveResult, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file: %w", ErrWrite, err)
	}

	tmpPath := tmp.Name()
	promoted := false
	defer func() {
		if !promoted {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	sum := blake3.New()
	bw, release := acquireSaveWriter(io.MultiWriter(tmp, sum), opts.WriterBufferSize)
	defer release()

	res, err := writeStaged(ctx, bw, fw, entries, dataStart, opts)
	if err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("%w: flush: %w", ErrWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync: %w", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: close: %w", ErrWrite, err)
	}

	copy(res.Checksum[:], sum.Sum(nil))
	if err := promoteTemp(tmpPath, path, opts.BackupKeep); err != nil {
		return nil, err
	}

	promoted = true
	return res, nil
}

// writeStaged streams directory, payloads and trailer of staged entries into out.
func writeStaged(
	ctx context.Context,
	out io.Writer,
	fw formatWriter,
	entries []*stagedEntry,
	dataStart uint64,
	opts *SaveOptions,
) (*SaveResult, error) {
	cw := &countingWriter{w: out}
	if err := fw.writeIndex(cw, entries); err != nil {
		return nil, err
	}
	if cw.n != dataStart {
		return nil, fmt.Errorf("%w: directory size %d, layout expects %d", ErrWrite, cw.n, dataStart)
	}

	copyBuf, releaseBuf := acquireSaveCopyBuffer()
	defer releaseBuf()

	res := &SaveResult{IndexSize: int64(dataStart)} //nolint:gosec // bounded by file size
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i := range e.parts {
			if err := writePart(cw, e.path, &e.parts[i], copyBuf); err != nil {
				return nil, err
			}
		}

		res.WrittenEntries++
		res.DataSize += int64(e.size()) //nolint:gosec // bounded by file size
		switch {
		case e.allCopied():
			res.CopiedEntries++
		case !e.file.isNew:
			res.TranscodedEntries++
		}
		if e.compressed() {
			res.CompressedEntries++
		}
		if e.skipped() {
			res.SkippedCompressionEntries++
		}

		if opts.OnEntryDone != nil {
			var unpacked uint32
			for i := range e.parts {
				unpacked += e.parts[i].unpacked
			}
			opts.OnEntryDone(SaveEntryProgress{
				Path:             e.path,
				Offset:           e.parts[0].offset,
				Size:             uint32(e.size()), //nolint:gosec // parts are bounded by the packed size field
				UncompressedSize: unpacked,
				Compressed:       e.compressed(),
				Copied:           e.allCopied(),
			})
		}
	}

	before := cw.n
	if err := fw.writeTrailer(cw, entries); err != nil {
		return nil, err
	}
	res.IndexSize += int64(cw.n - before) //nolint:gosec // bounded by file size

	return res, nil
}

// writePart writes one payload part at its assigned offset.
func writePart(cw *countingWriter, entryPath string, part *stagedPart, buf []byte) error {
	if cw.n != part.offset {
		return fmt.Errorf("%w: %s at %d, layout expects %d", ErrWrite, entryPath, cw.n, part.offset)
	}

	if !part.copied() {
		if _, err := cw.Write(part.data); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWrite, entryPath, err)
		}
		return nil
	}

	section, err := part.src.section(entryPath, part.srcOffset, part.size)
	if err != nil {
		return err
	}

	dst := &writeErrTracker{w: cw}
	n, err := copyPayloadBounded(dst, section, int64(part.size), buf)
	if err != nil {
		if dst.err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWrite, entryPath, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrDataTransfer, entryPath, err)
	}
	if n != int64(part.size) {
		return fmt.Errorf("%w: %w: %s copied %d of %d bytes", ErrDataTransfer, ErrCorruptArchive, entryPath, n, part.size)
	}

	return nil
}

// rebind points the archive and its files at the written file.
func (a *Archive) rebind(path string, t *writeTarget, entries []*stagedEntry) error {
	src, err := openSource(path)
	if err != nil {
		return fmt.Errorf("reopen saved archive: %w", err)
	}
	src.layout = t.layout

	formatChanged := t.format != a.format
	old := a.src
	a.src = src
	a.path = path
	a.format = t.format
	a.version = t.version
	a.flags = t.flags
	a.contentFlags = t.contentFlags
	a.names = t.written
	a.codec = t.layout.codec
	if formatChanged {
		a.arena.rehash(t.hasher)
	}

	for _, e := range entries {
		e.file.bindWritten(src, e)
	}

	if old != nil && old != src {
		if err := old.close(); err != nil {
			a.logger.Warn("close previous archive source", slog.String("error", err.Error()))
		}
	}

	return nil
}

// rehash recomputes folder hashes with a new hasher after format conversion.
func (a *folderArena) rehash(hasher Hasher) {
	a.hasher = hasher
	for _, folder := range a.folders {
		if folder == nil || folder.IsRoot() {
			continue
		}
		folder.hash = hasher.FolderHash(folder.Path())
	}
}

// bindWritten makes f an archive entry of src with the state written by Save.
func (f *File) bindWritten(src *source, e *stagedEntry) {
	f.src = src
	f.isNew = false
	f.input = nil
	f.nameHash = e.nameHash
	f.reserved = e.reserved
	f.recordFlags = e.recordFlags
	if o := f.origin; o != nil {
		o.dir, o.name = e.dir, e.name
		o.folderHash = e.folderHash
		o.syntheticDir, o.syntheticName = e.keptDir, e.keptName
		if !e.keptDir && !e.keptName {
			f.origin = nil
		}
	}
	f.writeDataOffset = e.parts[0].offset
	f.dataOffset = e.parts[0].offset
	f.stored = e.parts[0].state
	f.want = f.stored

	if e.texture == nil {
		f.texture = nil
		f.chunks = nil
		f.size = e.parts[0].size
		f.uncompressedSize = e.parts[0].unpacked
		return
	}

	tex := *e.texture
	f.texture = &tex
	f.chunks = make([]fileChunk, len(e.parts))
	f.size = 0
	f.uncompressedSize = 0
	for i := range e.parts {
		part := e.parts[i]
		f.chunks[i] = fileChunk{
			TextureChunk: TextureChunk{
				Offset:       part.offset,
				PackedSize:   packedSizeOf(part),
				UnpackedSize: part.unpacked,
				StartMip:     part.startMip,
				EndMip:       part.endMip,
			},
			want: part.state,
		}
		f.size += part.size
		f.uncompressedSize += part.unpacked
	}
}

// acquireSaveWriter returns a buffered writer and release callback for Save.
func acquireSaveWriter(out io.Writer, size int) (*bufio.Writer, func()) {
	if size == DefaultWriteBuffer {
		w := defaultSaveWriterPool.Get().(*bufio.Writer) //nolint:forcetypeassert // pool contains only *bufio.Writer
		w.Reset(out)

		return w, func() {
			w.Reset(io.Discard)
			defaultSaveWriterPool.Put(w)
		}
	}

	return bufio.NewWriterSize(out, size), func() {}
}

// acquireSaveCopyBuffer returns reusable payload copy buffer and release callback.
func acquireSaveCopyBuffer() ([]byte, func()) {
	arr := defaultSaveCopyBufferPool.Get().(*[DefaultCopyBuffer]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	buf := arr[:]

	return buf, func() {
		defaultSaveCopyBufferPool.Put(arr)
	}
}

// copyPayloadBounded streams payload from src to dst and enforces strict size limit.
func copyPayloadBounded(dst io.Writer, src io.Reader, limit int64, buf []byte) (int64, error) {
	if dst == nil {
		return 0, ErrNilWriter
	}
	if src == nil {
		return 0, ErrNilReader
	}
	if limit < 0 {
		return 0, ErrSizeLimitExceeded
	}
	if len(buf) == 0 {
		buf = make([]byte, 32*1024)
	}

	var written int64
	emptyReads := 0
	for written < limit {
		chunkSize := len(buf)
		if remaining := limit - written; int64(chunkSize) > remaining {
			chunkSize = int(remaining)
		}

		n, readErr := src.Read(buf[:chunkSize])
		if n > 0 {
			emptyReads = 0
			nw, writeErr := dst.Write(buf[:n])
			written += int64(nw)

			if writeErr != nil {
				return written, writeErr
			}
			if nw != n {
				return written, io.ErrShortWrite
			}
		}
		if n == 0 && readErr == nil {
			emptyReads++
			if emptyReads > 100 {
				return written, io.ErrNoProgress
			}

			continue
		}

		if readErr != nil {
			if readErr == io.EOF {
				break
			}

			return written, readErr
		}
	}

	return written, nil
}
