// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Archive is an in-memory view of one archive: a folder tree with lazily read payloads.
//
// Tree mutation is single-writer. Payload reads (ReadFile, OpenFile, Extract)
// are safe for concurrent use while the tree is not mutated.
type Archive struct {
	logger *slog.Logger
	src    *source
	arena  *folderArena
	codec  Codec
	path   string

	names        storedNames
	version      uint32
	contentFlags uint32
	flags        ArchiveFlags
	format       Format

	mu     sync.Mutex
	closed bool
}

// storedNames keeps name table totals of the parsed directory. Archives that store no
// names get them written back unchanged while the entry set is untouched.
type storedNames struct {
	folders          uint32
	files            uint32
	folderNameLength uint32
	fileNameLength   uint32
	noNameTable      bool
}

// New creates an empty archive of format f.
func New(f Format) (*Archive, error) {
	return newArchive(f, OpenOptions{})
}

// newArchive creates an empty archive with format defaults.
func newArchive(f Format, opts OpenOptions) (*Archive, error) {
	codec, err := resolveCodec(f, opts.Codec)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		logger: loggerOrDiscard(opts.Logger),
		codec:  codec,
		format: f,
	}
	a.arena = newFolderArena(a, f.hasher())

	switch {
	case f.IsTES4():
		a.version = f.tes4Version()
		a.flags = DefaultArchiveFlags
	case f.IsBA2():
		a.version = DefaultBA2Version
	case f == FormatMorrowind:
		a.version = magicTES3
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}

	return a, nil
}

// resolveCodec returns codec for format with optional override.
func resolveCodec(f Format, override CodecID) (Codec, error) {
	if !f.SupportsCompression() {
		return nil, nil
	}

	id := override
	if id == CodecNone {
		id = f.DefaultCodec()
	}

	return NewCodec(id)
}

// Open opens archive file with default options.
func Open(path string) (*Archive, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions opens archive file and parses its directory.
func OpenWithOptions(path string, opts OpenOptions) (*Archive, error) {
	src, err := openSource(path)
	if err != nil {
		return nil, err
	}

	a, err := parseArchive(src, opts)
	if err != nil {
		_ = src.close()
		return nil, err
	}

	a.path = path
	return a, nil
}

// OpenReaderAt parses archive from a random-access source. The caller keeps ownership of ra.
func OpenReaderAt(ra io.ReaderAt, size int64, opts OpenOptions) (*Archive, error) {
	if ra == nil {
		return nil, ErrNilReader
	}

	return parseArchive(&source{ra: ra, size: size}, opts)
}

// parseArchive detects format and parses directory tables.
func parseArchive(src *source, opts OpenOptions) (*Archive, error) {
	probe, err := detectFormat(src.ra, src.size)
	if err != nil {
		return nil, err
	}

	a, err := newArchive(probe.format, opts)
	if err != nil {
		return nil, err
	}

	a.src = src
	src.layout = payloadLayout{codec: a.codec, format: a.format, framing: framingOf(a.format)}

	switch {
	case a.format.IsTES4():
		err = a.parseTES4(src, opts.VerifyHashes)
	case a.format.IsBA2():
		a.version = probe.ba2Version
		err = a.parseBA2(src, opts.VerifyHashes)
	default:
		err = a.parseTES3(src, opts.VerifyHashes)
	}
	if err != nil {
		return nil, err
	}

	a.logger.Debug("archive opened",
		slog.String("format", a.format.String()),
		slog.Int("files", a.arena.root().countFiles()),
	)
	return a, nil
}

// Close releases the source archive stream.
// Entries carried into other archives with AddFrom stop being readable.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}

	a.closed = true
	return a.src.close()
}

// checkOpen fails when archive is closed.
func (a *Archive) checkOpen() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	return nil
}

// Path returns file path the archive is bound to; empty for new or reader-backed archives.
func (a *Archive) Path() string {
	return a.path
}

// Format returns archive format.
func (a *Archive) Format() Format {
	return a.format
}

// Version returns raw header version.
func (a *Archive) Version() uint32 {
	return a.version
}

// Flags returns TES4 archive flags.
func (a *Archive) Flags() ArchiveFlags {
	return a.flags
}

// SetFlags replaces TES4 archive flags. Entry compression states stay absolute.
func (a *Archive) SetFlags(flags ArchiveFlags) error {
	if !a.format.IsTES4() {
		return fmt.Errorf("%w: archive flags on %s", ErrFormatMismatch, a.format)
	}

	a.flags = flags
	return nil
}

// ContentFlags returns TES4 content type flags.
func (a *Archive) ContentFlags() uint32 {
	return a.contentFlags
}

// SetContentFlags replaces TES4 content type flags; zero derives them from folder names on save.
func (a *Archive) SetContentFlags(flags uint32) {
	a.contentFlags = flags
}

// Compressed reports archive default compression.
func (a *Archive) Compressed() bool {
	return a.compressedDefault()
}

// SetCompressed changes archive default compression of a TES4 archive.
// Entry states do not change; their toggle bits are recomputed on save.
func (a *Archive) SetCompressed(compressed bool) error {
	if !a.format.IsTES4() {
		return fmt.Errorf("%w: default compression on %s", ErrFormatMismatch, a.format)
	}

	if compressed {
		a.flags |= FlagCompressed
	} else {
		a.flags &^= FlagCompressed
	}

	return nil
}

// compressedDefault returns default compression state of entries.
func (a *Archive) compressedDefault() bool {
	return a.format.IsTES4() && a.flags.Has(FlagCompressed)
}

// Root returns archive root folder.
func (a *Archive) Root() *Folder {
	return a.arena.root()
}

// Files returns all files in the deterministic write order of the archive format.
func (a *Archive) Files() []*File {
	return orderFiles(a.format, a.collectFiles())
}

// Entries returns metadata of all files in write order.
func (a *Archive) Entries() []EntryInfo {
	files := a.Files()
	out := make([]EntryInfo, len(files))
	for i, f := range files {
		out[i] = f.Info()
	}

	return out
}

// collectFiles returns all files in tree order.
func (a *Archive) collectFiles() []*File {
	files := make([]*File, 0, a.arena.root().countFiles())
	_ = a.arena.root().walkFiles(func(f *File) error {
		files = append(files, f)
		return nil
	})

	return files
}

// FindFile finds a file by archive path.
func (a *Archive) FindFile(archivePath string) (*File, bool) {
	dir, name := splitArchivePath(NormalizePath(archivePath))
	folder, ok := a.arena.lookupPath(dir)
	if !ok {
		return nil, false
	}

	return folder.FindFile(name)
}

// FindFolder finds a folder by archive path; empty path is the root.
func (a *Archive) FindFolder(archivePath string) (*Folder, bool) {
	return a.arena.lookupPath(NormalizePath(archivePath))
}

// AddInput adds a new entry from caller input.
func (a *Archive) AddInput(in Input) (*File, error) {
	archivePath, err := normalizeArchiveEntryPath(in.Path)
	if err != nil {
		return nil, err
	}
	if in.Open == nil {
		return nil, fmt.Errorf("%w: %s has no open function", ErrMissingSource, archivePath)
	}
	if in.SizeHint > int64(sizeMask) {
		return nil, fmt.Errorf("%w: %s size %d", ErrSizeLimitExceeded, archivePath, in.SizeHint)
	}

	dir, name := splitArchivePath(archivePath)
	if err := validateSegment(name); err != nil {
		return nil, err
	}
	if folder, ok := a.arena.lookupPath(dir); ok {
		if err := folder.checkFree(name); err != nil {
			return nil, err
		}
	}

	folder, err := a.arena.ensurePath(dir)
	if err != nil {
		return nil, err
	}

	want := effectiveCompression(a.compressedDefault(), in.ToggleCompressed)
	if !a.format.SupportsCompression() {
		want = CompressionRaw
	}

	input := in
	input.Path = archivePath
	f := newLooseFile(name, &input, want)
	if err := folder.addFile(f); err != nil {
		return nil, err
	}

	return f, nil
}

// AddLooseFile adds a file from disk under archivePath.
// toggleCompressed inverts the archive default compression for this entry.
func (a *Archive) AddLooseFile(diskPath string, archivePath string, toggleCompressed bool) (*File, error) {
	info, err := os.Stat(diskPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingSource, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrMissingSource, diskPath)
	}

	return a.AddInput(Input{
		Path:             archivePath,
		SourcePath:       diskPath,
		SizeHint:         info.Size(),
		ToggleCompressed: toggleCompressed,
		Open: func() (io.ReadCloser, error) {
			return os.Open(diskPath)
		},
	})
}

// AddDirectory adds every regular file under dir below archive folder prefix.
// Files matching opts.Compress rules get the compression toggle set.
func (a *Archive) AddDirectory(dir string, prefix string, opts AddOptions) ([]*File, error) {
	opts.applyDefaults()

	compress, err := newCompressMatcher(opts.Compress, opts.CompressMatcherOptions)
	if err != nil {
		return nil, err
	}

	exclude, err := newFilterMatcher(opts.Exclude, "exclude")
	if err != nil {
		return nil, err
	}

	prefix = NormalizePath(prefix)
	var added []*File
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if exclude != nil && exclude.Included(rel, false) {
			return nil
		}

		target := rel
		if prefix != "" {
			target = prefix + "/" + rel
		}

		f, err := a.AddLooseFile(p, target, compress.Match(rel))
		if err != nil {
			return err
		}

		added = append(added, f)
		return nil
	})
	if err != nil {
		return added, err
	}

	return added, nil
}

// AddFrom carries an entry of another archive into this one. The payload stays
// in the other archive until Save, so it must stay open until then.
// Empty archivePath keeps the source path.
func (a *Archive) AddFrom(other *Archive, srcPath string, archivePath string) (*File, error) {
	if other == nil {
		return nil, ErrNilReader
	}
	if err := other.checkOpen(); err != nil {
		return nil, err
	}

	orig, ok := other.FindFile(srcPath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, srcPath)
	}
	if archivePath == "" {
		archivePath = orig.Path()
	}

	archivePath, err := normalizeArchiveEntryPath(archivePath)
	if err != nil {
		return nil, err
	}

	dir, name := splitArchivePath(archivePath)
	if folder, ok := a.arena.lookupPath(dir); ok {
		if err := folder.checkFree(name); err != nil {
			return nil, err
		}
	}

	folder, err := a.arena.ensurePath(dir)
	if err != nil {
		return nil, err
	}

	f := orig.clone(name)
	if !a.format.SupportsCompression() {
		f.SetCompressed(false)
	}
	if err := folder.addFile(f); err != nil {
		return nil, err
	}

	return f, nil
}

// clone copies entry state under a new name, detached from any tree.
func (f *File) clone(name string) *File {
	out := *f
	out.arena = nil
	out.folder = noFolder
	out.name = name
	out.nameHash = 0
	out.origin = nil
	out.ordinal = 0
	out.writeDataOffset = 0
	if f.texture != nil {
		tex := *f.texture
		out.texture = &tex
	}
	if f.chunks != nil {
		out.chunks = append([]fileChunk(nil), f.chunks...)
	}
	if f.input != nil {
		in := *f.input
		out.input = &in
	}

	return &out
}

// RemoveFile removes one file from the tree.
func (a *Archive) RemoveFile(archivePath string) error {
	f, ok := a.FindFile(archivePath)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, archivePath)
	}

	f.Folder().removeFile(f)
	return nil
}

// RemoveFolder removes a folder with its whole subtree. The root cannot be removed.
func (a *Archive) RemoveFolder(archivePath string) error {
	folder, ok := a.FindFolder(archivePath)
	if !ok || folder.IsRoot() {
		return fmt.Errorf("%w: folder %s", ErrEntryNotFound, archivePath)
	}

	parent, _ := folder.Parent()
	parent.removeFolder(folder)
	return nil
}

// ReadFile returns logical content of one file. Texture records are returned as DDS files.
func (a *Archive) ReadFile(archivePath string) ([]byte, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}

	f, ok := a.FindFile(archivePath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, archivePath)
	}

	return f.content()
}
