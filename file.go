// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"fmt"
	"sort"
	"strings"
)

// File is one leaf entry of the archive tree.
//
// Stored state (size, offset, compression) describes bytes as they currently
// live in the source archive. Write intent is kept separately and only takes
// effect on the next Save.
type File struct {
	arena *folderArena
	input *Input
	src   *source

	texture *TextureHeader
	chunks  []fileChunk
	origin  *hashOrigin

	name     string
	embedded string

	nameHash         uint64
	ordinal          uint64
	dataOffset       uint64
	writeDataOffset  uint64
	size             uint32
	uncompressedSize uint32
	folder           FolderID

	// recordFlags is the GNRL record flags word or the DX10 unknown byte
	recordFlags uint32

	stored   Compression
	want     Compression
	reserved bool
	isNew    bool
}

// hashOrigin records hashes of an entry whose name or folder was not stored in the
// archive and was derived from the hash instead.
type hashOrigin struct {
	hasher     Hasher
	dir        string
	name       string
	folderHash uint64

	// parts derived from hashes; the other part is a stored name
	syntheticDir  bool
	syntheticName bool
}

// newHashOrigin records stored hashes of a parsed entry placed at dir\name.
func newHashOrigin(hasher Hasher, dir string, name string, folderHash uint64, syntheticDir bool, syntheticName bool) *hashOrigin {
	if !syntheticDir && !syntheticName {
		return nil
	}

	return &hashOrigin{
		hasher:        hasher,
		dir:           dir,
		name:          name,
		folderHash:    folderHash,
		syntheticDir:  syntheticDir,
		syntheticName: syntheticName,
	}
}

// at reports whether the entry still sits at the parsed position.
func (o *hashOrigin) at(dir string, name string) bool {
	return strings.EqualFold(o.dir, dir) && strings.EqualFold(o.name, name)
}

// entryHashes returns file and folder hashes of f placed at dir\name under hasher.
// Stored hashes win over computed ones while a synthesized part keeps its name.
func entryHashes(hasher Hasher, f *File, dir string, name string) (nameHash uint64, folderHash uint64, keptName bool, keptDir bool) {
	nameHash = hasher.FileHash(dir, name)
	folderHash = hasher.FolderHash(dir)

	o := f.origin
	if o == nil || f.isNew || o.hasher != hasher {
		return nameHash, folderHash, false, false
	}

	if o.syntheticName && strings.EqualFold(o.name, name) {
		nameHash = f.nameHash
		keptName = true
	}
	if o.syntheticDir && strings.EqualFold(o.dir, dir) {
		folderHash = o.folderHash
		keptDir = true
	}

	return nameHash, folderHash, keptName, keptDir
}

// newArchiveFile creates entry parsed from TES4 folder record block.
func newArchiveFile(src *source, hash uint64, field sizeField, offset uint64, archiveCompressed bool) *File {
	state := effectiveCompression(archiveCompressed, field.toggle)
	return &File{
		src:        src,
		nameHash:   hash,
		size:       field.size,
		dataOffset: offset,
		stored:     state,
		want:       state,
		reserved:   field.reserved,
	}
}

// newOutOfBandFile creates entry whose metadata come from separate archive tables (Morrowind, BA2).
func newOutOfBandFile(
	src *source,
	name string,
	size uint32,
	offset uint64,
	uncompressedSize uint32,
	stored Compression,
	texture *TextureHeader,
	chunks []TextureChunk,
) *File {
	f := &File{
		src:              src,
		name:             name,
		size:             size,
		dataOffset:       offset,
		uncompressedSize: uncompressedSize,
		stored:           stored,
		want:             stored,
		texture:          texture,
	}

	if len(chunks) > 0 {
		f.chunks = make([]fileChunk, len(chunks))
		for i := range chunks {
			f.chunks[i] = fileChunk{TextureChunk: chunks[i], want: chunks[i].Compression()}
		}
	}

	return f
}

// newLooseFile creates a new entry backed by caller input; sizes are resolved on save.
func newLooseFile(name string, in *Input, want Compression) *File {
	f := &File{
		name:  name,
		input: in,
		isNew: true,
		want:  want,
	}
	if in.SizeHint > 0 && in.SizeHint <= int64(sizeMask) {
		f.uncompressedSize = uint32(in.SizeHint)
	}

	return f
}

// Name returns base name of the file.
func (f *File) Name() string {
	return f.name
}

// Path returns full "\"-separated path reconstructed from current tree position.
func (f *File) Path() string {
	if f.arena == nil {
		return f.name
	}

	return joinArchivePath(f.arena.folderPath(f.folder), f.name)
}

// Folder returns the owning folder.
func (f *File) Folder() *Folder {
	if f.arena == nil {
		return nil
	}

	return f.arena.get(f.folder)
}

// Hash returns the stored or computed name hash.
func (f *File) Hash() uint64 {
	return f.nameHash
}

// Size returns on-disk size. For compressed archive entries this is the compressed size,
// including any embedded name and original-size prefix.
func (f *File) Size() uint32 {
	return f.size
}

// UncompressedSize returns logical content size.
func (f *File) UncompressedSize() uint32 {
	return f.uncompressedSize
}

// DataOffset returns payload offset in the source archive. Only valid for archive entries.
func (f *File) DataOffset() uint64 {
	return f.dataOffset
}

// WriteDataOffset returns payload offset assigned by the last Save.
func (f *File) WriteDataOffset() uint64 {
	return f.writeDataOffset
}

// IsNew reports whether payload comes from a loose source instead of an archive.
func (f *File) IsNew() bool {
	return f.isNew
}

// SourcePath returns loose source path for entries added from disk.
func (f *File) SourcePath() string {
	if f.input == nil {
		return ""
	}

	return f.input.SourcePath
}

// Compression returns stored compression state (write intent for new entries).
func (f *File) Compression() Compression {
	if f.isNew {
		return f.want
	}

	return f.stored
}

// WantCompression returns compression state requested for the next write.
func (f *File) WantCompression() Compression {
	return f.want
}

// CompressToggled reports whether requested state differs from the archive default.
func (f *File) CompressToggled() bool {
	return toggleFor(f.archiveCompressed(), f.want)
}

// SetCompressed sets requested compression state for the next write.
// Chunked entries apply the state to every chunk.
func (f *File) SetCompressed(compressed bool) {
	f.want = compressionOf(compressed)
	for i := range f.chunks {
		f.chunks[i].want = f.want
	}
}

// SetCompressToggled sets requested state relative to the archive default.
func (f *File) SetCompressToggled(toggle bool) {
	f.SetCompressed(f.archiveCompressed() != toggle)
}

// Texture returns texture header for chunked entries.
func (f *File) Texture() (TextureHeader, bool) {
	if f.texture == nil {
		return TextureHeader{}, false
	}

	return *f.texture, true
}

// Chunks returns stored chunk table in order.
func (f *File) Chunks() []TextureChunk {
	out := make([]TextureChunk, len(f.chunks))
	for i := range f.chunks {
		out[i] = f.chunks[i].TextureChunk
	}

	return out
}

// SetChunkCompressed sets requested compression state of one chunk.
func (f *File) SetChunkCompressed(index int, compressed bool) error {
	if index < 0 || index >= len(f.chunks) {
		return fmt.Errorf("%w: chunk %d of %s", ErrEntryNotFound, index, f.Path())
	}

	f.chunks[index].want = compressionOf(compressed)
	return nil
}

// ReservedFlag reports whether the reserved bit of the packed size field was set in the source.
func (f *File) ReservedFlag() bool {
	return f.reserved
}

// HashOnly reports whether the name or folder of the entry was derived from stored hashes
// because the archive does not store names.
func (f *File) HashOnly() bool {
	return f.origin != nil
}

// Info returns metadata snapshot.
func (f *File) Info() EntryInfo {
	info := EntryInfo{
		Path:             f.Path(),
		Hash:             f.nameHash,
		Offset:           f.dataOffset,
		Size:             f.size,
		UncompressedSize: f.uncompressedSize,
		Compressed:       f.Compression() == CompressionCompressed,
		Chunks:           len(f.chunks),
		New:              f.isNew,
	}
	if f.texture != nil {
		tex := *f.texture
		info.Texture = &tex
	}

	return info
}

// archiveCompressed returns owning archive default compression.
func (f *File) archiveCompressed() bool {
	if f.arena == nil || f.arena.owner == nil {
		return false
	}

	return f.arena.owner.compressedDefault()
}

// chunked reports whether payload is stored as a chunk table.
func (f *File) chunked() bool {
	return len(f.chunks) > 0
}

// ByOffset sorts files by source data offset; new entries go last in tree order.
func ByOffset(files []*File) {
	sort.SliceStable(files, func(i, j int) bool {
		left, right := files[i], files[j]
		if left.isNew != right.isNew {
			return !left.isNew
		}
		if left.isNew {
			return left.ordinal < right.ordinal
		}

		return left.firstOffset() < right.firstOffset()
	})
}

// firstOffset returns lowest source offset of payload.
func (f *File) firstOffset() uint64 {
	if len(f.chunks) > 0 {
		return f.chunks[0].Offset
	}

	return f.dataOffset
}
