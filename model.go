// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"io"
	"log/slog"
	"time"

	"github.com/woozymasta/pathrules"
)

// Default save tuning values.
const (
	DefaultWriteBuffer = 4 * 1024 * 1024
	DefaultCopyBuffer  = 256 * 1024
)

// EntryInfo describes one archive entry without payload.
type EntryInfo struct {
	// Texture is texture header for chunked texture records.
	Texture *TextureHeader `json:"texture,omitempty" yaml:"texture,omitempty"`
	// Path is full entry path with "\" separators.
	Path string `json:"path" yaml:"path"`
	// Hash is stored name hash.
	Hash uint64 `json:"hash" yaml:"hash"`
	// Offset is payload offset in archive (first chunk for textures).
	Offset uint64 `json:"offset" yaml:"offset"`
	// Size is on-disk payload size.
	Size uint32 `json:"size" yaml:"size"`
	// UncompressedSize is logical size when known.
	UncompressedSize uint32 `json:"uncompressed_size,omitempty" yaml:"uncompressed_size,omitempty"`
	// Chunks is number of texture chunks.
	Chunks int `json:"chunks,omitempty" yaml:"chunks,omitempty"`
	// Compressed reports stored compression state.
	Compressed bool `json:"compressed,omitempty" yaml:"compressed,omitempty"`
	// New reports entries that are not yet saved.
	New bool `json:"new,omitempty" yaml:"new,omitempty"`
}

// HeaderInfo is archive-level metadata read without the entry tree.
type HeaderInfo struct {
	// Format is detected archive format.
	Format Format `json:"format" yaml:"format"`
	// Version is raw header version.
	Version uint32 `json:"version" yaml:"version"`
	// Flags are TES4 archive flags.
	Flags ArchiveFlags `json:"flags,omitempty" yaml:"flags,omitempty"`
	// ContentFlags are TES4 content type flags.
	ContentFlags uint32 `json:"content_flags,omitempty" yaml:"content_flags,omitempty"`
	// FolderCount is number of folder records.
	FolderCount uint32 `json:"folder_count,omitempty" yaml:"folder_count,omitempty"`
	// FileCount is number of file records.
	FileCount uint32 `json:"file_count" yaml:"file_count"`
}

// Input describes one source stream to be added as a new archive entry.
type Input struct {
	// Open returns raw source stream for this entry.
	Open func() (io.ReadCloser, error) `json:"-" yaml:"-"`
	// Path is destination path inside archive.
	Path string `json:"path" yaml:"path"`
	// SourcePath is loose file path for diagnostics.
	SourcePath string `json:"source_path,omitempty" yaml:"source_path,omitempty"`
	// SizeHint is expected size in bytes (zero when unknown).
	SizeHint int64 `json:"size_hint,omitempty" yaml:"size_hint,omitempty"`
	// ToggleCompressed inverts archive default compression for this entry.
	ToggleCompressed bool `json:"toggle_compressed,omitempty" yaml:"toggle_compressed,omitempty"`
}

// OpenOptions configures archive parsing.
type OpenOptions struct {
	// Logger receives parse diagnostics. Nil disables logging.
	Logger *slog.Logger `json:"-" yaml:"-"`
	// Codec overrides payload codec of compressed entries (zero keeps format default).
	Codec CodecID `json:"codec,omitempty" yaml:"codec,omitempty"`
	// VerifyHashes recomputes name hashes and fails with ErrHashMismatch on divergence.
	VerifyHashes bool `json:"verify_hashes,omitempty" yaml:"verify_hashes,omitempty"`
}

// SaveEntryProgress contains one completed entry write event from save flow.
type SaveEntryProgress struct {
	// Path is entry path written to archive.
	Path string `json:"path" yaml:"path"`
	// Offset is payload offset in resulting archive.
	Offset uint64 `json:"offset" yaml:"offset"`
	// Size is stored payload size.
	Size uint32 `json:"size" yaml:"size"`
	// UncompressedSize is logical size.
	UncompressedSize uint32 `json:"uncompressed_size" yaml:"uncompressed_size"`
	// Compressed reports whether compressed payload was written.
	Compressed bool `json:"compressed,omitempty" yaml:"compressed,omitempty"`
	// Copied reports whether payload bytes were copied verbatim from the source archive.
	Copied bool `json:"copied,omitempty" yaml:"copied,omitempty"`
}

// SaveOptions configures Save behavior.
type SaveOptions struct {
	// Logger receives save diagnostics. Nil falls back to the archive logger.
	Logger *slog.Logger `json:"-" yaml:"-"`
	// OnEntryDone is called after one entry payload is written, in write order.
	OnEntryDone func(entry SaveEntryProgress) `json:"-" yaml:"-"`
	// Format converts archive into another format (zero keeps current format).
	Format Format `json:"format,omitempty" yaml:"format,omitempty"`
	// Codec overrides codec for compressed payloads (zero uses format default).
	Codec CodecID `json:"codec,omitempty" yaml:"codec,omitempty"`
	// MaxWorkers is number of staging workers (zero means GOMAXPROCS).
	MaxWorkers int `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	// WriterBufferSize is buffered writer size in bytes.
	WriterBufferSize int `json:"writer_buffer_size,omitempty" yaml:"writer_buffer_size,omitempty"`
	// MinCompressSize stores entries smaller than this size raw even when compression is requested.
	MinCompressSize uint32 `json:"min_compress_size,omitempty" yaml:"min_compress_size,omitempty"`
	// BackupKeep controls backup generations kept when an existing target is replaced.
	// 0 means no backup, 1 keeps only `<archive>.bak`, N keeps `.bak` + `.bak.1..N-1`.
	BackupKeep int `json:"backup_keep,omitempty" yaml:"backup_keep,omitempty"`
	// ForceCompression keeps compressed payload even when it is not smaller than raw.
	ForceCompression bool `json:"force_compression,omitempty" yaml:"force_compression,omitempty"`
}

// SaveResult contains save output statistics.
type SaveResult struct {
	// Format is format of the written archive.
	Format Format `json:"format" yaml:"format"`
	// WrittenEntries is number of entries written to archive.
	WrittenEntries int `json:"written_entries" yaml:"written_entries"`
	// CopiedEntries is number of payloads copied verbatim.
	CopiedEntries int `json:"copied_entries,omitempty" yaml:"copied_entries,omitempty"`
	// TranscodedEntries is number of archive payloads decoded and re-encoded.
	TranscodedEntries int `json:"transcoded_entries,omitempty" yaml:"transcoded_entries,omitempty"`
	// CompressedEntries is number of entries written with compressed payload.
	CompressedEntries int `json:"compressed_entries,omitempty" yaml:"compressed_entries,omitempty"`
	// SkippedCompressionEntries is number of compression requests stored as raw payload.
	SkippedCompressionEntries int `json:"skipped_compression_entries,omitempty" yaml:"skipped_compression_entries,omitempty"`
	// DataSize is total payload bytes written.
	DataSize int64 `json:"data_size" yaml:"data_size"`
	// IndexSize is total header, directory and name table bytes written.
	IndexSize int64 `json:"index_size" yaml:"index_size"`
	// Checksum is BLAKE3-256 of the written archive.
	Checksum [32]byte `json:"checksum" yaml:"checksum"`
	// Duration is end-to-end save duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// AddOptions configures directory import.
type AddOptions struct {
	// Compress defines ordered path rules for entries whose compression is toggled against the archive default.
	Compress []pathrules.Rule `json:"compress,omitempty" yaml:"compress,omitempty"`
	// CompressMatcherOptions control compression path rule matching.
	CompressMatcherOptions pathrules.MatcherOptions `json:"compress_matcher_options,omitzero" yaml:"compress_matcher_options,omitzero"`
	// Exclude defines path rules for files skipped during import.
	Exclude []pathrules.Rule `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// EditOptions configures file-based archive edit flow.
type EditOptions struct {
	// Open configures parsing of the edited archive.
	Open OpenOptions `json:"open,omitzero" yaml:"open,omitzero"`
	// Save is applied on commit. Save.Format must stay zero.
	Save SaveOptions `json:"save,omitzero" yaml:"save,omitzero"`
}

// ListOptions configures metadata listing filters.
type ListOptions struct {
	// Open configures parsing.
	Open OpenOptions `json:"open,omitzero" yaml:"open,omitzero"`
	// EntryPathPrefix keeps entries under prefix.
	EntryPathPrefix string `json:"entry_path_prefix,omitempty" yaml:"entry_path_prefix,omitempty"`
	// MinEntrySize keeps entries whose stored size is at least this value.
	MinEntrySize uint32 `json:"min_entry_size,omitempty" yaml:"min_entry_size,omitempty"`
	// MinUncompressedSize keeps entries whose logical size is at least this value.
	MinUncompressedSize uint32 `json:"min_uncompressed_size,omitempty" yaml:"min_uncompressed_size,omitempty"`
	// ASCIIOnly drops entries with non-ASCII path bytes.
	ASCIIOnly bool `json:"ascii_only,omitempty" yaml:"ascii_only,omitempty"`
	// SanitizeControlChars replaces control and format runes in entry paths.
	SanitizeControlChars bool `json:"sanitize_control_chars,omitempty" yaml:"sanitize_control_chars,omitempty"`
	// SanitizeNames rewrites entry paths to filesystem-safe names.
	SanitizeNames bool `json:"sanitize_names,omitempty" yaml:"sanitize_names,omitempty"`
}

// ExtractOptions configures Extract behavior.
type ExtractOptions struct {
	// OnEntryDone is called after one entry is fully written to disk.
	OnEntryDone func(entry EntryInfo, written int64, outputPath string) `json:"-" yaml:"-"`
	// FileMode controls output file creation policy.
	FileMode ExtractFileMode `json:"file_mode,omitempty" yaml:"file_mode,omitempty"`
	// Include limits extraction to entries matching ordered path rules.
	Include []pathrules.Rule `json:"include,omitempty" yaml:"include,omitempty"`
	// MaxWorkers is number of extraction workers (zero means GOMAXPROCS).
	MaxWorkers int `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	// RawNames disables default path sanitization during extract.
	RawNames bool `json:"raw_names,omitempty" yaml:"raw_names,omitempty"`
}

// ExtractFileMode controls output file open behavior during extraction.
type ExtractFileMode string

// Output file creation policies for extraction.
const (
	// ExtractFileModeAuto first tries create-only, then falls back to truncate for existing files.
	ExtractFileModeAuto ExtractFileMode = "auto"
	// ExtractFileModeTruncate opens existing files with truncate and creates missing files.
	ExtractFileModeTruncate ExtractFileMode = "truncate"
	// ExtractFileModeOverwriteSmart rewrites files in place and truncates only when the old file is longer.
	ExtractFileModeOverwriteSmart ExtractFileMode = "overwrite_smart"
	// ExtractFileModeCreateOnly creates files only when absent and fails on existing files.
	ExtractFileModeCreateOnly ExtractFileMode = "create_only"
)

// applyDefaults fills zero-valued save options with defaults.
func (opts *SaveOptions) applyDefaults() {
	if opts.WriterBufferSize < 4096 {
		opts.WriterBufferSize = DefaultWriteBuffer
	}
	if opts.BackupKeep < 0 {
		opts.BackupKeep = 0
	}
}

// applyDefaults fills zero-valued add options with defaults.
func (opts *AddOptions) applyDefaults() {
	if opts.CompressMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.CompressMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}

	if opts.CompressMatcherOptions.DefaultAction == pathrules.ActionUnknown {
		opts.CompressMatcherOptions.DefaultAction = pathrules.ActionExclude
	}
}

// applyDefaults fills zero-valued extract options with defaults.
func (opts *ExtractOptions) applyDefaults() {
	if opts.FileMode == "" {
		opts.FileMode = ExtractFileModeAuto
	}
}

// loggerOrDiscard returns logger or a handler that drops all records.
func loggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}

	return slog.New(slog.DiscardHandler)
}
