// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import "errors"

// Sentinel errors for archive operations. Use errors.Is in callers.
var (
	// ErrUnsupportedFormat means the header magic or version is not recognized.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrCorruptArchive means archive structure or stored payload is malformed or truncated.
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrHashMismatch means a stored name hash does not match the hash of the stored name.
	ErrHashMismatch = errors.New("name hash mismatch")
	// ErrDataTransfer means payload bytes could not be read from the source at the expected range.
	ErrDataTransfer = errors.New("data transfer failed")
	// ErrMissingSource means a loose source file of a new entry is absent or unreadable.
	ErrMissingSource = errors.New("missing source file")
	// ErrDuplicateName means a sibling with the same name already exists in the folder.
	ErrDuplicateName = errors.New("duplicate entry name")
	// ErrWrite means the target stream failed during save.
	ErrWrite = errors.New("archive write failed")
	// ErrSizeLimitExceeded means a size or offset does not fit its on-disk field.
	ErrSizeLimitExceeded = errors.New("size exceeds format limit")
	// ErrEntryNotFound means the entry is not found.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrInvalidEntryPath means entry path is empty or invalid after normalization.
	ErrInvalidEntryPath = errors.New("invalid entry path")
	// ErrUnknownCodec means the codec identifier has no registered implementation.
	ErrUnknownCodec = errors.New("unknown codec")
	// ErrInvalidPathRules means one or more compress, exclude or include rules are invalid.
	ErrInvalidPathRules = errors.New("invalid path rules")
	// ErrInvalidExtractPath means archive entry path is invalid for extraction destination.
	ErrInvalidExtractPath = errors.New("invalid extract path")
	// ErrClosed means the archive or resource is already closed.
	ErrClosed = errors.New("archive already closed")
	// ErrNilReader means the reader is nil.
	ErrNilReader = errors.New("reader is nil")
	// ErrNilWriter means the writer is nil.
	ErrNilWriter = errors.New("writer is nil")
	// ErrFormatMismatch means an operation is not valid for the archive format.
	ErrFormatMismatch = errors.New("operation not supported by archive format")
	// ErrInvalidTexture means a DDS source or texture record cannot be mapped to chunks.
	ErrInvalidTexture = errors.New("invalid texture data")
)
