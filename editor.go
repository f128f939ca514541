// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Editor accumulates archive edit operations and applies them on Commit.
type Editor struct {
	path string
	ops  []editOperation
	opts EditOptions
}

// editOperation stores one staged editor operation.
type editOperation struct {
	inputs []Input
	paths  []string
	kind   editOperationKind
}

// editOperationKind identifies staged edit action type.
type editOperationKind uint8

const (
	// editOperationAdd adds new entries and fails on existing path.
	editOperationAdd editOperationKind = iota + 1
	// editOperationReplace rewrites existing entries.
	editOperationReplace
	// editOperationDelete removes exact paths.
	editOperationDelete
	// editOperationDeleteDir removes folders with their subtree.
	editOperationDeleteDir
)

// OpenEditor creates staged editor for file-based archive rewrite workflow.
func OpenEditor(path string, opts EditOptions) (*Editor, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, ErrInvalidEntryPath
	}

	return &Editor{
		path: trimmedPath,
		opts: opts,
		ops:  make([]editOperation, 0, 8),
	}, nil
}

// Add schedules adding new entries; Commit fails on path collision.
func (e *Editor) Add(inputs ...Input) error {
	return e.scheduleInputs(editOperationAdd, inputs)
}

// Replace schedules replacing existing entries; Commit fails on missing paths.
// Replaced entries keep the compression state of the entry they replace.
func (e *Editor) Replace(inputs ...Input) error {
	return e.scheduleInputs(editOperationReplace, inputs)
}

// Delete schedules exact-path removal. Missing paths are ignored.
func (e *Editor) Delete(paths ...string) error {
	return e.schedulePaths(editOperationDelete, paths)
}

// DeleteDir schedules folder removal with the whole subtree. Missing folders are ignored.
func (e *Editor) DeleteDir(prefixes ...string) error {
	return e.schedulePaths(editOperationDeleteDir, prefixes)
}

// scheduleInputs validates inputs and appends one operation.
func (e *Editor) scheduleInputs(kind editOperationKind, inputs []Input) error {
	if e == nil {
		return ErrNilReader
	}
	if len(inputs) == 0 {
		return nil
	}

	normalized := make([]Input, 0, len(inputs))
	for i := range inputs {
		canonicalPath, err := normalizeArchiveEntryPath(inputs[i].Path)
		if err != nil {
			return err
		}
		if inputs[i].Open == nil {
			return fmt.Errorf("%w: %s has no open function", ErrMissingSource, canonicalPath)
		}

		item := inputs[i]
		item.Path = canonicalPath
		normalized = append(normalized, item)
	}

	e.ops = append(e.ops, editOperation{kind: kind, inputs: normalized})
	return nil
}

// schedulePaths validates paths and appends one operation.
func (e *Editor) schedulePaths(kind editOperationKind, paths []string) error {
	if e == nil {
		return ErrNilReader
	}
	if len(paths) == 0 {
		return nil
	}

	normalized := make([]string, 0, len(paths))
	for _, raw := range paths {
		canonical, err := normalizeArchiveEntryPath(raw)
		if err != nil {
			return err
		}

		normalized = append(normalized, canonical)
	}

	e.ops = append(e.ops, editOperation{kind: kind, paths: normalized})
	return nil
}

// Commit opens the archive, applies staged operations in order and saves it in place.
// Untouched entries are copied through; the original file is replaced only after a
// successful write, keeping Save.BackupKeep backup generations.
func (e *Editor) Commit(ctx context.Context) (*SaveResult, error) {
	if e == nil {
		return nil, ErrNilReader
	}

	a, err := OpenWithOptions(e.path, e.opts.Open)
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close() }()

	for _, op := range e.ops {
		if err := a.applyEdit(op); err != nil {
			return nil, err
		}
	}

	res, err := a.Save(ctx, e.path, e.opts.Save)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("archive edited",
		slog.String("path", e.path),
		slog.Int("operations", len(e.ops)),
		slog.Int("entries", res.WrittenEntries),
	)
	return res, nil
}

// applyEdit applies one staged operation to the archive tree.
func (a *Archive) applyEdit(op editOperation) error {
	switch op.kind {
	case editOperationAdd:
		for _, in := range op.inputs {
			if _, err := a.AddInput(in); err != nil {
				return err
			}
		}
	case editOperationReplace:
		for _, in := range op.inputs {
			old, ok := a.FindFile(in.Path)
			if !ok {
				return fmt.Errorf("%w: %s", ErrEntryNotFound, in.Path)
			}

			want := old.WantCompression()
			if err := a.RemoveFile(in.Path); err != nil {
				return err
			}

			f, err := a.AddInput(in)
			if err != nil {
				return err
			}
			f.SetCompressed(want == CompressionCompressed)
		}
	case editOperationDelete:
		for _, p := range op.paths {
			if err := a.RemoveFile(p); err != nil && !errors.Is(err, ErrEntryNotFound) {
				return err
			}
		}
	case editOperationDeleteDir:
		for _, p := range op.paths {
			if err := a.RemoveFolder(p); err != nil && !errors.Is(err, ErrEntryNotFound) {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown edit operation kind: %d", op.kind)
	}

	return nil
}
