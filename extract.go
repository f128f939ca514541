// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// extractCopyBufferSize is the pooled copy buffer size of one extract worker.
const extractCopyBufferSize = 64 * 1024

// extractBufPool holds copy buffers shared by extract workers.
var extractBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, extractCopyBufferSize)
		return &buf
	},
}

// extractJob is one file scheduled for extraction.
type extractJob struct {
	file  *File
	entry EntryInfo
	// rel is output path relative to the destination root, OS separators.
	rel string
}

// Extract writes selected files of the archive to dstDir.
// Files are scheduled in payload offset order and written by MaxWorkers workers;
// the first failure cancels the rest and is returned.
func (a *Archive) Extract(ctx context.Context, dstDir string, opts ExtractOptions) error {
	if err := a.checkOpen(); err != nil {
		return err
	}

	opts.applyDefaults()
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	jobs, err := a.planExtract(opts)
	if err != nil || len(jobs) == 0 {
		return err
	}

	root, err := filepath.Abs(dstDir)
	if err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}
	if err := createExtractDirs(root, jobs); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			return extractFile(gctx, root, job, opts)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

// planExtract selects files by include rules and resolves their output paths.
func (a *Archive) planExtract(opts ExtractOptions) ([]extractJob, error) {
	include, err := newFilterMatcher(opts.Include, "include")
	if err != nil {
		return nil, err
	}

	files := a.collectFiles()
	ByOffset(files)

	selected := files[:0]
	entries := make([]EntryInfo, 0, len(files))
	for _, f := range files {
		info := f.Info()
		if include != nil && !include.Included(NormalizePath(info.Path), false) {
			continue
		}

		selected = append(selected, f)
		entries = append(entries, info)
	}

	if !opts.RawNames && len(entries) > 0 {
		if entries, err = sanitizeEntryInfoPaths(entries); err != nil {
			return nil, err
		}
	}

	jobs := make([]extractJob, 0, len(entries))
	for i, entry := range entries {
		rel, err := normalizeExtractEntryPath(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("normalize entry path %s: %w", entry.Path, err)
		}

		jobs = append(jobs, extractJob{file: selected[i], entry: entry, rel: filepath.FromSlash(rel)})
	}

	return jobs, nil
}

// createExtractDirs creates root and every distinct parent directory of jobs.
func createExtractDirs(root string, jobs []extractJob) error {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	made := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		dir := filepath.Dir(job.rel)
		if dir == "." {
			continue
		}

		key := strings.ToLower(dir)
		if _, ok := made[key]; ok {
			continue
		}

		made[key] = struct{}{}
		if err := os.MkdirAll(filepath.Join(root, dir), 0o750); err != nil {
			return fmt.Errorf("create output directory %s: %w", dir, err)
		}
	}

	return nil
}

// extractFile streams one file to disk honoring the file mode.
func extractFile(ctx context.Context, root string, job extractJob, opts ExtractOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rc, err := job.file.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	outPath := filepath.Join(root, job.rel)
	out, truncate, err := openExtractFile(outPath, opts.FileMode, int64(logicalSize(job.entry)))
	if err != nil {
		return fmt.Errorf("open %s: %w", job.entry.Path, err)
	}

	bufp := extractBufPool.Get().(*[]byte)
	// writerOnly keeps io.CopyBuffer on the pooled buffer instead of os.File.ReadFrom.
	written, err := io.CopyBuffer(writerOnly{out}, rc, *bufp)
	extractBufPool.Put(bufp)
	if err == nil && truncate {
		err = out.Truncate(written)
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", job.entry.Path, err)
	}

	if opts.OnEntryDone != nil {
		opts.OnEntryDone(job.entry, written, outPath)
	}

	return nil
}

// writerOnly hides optional interfaces of the wrapped writer.
type writerOnly struct {
	io.Writer
}

// openExtractFile opens the output file; the bool reports that the file must be
// truncated to the written length afterwards.
func openExtractFile(p string, mode ExtractFileMode, expectedSize int64) (*os.File, bool, error) {
	const create = os.O_WRONLY | os.O_CREATE

	switch mode {
	case ExtractFileModeCreateOnly:
		f, err := os.OpenFile(p, create|os.O_EXCL, 0o600)
		return f, false, err
	case ExtractFileModeTruncate:
		f, err := os.OpenFile(p, create|os.O_TRUNC, 0o600)
		return f, false, err
	case ExtractFileModeAuto:
		f, err := os.OpenFile(p, create|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			f, err = os.OpenFile(p, create|os.O_TRUNC, 0o600)
		}
		return f, false, err
	case ExtractFileModeOverwriteSmart:
		f, err := os.OpenFile(p, create, 0o600)
		if err != nil {
			return nil, false, err
		}

		st, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, false, err
		}

		return f, st.Size() > expectedSize, nil
	}

	return nil, false, fmt.Errorf("unknown extract file mode %q", mode)
}

// normalizeExtractEntryPath returns a clean relative slash path or ErrInvalidExtractPath
// for empty, absolute, drive-rooted and traversing paths.
func normalizeExtractEntryPath(entryPath string) (string, error) {
	raw := strings.ReplaceAll(strings.TrimSpace(entryPath), `\`, "/")
	if raw == "" || strings.ContainsRune(raw, 0) || raw[0] == '/' || hasWindowsAbsDrivePrefix(raw) {
		return "", ErrInvalidExtractPath
	}

	parts := make([]string, 0, strings.Count(raw, "/")+1)
	for part := range strings.SplitSeq(raw, "/") {
		switch part {
		case "", ".":
		case "..":
			return "", ErrInvalidExtractPath
		default:
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "", ErrInvalidExtractPath
	}

	return strings.Join(parts, "/"), nil
}

// hasWindowsAbsDrivePrefix reports a "C:/" style prefix.
func hasWindowsAbsDrivePrefix(p string) bool {
	if len(p) < 3 || p[1] != ':' || p[2] != '/' {
		return false
	}

	c := p[0] | 0x20
	return c >= 'a' && c <= 'z'
}
