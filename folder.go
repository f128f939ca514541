// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"fmt"
	"strings"
)

// FolderID is an index of a folder inside the archive arena.
type FolderID int32

// Reserved folder identifiers.
const (
	noFolder     FolderID = -1
	rootFolderID FolderID = 0
)

// folderArena owns every folder of one archive. Parent links are indices, not pointers.
type folderArena struct {
	owner   *Archive
	hasher  Hasher
	folders []*Folder
	ordinal uint64
}

// newFolderArena creates arena with root folder.
func newFolderArena(owner *Archive, hasher Hasher) *folderArena {
	arena := &folderArena{owner: owner, hasher: hasher}
	arena.folders = append(arena.folders, &Folder{
		arena:  arena,
		id:     rootFolderID,
		parent: noFolder,
	})

	return arena
}

// root returns archive root folder.
func (a *folderArena) root() *Folder {
	return a.folders[rootFolderID]
}

// get returns live folder by id.
func (a *folderArena) get(id FolderID) *Folder {
	if id < 0 || int(id) >= len(a.folders) {
		return nil
	}

	return a.folders[id]
}

// folderPath reconstructs "\"-separated path by walking parent links.
func (a *folderArena) folderPath(id FolderID) string {
	var parts []string
	for cur := a.get(id); cur != nil && cur.parent != noFolder; cur = a.get(cur.parent) {
		parts = append(parts, cur.name)
	}
	if len(parts) == 0 {
		return ""
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}

	return strings.Join(parts, `\`)
}

// ensurePath returns folder for dir, creating missing segments.
func (a *folderArena) ensurePath(dir string) (*Folder, error) {
	cur := a.root()
	for _, segment := range folderSegments(dir) {
		next, ok := cur.FindFolder(segment)
		if ok {
			cur = next
			continue
		}

		created, err := cur.AddFolder(segment)
		if err != nil {
			return nil, err
		}
		cur = created
	}

	return cur, nil
}

// lookupPath returns folder for dir without creating it.
func (a *folderArena) lookupPath(dir string) (*Folder, bool) {
	cur := a.root()
	for _, segment := range folderSegments(dir) {
		next, ok := cur.FindFolder(segment)
		if !ok {
			return nil, false
		}
		cur = next
	}

	return cur, true
}

// nextOrdinal returns insertion order counter.
func (a *folderArena) nextOrdinal() uint64 {
	a.ordinal++
	return a.ordinal
}

// Folder is a node of the archive tree. Folder and file names are unique
// per folder, compared case-insensitively.
type Folder struct {
	arena   *folderArena
	name    string
	files   []*File
	folders []FolderID

	// lookup indices keyed by hash, collisions resolved by name comparison
	fileIndex   map[uint64][]*File
	folderIndex map[uint64][]FolderID

	hash   uint64
	id     FolderID
	parent FolderID
}

// ID returns arena index of the folder.
func (d *Folder) ID() FolderID {
	return d.id
}

// Name returns folder segment name; root has empty name.
func (d *Folder) Name() string {
	return d.name
}

// Path returns full "\"-separated path.
func (d *Folder) Path() string {
	return d.arena.folderPath(d.id)
}

// Hash returns folder path hash of the archive format.
func (d *Folder) Hash() uint64 {
	return d.hash
}

// IsRoot reports whether this is the archive root.
func (d *Folder) IsRoot() bool {
	return d.parent == noFolder
}

// Parent returns parent folder; root has none.
func (d *Folder) Parent() (*Folder, bool) {
	parent := d.arena.get(d.parent)
	return parent, parent != nil
}

// Files returns direct child files in insertion order.
func (d *Folder) Files() []*File {
	out := make([]*File, len(d.files))
	copy(out, d.files)
	return out
}

// Folders returns direct child folders in insertion order.
func (d *Folder) Folders() []*Folder {
	out := make([]*Folder, 0, len(d.folders))
	for _, id := range d.folders {
		out = append(out, d.arena.get(id))
	}

	return out
}

// FindFile finds a direct child file by name, case-insensitively.
func (d *Folder) FindFile(name string) (*File, bool) {
	if d.fileIndex == nil {
		return nil, false
	}

	for _, f := range d.fileIndex[d.fileKey(name)] {
		if strings.EqualFold(f.name, name) {
			return f, true
		}
	}

	return nil, false
}

// FindFolder finds a direct child folder by name, case-insensitively.
func (d *Folder) FindFolder(name string) (*Folder, bool) {
	if d.folderIndex == nil {
		return nil, false
	}

	for _, id := range d.folderIndex[d.folderKey(name)] {
		child := d.arena.get(id)
		if child != nil && strings.EqualFold(child.name, name) {
			return child, true
		}
	}

	return nil, false
}

// AddFolder creates a child folder. A sibling file or folder of the same name is ErrDuplicateName.
func (d *Folder) AddFolder(name string) (*Folder, error) {
	if err := validateSegment(name); err != nil {
		return nil, err
	}
	if err := d.checkFree(name); err != nil {
		return nil, err
	}

	child := &Folder{
		arena:  d.arena,
		id:     FolderID(len(d.arena.folders)), //nolint:gosec // arena size bounded by record counts
		parent: d.id,
		name:   name,
	}
	d.arena.folders = append(d.arena.folders, child)
	child.hash = d.arena.hasher.FolderHash(child.Path())

	if d.folderIndex == nil {
		d.folderIndex = make(map[uint64][]FolderID)
	}
	key := d.folderKey(name)
	d.folderIndex[key] = append(d.folderIndex[key], child.id)
	d.folders = append(d.folders, child.id)

	return child, nil
}

// addFile attaches f as a child. Hash is computed from the tree position unless already set.
func (d *Folder) addFile(f *File) error {
	if err := validateSegment(f.name); err != nil {
		return err
	}
	if err := d.checkFree(f.name); err != nil {
		return err
	}

	f.arena = d.arena
	f.folder = d.id
	if f.nameHash == 0 {
		f.nameHash = d.arena.hasher.FileHash(d.Path(), f.name)
	}
	if f.ordinal == 0 {
		f.ordinal = d.arena.nextOrdinal()
	} else if f.ordinal > d.arena.ordinal {
		d.arena.ordinal = f.ordinal
	}

	if d.fileIndex == nil {
		d.fileIndex = make(map[uint64][]*File)
	}
	key := d.fileKey(f.name)
	d.fileIndex[key] = append(d.fileIndex[key], f)
	d.files = append(d.files, f)

	return nil
}

// removeFile detaches f from the folder.
func (d *Folder) removeFile(f *File) bool {
	idx := -1
	for i := range d.files {
		if d.files[i] == f {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	d.files = append(d.files[:idx], d.files[idx+1:]...)
	key := d.fileKey(f.name)
	bucket := d.fileIndex[key]
	for i := range bucket {
		if bucket[i] == f {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(d.fileIndex, key)
	} else {
		d.fileIndex[key] = bucket
	}

	f.arena = nil
	f.folder = noFolder
	return true
}

// removeFolder detaches child folder and its subtree. Arena slots become nil.
func (d *Folder) removeFolder(child *Folder) bool {
	idx := -1
	for i, id := range d.folders {
		if id == child.id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	d.folders = append(d.folders[:idx], d.folders[idx+1:]...)
	key := d.folderKey(child.name)
	bucket := d.folderIndex[key]
	for i := range bucket {
		if bucket[i] == child.id {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(d.folderIndex, key)
	} else {
		d.folderIndex[key] = bucket
	}

	child.release()
	return true
}

// release clears subtree arena slots.
func (d *Folder) release() {
	for _, id := range d.folders {
		if sub := d.arena.get(id); sub != nil {
			sub.release()
		}
	}
	for _, f := range d.files {
		f.arena = nil
		f.folder = noFolder
	}

	d.arena.folders[d.id] = nil
}

// walkFiles visits files depth-first: own files first, then child folders in insertion order.
func (d *Folder) walkFiles(fn func(*File) error) error {
	for _, f := range d.files {
		if err := fn(f); err != nil {
			return err
		}
	}
	for _, id := range d.folders {
		if err := d.arena.get(id).walkFiles(fn); err != nil {
			return err
		}
	}

	return nil
}

// countFiles returns number of files in subtree.
func (d *Folder) countFiles() int {
	n := len(d.files)
	for _, id := range d.folders {
		n += d.arena.get(id).countFiles()
	}

	return n
}

// checkFree fails when a sibling file or folder already uses name.
func (d *Folder) checkFree(name string) error {
	if _, ok := d.FindFile(name); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, joinArchivePath(d.Path(), name))
	}
	if _, ok := d.FindFolder(name); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, joinArchivePath(d.Path(), name))
	}

	return nil
}

// fileKey returns lookup key of a child file name.
func (d *Folder) fileKey(name string) uint64 {
	return tes4Hash(nameKey(name), true)
}

// folderKey returns lookup key of a child folder name.
func (d *Folder) folderKey(name string) uint64 {
	return tes4Hash(nameKey(name), false)
}

// validateSegment rejects names that cannot be stored as one path segment.
func validateSegment(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `\/`) {
		return fmt.Errorf("%w: segment %q", ErrInvalidEntryPath, name)
	}

	return nil
}
