// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

/*
Package bsa reads, edits and writes Bethesda archive containers: Morrowind
BSA, TES4 BSA (Oblivion v103, Fallout 3 / Skyrim v104, Skyrim SE v105) and
Fallout 4 / Starfield BA2 (general and DX10 texture records).

An Archive is an in-memory folder tree of File entries. Parsing reads only
directory tables; payloads stay in the source file and are read lazily.
Every File carries two compression states: the state stored on disk and the
state wanted on the next Save. Save copies stored bytes verbatim whenever
they are valid unchanged in the target and transcodes everything else.

Compression rules (summary):
  - TES4 archives have a default compression flag; a per-entry toggle bit inverts it;
  - Morrowind archives never compress;
  - BA2 records compress each payload (or texture chunk) independently;
  - compressed output that is not smaller than raw is stored raw unless forced;
  - entries smaller than SaveOptions.MinCompressSize are stored raw.

# Reading

Open an archive and read files:

	a, err := bsa.Open("Skyrim - Misc.bsa")
	if err != nil {
	    return err
	}
	defer a.Close()
	for _, f := range a.Files() {
	    data, _ := a.ReadFile(f.Path())
	    // use data
	}

Stream one file without buffering it:

	rc, err := a.OpenFile(`meshes\rock.nif`)
	if err != nil {
	    return err
	}
	defer rc.Close()

For metadata-only scans:

	hdr, err := bsa.ReadHeader("Fallout4 - Textures1.ba2")
	if err != nil {
	    return err
	}
	entries, err := bsa.ListEntriesWithOptions("Fallout4 - Textures1.ba2", bsa.ListOptions{
	    EntryPathPrefix: "textures/actors",
	    SanitizeNames:   true,
	})
	if err != nil {
	    return err
	}
	_, _ = hdr, entries

Verify stored name hashes while parsing:

	a, err := bsa.OpenWithOptions("mod.bsa", bsa.OpenOptions{VerifyHashes: true})

# Extracting

Extract files to a directory (parallel workers, payload offset order):

	if err := a.Extract(ctx, "out/", bsa.ExtractOptions{
	    MaxWorkers: 4,
	    Include: []pathrules.Rule{
	        {Action: pathrules.ActionInclude, Pattern: "textures/**"},
	    },
	}); err != nil {
	    return err
	}

Path sanitization is enabled by default during extraction; set RawNames to
keep stored names.

# Building

Create a new archive from loose files:

	a, err := bsa.New(bsa.FormatSkyrimSE)
	if err != nil {
	    return err
	}
	if _, err := a.AddDirectory("Data", "", bsa.AddOptions{
	    // Toggle compression of matching files against the archive default.
	    Compress: []pathrules.Rule{
	        {Action: pathrules.ActionInclude, Pattern: "*.wav"},
	    },
	}); err != nil {
	    return err
	}
	res, err := a.Save(ctx, "mod.bsa", bsa.SaveOptions{MaxWorkers: 4})
	_ = res.CopiedEntries

Save can convert between formats:

	res, err := a.Save(ctx, "mod.ba2", bsa.SaveOptions{Format: bsa.FormatBA2General})

# Editing

Edit an existing archive in one transaction:

	editor, err := bsa.OpenEditor("mod.bsa", bsa.EditOptions{
	    Save: bsa.SaveOptions{BackupKeep: 1},
	})
	if err != nil {
	    return err
	}
	if err := editor.Replace(bsa.Input{
	    Path: `scripts\quest.pex`,
	    Open: func() (io.ReadCloser, error) { return os.Open("quest.pex") },
	}); err != nil {
	    return err
	}
	if _, err := editor.Commit(ctx); err != nil {
	    return err
	}
*/
package bsa
