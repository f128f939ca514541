// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
)

// promoteTemp moves an existing target into the backup chain and renames tmpPath over it.
// When the final rename fails the backup is moved back.
func promoteTemp(tmpPath string, path string, backupKeep int) error {
	backupPath := path + ".bak"
	backedUp := false

	if backupKeep > 0 {
		switch _, err := os.Stat(path); {
		case err == nil:
			if err := prepareBackupSlot(backupPath, backupKeep); err != nil {
				return err
			}
			if err := os.Rename(path, backupPath); err != nil {
				return fmt.Errorf("%w: move archive to backup: %w", ErrWrite, err)
			}
			backedUp = true
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("%w: stat %s: %w", ErrWrite, path, err)
		}
	}

	err := os.Rename(tmpPath, path)
	if err == nil {
		return nil
	}
	if backedUp {
		if rollbackErr := rollbackFromBackup(path, backupPath); rollbackErr != nil {
			return fmt.Errorf("%w: rename temp: %v (rollback failed: %v)", ErrWrite, err, rollbackErr)
		}
	}

	return fmt.Errorf("%w: rename temp: %w", ErrWrite, err)
}

// prepareBackupSlot frees "<archive>.bak" by shifting older generations up by one.
// keep counts generations including ".bak"; the generation past keep is dropped.
func prepareBackupSlot(backupPath string, keep int) error {
	if keep <= 1 {
		return removeIfExists(backupPath)
	}

	generation := func(i int) string {
		if i == 0 {
			return backupPath
		}

		return backupPath + "." + strconv.Itoa(i)
	}

	if err := removeIfExists(generation(keep - 1)); err != nil {
		return err
	}
	for i := keep - 2; i >= 0; i-- {
		if err := renameIfExists(generation(i), generation(i+1)); err != nil {
			return err
		}
	}

	return nil
}

// renameIfExists renames from to to, ignoring a missing source.
func renameIfExists(from string, to string) error {
	if err := os.Rename(from, to); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}

	return nil
}

// removeIfExists removes path, ignoring a missing file.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}

// rollbackFromBackup puts the backup back in place of a half-promoted archive.
func rollbackFromBackup(path string, backupPath string) error {
	_ = os.Remove(path)
	if err := os.Rename(backupPath, path); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}

	return nil
}
