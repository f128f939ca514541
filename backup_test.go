package bsa

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrepareBackupSlotShiftsGenerations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bak := filepath.Join(dir, "a.bsa.bak")
	write := func(p, data string) {
		require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	}
	read := func(p string) string {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		return string(data)
	}

	write(bak, "g0")
	write(bak+".1", "g1")
	write(bak+".2", "g2")

	require.NoError(t, prepareBackupSlot(bak, 3))
	require.NoFileExists(t, bak)
	require.Equal(t, "g0", read(bak+".1"))
	require.Equal(t, "g1", read(bak+".2"))

	require.NoError(t, prepareBackupSlot(bak, 1))
	require.NoFileExists(t, bak)

	write(bak, "only")
	require.NoError(t, prepareBackupSlot(bak, 1))
	require.NoFileExists(t, bak)
	require.Equal(t, "g1", read(bak+".2"))
}

func TestPromoteTempKeepsBackup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "a.bsa")
	tmp := filepath.Join(dir, ".a.bsa.tmp")

	require.NoError(t, os.WriteFile(tmp, []byte("first"), 0o600))
	require.NoError(t, promoteTemp(tmp, target, 2))
	require.NoFileExists(t, target+".bak")

	require.NoError(t, os.WriteFile(tmp, []byte("second"), 0o600))
	require.NoError(t, promoteTemp(tmp, target, 2))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
	data, err = os.ReadFile(target + ".bak")
	require.NoError(t, err)
	require.Equal(t, "first", string(data))
	require.NoFileExists(t, tmp)

	err = promoteTemp(filepath.Join(dir, "missing.tmp"), target, 0)
	require.ErrorIs(t, err, ErrWrite)
}
