// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/bsa

package bsa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "slash", in: "/", want: ""},
		{name: "clean", in: "meshes/armor/iron.nif", want: "meshes/armor/iron.nif"},
		{name: "windows", in: `.\Textures\Rocks\`, want: "Textures/Rocks"},
		{name: "dot segments", in: "./a/../b//c.txt", want: "b/c.txt"},
		{name: "spaces", in: "  sound/fx/hit.wav  ", want: "sound/fx/hit.wav"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, NormalizePath(tc.in))
		})
	}
}

func TestNormalizeArchiveEntryPath(t *testing.T) {
	t.Parallel()

	got, err := normalizeArchiveEntryPath(`.\meshes/armor\iron.nif`)
	require.NoError(t, err)
	require.Equal(t, `meshes\armor\iron.nif`, got)

	_, err = normalizeArchiveEntryPath("/")
	require.ErrorIs(t, err, ErrInvalidEntryPath)
}

func TestSplitAndJoinArchivePath(t *testing.T) {
	t.Parallel()

	dir, name := splitArchivePath(`meshes\armor\iron.nif`)
	require.Equal(t, `meshes\armor`, dir)
	require.Equal(t, "iron.nif", name)
	require.Equal(t, `meshes\armor\iron.nif`, joinArchivePath(dir, name))

	dir, name = splitArchivePath("meshes/rock.nif")
	require.Equal(t, "meshes", dir)
	require.Equal(t, "rock.nif", name)

	dir, name = splitArchivePath("readme.txt")
	require.Empty(t, dir)
	require.Equal(t, "readme.txt", name)
	require.Equal(t, "readme.txt", joinArchivePath("", name))

	require.Equal(t, []string{"meshes", "armor"}, folderSegments(`meshes\\armor\.`))
	require.Nil(t, folderSegments(""))
}

func TestNormalizeExtractEntryPath(t *testing.T) {
	t.Parallel()

	got, err := normalizeExtractEntryPath(`meshes\.\armor\iron.nif`)
	require.NoError(t, err)
	require.Equal(t, "meshes/armor/iron.nif", got)

	for _, bad := range []string{
		"",
		"   ",
		`\meshes\rock.nif`,
		"/etc/passwd",
		`..\evil.txt`,
		"meshes/../../evil.txt",
		`C:\Windows\evil.dll`,
		"a\x00b",
		"./.",
	} {
		_, err := normalizeExtractEntryPath(bad)
		require.ErrorIs(t, err, ErrInvalidExtractPath, "%q", bad)
	}
}
