package chain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ostafen/vhdxlens/internal/vhdx"
	"github.com/stretchr/testify/require"
)

func TestLocateParentRelativePath(t *testing.T) {
	dir := t.TempDir()
	childPath := filepath.Join(dir, "child.vhdx")
	parentPath := filepath.Join(dir, "base.vhdx")
	require.NoError(t, os.WriteFile(parentPath, []byte("parent"), 0644))

	loc := vhdx.ParentLocator{LocatorKeyRelativePath: "base.vhdx"}
	got, err := LocateParent(childPath, loc)
	require.NoError(t, err)
	require.Equal(t, parentPath, got)
}

func TestLocateParentRelativePathWithBackslashes(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	parentPath := filepath.Join(sub, "base.vhdx")
	require.NoError(t, os.WriteFile(parentPath, []byte("parent"), 0644))

	childPath := filepath.Join(dir, "child.vhdx")
	loc := vhdx.ParentLocator{LocatorKeyRelativePath: `sub\base.vhdx`}
	got, err := LocateParent(childPath, loc)
	require.NoError(t, err)
	require.Equal(t, parentPath, got)
}

func TestLocateParentFallsBackToVolumePath(t *testing.T) {
	dir := t.TempDir()
	childPath := filepath.Join(dir, "child.vhdx")
	parentPath := filepath.Join(dir, "base.vhdx")
	require.NoError(t, os.WriteFile(parentPath, []byte("parent"), 0644))

	loc := vhdx.ParentLocator{
		LocatorKeyRelativePath: "does-not-exist.vhdx",
		LocatorKeyVolumePath:   parentPath,
	}
	got, err := LocateParent(childPath, loc)
	require.NoError(t, err)
	require.Equal(t, parentPath, got)
}

func TestLocateParentNoneResolve(t *testing.T) {
	dir := t.TempDir()
	childPath := filepath.Join(dir, "child.vhdx")

	loc := vhdx.ParentLocator{LocatorKeyRelativePath: "missing.vhdx"}
	_, err := LocateParent(childPath, loc)
	require.Error(t, err)
}

func TestLocateParentEmptyLocator(t *testing.T) {
	dir := t.TempDir()
	childPath := filepath.Join(dir, "child.vhdx")

	_, err := LocateParent(childPath, vhdx.ParentLocator{})
	require.Error(t, err)
}
