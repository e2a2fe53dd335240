package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grayline-dev/grayline/internal/agenterr"
)

func TestValidatePathRelativeInsideWorkspace(t *testing.T) {
	ws := t.TempDir()
	guard := NewGuard(DefaultCommandPolicy())

	resolved, err := guard.ValidatePathInWorkspace(ws, "sub/file.txt")
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(resolved))
	require.Equal(t, "file.txt", filepath.Base(resolved))
}

func TestValidatePathAbsoluteOutside(t *testing.T) {
	ws := t.TempDir()
	outside := filepath.Join(t.TempDir(), "outside.txt")
	guard := NewGuard(DefaultCommandPolicy())

	_, err := guard.ValidatePathInWorkspace(ws, outside)
	require.Error(t, err)
	require.Equal(t, "path_outside_workspace", agenterr.CodeOf(err))
	require.Equal(t, agenterr.Policy, agenterr.CategoryOf(err))
}

func TestValidatePathTraversal(t *testing.T) {
	ws := t.TempDir()
	guard := NewGuard(DefaultCommandPolicy())

	_, err := guard.ValidatePathInWorkspace(ws, "../escape.txt")
	require.Error(t, err)
	require.Equal(t, "path_outside_workspace", agenterr.CodeOf(err))
}

func TestValidatePathSegmentBoundary(t *testing.T) {
	// /a/bc must not pass a confinement check rooted at /a/b.
	base := t.TempDir()
	root := filepath.Join(base, "ws")
	sibling := filepath.Join(base, "wsx")
	require.NoError(t, os.Mkdir(root, 0o755))
	require.NoError(t, os.Mkdir(sibling, 0o755))
	guard := NewGuard(DefaultCommandPolicy())

	_, err := guard.ValidatePathInWorkspace(root, filepath.Join(sibling, "file.txt"))
	require.Error(t, err)
	require.Equal(t, "path_outside_workspace", agenterr.CodeOf(err))
}

func TestValidatePathNonexistentTail(t *testing.T) {
	// Targets about to be created must still validate.
	ws := t.TempDir()
	guard := NewGuard(DefaultCommandPolicy())

	resolved, err := guard.ValidatePathInWorkspace(ws, "not/yet/created.txt")
	require.NoError(t, err)
	require.Equal(t, "created.txt", filepath.Base(resolved))
}

func TestValidatePathSymlinkEscape(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(ws, "link")
	require.NoError(t, os.Symlink(outside, link))
	guard := NewGuard(DefaultCommandPolicy())

	_, err := guard.ValidatePathInWorkspace(ws, "link/file.txt")
	require.Error(t, err)
	require.Equal(t, "path_outside_workspace", agenterr.CodeOf(err))
}

func TestValidatePathMissingWorkspace(t *testing.T) {
	guard := NewGuard(DefaultCommandPolicy())

	_, err := guard.ValidatePathInWorkspace(filepath.Join(t.TempDir(), "missing"), "x")
	require.Error(t, err)
	require.Equal(t, "invalid_workspace_root", agenterr.CodeOf(err))
}

func TestValidatePathWorkspaceIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	guard := NewGuard(DefaultCommandPolicy())

	_, err := guard.ValidatePathInWorkspace(file, "x")
	require.Error(t, err)
	require.Equal(t, "invalid_workspace_root", agenterr.CodeOf(err))
}

func TestValidateCommandBlocked(t *testing.T) {
	guard := NewGuard(DefaultCommandPolicy())

	blocked := []string{
		"sudo apt install",
		"rm -rf /",
		"ReBoOt now",
		"SHUTDOWN -h",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		":(){ :|:& };:",
	}
	for _, cmd := range blocked {
		_, err := guard.ValidateCommand(cmd)
		require.Error(t, err, "command %q should be blocked", cmd)
		require.Equal(t, "blocked_command", agenterr.CodeOf(err))
		require.Equal(t, agenterr.Policy, agenterr.CategoryOf(err))
	}
}

func TestValidateCommandAllowed(t *testing.T) {
	guard := NewGuard(DefaultCommandPolicy())

	out, err := guard.ValidateCommand("echo hello && ls -la")
	require.NoError(t, err)
	require.Equal(t, "echo hello && ls -la", out)
}

func TestValidateCommandEmpty(t *testing.T) {
	guard := NewGuard(DefaultCommandPolicy())

	_, err := guard.ValidateCommand("")
	require.Error(t, err)
	require.Equal(t, "empty_command", agenterr.CodeOf(err))
}

func TestCommandPolicyWithExtras(t *testing.T) {
	guard := NewGuard(CommandPolicyWith([]string{"curl", "Sudo"}))

	_, err := guard.ValidateCommand("curl http://example.com")
	require.Error(t, err)
	require.Equal(t, "blocked_command", agenterr.CodeOf(err))

	// Duplicates of default entries are not re-added.
	p := CommandPolicyWith([]string{"Sudo"})
	require.Len(t, p.BlockedSubstrings, len(DefaultCommandPolicy().BlockedSubstrings))
}

func TestWeakCanonicalResolvesExistingPrefix(t *testing.T) {
	ws := t.TempDir()
	real := filepath.Join(ws, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(ws, "alias")
	require.NoError(t, os.Symlink(real, link))

	got, err := WeakCanonical(filepath.Join(link, "missing.txt"))
	require.NoError(t, err)
	resolvedReal, err := filepath.EvalSymlinks(real)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(resolvedReal, "missing.txt"), got)
}
