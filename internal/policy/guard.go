package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/grayline-dev/grayline/internal/agenterr"
)

// CommandPolicy holds the denylist scanned against every shell command. The
// denylist is a coarse safety net; the security boundary is path confinement
// plus the host OS subprocess sandbox.
type CommandPolicy struct {
	BlockedSubstrings []string
}

// DefaultCommandPolicy returns the built-in denylist.
func DefaultCommandPolicy() CommandPolicy {
	return CommandPolicy{BlockedSubstrings: []string{
		"sudo",
		"rm -rf",
		"shutdown",
		"reboot",
		"mkfs",
		"dd if=",
		":(){ :|:& };:",
	}}
}

// CommandPolicyWith returns the default denylist extended with extra entries,
// deduplicated case-insensitively.
func CommandPolicyWith(extra []string) CommandPolicy {
	p := DefaultCommandPolicy()
	seen := make(map[string]struct{}, len(p.BlockedSubstrings)+len(extra))
	for _, s := range p.BlockedSubstrings {
		seen[strings.ToLower(s)] = struct{}{}
	}
	for _, s := range extra {
		if s == "" {
			continue
		}
		if _, ok := seen[strings.ToLower(s)]; ok {
			continue
		}
		seen[strings.ToLower(s)] = struct{}{}
		p.BlockedSubstrings = append(p.BlockedSubstrings, s)
	}
	return p
}

// Guard enforces workspace confinement and the command denylist.
type Guard struct {
	commands CommandPolicy
}

// NewGuard builds a guard; an empty policy falls back to the default denylist.
func NewGuard(commands CommandPolicy) *Guard {
	if len(commands.BlockedSubstrings) == 0 {
		commands = DefaultCommandPolicy()
	}
	return &Guard{commands: commands}
}

// CanonicalWorkspace verifies root is an existing directory and returns its
// weakly canonical form.
func CanonicalWorkspace(root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", agenterr.New(agenterr.Input,
			"invalid_workspace_root",
			fmt.Sprintf("Workspace root does not exist: %s", root))
	}
	if !info.IsDir() {
		return "", agenterr.New(agenterr.Input,
			"invalid_workspace_root",
			fmt.Sprintf("Workspace root is not a directory: %s", root))
	}
	canonical, err := WeakCanonical(root)
	if err != nil {
		return "", agenterr.Wrap(agenterr.Input,
			"invalid_workspace_root",
			fmt.Sprintf("Unable to resolve workspace root: %s", root), err)
	}
	return canonical, nil
}

// ValidatePathInWorkspace confines target under workspaceRoot. Relative
// targets are joined under the canonical root; the canonical target must have
// the canonical root as a component-wise prefix. The target itself need not
// exist yet.
func (g *Guard) ValidatePathInWorkspace(workspaceRoot, target string) (string, error) {
	canonicalRoot, err := CanonicalWorkspace(workspaceRoot)
	if err != nil {
		return "", err
	}

	candidate := target
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(canonicalRoot, candidate)
	}
	canonicalTarget, err := WeakCanonical(candidate)
	if err != nil {
		return "", agenterr.Wrap(agenterr.Input,
			"invalid_path",
			fmt.Sprintf("Unable to resolve target path: %s", target), err)
	}

	if !withinRoot(canonicalRoot, canonicalTarget) {
		return "", agenterr.New(agenterr.Policy,
			"path_outside_workspace",
			fmt.Sprintf("Path escapes workspace root: %s", canonicalTarget))
	}
	return canonicalTarget, nil
}

// ValidateCommand rejects empty commands and any command containing a
// denylist substring, compared case-insensitively.
func (g *Guard) ValidateCommand(command string) (string, error) {
	if command == "" {
		return "", agenterr.New(agenterr.Input, "empty_command", "Command cannot be empty.")
	}
	lowered := strings.ToLower(command)
	for _, blocked := range g.commands.BlockedSubstrings {
		if strings.Contains(lowered, strings.ToLower(blocked)) {
			return "", agenterr.New(agenterr.Policy,
				"blocked_command",
				fmt.Sprintf("Command contains blocked operation: %s", blocked))
		}
	}
	return command, nil
}

// WeakCanonical resolves path to an absolute, symlink-collapsed form that
// tolerates nonexistent trailing components, so paths about to be created can
// still be confined.
func WeakCanonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return weakCanonicalAbs(filepath.Clean(abs))
}

func weakCanonicalAbs(abs string) (string, error) {
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
		return "", err
	}
	parent := filepath.Dir(abs)
	if parent == abs {
		return abs, nil
	}
	resolvedParent, err := weakCanonicalAbs(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(abs)), nil
}

// withinRoot compares as path segments; a string-prefix check would let
// /a/bc pass for root /a/b.
func withinRoot(root, child string) bool {
	rel, err := filepath.Rel(root, child)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
