package tools

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/grayline-dev/grayline/internal/agenterr"
	"github.com/grayline-dev/grayline/internal/protocol"
	"github.com/grayline-dev/grayline/internal/session"
)

// PatchRequest parameterises Host.ApplyPatch.
type PatchRequest struct {
	PatchText string
	TimeoutMS int
	Cancel    *session.CancelToken
}

// NewPatchRequest returns a request with the default timeout.
func NewPatchRequest(patchText string) PatchRequest {
	return PatchRequest{PatchText: patchText, TimeoutMS: DefaultCommandTimeoutMS}
}

// ApplyPatch validates every path named by the unified diff against the
// workspace, stages the patch text in a temp file under the artifact
// directory, and delegates to RunCommand with `patch -p1`. The temp file is
// removed whether or not the patch command succeeds.
func (h *Host) ApplyPatch(workspaceRoot string, request PatchRequest) (protocol.ToolResult, error) {
	if request.PatchText == "" {
		return protocol.ToolResult{}, agenterr.New(agenterr.Input,
			"empty_patch", "Patch text cannot be empty.")
	}

	paths := extractPatchPaths(request.PatchText)
	if len(paths) == 0 {
		return protocol.ToolResult{}, agenterr.New(agenterr.Input,
			"invalid_patch_format", "Patch does not include any file paths.")
	}
	for _, p := range paths {
		if _, err := h.guard.ValidatePathInWorkspace(workspaceRoot, p); err != nil {
			return protocol.ToolResult{}, err
		}
	}

	artifactsDir := filepath.Join(workspaceRoot, session.DefaultArtifactSubdir)
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return protocol.ToolResult{}, agenterr.Wrap(agenterr.Internal,
			"patch_temp_dir_failed",
			fmt.Sprintf("Failed to create temporary patch directory: %s", artifactsDir), err)
	}

	tmp, err := os.CreateTemp(artifactsDir, "tool_patch_*.diff")
	if err != nil {
		return protocol.ToolResult{}, agenterr.Wrap(agenterr.Internal,
			"patch_temp_open_failed",
			fmt.Sprintf("Failed to open temporary patch file in: %s", artifactsDir), err)
	}
	tmpPath := tmp.Name()
	_, writeErr := tmp.WriteString(request.PatchText)
	closeErr := tmp.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(tmpPath)
		return protocol.ToolResult{}, agenterr.Wrap(agenterr.Internal,
			"patch_temp_write_failed",
			fmt.Sprintf("Failed to write temporary patch file: %s", tmpPath), writeErr)
	}

	commandRequest := CommandRequest{
		Command:          fmt.Sprintf("patch -p1 --forward --batch -i '%s'", shellEscapeSingleQuotes(tmpPath)),
		WorkingDirectory: ".",
		TimeoutMS:        request.TimeoutMS,
		Cancel:           request.Cancel,
	}

	result, err := h.RunCommand(workspaceRoot, commandRequest)
	_ = os.Remove(tmpPath)
	if err != nil {
		return protocol.ToolResult{}, err
	}

	result.ToolCallID = "apply_patch"
	h.metrics.RecordToolInvocation("apply_patch", result.Success, 0)
	return result, nil
}

// extractPatchPaths pulls file paths from unified-diff header lines. The
// timestamp suffix after the first tab is dropped, leading a/ or b/ is
// stripped, /dev/null entries are ignored, and duplicates keep first-seen
// order.
func extractPatchPaths(patchText string) []string {
	seen := make(map[string]struct{})
	var paths []string

	scanner := bufio.NewScanner(strings.NewReader(patchText))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "--- ") && !strings.HasPrefix(line, "+++ ") {
			continue
		}
		candidate := line[4:]
		if tab := strings.IndexByte(candidate, '\t'); tab >= 0 {
			candidate = candidate[:tab]
		}
		if strings.HasPrefix(candidate, "a/") || strings.HasPrefix(candidate, "b/") {
			candidate = candidate[2:]
		}
		if candidate == "" || candidate == "/dev/null" {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		paths = append(paths, candidate)
	}
	return paths
}

func shellEscapeSingleQuotes(value string) string {
	return strings.ReplaceAll(value, "'", `'\''`)
}
