package tools

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grayline-dev/grayline/internal/agenterr"
	"github.com/grayline-dev/grayline/internal/observability"
	"github.com/grayline-dev/grayline/internal/policy"
	"github.com/grayline-dev/grayline/internal/protocol"
)

// Host is the capability surface of a run. Every operation takes a workspace
// root and routes all paths through the policy guard before touching the
// filesystem. Failed ToolResults are negative outcomes, not errors; hard
// errors arise only from policy or precondition violations.
type Host struct {
	guard   *policy.Guard
	metrics *observability.Metrics
}

// NewHost builds a host. A nil guard falls back to the default policy; a nil
// metrics handle disables recording.
func NewHost(guard *policy.Guard, metrics *observability.Metrics) *Host {
	if guard == nil {
		guard = policy.NewGuard(policy.DefaultCommandPolicy())
	}
	return &Host{guard: guard, metrics: metrics}
}

const (
	binaryProbeBytes  = 1024
	maxSearchFileSize = 1024 * 1024
	maxSnippetLength  = 240
	// DefaultSearchLimit caps matches when the caller does not override it.
	DefaultSearchLimit = 20
)

// SearchRequest parameterises Host.Search.
type SearchRequest struct {
	Pattern    string
	Scope      string
	MaxMatches int
}

// NewSearchRequest returns a request with the default scope and match limit.
func NewSearchRequest(pattern string) SearchRequest {
	return SearchRequest{Pattern: pattern, Scope: ".", MaxMatches: DefaultSearchLimit}
}

// ReadFile returns the full contents of a regular, non-binary file inside the
// workspace.
func (h *Host) ReadFile(workspaceRoot, path string) (protocol.ToolResult, error) {
	started := time.Now()
	resolved, err := h.guard.ValidatePathInWorkspace(workspaceRoot, path)
	if err != nil {
		return protocol.ToolResult{}, err
	}

	fail := func(message string) (protocol.ToolResult, error) {
		res := protocol.ToolResult{ToolCallID: "read_file", ErrorMessage: message}
		h.metrics.RecordToolInvocation("read_file", false, time.Since(started))
		return res, nil
	}

	info, statErr := os.Stat(resolved)
	if statErr != nil {
		return fail(fmt.Sprintf("File does not exist: %s", resolved))
	}
	if !info.Mode().IsRegular() {
		return fail(fmt.Sprintf("Path is not a regular file: %s", resolved))
	}
	binary, sniffErr := isProbablyBinary(resolved)
	if sniffErr != nil {
		return fail(fmt.Sprintf("Failed to open file: %s", resolved))
	}
	if binary {
		return fail(fmt.Sprintf("Refusing to read binary file: %s", resolved))
	}

	data, readErr := os.ReadFile(resolved)
	if readErr != nil {
		return fail(fmt.Sprintf("I/O error while reading file: %s", resolved))
	}

	elapsed := time.Since(started)
	h.metrics.RecordToolInvocation("read_file", true, elapsed)
	return protocol.ToolResult{
		ToolCallID: "read_file",
		Success:    true,
		Output:     string(data),
		DurationMS: durationMS(elapsed),
	}, nil
}

// Search scans files under the scope for a literal substring, collecting
// "<file>:<line>:<snippet>" matches up to the request limit. Files larger
// than 1 MiB and binary-sniffed files are skipped; permission-denied entries
// are skipped silently. Match ordering follows the directory walk, which is
// stable for a given tree.
func (h *Host) Search(workspaceRoot string, request SearchRequest) (protocol.ToolResult, error) {
	if request.Pattern == "" {
		return protocol.ToolResult{}, agenterr.New(agenterr.Input,
			"empty_search_pattern", "Search pattern cannot be empty.")
	}
	if request.MaxMatches <= 0 {
		return protocol.ToolResult{}, agenterr.New(agenterr.Input,
			"invalid_search_limit", "max_matches must be greater than zero.")
	}

	started := time.Now()
	scope, err := h.guard.ValidatePathInWorkspace(workspaceRoot, request.Scope)
	if err != nil {
		return protocol.ToolResult{}, err
	}

	fail := func(message string) (protocol.ToolResult, error) {
		res := protocol.ToolResult{ToolCallID: "search", ErrorMessage: message}
		h.metrics.RecordToolInvocation("search", false, time.Since(started))
		return res, nil
	}

	info, statErr := os.Stat(scope)
	if statErr != nil {
		return fail(fmt.Sprintf("Scope does not exist: %s", scope))
	}

	var files []string
	switch {
	case info.Mode().IsRegular():
		files = []string{scope}
	case info.IsDir():
		walkErr := filepath.WalkDir(scope, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Permission-denied and racing deletions are skipped silently.
				return nil
			}
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		})
		if walkErr != nil {
			return fail(fmt.Sprintf("Failed to enumerate scope: %s", scope))
		}
	default:
		return fail(fmt.Sprintf("Scope is neither a file nor directory: %s", scope))
	}

	var out strings.Builder
	matches := 0
	for _, file := range files {
		if matches >= request.MaxMatches {
			break
		}
		fi, err := os.Stat(file)
		if err != nil || fi.Size() > maxSearchFileSize {
			continue
		}
		if binary, err := isProbablyBinary(file); err != nil || binary {
			continue
		}
		matches = scanFile(file, request.Pattern, request.MaxMatches, matches, &out)
	}

	var output strings.Builder
	fmt.Fprintf(&output, "pattern=%q scope=%q matches=%d\n", request.Pattern, scope, matches)
	if matches == 0 {
		output.WriteString("No matches found.")
	} else {
		output.WriteString(out.String())
	}

	elapsed := time.Since(started)
	h.metrics.RecordToolInvocation("search", true, elapsed)
	return protocol.ToolResult{
		ToolCallID: "search",
		Success:    true,
		Output:     output.String(),
		DurationMS: durationMS(elapsed),
	}, nil
}

// scanFile appends matches from one file, returning the updated match count.
// Line numbers are 1-based.
func scanFile(path, pattern string, maxMatches, matches int, out *strings.Builder) int {
	f, err := os.Open(path)
	if err != nil {
		return matches
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxSearchFileSize+1)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !strings.Contains(line, pattern) {
			continue
		}
		fmt.Fprintf(out, "%s:%d:%s\n", path, lineNo, trimSnippet(line))
		matches++
		if matches >= maxMatches {
			break
		}
	}
	return matches
}

func trimSnippet(line string) string {
	if len(line) <= maxSnippetLength {
		return line
	}
	return line[:maxSnippetLength] + "..."
}

// isProbablyBinary reports a NUL byte within the first KiB. The heuristic is
// deliberately coarse; it must never be weakened into reading unbounded
// binary blobs.
func isProbablyBinary(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, binaryProbeBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, err
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}

func durationMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}
