package tools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grayline-dev/grayline/internal/agenterr"
)

func newTestHost() *Host {
	return NewHost(nil, nil)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestReadFileReturnsContents(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "hello.txt", "hello world\n")
	host := newTestHost()

	res, err := host.ReadFile(ws, "hello.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %q", res.ErrorMessage)
	}
	if res.Output != "hello world\n" {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if res.ToolCallID != "read_file" {
		t.Fatalf("unexpected tool_call_id %q", res.ToolCallID)
	}
}

func TestReadFileMissingIsNegativeOutcome(t *testing.T) {
	ws := t.TempDir()
	host := newTestHost()

	res, err := host.ReadFile(ws, "absent.txt")
	if err != nil {
		t.Fatalf("missing file must not be a hard error: %v", err)
	}
	if res.Success {
		t.Fatal("expected failed result")
	}
	if !strings.Contains(res.ErrorMessage, "does not exist") {
		t.Fatalf("unexpected message %q", res.ErrorMessage)
	}
}

func TestReadFileRejectsDirectory(t *testing.T) {
	ws := t.TempDir()
	if err := os.Mkdir(filepath.Join(ws, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	host := newTestHost()

	res, err := host.ReadFile(ws, "sub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || !strings.Contains(res.ErrorMessage, "not a regular file") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestReadFileRefusesBinary(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "blob.bin", "text\x00more")
	host := newTestHost()

	res, err := host.ReadFile(ws, "blob.bin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || !strings.Contains(res.ErrorMessage, "binary") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestReadFileOutsideWorkspaceIsHardError(t *testing.T) {
	ws := t.TempDir()
	outside := writeFile(t, t.TempDir(), "outside.txt", "secret")
	host := newTestHost()

	_, err := host.ReadFile(ws, outside)
	if err == nil {
		t.Fatal("expected policy error")
	}
	if agenterr.CodeOf(err) != "path_outside_workspace" {
		t.Fatalf("unexpected code %q", agenterr.CodeOf(err))
	}
}

func TestSearchFindsMatches(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "a.txt", "one needle here\nnothing\nneedle again")
	writeFile(t, ws, "nested/b.txt", "another needle")
	host := newTestHost()

	res, err := host.Search(ws, SearchRequest{Pattern: "needle", Scope: ".", MaxMatches: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success: %q", res.ErrorMessage)
	}
	if !strings.Contains(res.Output, "matches=3") {
		t.Fatalf("expected 3 matches, got %q", res.Output)
	}
	// Ordering is walk-dependent; assert membership.
	for _, want := range []string{"a.txt:1:", "a.txt:3:", "b.txt:1:"} {
		if !strings.Contains(res.Output, want) {
			t.Fatalf("missing %q in output %q", want, res.Output)
		}
	}
}

func TestSearchSingleFileScope(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "only.txt", "needle")
	writeFile(t, ws, "other.txt", "needle")
	host := newTestHost()

	res, err := host.Search(ws, SearchRequest{Pattern: "needle", Scope: "only.txt", MaxMatches: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Output, "matches=1") {
		t.Fatalf("expected 1 match, got %q", res.Output)
	}
}

func TestSearchNoMatches(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "a.txt", "nothing to see")
	host := newTestHost()

	res, err := host.Search(ws, SearchRequest{Pattern: "needle", Scope: ".", MaxMatches: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Output, "No matches found.") {
		t.Fatalf("unexpected output %q", res.Output)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "many.txt", strings.Repeat("needle\n", 50))
	host := newTestHost()

	res, err := host.Search(ws, SearchRequest{Pattern: "needle", Scope: ".", MaxMatches: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Output, "matches=7") {
		t.Fatalf("expected capped matches, got %q", res.Output)
	}
}

func TestSearchSkipsBinaryAndLargeFiles(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "bin.dat", "needle\x00needle")
	writeFile(t, ws, "big.txt", strings.Repeat("x", maxSearchFileSize+1)+"needle")
	writeFile(t, ws, "ok.txt", "needle")
	host := newTestHost()

	res, err := host.Search(ws, SearchRequest{Pattern: "needle", Scope: ".", MaxMatches: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Output, "matches=1") {
		t.Fatalf("binary/large files must be skipped, got %q", res.Output)
	}
}

func TestSearchTruncatesLongLines(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "long.txt", strings.Repeat("a", 300)+"needle"+strings.Repeat("b", 10))
	host := newTestHost()

	res, err := host.Search(ws, SearchRequest{Pattern: "needle", Scope: ".", MaxMatches: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Output, strings.Repeat("a", maxSnippetLength)+"...") {
		t.Fatalf("expected truncated snippet, got %q", res.Output)
	}
}

func TestSearchEmptyPattern(t *testing.T) {
	host := newTestHost()

	_, err := host.Search(t.TempDir(), SearchRequest{Pattern: "", Scope: ".", MaxMatches: 5})
	if agenterr.CodeOf(err) != "empty_search_pattern" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSearchZeroLimit(t *testing.T) {
	host := newTestHost()

	_, err := host.Search(t.TempDir(), SearchRequest{Pattern: "x", Scope: "."})
	if agenterr.CodeOf(err) != "invalid_search_limit" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSearchScopeOutsideWorkspace(t *testing.T) {
	host := newTestHost()

	_, err := host.Search(t.TempDir(), SearchRequest{Pattern: "x", Scope: "../elsewhere", MaxMatches: 5})
	if agenterr.CodeOf(err) != "path_outside_workspace" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNewSearchRequestDefaults(t *testing.T) {
	req := NewSearchRequest("needle")
	if req.Scope != "." || req.MaxMatches != DefaultSearchLimit {
		t.Fatalf("unexpected defaults %+v", req)
	}
}
