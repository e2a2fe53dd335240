package protocol

// ToolResult is the structured outcome of a capability call. A failed result
// is a negative outcome the caller may reason about, distinct from a hard
// error: the operation ran but did not succeed.
type ToolResult struct {
	// ToolCallID is the capability name ("read_file", "run_command", ...),
	// not a correlation id.
	ToolCallID   string
	Success      bool
	Output       string
	ErrorMessage string
	DurationMS   float64
}
