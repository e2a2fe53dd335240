package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/grayline-dev/grayline/internal/agenterr"
	"github.com/grayline-dev/grayline/internal/policy"
	"github.com/grayline-dev/grayline/internal/protocol"
)

// DefaultArtifactSubdir is where per-run event logs live under the workspace.
const DefaultArtifactSubdir = ".agent_runs"

// ArtifactWriter appends run events to <workspace>/<subdir>/<run_id>.jsonl,
// one JSON object per line. It owns no durable state beyond the filesystem;
// every call re-resolves the log path.
type ArtifactWriter struct {
	workspaceRoot  string
	artifactSubdir string
}

// NewArtifactWriter builds a writer; an empty subdir falls back to
// DefaultArtifactSubdir.
func NewArtifactWriter(workspaceRoot, artifactSubdir string) *ArtifactWriter {
	if artifactSubdir == "" {
		artifactSubdir = DefaultArtifactSubdir
	}
	return &ArtifactWriter{workspaceRoot: workspaceRoot, artifactSubdir: artifactSubdir}
}

type artifactEvent struct {
	TSUnixMS int64  `json:"ts_unix_ms"`
	Event    string `json:"event"`
	RunID    string `json:"run_id"`
	Payload  any    `json:"payload"`
}

type requestPayload struct {
	TaskDescription  string `json:"task_description"`
	PlanFile         string `json:"plan_file"`
	WorkingDirectory string `json:"working_directory"`
	MaxSteps         uint32 `json:"max_steps"`
	Verbose          bool   `json:"verbose"`
}

type stepPayload struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

type finalPayload struct {
	Status       string `json:"status"`
	Summary      string `json:"summary"`
	ErrorMessage string `json:"error_message"`
}

// RunLogPath validates the workspace, ensures the artifact directory exists,
// and returns the per-run log path.
func (w *ArtifactWriter) RunLogPath(runID string) (string, error) {
	if runID == "" {
		return "", agenterr.New(agenterr.Input, "invalid_run_id", "Run ID cannot be empty.")
	}
	canonicalRoot, err := policy.CanonicalWorkspace(w.workspaceRoot)
	if err != nil {
		return "", err
	}
	artifactsDir := filepath.Join(canonicalRoot, w.artifactSubdir)
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return "", agenterr.Wrap(agenterr.Internal,
			"artifact_dir_create_failed",
			fmt.Sprintf("Unable to create artifacts directory: %s", artifactsDir), err)
	}
	return filepath.Join(artifactsDir, runID+".jsonl"), nil
}

// appendEvent writes exactly one journaled line. Partial lines never appear
// provided the payload stays below the platform's write-atomic threshold.
func (w *ArtifactWriter) appendEvent(runID, eventJSON string) (string, error) {
	logPath, err := w.RunLogPath(runID)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", agenterr.Wrap(agenterr.Internal,
			"artifact_open_failed",
			fmt.Sprintf("Unable to open artifact file: %s", logPath), err)
	}
	_, writeErr := f.WriteString(eventJSON + "\n")
	closeErr := f.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return "", agenterr.Wrap(agenterr.Internal,
			"artifact_write_failed",
			fmt.Sprintf("Unable to write artifact event: %s", logPath), writeErr)
	}
	return logPath, nil
}

func (w *ArtifactWriter) writeEnvelope(runID, event string, payload any) (string, error) {
	line, err := json.Marshal(artifactEvent{
		TSUnixMS: time.Now().UnixMilli(),
		Event:    event,
		RunID:    runID,
		Payload:  payload,
	})
	if err != nil {
		return "", agenterr.Wrap(agenterr.Internal,
			"artifact_encode_failed", "Unable to encode artifact event.", err)
	}
	return w.appendEvent(runID, string(line))
}

// WriteRequest journals the validated run request.
func (w *ArtifactWriter) WriteRequest(runID string, request protocol.RunRequest) (string, error) {
	return w.writeEnvelope(runID, "request", requestPayload{
		TaskDescription:  request.TaskDescription,
		PlanFile:         request.PlanFile,
		WorkingDirectory: request.WorkingDirectory,
		MaxSteps:         request.MaxSteps,
		Verbose:          request.Verbose,
	})
}

// WriteStep journals a single pipeline step.
func (w *ArtifactWriter) WriteStep(runID string, step protocol.RunStep) (string, error) {
	return w.writeEnvelope(runID, "step", stepPayload{
		ID:      step.ID,
		Type:    step.Type.String(),
		Success: step.Success,
		Output:  step.Output,
	})
}

// WriteFinal journals the terminal outcome of the run.
func (w *ArtifactWriter) WriteFinal(runID string, status protocol.RunStatus, summary, errorMessage string) (string, error) {
	return w.writeEnvelope(runID, "final", finalPayload{
		Status:       status.String(),
		Summary:      summary,
		ErrorMessage: errorMessage,
	})
}

// IsArtifactError reports whether err came from the artifact journaling path.
func IsArtifactError(err error) bool {
	switch agenterr.CodeOf(err) {
	case "invalid_run_id", "artifact_dir_create_failed", "artifact_open_failed",
		"artifact_write_failed", "artifact_encode_failed":
		return true
	default:
		return false
	}
}
