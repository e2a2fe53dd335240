package tools

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/grayline-dev/grayline/internal/agenterr"
	"github.com/grayline-dev/grayline/internal/protocol"
	"github.com/grayline-dev/grayline/internal/session"
)

// DefaultCommandTimeoutMS bounds a command when the caller does not override
// it. A zero TimeoutMS on a hand-built request means no timeout.
const DefaultCommandTimeoutMS = 5000

// supervisionInterval is the bounded wait between cancel/timeout checks while
// a child process runs.
const supervisionInterval = 50 * time.Millisecond

// CommandRequest parameterises Host.RunCommand.
type CommandRequest struct {
	Command          string
	WorkingDirectory string
	TimeoutMS        int
	Cancel           *session.CancelToken
}

// NewCommandRequest returns a request with the default working directory and
// timeout.
func NewCommandRequest(command string) CommandRequest {
	return CommandRequest{
		Command:          command,
		WorkingDirectory: ".",
		TimeoutMS:        DefaultCommandTimeoutMS,
	}
}

type processCapture struct {
	exitCode  int
	timedOut  bool
	cancelled bool
	stdout    string
	stderr    string
	duration  time.Duration
}

// RunCommand validates the command and working directory, then runs the
// command under a login shell with bounded supervision. Timeouts and
// cancellations are negative outcomes, never hard errors.
func (h *Host) RunCommand(workspaceRoot string, request CommandRequest) (protocol.ToolResult, error) {
	command, err := h.guard.ValidateCommand(request.Command)
	if err != nil {
		return protocol.ToolResult{}, err
	}
	cwd := request.WorkingDirectory
	if cwd == "" {
		cwd = "."
	}
	resolvedCwd, err := h.guard.ValidatePathInWorkspace(workspaceRoot, cwd)
	if err != nil {
		return protocol.ToolResult{}, err
	}

	capture, err := runShell(command, resolvedCwd, request.TimeoutMS, request.Cancel)
	if err != nil {
		return protocol.ToolResult{}, err
	}

	result := protocol.ToolResult{
		ToolCallID:   "run_command",
		Output:       capture.stdout,
		ErrorMessage: capture.stderr,
		DurationMS:   durationMS(capture.duration),
	}

	switch {
	case capture.cancelled:
		result.Success = false
		result.ErrorMessage = appendMessage(result.ErrorMessage, "Command cancelled.")
	case capture.timedOut:
		result.Success = false
		result.ErrorMessage = appendMessage(result.ErrorMessage, "Command timed out.")
	default:
		result.Success = capture.exitCode == 0
		if !result.Success && result.ErrorMessage == "" {
			result.ErrorMessage = fmt.Sprintf("Command failed with exit code %d", capture.exitCode)
		}
	}

	h.metrics.RecordToolInvocation("run_command", result.Success, capture.duration)
	return result, nil
}

// runShell spawns `/bin/sh -lc <command>` in cwd and supervises it: both
// output pipes are drained concurrently until EOF, the child is killed on
// cancellation or timeout, and the loop only returns once the child is reaped
// AND both pipes hit EOF. Reaping does not flush kernel pipe buffers, so the
// drain must outlive the reap.
func runShell(command, cwd string, timeoutMS int, cancel *session.CancelToken) (processCapture, error) {
	var capture processCapture

	if cancel.IsSet() {
		capture.cancelled = true
		capture.stderr = "Command cancelled before start."
		return capture, nil
	}

	// A vanished working directory behaves like a child whose chdir failed.
	if info, statErr := os.Stat(cwd); statErr != nil || !info.IsDir() {
		capture.exitCode = 126
		capture.stderr = fmt.Sprintf("Cannot enter working directory: %s", cwd)
		return capture, nil
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return capture, agenterr.Wrap(agenterr.Internal,
			"pipe_creation_failed", "Failed to create process pipes.", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return capture, agenterr.Wrap(agenterr.Internal,
			"pipe_creation_failed", "Failed to create process pipes.", err)
	}

	cmd := exec.Command("/bin/sh", "-lc", command)
	cmd.Dir = cwd
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	// The shell leads its own process group so a kill also reaches commands it
	// forked; those would otherwise keep the pipes open until they exit.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return capture, agenterr.Wrap(agenterr.Internal,
			"spawn_failed", "Failed to start shell process.", err)
	}
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	drained := make(chan struct{}, 2)
	go drainPipe(stdoutR, &stdoutBuf, drained)
	go drainPipe(stderrR, &stderrBuf, drained)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	ticker := time.NewTicker(supervisionInterval)
	defer ticker.Stop()

	var waitErr error
	exited := false
	killed := false
	drainsDone := 0
	for !exited || drainsDone < 2 {
		select {
		case waitErr = <-waitCh:
			exited = true
		case <-drained:
			drainsDone++
		case <-ticker.C:
			if exited || killed {
				continue
			}
			if cancel.IsSet() {
				capture.cancelled = true
				killed = true
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				continue
			}
			if timeoutMS > 0 && time.Since(started) > time.Duration(timeoutMS)*time.Millisecond {
				capture.timedOut = true
				killed = true
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		}
	}

	capture.exitCode = exitCodeFromWait(waitErr)
	capture.stdout = stdoutBuf.String()
	capture.stderr = stderrBuf.String()
	capture.duration = time.Since(started)
	return capture, nil
}

func drainPipe(r *os.File, buf *bytes.Buffer, done chan<- struct{}) {
	_, _ = io.Copy(buf, r)
	_ = r.Close()
	done <- struct{}{}
}

// exitCodeFromWait maps a Wait error to the conventional shell exit code;
// signalled exits become 128+signo.
func exitCodeFromWait(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal())
			}
			return ws.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return -1
}

func appendMessage(existing, message string) string {
	if existing == "" {
		return message
	}
	return existing + "\n" + message
}
