package runtime

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/grayline-dev/grayline/internal/agenterr"
	"github.com/grayline-dev/grayline/internal/protocol"
	"github.com/grayline-dev/grayline/internal/session"
	"github.com/grayline-dev/grayline/internal/tools"
)

// StepSink receives each pipeline step as soon as it completes, before the
// next step runs. A sink error aborts the run and propagates unchanged, so a
// crash-truncated journal still honours prefix ordering.
type StepSink func(protocol.RunStep) error

// Executor drives the fixed deterministic pipeline: inspect the request, load
// context, probe the command runner, optionally apply a patch carried by the
// plan, then build the report.
type Executor struct {
	host *tools.Host
}

// NewExecutor builds an executor over the given tool host.
func NewExecutor(host *tools.Host) *Executor {
	if host == nil {
		host = tools.NewHost(nil, nil)
	}
	return &Executor{host: host}
}

const (
	contextSearchLimit = 12
	probeCommand       = "echo command_runner_ok"
	probeTimeoutMS     = 2000
	patchTimeoutMS     = 4000
)

// Execute produces a RunResult, or a hard error when any step's tool call
// fails. Steps are emitted to the sink in pipeline order.
func (e *Executor) Execute(runID string, request protocol.RunRequest, cancel *session.CancelToken, sink StepSink) (protocol.RunResult, error) {
	result := protocol.RunResult{RunID: runID, Status: protocol.StatusCompleted}

	nextStepID := 1
	makeStepID := func() string {
		id := fmt.Sprintf("step-%d", nextStepID)
		nextStepID++
		return id
	}
	emit := func(step protocol.RunStep) error {
		result.Steps = append(result.Steps, step)
		if sink != nil {
			return sink(step)
		}
		return nil
	}

	mode := "mode=task"
	if request.PlanFile != "" {
		mode = "mode=plan_file"
	}
	if err := emit(protocol.RunStep{
		ID:      makeStepID(),
		Type:    protocol.StepInspectRequest,
		Success: true,
		Output:  mode,
	}); err != nil {
		return protocol.RunResult{}, err
	}

	var planContents string
	var contextOutput string
	switch {
	case request.PlanFile != "":
		res, err := e.host.ReadFile(request.WorkingDirectory, request.PlanFile)
		if err != nil {
			return protocol.RunResult{}, err
		}
		if !res.Success {
			return protocol.RunResult{}, agenterr.New(agenterr.Execution,
				"plan_file_read_failed",
				fmt.Sprintf("Failed to read plan file: %s", res.ErrorMessage))
		}
		planContents = res.Output
		contextOutput = fmt.Sprintf("Loaded plan file (%d bytes)", len(res.Output))
	case request.TaskDescription != "":
		res, err := e.host.Search(request.WorkingDirectory, tools.SearchRequest{
			Pattern:    pickSearchPattern(request.TaskDescription),
			Scope:      ".",
			MaxMatches: contextSearchLimit,
		})
		if err != nil {
			return protocol.RunResult{}, err
		}
		if !res.Success {
			return protocol.RunResult{}, agenterr.New(agenterr.Execution,
				"search_failed",
				fmt.Sprintf("Search failed: %s", res.ErrorMessage))
		}
		contextOutput = fmt.Sprintf("Task: %s\n%s", request.TaskDescription, res.Output)
	default:
		return protocol.RunResult{}, agenterr.New(agenterr.Input,
			"invalid_run_request", "Request has neither task nor plan file.")
	}
	if err := emit(protocol.RunStep{
		ID:      makeStepID(),
		Type:    protocol.StepLoadContext,
		Success: true,
		Output:  contextOutput,
	}); err != nil {
		return protocol.RunResult{}, err
	}

	commandResult, err := e.host.RunCommand(request.WorkingDirectory, tools.CommandRequest{
		Command:          probeCommand,
		WorkingDirectory: ".",
		TimeoutMS:        probeTimeoutMS,
		Cancel:           cancel,
	})
	if err != nil {
		return protocol.RunResult{}, err
	}
	if !commandResult.Success {
		return protocol.RunResult{}, agenterr.New(agenterr.Execution,
			"command_failed",
			fmt.Sprintf("Command step failed: %s", commandResult.ErrorMessage))
	}
	if err := emit(protocol.RunStep{
		ID:      makeStepID(),
		Type:    protocol.StepExecuteCommand,
		Success: true,
		Output:  commandResult.Output,
	}); err != nil {
		return protocol.RunResult{}, err
	}

	if planContents != "" && looksLikePatch(planContents) {
		patchResult, err := e.host.ApplyPatch(request.WorkingDirectory, tools.PatchRequest{
			PatchText: planContents,
			TimeoutMS: patchTimeoutMS,
			Cancel:    cancel,
		})
		if err != nil {
			return protocol.RunResult{}, err
		}
		if !patchResult.Success {
			return protocol.RunResult{}, agenterr.New(agenterr.Execution,
				"apply_patch_failed",
				fmt.Sprintf("Patch step failed: %s", patchResult.ErrorMessage))
		}
		if err := emit(protocol.RunStep{
			ID:      makeStepID(),
			Type:    protocol.StepApplyPatch,
			Success: true,
			Output:  "Patch applied successfully.",
		}); err != nil {
			return protocol.RunResult{}, err
		}
	}

	if err := emit(protocol.RunStep{
		ID:      makeStepID(),
		Type:    protocol.StepBuildReport,
		Success: true,
		Output:  "Prepared deterministic report context",
	}); err != nil {
		return protocol.RunResult{}, err
	}

	result.Summary = fmt.Sprintf("Deterministic execution completed with %d steps.", len(result.Steps))
	return result, nil
}

// pickSearchPattern derives a search seed from the task: the first
// alphanumeric token of length >= 4, else the first token, else "TODO".
func pickSearchPattern(task string) string {
	fallback := ""
	for _, token := range strings.FieldsFunc(task, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if fallback == "" {
			fallback = token
		}
		if len(token) >= 4 {
			return token
		}
	}
	if fallback != "" {
		return fallback
	}
	return "TODO"
}

func looksLikePatch(text string) bool {
	return strings.Contains(text, "+++ ") && strings.Contains(text, "--- ")
}
