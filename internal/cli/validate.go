package cli

import (
	"os"
	"path/filepath"

	"github.com/grayline-dev/grayline/internal/agenterr"
	"github.com/grayline-dev/grayline/internal/protocol"
)

type runFlags struct {
	Task     string
	PlanFile string
	Cwd      string
	MaxSteps int
	Verbose  bool
}

// buildRunRequest enforces the XOR on task vs plan file, bounds max-steps,
// and resolves the working directory to an absolute existing directory.
func buildRunRequest(flags runFlags) (protocol.RunRequest, error) {
	if flags.Task == "" && flags.PlanFile == "" {
		return protocol.RunRequest{}, agenterr.New(agenterr.Input,
			"missing_required_flag",
			"Must provide either --task or --plan-file")
	}
	if flags.Task != "" && flags.PlanFile != "" {
		return protocol.RunRequest{}, agenterr.New(agenterr.Input,
			"conflicting_flags",
			"Cannot provide both --task and --plan-file")
	}

	request := protocol.RunRequest{
		TaskDescription: flags.Task,
		PlanFile:        flags.PlanFile,
		MaxSteps:        protocol.DefaultMaxSteps,
		Verbose:         flags.Verbose,
	}

	if flags.MaxSteps != 0 {
		if flags.MaxSteps < 1 || flags.MaxSteps > 1000 {
			return protocol.RunRequest{}, agenterr.New(agenterr.Input,
				"bounds_error",
				"--max-steps out of bounds").WithHint("Must be between 1 and 1000.")
		}
		request.MaxSteps = uint32(flags.MaxSteps)
	}

	cwd := flags.Cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return protocol.RunRequest{}, agenterr.Wrap(agenterr.Input,
				"invalid_path", "Unable to determine current directory", err)
		}
		cwd = wd
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return protocol.RunRequest{}, agenterr.Wrap(agenterr.Input,
			"invalid_path", "Failed to canonicalize working directory", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return protocol.RunRequest{}, agenterr.New(agenterr.Input,
			"invalid_path",
			"Working directory does not exist or is not a directory")
	}
	request.WorkingDirectory = abs

	return request, nil
}
