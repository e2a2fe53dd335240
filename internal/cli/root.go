package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grayline-dev/grayline/internal/agenterr"
	"github.com/grayline-dev/grayline/internal/config"
	"github.com/grayline-dev/grayline/internal/version"
)

// Options holds global CLI options.
type Options struct {
	ConfigPath string
}

// NewRootCmd constructs the base CLI command tree.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:           "grayline",
		Short:         "grayline – sandboxed deterministic agent-run harness",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to config file (default: config.yaml in . or configs)")

	cmd.AddCommand(NewRunCmd(opts))
	cmd.AddCommand(NewDoctorCmd(opts))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the CLI with the given arguments and returns the process exit
// code. Unknown commands, unknown flags, and validation failures all map to
// the input-error code.
func Execute(args []string) int {
	root := NewRootCmd()
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(os.Stderr, err)
	var ae *agenterr.Error
	if errors.As(err, &ae) && ae.Hint != "" {
		fmt.Fprintln(os.Stderr, "Hint: "+ae.Hint)
	}

	var xe *exitError
	if errors.As(err, &xe) {
		return xe.code
	}
	return exitInputError
}

// loadConfig wraps config loading with shared options.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
