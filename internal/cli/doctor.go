package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/grayline-dev/grayline/internal/policy"
)

// NewDoctorCmd returns a health-check command validating config and the
// workspace, and printing the effective configuration.
func NewDoctorCmd(opts *Options) *cobra.Command {
	var cwd string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return exitWith(exitInputError, err)
			}

			workspace := cwd
			if workspace == "" {
				if workspace, err = os.Getwd(); err != nil {
					return exitWith(exitInputError, err)
				}
			}
			canonical, err := policy.CanonicalWorkspace(workspace)
			if err != nil {
				return exitWith(exitInputError, err)
			}

			denied := policy.CommandPolicyWith(cfg.Policy.DeniedCommands)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workspace OK: %s\n", canonical)
			fmt.Fprintf(out, "Denylist entries: %d\n", len(denied.BlockedSubstrings))

			rendered, err := yaml.Marshal(cfg)
			if err != nil {
				return exitWith(exitInputError, err)
			}
			fmt.Fprintf(out, "Effective config:\n%s", rendered)
			return nil
		},
	}

	cmd.Flags().StringVar(&cwd, "cwd", "", "Workspace root to validate (default: current directory)")
	return cmd
}
