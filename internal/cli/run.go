package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grayline-dev/grayline/internal/agenterr"
	"github.com/grayline-dev/grayline/internal/config"
	"github.com/grayline-dev/grayline/internal/logging"
	"github.com/grayline-dev/grayline/internal/observability"
	"github.com/grayline-dev/grayline/internal/policy"
	"github.com/grayline-dev/grayline/internal/protocol"
	"github.com/grayline-dev/grayline/internal/runtime"
	"github.com/grayline-dev/grayline/internal/session"
	"github.com/grayline-dev/grayline/internal/tools"
)

// NewRunCmd wires the run command to the deterministic pipeline driver.
func NewRunCmd(opts *Options) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the deterministic agent pipeline against a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return exitWith(exitInputError, err)
			}
			request, err := buildRunRequest(flags)
			if err != nil {
				return exitWith(exitInputError, err)
			}
			return driveRun(cfg, request)
		},
	}

	cmd.Flags().StringVar(&flags.Task, "task", "", "Task description (mutually exclusive with --plan-file)")
	cmd.Flags().StringVar(&flags.PlanFile, "plan-file", "", "Plan file path (mutually exclusive with --task)")
	cmd.Flags().StringVar(&flags.Cwd, "cwd", "", "Workspace root (default: current directory)")
	cmd.Flags().IntVar(&flags.MaxSteps, "max-steps", 0, "Step budget, 1..1000 (default 30)")
	cmd.Flags().BoolVar(&flags.Verbose, "verbose", false, "Log step outputs at info level")
	return cmd
}

// driveRun owns the run lifecycle: register the run, journal the request,
// execute the pipeline with inline step journaling, then record the terminal
// transition and final artifact.
func driveRun(cfg *config.Config, request protocol.RunRequest) error {
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return exitWith(exitInputError, err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort

	// Until the registry assigns the real run id, log lines carry an opaque
	// bootstrap id.
	log := logging.ForRun(logger, "boot-"+uuid.NewString()[:8])
	log.Info("agent interface layer bootstrapping")

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	manager := session.NewRunManager(logger)
	runID, err := manager.StartRun(request)
	if err != nil {
		log.Error("failed to start run", zap.Error(err))
		return exitWith(exitRunStartFailed, err)
	}
	log = logging.ForRun(logger, runID)
	log.Info("run started")

	token, err := manager.GetCancelToken(runID)
	if err != nil {
		log.Error("failed to get cancellation token", zap.Error(err))
		return exitWith(exitRunStartFailed, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		if _, cancelErr := manager.CancelRun(runID); cancelErr == nil {
			log.Warn("run cancelled by signal")
		}
	}()

	writer := session.NewArtifactWriter(request.WorkingDirectory, cfg.Artifacts.Subdir)
	artifactPath, err := writer.WriteRequest(runID, request)
	if err != nil {
		log.Error("failed to write request artifact", zap.Error(err))
		return exitWith(exitArtifactFailed, err)
	}

	guard := policy.NewGuard(policy.CommandPolicyWith(cfg.Policy.DeniedCommands))
	executor := runtime.NewExecutor(tools.NewHost(guard, metrics))

	var journalErr error
	sink := func(step protocol.RunStep) error {
		path, werr := writer.WriteStep(runID, step)
		if werr != nil {
			journalErr = werr
			return werr
		}
		artifactPath = path
		metrics.RecordStep()
		stepLog := log.Debug
		if request.Verbose {
			stepLog = log.Info
		}
		stepLog("step journaled",
			zap.String("step_id", step.ID),
			zap.Stringer("type", step.Type),
			zap.Bool("success", step.Success),
			zap.String("output", step.Output))
		return nil
	}

	result, err := executor.Execute(runID, request, token, sink)
	if err != nil {
		if journalErr != nil {
			log.Error("failed to write step artifact", zap.Error(journalErr))
			return exitWith(exitArtifactFailed, journalErr)
		}
		log.Error("execution failed", zap.Error(err))
		if _, werr := writer.WriteFinal(runID, protocol.StatusFailed, "Execution failed.", failureMessage(err)); werr != nil {
			log.Error("failed to write failure artifact", zap.Error(werr))
		}
		if _, ferr := manager.MarkFailed(runID, failureMessage(err)); ferr != nil {
			log.Error("failed to mark run as failed", zap.Error(ferr))
		}
		metrics.RecordRun(protocol.StatusFailed.String())
		return exitWith(exitExecutionFailed, err)
	}

	log.Info("run summary", zap.String("summary", result.Summary))

	if _, err := manager.MarkCompleted(runID); err != nil {
		log.Error("failed to mark run as completed", zap.Error(err))
		return exitWith(exitCompletionFailed, err)
	}
	state, err := manager.GetRunState(runID)
	if err != nil {
		log.Error("failed to fetch final run state", zap.Error(err))
		return exitWith(exitStateReadFailed, err)
	}
	log.Info("final run state", zap.Stringer("state", state))

	finalPath, err := writer.WriteFinal(runID, protocol.StatusCompleted, result.Summary, "")
	if err != nil {
		log.Error("failed to write final artifact", zap.Error(err))
		return exitWith(exitArtifactFailed, err)
	}
	artifactPath = finalPath
	metrics.RecordRun(protocol.StatusCompleted.String())
	log.Info("artifacts written", zap.String("path", artifactPath))
	return nil
}

// failureMessage extracts the human message without the code prefix when the
// error is structured.
func failureMessage(err error) string {
	var ae *agenterr.Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
