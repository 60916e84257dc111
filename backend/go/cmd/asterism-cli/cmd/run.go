package cmd

import (
	"asterism/backend/go/internal/config"
	"asterism/backend/go/internal/executor"
	"asterism/backend/go/internal/executor_service/store"
	"asterism/backend/go/internal/llm"
	"asterism/backend/go/internal/mcp"
	"asterism/backend/go/pkg/logger"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// completionEvaluator 在没有失败且仍有剩余任务时继续，否则结束运行。
type completionEvaluator struct{}

func (completionEvaluator) Evaluate(_ context.Context, st executor.State) (executor.Decision, string, error) {
	switch {
	case st.DependencyError != nil:
		return executor.DecisionFinalize, st.DependencyError.Error(), nil
	case st.Error != "":
		return executor.DecisionFinalize, st.Error, nil
	case len(st.Remaining()) > 0:
		return executor.DecisionContinue, fmt.Sprintf("%d tasks remaining", len(st.Remaining())), nil
	default:
		return executor.DecisionFinalize, "all tasks completed", nil
	}
}

func newRunCmd(load configLoader) *cobra.Command {
	var (
		runID      string
		sequential bool
	)
	runCmd := &cobra.Command{
		Use:   "run [plan-file]",
		Short: "Execute a task plan against the configured MCP servers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := config.LoadPlan(args[0])
			if err != nil {
				return err
			}
			cfg, registry, err := openRegistry(load)
			if err != nil {
				return err
			}
			defer registry.Close()

			if runID == "" {
				runID = uuid.New().String()
			}
			sched, err := buildScheduler(cmd.Context(), cfg, registry, !sequential, logger.New("asterism-cli", runID))
			if err != nil {
				return err
			}

			st := executor.State{RunID: runID}.WithPlan(plan)
			final, err := sched.Run(cmd.Context(), st, completionEvaluator{})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s: %d results", final.RunID, len(final.Results))
			// 完整结果，不截断
			fmt.Fprintln(out, executor.FormatResults(final.Results, 0))
			if final.DependencyError != nil {
				fmt.Fprintf(out, "Blocked: %s\n", final.DependencyError.Error())
			}
			if final.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", final.Error)
			}
			return err
		},
	}
	runCmd.Flags().StringVar(&runID, "run-id", "", "run id (default: random UUID)")
	runCmd.Flags().BoolVar(&sequential, "sequential", false, "execute one task at a time")
	return runCmd
}

func buildScheduler(ctx context.Context, cfg *config.AppConfig, registry *mcp.Registry, parallel bool, log *logger.Logger) (*executor.Scheduler, error) {
	runnerOpts := []executor.RunnerOption{
		executor.WithPreviewLength(cfg.Executor.PreviewLength),
		executor.WithRunnerLogger(log),
	}
	model, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	if model != nil {
		runnerOpts = append(runnerOpts, executor.WithReasoner(llm.NewReasoner(model, cfg.LLM.Temperature)))
	}
	if cfg.Executor.ResolveInputs {
		runnerOpts = append(runnerOpts, executor.WithInputResolver(executor.PlaceholderResolver{}))
	}

	return executor.NewScheduler(
		executor.NewRunner(registry, runnerOpts...),
		executor.WithParallel(parallel && cfg.Executor.ParallelEnabled(), cfg.Executor.MaxParallel),
		executor.WithWaveTimeout(cfg.Executor.WaveDeadline()),
		executor.WithResultStore(store.NewMemoryStore()),
		executor.WithSchedulerLogger(log),
	), nil
}
