package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/me/tickbatch/internal/batch"
	"github.com/me/tickbatch/internal/config"
	"github.com/me/tickbatch/internal/logging"
	"github.com/me/tickbatch/internal/provision"
	"github.com/me/tickbatch/internal/report"
	"github.com/me/tickbatch/internal/scheduler"
	"github.com/me/tickbatch/internal/suite"
	"github.com/me/tickbatch/internal/ticker"
	"github.com/me/tickbatch/internal/world"
	"github.com/me/tickbatch/pkg/model"
)

// RunFailedError is returned when a run finishes with any outcome other
// than passed, so the process exits non-zero.
type RunFailedError struct {
	RunID   string
	Outcome model.RunOutcome
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run %s %s", e.RunID, e.Outcome)
}

func newRunCmd() *cobra.Command {
	var (
		haltOnError  bool
		fast         bool
		maxPerBatch  int
		maxRunTicks  int
		tickInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <suite.yaml>",
		Short: "Run a test suite",
		Long: `Run loads a suite file, batches its cases by batch name and steps them
until every batch has concluded. Failed cases are retried while their
max_attempts allow. The run and every case result are stored in the
result database.

The command exits non-zero unless every required case passed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("halt-on-error") {
				runnerCfg.HaltOnError = haltOnError
			}
			if flags.Changed("max-tests-per-batch") {
				runnerCfg.MaxTestsPerBatch = maxPerBatch
			}
			if flags.Changed("max-run-ticks") {
				runnerCfg.MaxRunTicks = maxRunTicks
			}
			if flags.Changed("tick-interval") {
				runnerCfg.TickInterval = tickInterval
			}
			if err := runnerCfg.Validate(); err != nil {
				return err
			}
			return runSuite(cmd.Context(), cmd.OutOrStdout(), args[0], runnerCfg, fast)
		},
	}

	cmd.Flags().BoolVar(&haltOnError, "halt-on-error", false, "Stop the run at the first failed case")
	cmd.Flags().BoolVar(&fast, "fast", false, "Tick without pausing between ticks")
	cmd.Flags().IntVar(&maxPerBatch, "max-tests-per-batch", batch.DefaultMaxPerBatch, "Largest batch size")
	cmd.Flags().IntVar(&maxRunTicks, "max-run-ticks", config.DefaultMaxRunTicks, "Stop the run after this many ticks")
	cmd.Flags().DurationVar(&tickInterval, "tick-interval", config.DefaultTickInterval, "Pause between ticks")

	return cmd
}

func runSuite(ctx context.Context, out io.Writer, path string, cfg config.RunnerConfig, fast bool) error {
	log := logging.Component(logger, "cli")

	loaded, err := suite.Load(path, logger)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	run := &model.Run{
		ID:          "run_" + uuid.New().String(),
		Suite:       loaded.Name,
		Outcome:     model.RunOutcomeRunning,
		HaltOnError: cfg.HaltOnError,
		CreatedAt:   time.Now().UTC(),
	}
	if err := st.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	log.Info("run created", "run_id", run.ID, "suite", run.Suite, "cases", len(loaded.Definitions))

	env := world.NewMemory()
	tk := ticker.New(logger)
	rep := report.NewReporter(context.WithoutCancel(ctx), st, run.ID, logger)
	grid := provision.NewGrid(env, loaded.Catalog, provision.GridOptions{
		Origin:      cfg.GridOrigin,
		TestsPerRow: cfg.TestsPerRow,
		Spacing:     cfg.GridSpacing,
	}, logger)

	runner := scheduler.NewBuilder(env, tk).
		HaltOnError(cfg.HaltOnError).
		Batcher(batch.ByName(loaded.Hooks, cfg.MaxTestsPerBatch)).
		Catalog(loaded.Catalog).
		FreshProvisioner(grid).
		Logger(logger).
		Listener(rep).
		CaseListener(rep).
		FromDefinitions(loaded.Definitions)

	runner.Start()

	// idle is polled after every tick, so it also reports cohort progress.
	var lastProgress string
	idle := func() bool {
		if b := runner.Current(); b != nil {
			if p := runner.Progress(); p != lastProgress {
				lastProgress = p
				log.Debug("progress", "tick", tk.Now(), "batch", b.Name, "cases", p)
			}
		}
		return runner.State() == model.RunStateIdle
	}
	stopped := false
	if fast {
		if _, err := tk.RunUntil(idle, cfg.MaxRunTicks); err != nil {
			log.Warn("run did not finish", "run_id", run.ID, "error", err)
			stopped = true
		}
	} else {
		overdue := false
		done := func() bool {
			if tk.Now() >= cfg.MaxRunTicks {
				overdue = true
			}
			return idle() || overdue
		}
		err := tk.Pump(ctx, cfg.TickInterval, done)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			log.Warn("run interrupted", "run_id", run.ID)
			stopped = true
		case err != nil:
			return err
		case overdue && !idle():
			log.Warn("run did not finish", "run_id", run.ID, "max_run_ticks", cfg.MaxRunTicks)
			stopped = true
		}
	}
	if stopped {
		runner.Stop()
	}

	rep.Flush(runner.Tests())
	summary := rep.Summary()
	completed := time.Now().UTC()
	run.Outcome = report.Outcome(summary, runner.Halted(), stopped)
	run.Ticks = tk.Now()
	run.Summary = summary
	run.CompletedAt = &completed

	// An interrupted run still gets its final record.
	if err := st.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	log.Info("run finished", "run_id", run.ID, "outcome", run.Outcome, "ticks", run.Ticks)

	printSummary(out, run)
	if run.Outcome != model.RunOutcomePassed {
		return &RunFailedError{RunID: run.ID, Outcome: run.Outcome}
	}
	return nil
}

func printSummary(out io.Writer, run *model.Run) {
	s := run.Summary
	fmt.Fprintf(out, "Run:      %s\n", run.ID)
	fmt.Fprintf(out, "Suite:    %s\n", run.Suite)
	fmt.Fprintf(out, "Outcome:  %s\n", run.Outcome)
	fmt.Fprintf(out, "Ticks:    %d\n", run.Ticks)
	fmt.Fprintf(out, "Batches:  %d\n", s.Batches)
	fmt.Fprintf(out, "Cases:    %d total, %d passed, %d failed (%d required, %d optional), %d reruns\n",
		s.Total, s.Passed, s.Failed(), s.FailedRequired, s.FailedOptional, s.Reruns)
}
