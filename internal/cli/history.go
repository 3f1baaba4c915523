package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/me/tickbatch/internal/store"
	"github.com/me/tickbatch/pkg/model"
)

// history is the read side shared by the local database and a remote
// results API.
type history interface {
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	ListCaseResults(ctx context.Context, runID string) ([]*model.CaseResult, error)
}

// localHistory reads the result database directly.
type localHistory struct {
	store.Store
}

// ListCaseResults fails for an unknown run instead of returning nothing.
func (h localHistory) ListCaseResults(ctx context.Context, runID string) ([]*model.CaseResult, error) {
	run, err := h.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, model.NewNotFoundError("run", runID)
	}
	return h.Store.ListCaseResults(ctx, runID)
}

// openHistory returns a remote history when serverURL is set, else the local
// database. The returned func releases it.
func openHistory(ctx context.Context, serverURL string) (history, func(), error) {
	if serverURL != "" {
		return NewClient(serverURL, logger), func() {}, nil
	}
	st, err := openStore(ctx, runnerCfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return localHistory{st}, func() { st.Close() }, nil
}

func newRunsCmd() *cobra.Command {
	var (
		serverURL string
		outcome   string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHistory(cmd.Context(), serverURL)
			if err != nil {
				return err
			}
			defer closeFn()

			opts := model.ListOptions{Limit: limit, Offset: offset, Outcome: outcome}
			opts.Clamp()
			runs, total, err := h.ListRuns(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			printRuns(cmd.OutOrStdout(), runs, total)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Read from a tickbatch server instead of the local database")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only runs with this outcome")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (max 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Runs to skip")
	return cmd
}

func newCasesCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "cases <run-id>",
		Short: "List the case results of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, closeFn, err := openHistory(cmd.Context(), serverURL)
			if err != nil {
				return err
			}
			defer closeFn()

			results, err := h.ListCaseResults(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("list cases: %w", err)
			}
			printCases(cmd.OutOrStdout(), results)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Read from a tickbatch server instead of the local database")
	return cmd
}

func printRuns(out io.Writer, runs []*model.Run, total int) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return
	}
	fmt.Fprintf(out, "%-40s  %-8s  %-20s  %-6s  %-8s  %s\n", "ID", "OUTCOME", "SUITE", "CASES", "FAILED", "CREATED")
	fmt.Fprintf(out, "%-40s  %-8s  %-20s  %-6s  %-8s  %s\n", "--", "-------", "-----", "-----", "------", "-------")
	for _, r := range runs {
		fmt.Fprintf(out, "%-40s  %-8s  %-20s  %-6d  %-8d  %s\n",
			r.ID, r.Outcome, r.Suite, r.Summary.Total, r.Summary.Failed(), r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if len(runs) < total {
		fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), total)
	}
}

func printCases(out io.Writer, results []*model.CaseResult) {
	if len(results) == 0 {
		fmt.Fprintln(out, "No case results recorded.")
		return
	}
	fmt.Fprintf(out, "%-24s  %-16s  %-8s  %-7s  %-5s  %s\n", "NAME", "BATCH", "STATUS", "ATTEMPT", "TICKS", "ERROR")
	fmt.Fprintf(out, "%-24s  %-16s  %-8s  %-7s  %-5s  %s\n", "----", "-----", "------", "-------", "-----", "-----")
	for _, r := range results {
		name := r.Name
		if !r.Required {
			name += " (optional)"
		}
		fmt.Fprintf(out, "%-24s  %-16s  %-8s  %-7d  %-5d  %s\n", name, r.Batch, r.Status, r.Attempt, r.Ticks, r.Error)
	}
}
