package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect scoring run history",
	Long:  "Commands for listing, viewing, selecting and summarizing scoring runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scoring runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show a run and its export history (default: the selected run)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		run, err := resolveRun(ctx, st, id)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		exports, err := st.ListExports(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*model.Run
			Exports []model.ExportRecord `json:"exports"`
		}{run, exports})
	},
}

// -- runs select --

var runsSelectCmd = &cobra.Command{
	Use:   "select <run-id>",
	Short: "Mark a complete run as the one exports and the dashboard read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs select")
		}
		if run.Status != model.RunStatusComplete {
			return eris.Errorf("runs select: run %s is %s, not complete", run.ID, run.Status)
		}
		if err := st.SelectRun(ctx, run.ID); err != nil {
			return eris.Wrap(err, "runs select")
		}
		fmt.Fprintf(os.Stdout, "Selected run %s\n", run.ID)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		if since > 0 {
			runs = runsSince(runs, time.Now().Add(-since))
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (fetching, scoring, complete, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h); 0 for all runs")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsSelectCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// resolveRun wraps store.ResolveRun with a hint for an empty store.
func resolveRun(ctx context.Context, st store.Store, runID string) (*model.Run, error) {
	run, err := store.ResolveRun(ctx, st, runID)
	if err != nil {
		if runID == "" && eris.Is(err, store.ErrNotFound) {
			return nil, eris.Wrap(err, "no run selected and no complete run found (run `coach-cli refresh` first)")
		}
		return nil, err
	}
	return run, nil
}

func runsSince(runs []model.Run, since time.Time) []model.Run {
	out := runs[:0:0]
	for _, r := range runs {
		if !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Complete   int
	Failed     int
	InProgress int
	AvgDurSecs float64
	AvgDeals   float64
	AvgCoaches float64
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.Run) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var deals, coaches int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			deals += r.DealCount
			coaches += r.CoachCount
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.InProgress++
		}
	}

	if s.Complete > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(s.Complete)
		s.AvgDeals = float64(deals) / float64(s.Complete)
		s.AvgCoaches = float64(coaches) / float64(s.Complete)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tDEALS\tCOACHES\tP50\tSELECTED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t-------\t---\t--------\t-------")

	for _, r := range runs {
		sel := ""
		if r.Selected {
			sel = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.1f\t%s\t%s\n",
			r.ID,
			r.Status,
			r.DealCount,
			r.CoachCount,
			r.P50,
			sel,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "In progress:\t%d\n", s.InProgress)
	if s.Complete > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
		_, _ = fmt.Fprintf(w, "Avg deals:\t%.0f\n", s.AvgDeals)
		_, _ = fmt.Fprintf(w, "Avg coaches:\t%.0f\n", s.AvgCoaches)
	}
	_ = w.Flush()
}
