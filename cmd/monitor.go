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
	"go.uber.org/zap"

	"github.com/sells-group/coach-cli/internal/config"
	"github.com/sells-group/coach-cli/internal/exclusion"
	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/monitoring"
	"github.com/sells-group/coach-cli/internal/pipeline"
	"github.com/sells-group/coach-cli/internal/store"
	"github.com/sells-group/coach-cli/internal/weekly"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Weekly coach monitoring and run health checks",
}

var monitorCoachesCmd = &cobra.Command{
	Use:   "coaches [run-id]",
	Short: "Roll deals up per coach per week and flag the most recent week",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		weeks, _ := cmd.Flags().GetInt("weeks")
		asJSON, _ := cmd.Flags().GetBool("json")
		send, _ := cmd.Flags().GetBool("send")
		coachID, _ := cmd.Flags().GetString("coach")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		matcher, err := loadExclusions(nil)
		if err != nil {
			return err
		}

		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		run, err := resolveRun(ctx, st, id)
		if err != nil {
			return eris.Wrap(err, "monitor")
		}
		buckets, err := coachWeekly(ctx, st, cfg, run.ID, weeks, matcher, time.Now())
		if err != nil {
			return eris.Wrap(err, "monitor")
		}
		alerts := weekly.DetectAlerts(buckets, alertParams(cfg.Monitor))

		if coachID != "" {
			buckets = weekly.Coach(buckets, coachID)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(struct {
				RunID   string               `json:"run_id"`
				Buckets []model.WeeklyBucket `json:"buckets"`
				Alerts  []weekly.Alert       `json:"alerts"`
			}{run.ID, buckets, alerts}); err != nil {
				return err
			}
		} else {
			if coachID != "" {
				formatWeekly(os.Stdout, buckets)
				fmt.Fprintln(os.Stdout)
			}
			formatWeeklyAlerts(os.Stdout, alerts)
		}

		if send && len(alerts) > 0 {
			a := monitoring.NewAlerter(cfg.Monitor)
			sent := a.SendAlerts(ctx, a.FromWeekly(alerts))
			zap.L().Info("monitor: alerts sent", zap.Int("sent", sent), zap.Int("coaches", len(alerts)))
		}
		return nil
	},
}

var monitorRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Check run health (failure rate, stale or missing runs)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		send, _ := cmd.Flags().GetBool("send")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st).Collect(ctx, cfg.Monitor.LookbackHours)
		if err != nil {
			return eris.Wrap(err, "monitor runs")
		}
		a := monitoring.NewAlerter(cfg.Monitor)
		alerts := a.Evaluate(snap)

		formatSnapshot(os.Stdout, snap)
		for _, al := range alerts {
			fmt.Fprintf(os.Stdout, "ALERT [%s] %s: %s\n", al.Severity, al.Type, al.Message)
		}
		if send && len(alerts) > 0 {
			a.SendAlerts(ctx, alerts)
		}
		return nil
	},
}

func init() {
	monitorCoachesCmd.Flags().Int("weeks", 0, "weeks to roll up (default: engine.weeks)")
	monitorCoachesCmd.Flags().String("coach", "", "print the weekly series of one coach id")
	monitorCoachesCmd.Flags().Bool("json", false, "print buckets and alerts as JSON")
	monitorCoachesCmd.Flags().Bool("send", false, "post alerts to monitor.webhook_url")
	monitorRunsCmd.Flags().Bool("send", false, "post alerts to monitor.webhook_url")

	monitorCmd.AddCommand(monitorCoachesCmd)
	monitorCmd.AddCommand(monitorRunsCmd)
	rootCmd.AddCommand(monitorCmd)
}

// coachWeekly rebuilds the weekly rollup of a stored run, dropping excluded
// coaches.
func coachWeekly(ctx context.Context, st store.Store, c *config.Config, runID string, weeks int, matcher *exclusion.Matcher, now time.Time) ([]model.WeeklyBucket, error) {
	if weeks <= 0 {
		weeks = c.Engine.Weeks
	}
	deals, err := st.LoadDeals(ctx, runID)
	if err != nil {
		return nil, err
	}
	names, err := pipeline.New(st, nil, nil, c.Data.Dir).Names(ctx, runID)
	if err != nil {
		return nil, err
	}

	kept := deals[:0:0]
	for _, d := range deals {
		if !matcher.Excluded(d.CoachID, names[d.CoachID]) {
			kept = append(kept, d)
		}
	}
	return weekly.Rollup(kept, now, weeks, weekly.Params{
		NabellerPipelineID: c.Engine.NabellerPipelineID,
		Names:              names,
	}), nil
}

func formatWeekly(out io.Writer, buckets []model.WeeklyBucket) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WEEK\tDEALS\tWON\tLOST\tOPEN\tWON%\tNAB%\tROLL4W%")
	for _, b := range buckets {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.1f\t%.1f\t%.1f\n",
			b.WeekStart.Format(time.DateOnly),
			b.DealCount, b.WonCount, b.LostCount, b.OpenCount,
			b.WonRateWeek, b.NabellerPctWeek, b.Rolling4WRate,
		)
	}
	_ = w.Flush()
}

func formatWeeklyAlerts(out io.Writer, alerts []weekly.Alert) {
	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No coach alerts for the most recent week.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Coach alerts for week of %s\n", alerts[0].WeekStart.Format(time.DateOnly))
	_, _ = fmt.Fprintln(w, "COACH\tNAME\tDEALS\tWON%\tNAB%\tREASON")
	for _, a := range alerts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%.1f\t%s\n",
			a.CoachID, a.CoachName, a.DealCount, a.WonRateWeek, a.NabellerPctWeek, a.Reason())
	}
	_ = w.Flush()
}

func formatSnapshot(out io.Writer, s *monitoring.RunSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Runs (last %dh):\t%d\n", s.LookbackHours, s.RunsTotal)
	_, _ = fmt.Fprintf(w, "  Complete:\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "  In progress:\t%d\n", s.RunsInProgress)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.RunFailRate*100)
	if s.CurrentRunID != "" {
		_, _ = fmt.Fprintf(w, "Current run:\t%s (%s old)\n", s.CurrentRunID, s.CurrentRunAge.Round(time.Minute))
		_, _ = fmt.Fprintf(w, "P50 smoothed 1m:\t%.1f\n", s.CurrentP50)
		for _, e := range model.Eligibilities {
			_, _ = fmt.Fprintf(w, "  %s:\t%d\n", e, s.EligibilityMix[e])
		}
	}
	if !s.LastExportAt.IsZero() {
		_, _ = fmt.Fprintf(w, "Last export:\t%s\n", s.LastExportAt.Local().Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}
