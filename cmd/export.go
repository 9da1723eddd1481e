package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coach-cli/internal/config"
	"github.com/sells-group/coach-cli/internal/eligibility"
	"github.com/sells-group/coach-cli/internal/exclusion"
	"github.com/sells-group/coach-cli/internal/export"
	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export [run-id]",
	Short: "Push good and moderate coaches to the lead router pool tab",
	Long:  "Re-labels the scored coaches of a run (default: the selected run) with the current eligibility settings, drops excluded and unavailable coaches and overwrites the pool tab of the lead router spreadsheet.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		p, err := exportParams(cmd)
		if err != nil {
			return err
		}
		if !p.DryRun {
			if err := cfg.Validate(config.ModeExport); err != nil {
				return err
			}
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		skipAvail, _ := cmd.Flags().GetBool("ignore-availability")
		excludeIDs, _ := cmd.Flags().GetStringSlice("exclude")

		ep, err := eligibilityParams(cfg.Eligibility)
		if err != nil {
			return err
		}
		matcher, err := loadExclusions(excludeIDs)
		if err != nil {
			return err
		}

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
			return eris.Wrap(err, "export")
		}
		if run.Status != model.RunStatusComplete {
			return eris.Errorf("export: run %s is %s, not complete", run.ID, run.Status)
		}

		scored, err := rescore(ctx, st, run.ID, ep, matcher)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		client, err := initSheets(ctx)
		if err != nil {
			return err
		}
		ex := export.NewExporter(client, st, export.NewRefreshHook(cfg.Export.RefreshURL, cfg.Export.RefreshToken))

		var avail map[string]export.Availability
		if cfg.Availability.Enabled && !skipAvail {
			sheetID := cfg.Availability.SpreadsheetID
			if sheetID == "" {
				sheetID = p.SpreadsheetID
			}
			list, err := ex.LoadAvailability(ctx, sheetID, cfg.Availability.Tab)
			if err != nil {
				// Without the tab every coach counts as available.
				zap.L().Warn("export: availability unavailable", zap.Error(err))
			} else {
				avail = export.Index(list)
			}
		}

		out, err := ex.Push(ctx, run.ID, scored.Rows, avail, p)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		formatExport(os.Stdout, out, scored)
		return nil
	},
}

func init() {
	f := exportCmd.Flags()
	f.Bool("dry-run", false, "render the pool rows without writing")
	f.Bool("json", false, "print the outcome as JSON")
	f.Bool("ignore-availability", false, "do not read the availability tab")
	f.StringSlice("exclude", nil, "extra coach ids to exclude")
	f.String("tab", "", "pool tab (default: export.tab)")
	f.Int("weight", 0, "gewicht per coach (default: export.weight)")
	f.Int("cap-day", 0, "cap_dag per coach (default: export.cap_day)")
	f.Int("cap-week", 0, "cap_week per coach (default: export.cap_week)")
	f.String("note", "", "notitie column (default: export.note)")
	rootCmd.AddCommand(exportCmd)
}

// exportParams merges command flags over the export config section.
func exportParams(cmd *cobra.Command) (export.Params, error) {
	p := export.Params{
		SpreadsheetID: cfg.Export.SpreadsheetID,
		Tab:           cfg.Export.Tab,
		Weight:        cfg.Export.Weight,
		CapDay:        cfg.Export.CapDay,
		CapWeek:       cfg.Export.CapWeek,
		Note:          cfg.Export.Note,
	}
	f := cmd.Flags()
	p.DryRun, _ = f.GetBool("dry-run")
	if v, _ := f.GetString("tab"); v != "" {
		p.Tab = v
	}
	if v, _ := f.GetInt("weight"); v > 0 {
		p.Weight = v
	}
	if v, _ := f.GetInt("cap-day"); v > 0 {
		p.CapDay = v
	}
	if v, _ := f.GetInt("cap-week"); v > 0 {
		p.CapWeek = v
	}
	if v, _ := f.GetString("note"); v != "" {
		p.Note = v
	}
	return p, p.Validate()
}

// rescore re-labels the stored rows of runID under p after dropping
// excluded coaches, so the pool and threshold reflect the current settings.
func rescore(ctx context.Context, st store.Store, runID string, p eligibility.Params, matcher *exclusion.Matcher) (eligibility.Result, error) {
	rows, err := st.LoadResults(ctx, runID)
	if err != nil {
		return eligibility.Result{}, err
	}
	metrics := make([]model.CoachMetrics, len(rows))
	for i, r := range rows {
		metrics[i] = r.CoachMetrics
	}
	return eligibility.Classify(matcher.FilterMetrics(metrics), p), nil
}

func formatExport(out io.Writer, o *export.Outcome, scored eligibility.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", o.RunID)
	_, _ = fmt.Fprintf(w, "Batch:\t%s\n", o.BatchID)
	_, _ = fmt.Fprintf(w, "Threshold:\t%.1f (pool %d)\n", scored.Threshold, scored.PoolSize)
	if o.DryRun {
		_, _ = fmt.Fprintf(w, "Would write:\t%d\n", o.Written)
	} else {
		_, _ = fmt.Fprintf(w, "Written:\t%d\n", o.Written)
	}
	if o.Skipped > 0 {
		_, _ = fmt.Fprintf(w, "Skipped (no id):\t%d (%s)\n", o.Skipped, strings.Join(o.SkippedNames, ", "))
	}
	for _, u := range o.Unavailable {
		_, _ = fmt.Fprintf(w, "Unavailable:\t%s (%s) %s\n", u.CoachName, u.CoachID, u.Status)
	}
	if o.Refresh != nil {
		_, _ = fmt.Fprintf(w, "Router refresh:\t%d entries, %d issues\n", o.Refresh.Entries, len(o.Refresh.Issues))
	}
	if o.DryRun {
		for _, r := range o.Rows {
			_, _ = fmt.Fprintf(w, "  %v\t%v\n", r[0], r[1])
		}
	}
	_ = w.Flush()
}
