package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coach-cli/internal/config"
	"github.com/sells-group/coach-cli/internal/crm"
	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/pipeline"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch deals from HubSpot and score every coach",
	Long:  "Fetches referred contacts, their deals, pipelines and owners (cached in the store), classifies stages against data/mapping.xlsx and records a new scoring run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(config.ModeFetch); err != nil {
			return err
		}

		mode, _ := cmd.Flags().GetString("refresh")
		refresh, err := crm.ParseRefresh(mode)
		if err != nil {
			return err
		}
		sel, _ := cmd.Flags().GetBool("select")
		upload, _ := cmd.Flags().GetBool("upload")

		opts, err := engineOptions(cfg)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mirror, err := initMirror(ctx)
		if err != nil {
			return err
		}

		p := pipeline.New(st, initWorkflow(st), mirror, cfg.Data.Dir)
		out, err := p.Run(ctx, pipeline.Options{Engine: opts, Refresh: refresh, Select: sel, Upload: upload})
		if err != nil {
			return eris.Wrap(err, "refresh")
		}

		formatOutcome(os.Stdout, out)
		return nil
	},
}

var calculateCmd = &cobra.Command{
	Use:   "calculate [source-run-id]",
	Short: "Re-score a stored run with the current mapping and thresholds",
	Long:  "Reclassifies the deals of an existing run (default: the selected run) against data/mapping.xlsx and the configured eligibility parameters, without calling HubSpot.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts, err := engineOptions(cfg)
		if err != nil {
			return err
		}
		sel, _ := cmd.Flags().GetBool("select")
		upload, _ := cmd.Flags().GetBool("upload")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		source := ""
		if len(args) == 1 {
			source = args[0]
		}
		src, err := resolveRun(ctx, st, source)
		if err != nil {
			return err
		}

		mirror, err := initMirror(ctx)
		if err != nil {
			return err
		}
		p := pipeline.New(st, nil, mirror, cfg.Data.Dir)
		if mirror != nil {
			// The owners sheet of the source run carries the coach names.
			if _, err := mirror.EnsureRun(ctx, src.ID, p.RunDir(src.ID)); err != nil {
				zap.L().Warn("calculate: source run not mirrored", zap.String("run_id", src.ID), zap.Error(err))
			}
		}
		out, err := p.Recalculate(ctx, src.ID, pipeline.Options{Engine: opts, Select: sel, Upload: upload})
		if err != nil {
			return eris.Wrap(err, "calculate")
		}

		formatOutcome(os.Stdout, out)
		return nil
	},
}

func init() {
	refreshCmd.Flags().String("refresh", "none", "bypass the fetch cache: "+strings.Join(crm.RefreshModes, ", "))
	refreshCmd.Flags().Bool("select", true, "select the new run when it completes")
	refreshCmd.Flags().Bool("upload", false, "mirror the run directory to the configured bucket")
	calculateCmd.Flags().Bool("select", false, "select the new run when it completes")
	calculateCmd.Flags().Bool("upload", false, "mirror the run directory to the configured bucket")

	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(calculateCmd)
}

// formatOutcome writes a run summary and the label counts to w.
func formatOutcome(out io.Writer, o *pipeline.Outcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", o.Run.ID)
	_, _ = fmt.Fprintf(w, "Directory:\t%s\n", o.Dir)
	_, _ = fmt.Fprintf(w, "Deals:\t%d (dropped %d)\n", o.Run.DealCount, o.Run.DroppedCount)
	_, _ = fmt.Fprintf(w, "Coaches:\t%d\n", o.Run.CoachCount)
	_, _ = fmt.Fprintf(w, "P50 smoothed 1m:\t%.1f\n", o.Run.P50)
	_, _ = fmt.Fprintf(w, "Selected:\t%t\n", o.Run.Selected)
	if o.MappingCreated {
		_, _ = fmt.Fprintln(w, "Mapping:\tcreated from defaults, review data/mapping.xlsx")
	}
	if len(o.Uploaded) > 0 {
		_, _ = fmt.Fprintf(w, "Uploaded:\t%d files\n", len(o.Uploaded))
	}
	counts := o.Result.Scored.Counts()
	for _, e := range model.Eligibilities {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", e, counts[e])
	}
	_ = w.Flush()
}
