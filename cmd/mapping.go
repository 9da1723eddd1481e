package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/coach-cli/internal/classify"
	"github.com/sells-group/coach-cli/internal/config"
	"github.com/sells-group/coach-cli/internal/ingest"
	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/report"
)

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Manage the stage-to-class mapping workbook",
}

var mappingInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write data/mapping.xlsx with default classes for every known stage",
	Long:  "Seeds the mapping from the stage enumeration of a run (default: the selected run) or, with --from-crm, from the live HubSpot pipelines. Refuses to overwrite an existing mapping without --force.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path := filepath.Join(cfg.Data.Dir, report.MappingFile)

		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return eris.Errorf("mapping init: %s exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return eris.Wrapf(err, "mapping init: stat %s", path)
		}

		fromCRM, _ := cmd.Flags().GetBool("from-crm")
		runID, _ := cmd.Flags().GetString("run")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var stages []model.StageRow
		if fromCRM {
			if err := cfg.Validate(config.ModeFetch); err != nil {
				return err
			}
			pipelines, err := initWorkflow(st).Pipelines(ctx, false)
			if err != nil {
				return eris.Wrap(err, "mapping init")
			}
			stages = ingest.Stages(pipelines)
		} else {
			run, err := resolveRun(ctx, st, runID)
			if err != nil {
				return eris.Wrap(err, "mapping init")
			}
			stages, err = report.ReadStages(filepath.Join(cfg.Data.Dir, run.ID, report.EnumsFile))
			if err != nil {
				return eris.Wrapf(err, "mapping init: stages of run %s", run.ID)
			}
		}
		if len(stages) == 0 {
			return eris.New("mapping init: no stages found")
		}

		rows := classify.DefaultMapping(stages, classifyRules(cfg.Engine))
		if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
			return eris.Wrap(err, "mapping init")
		}
		if err := report.WriteMapping(path, rows); err != nil {
			return eris.Wrap(err, "mapping init")
		}
		fmt.Fprintf(os.Stdout, "Wrote %d stages to %s\n", len(rows), path)
		formatClassCounts(os.Stdout, rows)
		return nil
	},
}

var mappingShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current stage mapping",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := filepath.Join(cfg.Data.Dir, report.MappingFile)
		rows, err := report.ReadMappingRows(path)
		if err != nil {
			return eris.Wrap(err, "mapping show")
		}
		if _, err := classify.MappingFromRows(rows); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}

		class, _ := cmd.Flags().GetString("class")
		if class != "" {
			c, err := model.ParseDealClass(class)
			if err != nil {
				return err
			}
			rows = filterMapping(rows, c)
		}
		formatMapping(os.Stdout, rows)
		return nil
	},
}

func init() {
	mappingInitCmd.Flags().String("run", "", "run whose enums.xlsx seeds the mapping (default: selected run)")
	mappingInitCmd.Flags().Bool("from-crm", false, "read pipelines from HubSpot instead of a run")
	mappingInitCmd.Flags().Bool("force", false, "overwrite an existing mapping")
	mappingShowCmd.Flags().String("class", "", "only show stages mapped to this class")

	mappingCmd.AddCommand(mappingInitCmd)
	mappingCmd.AddCommand(mappingShowCmd)
	rootCmd.AddCommand(mappingCmd)
}

func filterMapping(rows []model.MappingRow, c model.DealClass) []model.MappingRow {
	var out []model.MappingRow
	for _, r := range rows {
		if r.Class == c {
			out = append(out, r)
		}
	}
	return out
}

func formatMapping(out io.Writer, rows []model.MappingRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PIPELINE\tSTAGE\tLABEL\tCLOSED\tPROB\tCLASS")
	for _, r := range rows {
		closed, prob := "", ""
		if r.IsClosed != nil {
			closed = fmt.Sprint(*r.IsClosed)
		}
		if r.Probability != nil {
			prob = fmt.Sprintf("%.2f", *r.Probability)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.PipelineID, r.StageID, r.StageLabel, closed, prob, r.Class)
	}
	_ = w.Flush()
}

func formatClassCounts(out io.Writer, rows []model.MappingRow) {
	counts := make(map[model.DealClass]int)
	for _, r := range rows {
		counts[r.Class]++
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, c := range model.DealClasses {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", c, counts[c])
	}
	_ = w.Flush()
}
