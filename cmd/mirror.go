package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/coach-cli/internal/config"
	"github.com/sells-group/coach-cli/internal/model"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Copy run directories to and from the cloud bucket",
}

var mirrorUploadCmd = &cobra.Command{
	Use:   "upload [run-id]",
	Short: "Upload a run directory (default: the selected run)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(config.ModeMirror); err != nil {
			return err
		}

		runID := ""
		if len(args) == 1 {
			runID = args[0]
		}
		if runID == "" {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			run, err := resolveRun(ctx, st, "")
			st.Close() //nolint:errcheck,gosec
			if err != nil {
				return eris.Wrap(err, "mirror upload")
			}
			runID = run.ID
		}

		m, err := initMirror(ctx)
		if err != nil {
			return err
		}
		keys, err := m.UploadRun(ctx, runID, filepath.Join(cfg.Data.Dir, runID))
		if err != nil {
			return eris.Wrap(err, "mirror upload")
		}
		for _, k := range keys {
			fmt.Fprintln(os.Stdout, k)
		}
		fmt.Fprintf(os.Stderr, "Uploaded %d files for run %s\n", len(keys), runID)
		return nil
	},
}

var mirrorDownloadCmd = &cobra.Command{
	Use:   "download <run-id>",
	Short: "Download a run directory that is missing locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(config.ModeMirror); err != nil {
			return err
		}
		runID := args[0]
		if !model.IsRunID(runID) {
			return eris.Errorf("mirror download: %q is not a run id", runID)
		}
		force, _ := cmd.Flags().GetBool("force")

		m, err := initMirror(ctx)
		if err != nil {
			return err
		}
		dir := filepath.Join(cfg.Data.Dir, runID)
		if force {
			files, err := m.DownloadRun(ctx, runID, dir)
			if err != nil {
				return eris.Wrap(err, "mirror download")
			}
			fmt.Fprintf(os.Stderr, "Downloaded %d files to %s\n", len(files), dir)
			return nil
		}
		fetched, err := m.EnsureRun(ctx, runID, dir)
		if err != nil {
			return eris.Wrap(err, "mirror download")
		}
		if fetched {
			fmt.Fprintf(os.Stderr, "Downloaded run %s to %s\n", runID, dir)
		} else {
			fmt.Fprintf(os.Stderr, "Run %s already present in %s\n", runID, dir)
		}
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the CRM fetch cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired CRM cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.DeleteExpiredCache(ctx)
		if err != nil {
			return eris.Wrap(err, "cache prune")
		}
		fmt.Fprintf(os.Stdout, "Deleted %d expired entries\n", n)
		return nil
	},
}

func init() {
	mirrorDownloadCmd.Flags().Bool("force", false, "download even if the run directory exists")

	mirrorCmd.AddCommand(mirrorUploadCmd)
	mirrorCmd.AddCommand(mirrorDownloadCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(cacheCmd)
}
