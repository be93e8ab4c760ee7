package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tab-archiver/internal/config"
	"github.com/JakeFAU/tab-archiver/internal/hash/sha256"
	"github.com/JakeFAU/tab-archiver/internal/logging"
	"github.com/JakeFAU/tab-archiver/internal/store"
)

func newRepairCmd() *cobra.Command {
	var opts store.RepairOptions
	var noUpdateJSON bool
	cmd := &cobra.Command{
		Use:   "repair-extensions",
		Short: "Rename Power Tab files saved with the wrong extension",
		Long: `repair-extensions scans the archive for Power Tab files whose extension is
not .ptb, renames them and updates the matching artist records.

A rename that would overwrite an existing .ptb file is skipped unless
--destructive is given: then identical copies are collapsed and differing
copies are both removed so the next run downloads the tab again.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.SkipRecords = noUpdateJSON
			return runRepair(cmd, opts)
		},
	}
	cmd.Flags().String("outdir", "ug_tabs", "archive output directory")
	cmd.Flags().Bool("dev", false, "human-readable development logging")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report planned changes without touching files")
	cmd.Flags().BoolVar(&opts.Destructive, "destructive", false, "resolve collisions by deleting duplicates")
	cmd.Flags().BoolVar(&noUpdateJSON, "no-update-json", false, "leave artist records untouched")
	return cmd
}

func runRepair(cmd *cobra.Command, opts store.RepairOptions) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	st, err := store.New(cfg.Output.Dir, logger.Named("store"))
	if err != nil {
		return err
	}
	report, err := st.RepairExtensions(sha256.New(), opts)
	if err != nil {
		return fmt.Errorf("repair extensions: %w", err)
	}
	logger.Info("repair finished",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("actions", len(report.Actions)),
		zap.Int("records_updated", report.RecordsUpdated),
		zap.Int("errors", len(report.Errors)))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
