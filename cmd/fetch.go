package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/ocr"
	"github.com/sells-group/nfp-revisions/internal/source"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the FRED series and save dated snapshots",
	Long:  "Downloads each configured FRED series, reports values that changed since the latest saved snapshot, and saves a new snapshot.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		fred := initFRED()

		results, err := fred.Refresh(ctx, cfg.FRED.Series, time.Now())
		if err != nil {
			return err
		}
		for _, series := range cfg.FRED.Series {
			c, ok := results[series]
			if !ok {
				continue
			}
			fmt.Fprintf(os.Stdout, "%s: %s, %d common months, %d revised (max change %.1f)\n",
				series, c.Status, c.CommonRecords, c.Changed, c.MaxAbsChange)
		}
		return nil
	},
}

var releasesCmd = &cobra.Command{
	Use:   "releases",
	Short: "Parse BLS Employment Situation PDFs into release vintages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.Paths.PDFDir
		}

		parser := source.NewPDFParser(ocr.NewExtractor(cfg.OCR), cfg.OCR.Concurrency, zap.L())
		releases, err := parser.ParseDir(ctx, dir)
		if err != nil {
			return err
		}
		t, err := source.PivotReleases(releases)
		if err != nil {
			return err
		}
		if err := source.SaveReleases(cfg.Paths.ReleasesFile, t); err != nil {
			return err
		}
		zap.L().Info("release vintages saved",
			zap.String("path", cfg.Paths.ReleasesFile),
			zap.Int("releases", len(releases)),
			zap.Int("months", t.Len()),
		)
		return nil
	},
}

func init() {
	releasesCmd.Flags().String("dir", "", "directory of release PDFs (default from config)")
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(releasesCmd)
}
