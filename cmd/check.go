package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/quality"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run data quality checks over the persisted dataset",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		t, err := st.Load(ctx, cfg.Store.Dataset)
		if err != nil {
			return err
		}

		r := quality.NewChecker(zap.L()).Check(cfg.Store.Dataset, t)
		if err := r.Save(cfg.Quality.ReportFile); err != nil {
			return err
		}
		printQualityReport(os.Stdout, r)
		return nil
	},
}

func printQualityReport(w io.Writer, r *quality.Report) {
	fmt.Fprintf(w, "Quality score: %d (%s)\n", r.OverallScore.Score, r.OverallScore.Grade)
	for _, issue := range r.OverallScore.Issues {
		fmt.Fprintf(w, "  - %s\n", issue)
	}
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
