package main

import (
	"context"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/nfp-revisions/internal/monitoring"
	"github.com/sells-group/nfp-revisions/internal/pipeline"
	"github.com/sells-group/nfp-revisions/internal/quality"
	"github.com/sells-group/nfp-revisions/internal/revision"
	"github.com/sells-group/nfp-revisions/internal/seasonal"
	"github.com/sells-group/nfp-revisions/internal/store"
)

var adjustCmd = &cobra.Command{
	Use:   "adjust",
	Short: "Compute revisions and rerun seasonal adjustment on the dataset",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return runPipeline(ctx, st, "adjust")
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Merge vintages, then compute revisions and seasonal adjustment",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := pipeline.NewBuilder(cfg, st, initFRED(), zap.L()).Build(ctx); err != nil {
			return err
		}
		return runPipeline(ctx, st, "run")
	},
}

func runPipeline(ctx context.Context, st store.Store, command string) error {
	episodes, err := revision.LoadEpisodes(cfg.Revision.EpisodesFile)
	if err != nil {
		return err
	}
	model := seasonal.NewX13(cfg.Seasonal, zap.L())
	res, err := pipeline.New(cfg, st, model, episodes, zap.L()).Run(ctx, command)
	checkRunHealth(ctx, st)
	if err != nil {
		return err
	}
	printRunResult(os.Stdout, res)
	return nil
}

// checkRunHealth evaluates the run log after a run. Alerting never fails the command.
func checkRunHealth(ctx context.Context, st store.Store) {
	checker := monitoring.NewChecker(
		monitoring.NewCollector(st),
		monitoring.NewAlerter(cfg.Monitoring, zap.L()),
		cfg.Monitoring,
		zap.L(),
	)
	checker.Check(ctx) //nolint:errcheck
}

func printRunResult(w io.Writer, res *pipeline.Result) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Run %s\n", res.RunID)
	if s := res.Summary; s != nil {
		p.Fprintf(w, "Records: %d\n", s.TotalRecords)
		p.Fprintf(w, "Quality: %d good, %d poor\n", s.QualityDistribution[quality.Good], s.QualityDistribution[quality.Poor])
		for _, f := range s.Failures {
			p.Fprintf(w, "  failed %s/%s: %s\n", f.Series, f.Method, f.Reason)
		}
	}
	for _, series := range slices.Sorted(maps.Keys(res.Comparisons)) {
		c := res.Comparisons[series]
		if !c.Available() {
			p.Fprintf(w, "%s: comparison unavailable\n", series)
			continue
		}
		p.Fprintf(w, "%s: recommended %s", series, c.Recommended)
		if c.MeanAbsDiff != nil {
			p.Fprintf(w, ", mean |x11-seats| %.1f", *c.MeanAbsDiff)
		}
		p.Fprintln(w)
	}
}

func init() {
	rootCmd.AddCommand(adjustCmd)
	rootCmd.AddCommand(runCmd)
}
