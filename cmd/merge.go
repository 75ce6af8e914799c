package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/nfp-revisions/internal/pipeline"
	"github.com/sells-group/nfp-revisions/internal/revision"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge the FRED final series with BLS release vintages",
	Long:  "Outer-joins the latest FRED snapshot with the parsed release vintages, clears values that could not have been published yet, and rewrites the dataset.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		t, err := pipeline.NewBuilder(cfg, st, initFRED(), zap.L()).Build(ctx)
		if err != nil {
			return err
		}

		episodes, err := revision.LoadEpisodes(cfg.Revision.EpisodesFile)
		if err != nil {
			return err
		}
		annotated := t.Clone()
		if err := revision.NewAnnotator(cfg.Revision, episodes, zap.L()).Annotate(annotated); err != nil {
			return err
		}
		printRevisionSummary(os.Stdout, revision.Summarize(annotated))
		return nil
	},
}

func printRevisionSummary(w io.Writer, s revision.Summary) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Records: %d (%s to %s)\n", s.TotalRecords, s.DateRange.Start, s.DateRange.End)
	for _, name := range []string{"release1", "release2", "release3", "final"} {
		if n, ok := s.MissingData[name]; ok {
			p.Fprintf(w, "  %-9s missing %d\n", name, n)
		}
	}
	if r := s.Revisions; r != nil {
		p.Fprintf(w, "Final revision: mean %.1f, median %.1f, std %.1f\n", r.Mean, r.Median, r.StdDev)
		p.Fprintf(w, "  largest up %.1f, largest down %.1f\n", r.MaxPositive, r.MaxNegative)
		p.Fprintf(w, "  up %d, down %d, unchanged %d\n", r.Frequency.Positive, r.Frequency.Negative, r.Frequency.Zero)
	}
	p.Fprintf(w, "Outliers: %d (%.1f%%)\n", s.Outliers.Total, s.Outliers.Percent)
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}
