package main

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/report"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the persisted dataset as CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = filepath.Join(cfg.Paths.DataDir, "exports", cfg.Store.Dataset+"."+format)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		t, err := st.Load(ctx, cfg.Store.Dataset)
		if err != nil {
			return err
		}

		switch format {
		case "csv":
			err = report.ExportCSV(out, t)
		case "xlsx":
			err = report.ExportXLSX(out, cfg.Store.Dataset, t)
		default:
			return eris.Errorf("export: unsupported format %q", format)
		}
		if err != nil {
			return err
		}
		zap.L().Info("dataset exported", zap.String("path", out), zap.Int("rows", t.Len()))
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "csv", "export format (csv, xlsx)")
	exportCmd.Flags().String("out", "", "output path (default <data_dir>/exports/<dataset>.<format>)")
	rootCmd.AddCommand(exportCmd)
}
