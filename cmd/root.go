package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "nfprev",
	Short: "Nonfarm payroll revision and seasonal adjustment pipeline",
	Long:  "Tracks PAYEMS across release vintages, reruns X-13ARIMA-SEATS seasonal adjustment with x11 and seats, compares the methods, and publishes the results for the dashboard.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if err := cfg.Validate(cmd.Name()); err != nil {
			return err
		}
		return ensureDirs(cfg.Paths)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// ensureDirs creates the directories commands write into, including the
// parent of the release file.
func ensureDirs(p config.PathsConfig) error {
	dirs := []string{p.DataDir, p.SnapshotDir, p.PDFDir, p.DiagnosticsDir}
	if p.ReleasesFile != "" {
		dirs = append(dirs, filepath.Dir(p.ReleasesFile))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "create %s", dir)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
