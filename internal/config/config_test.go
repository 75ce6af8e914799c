package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "nfp_revisions", cfg.Store.Dataset)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, []string{"PAYEMS"}, cfg.FRED.Series)
	assert.Equal(t, "x13as", cfg.Seasonal.Binary)
	assert.Equal(t, 120, cfg.Seasonal.TimeoutSecs)
	assert.Equal(t, 24, cfg.Seasonal.MinObservations)
	assert.Equal(t, []string{"release1", "final"}, cfg.Seasonal.Series)
	assert.InDelta(t, 50.0, cfg.Quality.DisagreementThreshold, 0.001)
	assert.Equal(t, "x11", cfg.Quality.DefaultMethod)
	assert.InDelta(t, 85.0, cfg.Revision.StandardError, 0.001)
	assert.InDelta(t, 136.0, cfg.Revision.CI90HalfWidth, 0.001)
	assert.Equal(t, 12, cfg.Revision.RollingWindow)
	assert.Equal(t, 6, cfg.Revision.RollingMinPeriods)
	assert.True(t, cfg.Export.CSV)
	assert.False(t, cfg.Export.XLSX)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 744, cfg.Monitoring.LookbackWindowHours)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: csv
log:
  level: debug
  format: console
seasonal:
  series: [release1]
  timeout_secs: 30
quality:
  disagreement_threshold: 75
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "csv", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"release1"}, cfg.Seasonal.Series)
	assert.Equal(t, 30, cfg.Seasonal.TimeoutSecs)
	assert.InDelta(t, 75.0, cfg.Quality.DisagreementThreshold, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 24, cfg.Seasonal.MinObservations)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: csv
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("NFPREV_STORE_DRIVER", "sqlite")
	t.Setenv("NFPREV_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("NFPREV_SEASONAL_BINARY", "/opt/x13/x13as")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/opt/x13/x13as", cfg.Seasonal.Binary)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Seasonal.Binary = "x13as"
	cfg.Seasonal.MinObservations = 24
	cfg.Seasonal.Series = []string{"release1"}
	cfg.Quality.DefaultMethod = "x11"
	cfg.FRED.Series = []string{"PAYEMS"}
	cfg.Server.Port = 8000
	return cfg
}

func TestValidateAdjust_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("adjust"))
}

func TestValidateAdjust_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Seasonal.Binary = ""
	cfg.Seasonal.Series = nil
	cfg.Quality.DefaultMethod = "arima"

	err := cfg.Validate("adjust")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seasonal.binary is required")
	assert.Contains(t, err.Error(), "seasonal.series")
	assert.Contains(t, err.Error(), "quality.default_method")
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("adjust")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")

	cfg.Store.DatabaseURL = "postgres://localhost/nfp"
	assert.NoError(t, cfg.Validate("adjust"))
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "parquet"

	err := cfg.Validate("merge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}
