package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Paths      PathsConfig      `yaml:"paths" mapstructure:"paths"`
	FRED       FREDConfig       `yaml:"fred" mapstructure:"fred"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Revision   RevisionConfig   `yaml:"revision" mapstructure:"revision"`
	Seasonal   SeasonalConfig   `yaml:"seasonal" mapstructure:"seasonal"`
	Quality    QualityConfig    `yaml:"quality" mapstructure:"quality"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures where the observation table is persisted.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres, csv
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Dataset     string `yaml:"dataset" mapstructure:"dataset"`
}

// PathsConfig holds the on-disk layout of raw and processed data.
type PathsConfig struct {
	DataDir        string `yaml:"data_dir" mapstructure:"data_dir"`
	SnapshotDir    string `yaml:"snapshot_dir" mapstructure:"snapshot_dir"`
	PDFDir         string `yaml:"pdf_dir" mapstructure:"pdf_dir"`
	ReleasesFile   string `yaml:"releases_file" mapstructure:"releases_file"`
	DiagnosticsDir string `yaml:"diagnostics_dir" mapstructure:"diagnostics_dir"`
	DashboardDir   string `yaml:"dashboard_dir" mapstructure:"dashboard_dir"`
}

// FREDConfig configures the FRED graph CSV download.
type FREDConfig struct {
	BaseURL     string   `yaml:"base_url" mapstructure:"base_url"`
	Series      []string `yaml:"series" mapstructure:"series"`
	UserAgent   string   `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int      `yaml:"max_retries" mapstructure:"max_retries"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	FirstPage     int    `yaml:"first_page" mapstructure:"first_page"`
	LastPage      int    `yaml:"last_page" mapstructure:"last_page"`
	Concurrency   int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// RevisionConfig holds the published sampling error and outlier rules.
type RevisionConfig struct {
	StandardError     float64 `yaml:"standard_error" mapstructure:"standard_error"`
	CI90HalfWidth     float64 `yaml:"ci90_half_width" mapstructure:"ci90_half_width"`
	ExtremeMultiple   float64 `yaml:"extreme_multiple" mapstructure:"extreme_multiple"`
	RollingWindow     int     `yaml:"rolling_window" mapstructure:"rolling_window"`
	RollingMinPeriods int     `yaml:"rolling_min_periods" mapstructure:"rolling_min_periods"`
	EpisodesFile      string  `yaml:"episodes_file" mapstructure:"episodes_file"`
}

// SeasonalConfig configures the X-13ARIMA-SEATS invocation.
type SeasonalConfig struct {
	Binary          string   `yaml:"binary" mapstructure:"binary"`
	WorkDir         string   `yaml:"work_dir" mapstructure:"work_dir"`
	TimeoutSecs     int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinObservations int      `yaml:"min_observations" mapstructure:"min_observations"`
	Series          []string `yaml:"series" mapstructure:"series"`
	KeepWorkFiles   bool     `yaml:"keep_work_files" mapstructure:"keep_work_files"`
}

// QualityConfig configures method-disagreement quality flags.
type QualityConfig struct {
	DisagreementThreshold float64 `yaml:"disagreement_threshold" mapstructure:"disagreement_threshold"`
	DefaultMethod         string  `yaml:"default_method" mapstructure:"default_method"`
	ReportFile            string  `yaml:"report_file" mapstructure:"report_file"`
}

// ExportConfig configures the side exports written after each run.
type ExportConfig struct {
	CSV  bool `yaml:"csv" mapstructure:"csv"`
	XLSX bool `yaml:"xlsx" mapstructure:"xlsx"`
}

// ServerConfig configures the dashboard server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures run-health alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	PoorShareThreshold   float64 `yaml:"poor_share_threshold" mapstructure:"poor_share_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NFPREV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data_processed/nfp.db")
	v.SetDefault("store.dataset", "nfp_revisions")
	v.SetDefault("paths.data_dir", "data_processed")
	v.SetDefault("paths.snapshot_dir", "data_raw/fred_snapshots")
	v.SetDefault("paths.pdf_dir", "data_raw/bls_pdf")
	v.SetDefault("paths.releases_file", "data_processed/bls_releases.csv")
	v.SetDefault("paths.diagnostics_dir", "data_processed/diagnostics")
	v.SetDefault("paths.dashboard_dir", "dashboard")
	v.SetDefault("fred.base_url", "https://fred.stlouisfed.org/graph/fredgraph.csv")
	v.SetDefault("fred.series", []string{"PAYEMS"})
	v.SetDefault("fred.user_agent", "nfprev/1.0")
	v.SetDefault("fred.timeout_secs", 30)
	v.SetDefault("fred.max_retries", 3)
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.first_page", 1)
	v.SetDefault("ocr.last_page", 10)
	v.SetDefault("ocr.concurrency", 4)
	v.SetDefault("revision.standard_error", 85.0)
	v.SetDefault("revision.ci90_half_width", 136.0)
	v.SetDefault("revision.extreme_multiple", 3.0)
	v.SetDefault("revision.rolling_window", 12)
	v.SetDefault("revision.rolling_min_periods", 6)
	v.SetDefault("seasonal.binary", "x13as")
	v.SetDefault("seasonal.timeout_secs", 120)
	v.SetDefault("seasonal.min_observations", 24)
	v.SetDefault("seasonal.series", []string{"release1", "final"})
	v.SetDefault("quality.disagreement_threshold", 50.0)
	v.SetDefault("quality.default_method", "x11")
	v.SetDefault("quality.report_file", "data_processed/quality_report.json")
	v.SetDefault("export.csv", true)
	v.SetDefault("export.xlsx", false)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.poor_share_threshold", 0.5)
	v.SetDefault("monitoring.check_interval_secs", 3600)
	v.SetDefault("monitoring.lookback_window_hours", 24*31)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a given command depends on.
func (c *Config) Validate(command string) error {
	var problems []string

	switch command {
	case "adjust", "run":
		if c.Seasonal.Binary == "" {
			problems = append(problems, "seasonal.binary is required")
		}
		if c.Seasonal.MinObservations < 1 {
			problems = append(problems, "seasonal.min_observations must be positive")
		}
		if len(c.Seasonal.Series) == 0 {
			problems = append(problems, "seasonal.series must name at least one column")
		}
		switch c.Quality.DefaultMethod {
		case "x11", "seats":
		default:
			problems = append(problems, "quality.default_method must be x11 or seats")
		}
	case "fetch":
		if len(c.FRED.Series) == 0 {
			problems = append(problems, "fred.series must name at least one series")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be between 1 and 65535")
		}
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "csv":
	default:
		problems = append(problems, "store.driver must be sqlite, postgres or csv")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for postgres")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
