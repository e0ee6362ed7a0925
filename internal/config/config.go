// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/leadstream/internal/lead"
	"github.com/JakeFAU/leadstream/internal/sink/postgres"
	"github.com/JakeFAU/leadstream/internal/sink/sheets"
	"github.com/JakeFAU/leadstream/internal/source"
	"github.com/JakeFAU/leadstream/internal/storage/gcs"
	"github.com/JakeFAU/leadstream/internal/storage/local"
)

// EnvPrefix namespaces environment overrides, e.g. LEADSTREAM_SERVER_PORT.
const EnvPrefix = "LEADSTREAM"

// Storage backends for CSV exports.
const (
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Job       JobConfig       `mapstructure:"job"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Source    SourceConfig    `mapstructure:"source"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	Sinks     SinksConfig     `mapstructure:"sinks"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// JobConfig governs the pipeline and the CLI's default request.
type JobConfig struct {
	Regions           []string      `mapstructure:"regions"`
	Category          string        `mapstructure:"category"`
	MaxPerRegion      int           `mapstructure:"max_per_region"`
	RequestDelay      time.Duration `mapstructure:"request_delay"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	VerifyConcurrency int           `mapstructure:"verify_concurrency"`
	MaxTracked        int           `mapstructure:"max_tracked"`
}

// StreamConfig tunes the event stream.
type StreamConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

// SourceConfig configures the directory scraper.
type SourceConfig struct {
	Name        string           `mapstructure:"name"`
	URLTemplate string           `mapstructure:"url_template"`
	UserAgents  []string         `mapstructure:"user_agents"`
	MaxResults  int              `mapstructure:"max_results"`
	Selectors   source.Selectors `mapstructure:"selectors"`
	Headless    HeadlessConfig   `mapstructure:"headless"`
	// RespectRobots consults the directory host's robots.txt before each page.
	RespectRobots bool `mapstructure:"respect_robots"`
}

// HeadlessConfig enables the Chrome-rendered fallback source.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	ExecPath    string        `mapstructure:"exec_path"`
}

// VerifyConfig configures website liveness checks.
type VerifyConfig struct {
	WebsiteTimeout time.Duration `mapstructure:"website_timeout"`
	PerHostRPS     float64       `mapstructure:"per_host_rps"`
	Burst          int           `mapstructure:"burst"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SinksConfig selects the writers that receive each finished batch.
type SinksConfig struct {
	CSV      CSVSinkConfig      `mapstructure:"csv"`
	Sheets   SheetsSinkConfig   `mapstructure:"sheets"`
	Postgres PostgresSinkConfig `mapstructure:"postgres"`
}

// CSVSinkConfig writes one CSV object per batch to the blob store.
type CSVSinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// SheetsSinkConfig appends batches to a Google spreadsheet.
type SheetsSinkConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	sheets.Config `mapstructure:",squash"`
}

// PostgresSinkConfig upserts batches into a leads table.
type PostgresSinkConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	postgres.Config `mapstructure:",squash"`
}

// StorageConfig picks the blob backend for exports.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// PubSubConfig holds metadata for job completion notices.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the telemetry hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatch       int           `mapstructure:"max_batch"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LogSink        bool          `mapstructure:"log_sink"`
	PrometheusSink bool          `mapstructure:"prometheus_sink"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls OpenTelemetry tracing and metrics.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	// ProjectID enables export to Google Cloud Trace when set.
	ProjectID string `mapstructure:"project_id"`
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5000"})
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("job.regions", []string{"California"})
	v.SetDefault("job.category", "Personal Injury")
	v.SetDefault("job.max_per_region", 10)
	v.SetDefault("job.request_delay", 3*time.Second)
	v.SetDefault("job.request_timeout", 60*time.Second)
	v.SetDefault("job.verify_concurrency", 1)
	v.SetDefault("job.max_tracked", 500)

	v.SetDefault("stream.idle_timeout", 180*time.Second)
	v.SetDefault("stream.min_interval", 500*time.Millisecond)

	sel := source.DefaultSelectors()
	v.SetDefault("source.name", "justia")
	v.SetDefault("source.url_template", "https://www.justia.com/lawyers/{category}/{region}")
	v.SetDefault("source.user_agents", []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	})
	v.SetDefault("source.max_results", 0)
	v.SetDefault("source.selectors.profiles", sel.Profiles)
	v.SetDefault("source.selectors.name", sel.Name)
	v.SetDefault("source.selectors.firm", sel.Firm)
	v.SetDefault("source.selectors.website", sel.Website)
	v.SetDefault("source.selectors.email", sel.Email)
	v.SetDefault("source.headless.enabled", false)
	v.SetDefault("source.headless.max_parallel", 1)
	v.SetDefault("source.headless.nav_timeout", 30*time.Second)
	v.SetDefault("source.headless.exec_path", "")
	v.SetDefault("source.respect_robots", false)

	v.SetDefault("verify.website_timeout", 10*time.Second)
	v.SetDefault("verify.per_host_rps", 1.0)
	v.SetDefault("verify.burst", 2)
	v.SetDefault("verify.user_agent", "leadstream/1.0")

	v.SetDefault("sinks.csv.enabled", true)
	v.SetDefault("sinks.csv.prefix", "exports")
	v.SetDefault("sinks.sheets.enabled", false)
	v.SetDefault("sinks.sheets.spreadsheet_id", "")
	v.SetDefault("sinks.sheets.worksheet", "Leads")
	v.SetDefault("sinks.sheets.credentials_file", "")
	v.SetDefault("sinks.postgres.enabled", false)
	v.SetDefault("sinks.postgres.dsn", "")
	v.SetDefault("sinks.postgres.table", "leads")
	v.SetDefault("sinks.postgres.max_conns", 4)
	v.SetDefault("sinks.postgres.auto_migrate", true)

	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.local.base_dir", "data")
	v.SetDefault("storage.gcs.bucket", "")

	// Registered so environment-only values reach Unmarshal.
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch", 64)
	v.SetDefault("progress.max_batch_wait", 200*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 2*time.Second)
	v.SetDefault("progress.log_sink", true)
	v.SetDefault("progress.prometheus_sink", true)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "leadstream")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Job.MaxPerRegion < 0 {
		return fmt.Errorf("job.max_per_region must be >= 0")
	}
	if c.Job.VerifyConcurrency <= 0 {
		return fmt.Errorf("job.verify_concurrency must be > 0")
	}
	if c.Job.RequestTimeout <= 0 {
		return fmt.Errorf("job.request_timeout must be > 0")
	}
	if c.Stream.IdleTimeout <= 0 {
		return fmt.Errorf("stream.idle_timeout must be > 0")
	}
	if strings.TrimSpace(c.Source.URLTemplate) == "" {
		return fmt.Errorf("source.url_template is required")
	}
	if err := c.Source.Selectors.Validate(); err != nil {
		return fmt.Errorf("source.selectors: %w", err)
	}
	if c.Source.Headless.Enabled && c.Source.Headless.MaxParallel <= 0 {
		return fmt.Errorf("source.headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Verify.WebsiteTimeout <= 0 {
		return fmt.Errorf("verify.website_timeout must be > 0")
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Sinks.Sheets.Enabled && c.Sinks.Sheets.SpreadsheetID == "" {
		return fmt.Errorf("sinks.sheets.spreadsheet_id is required when sheets is enabled")
	}
	if c.Sinks.Postgres.Enabled && c.Sinks.Postgres.DSN == "" {
		return fmt.Errorf("sinks.postgres.dsn is required when postgres is enabled")
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return errors.New("telemetry.service_name is required when telemetry is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// DefaultRequest is the job the CLI runs when no flags override it.
func (c Config) DefaultRequest() lead.Request {
	return lead.Request{Regions: append([]string(nil), c.Job.Regions...), Category: c.Job.Category}
}
