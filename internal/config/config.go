package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	HubSpot      HubSpotConfig      `yaml:"hubspot" mapstructure:"hubspot"`
	Engine       EngineConfig       `yaml:"engine" mapstructure:"engine"`
	Eligibility  EligibilityConfig  `yaml:"eligibility" mapstructure:"eligibility"`
	Monitor      MonitorConfig      `yaml:"monitor" mapstructure:"monitor"`
	Export       ExportConfig       `yaml:"export" mapstructure:"export"`
	Availability AvailabilityConfig `yaml:"availability" mapstructure:"availability"`
	GCS          GCSConfig          `yaml:"gcs" mapstructure:"gcs"`
	Data         DataConfig         `yaml:"data" mapstructure:"data"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// HubSpotConfig holds CRM credentials, client limits and the fetch filter.
type HubSpotConfig struct {
	Token            string  `yaml:"token" mapstructure:"token"`
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst   int     `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	ContactProperty  string  `yaml:"contact_property" mapstructure:"contact_property"`
	ContactValue     string  `yaml:"contact_value" mapstructure:"contact_value"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	CacheTTLHours    int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// EngineConfig holds the CRM identifiers used by classification and
// aggregation.
type EngineConfig struct {
	NabellerPipelineID     string   `yaml:"nabeller_pipeline_id" mapstructure:"nabeller_pipeline_id"`
	PausedStageID          string   `yaml:"paused_stage_id" mapstructure:"paused_stage_id"`
	PausedOverridesMapping bool     `yaml:"paused_overrides_mapping" mapstructure:"paused_overrides_mapping"`
	WarmRequestStages      []string `yaml:"warm_request_stages" mapstructure:"warm_request_stages"`
	InfoRequestStages      []string `yaml:"info_request_stages" mapstructure:"info_request_stages"`
	Weeks                  int      `yaml:"weeks" mapstructure:"weeks"`
}

// EligibilityConfig holds the batch scoring thresholds. Nil pointers leave
// the optional filters disabled.
type EligibilityConfig struct {
	Window             string   `yaml:"window" mapstructure:"window"`
	PoolMinDeals       int      `yaml:"pool_min_deals" mapstructure:"pool_min_deals"`
	PoolMaxNabellerPct *float64 `yaml:"pool_max_nabeller_pct" mapstructure:"pool_max_nabeller_pct"`
	PoolTopPercent     float64  `yaml:"pool_top_percent" mapstructure:"pool_top_percent"`
	ThresholdOverride  *float64 `yaml:"threshold_override" mapstructure:"threshold_override"`
	NabellerMaxPct     float64  `yaml:"nabeller_max_pct" mapstructure:"nabeller_max_pct"`
	GoodMinOpen        int      `yaml:"good_min_open" mapstructure:"good_min_open"`
	ModerateMinRate    float64  `yaml:"moderate_min_rate" mapstructure:"moderate_min_rate"`
	ModerateMinOpen    int      `yaml:"moderate_min_open" mapstructure:"moderate_min_open"`
	ModerateMaxOpen    int      `yaml:"moderate_max_open" mapstructure:"moderate_max_open"`
}

// MonitorConfig configures the weekly alerts, run health checks and their
// delivery.
type MonitorConfig struct {
	Weeks             int     `yaml:"weeks" mapstructure:"weeks"`
	NabellerThreshold float64 `yaml:"nabeller_threshold" mapstructure:"nabeller_threshold"`
	WonRateDrop       float64 `yaml:"won_rate_drop" mapstructure:"won_rate_drop"`
	MinDealsWeek      int     `yaml:"min_deals_week" mapstructure:"min_deals_week"`
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	StaleRunHours     int     `yaml:"stale_run_hours" mapstructure:"stale_run_hours"`
	LookbackHours     int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	FailureRateMax    float64 `yaml:"failure_rate_max" mapstructure:"failure_rate_max"`
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// ExportConfig configures the lead pool sheet.
type ExportConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	Tab             string `yaml:"tab" mapstructure:"tab"`
	Weight          int    `yaml:"weight" mapstructure:"weight"`
	CapDay          int    `yaml:"cap_day" mapstructure:"cap_day"`
	CapWeek         int    `yaml:"cap_week" mapstructure:"cap_week"`
	Note            string `yaml:"note" mapstructure:"note"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	RefreshURL      string `yaml:"refresh_url" mapstructure:"refresh_url"`
	RefreshToken    string `yaml:"refresh_token" mapstructure:"refresh_token"`
}

// AvailabilityConfig locates the coach availability tab. It lives in the
// export spreadsheet unless SpreadsheetID is set.
type AvailabilityConfig struct {
	SpreadsheetID string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	Tab           string `yaml:"tab" mapstructure:"tab"`
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
}

// GCSConfig configures the run mirror bucket.
type GCSConfig struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// DataConfig locates run directories and operator files.
type DataConfig struct {
	Dir            string `yaml:"dir" mapstructure:"dir"`
	ExclusionsFile string `yaml:"exclusions_file" mapstructure:"exclusions_file"`
}

// ServerConfig configures the read-only API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validation modes accepted by Validate.
const (
	ModeFetch  = "fetch"
	ModeExport = "export"
	ModeMirror = "mirror"
	ModeServe  = "serve"
	ModeStore  = "store"
)

// Validate checks the settings a command needs before it starts work. All
// problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case ModeFetch:
		if c.HubSpot.Token == "" {
			errs = append(errs, "hubspot.token is required (COACH_HUBSPOT_TOKEN)")
		}
		if c.HubSpot.ContactProperty == "" || c.HubSpot.ContactValue == "" {
			errs = append(errs, "hubspot.contact_property and hubspot.contact_value are required")
		}
		if c.HubSpot.Concurrency < 1 || c.HubSpot.Concurrency > 32 {
			errs = append(errs, "hubspot.concurrency must be between 1 and 32")
		}
	case ModeExport:
		if c.Export.SpreadsheetID == "" {
			errs = append(errs, "export.spreadsheet_id is required")
		}
		if c.Export.Tab == "" {
			errs = append(errs, "export.tab is required")
		}
		if c.Export.Weight < 1 || c.Export.CapDay < 1 || c.Export.CapWeek < 1 {
			errs = append(errs, "export.weight, export.cap_day and export.cap_week must be >= 1")
		}
	case ModeMirror:
		if c.GCS.Bucket == "" {
			errs = append(errs, "gcs.bucket is required")
		}
	case ModeServe:
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case ModeStore:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "data/coach.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("hubspot.token", "")
	v.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	v.SetDefault("hubspot.rate_limit_rps", 9)
	v.SetDefault("hubspot.rate_limit_burst", 3)
	v.SetDefault("hubspot.max_retries", 6)
	v.SetDefault("hubspot.initial_backoff_ms", 1000)
	v.SetDefault("hubspot.max_backoff_ms", 32000)
	v.SetDefault("hubspot.breaker_threshold", 5)
	v.SetDefault("hubspot.breaker_reset_secs", 30)
	v.SetDefault("hubspot.contact_property", "aangebracht_door")
	v.SetDefault("hubspot.contact_value", "Nationale Apotheek")
	v.SetDefault("hubspot.concurrency", 4)
	v.SetDefault("hubspot.cache_ttl_hours", 168)
	v.SetDefault("engine.nabeller_pipeline_id", "38341389")
	v.SetDefault("engine.paused_stage_id", "15413630")
	v.SetDefault("engine.paused_overrides_mapping", true)
	v.SetDefault("engine.warm_request_stages", []string{"114855767", "81686449"})
	v.SetDefault("engine.info_request_stages", []string{"15415582", "116831596"})
	v.SetDefault("engine.weeks", 12)
	v.SetDefault("eligibility.window", "1m")
	v.SetDefault("eligibility.pool_min_deals", 5)
	v.SetDefault("eligibility.pool_top_percent", 100)
	v.SetDefault("eligibility.nabeller_max_pct", 20)
	v.SetDefault("eligibility.good_min_open", 5)
	v.SetDefault("eligibility.moderate_min_rate", 20)
	v.SetDefault("eligibility.moderate_min_open", 3)
	v.SetDefault("eligibility.moderate_max_open", 9)
	v.SetDefault("monitor.weeks", 12)
	v.SetDefault("monitor.nabeller_threshold", 20)
	v.SetDefault("monitor.won_rate_drop", 15)
	v.SetDefault("monitor.min_deals_week", 5)
	v.SetDefault("monitor.webhook_url", "")
	v.SetDefault("monitor.stale_run_hours", 72)
	v.SetDefault("monitor.lookback_hours", 168)
	v.SetDefault("monitor.failure_rate_max", 0.5)
	v.SetDefault("monitor.check_interval_secs", 3600)
	v.SetDefault("export.spreadsheet_id", "1f3fbZasyqt_UwZtXuShHJ8f9H66lUB3KE20vj6OFxwI")
	v.SetDefault("export.tab", "NA_Pool")
	v.SetDefault("export.weight", 1)
	v.SetDefault("export.cap_day", 2)
	v.SetDefault("export.cap_week", 14)
	v.SetDefault("export.note", "pushed from coach-cli")
	v.SetDefault("export.credentials_file", "")
	v.SetDefault("export.refresh_url", "")
	v.SetDefault("export.refresh_token", "")
	v.SetDefault("availability.spreadsheet_id", "")
	v.SetDefault("availability.tab", "Beschikbaarheid")
	v.SetDefault("availability.enabled", true)
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "")
	v.SetDefault("gcs.credentials_file", "")
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.exclusions_file", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
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
