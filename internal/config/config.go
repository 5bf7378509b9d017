// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	DB         DBConfig         `mapstructure:"db"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Background BackgroundConfig `mapstructure:"background"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the entity database.
type DBConfig struct {
	// Provider selects "postgres" or "memory".
	Provider        string        `mapstructure:"provider"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// FetchConfig governs the fetch policy engine.
type FetchConfig struct {
	// BackgroundOnlyFields are never fetched synchronously; a miss
	// returns an empty local value and the enrichment worker fills them.
	BackgroundOnlyFields []string `mapstructure:"background_only_fields"`

	// FieldTTLs maps field names to staleness windows. A field with no
	// TTL treats any present value as fresh.
	FieldTTLs map[string]time.Duration `mapstructure:"field_ttls"`
}

// BackgroundConfig tunes the enrichment queue worker.
type BackgroundConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	EntityDelay  time.Duration `mapstructure:"entity_delay"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
}

// SourcesConfig holds per-source credentials and endpoints.
type SourcesConfig struct {
	Twitter  TwitterConfig  `mapstructure:"twitter"`
	Congress CongressConfig `mapstructure:"congress"`
	Renderer RendererConfig `mapstructure:"renderer"`
	Votes    VotesConfig    `mapstructure:"votes"`
}

// TwitterConfig configures the latest_tweet source.
type TwitterConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	BearerToken string        `mapstructure:"bearer_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// CongressConfig configures the congressional profile scraper.
type CongressConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RendererConfig configures the headless renderer for JS-heavy profile pages.
type RendererConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	NavTimeout    time.Duration `mapstructure:"nav_timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	ProfileURLTpl string        `mapstructure:"profile_url_template"`
}

// VotesConfig configures the external voting-record refresh tool.
type VotesConfig struct {
	RefreshCommand string        `mapstructure:"refresh_command"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
}

// ArchiveConfig selects the raw-payload archiver.
type ArchiveConfig struct {
	// Provider selects "gcs", "local", or "noop".
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig selects the entity-updated notification publisher.
type NotifyConfig struct {
	// Provider selects "pubsub", "memory", or "noop".
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CIVICLENS")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("fetch.background_only_fields", []string{"voting_record", "committees"})
	v.SetDefault("background.poll_interval", time.Second)
	v.SetDefault("background.entity_delay", 200*time.Millisecond)
	v.SetDefault("background.stop_timeout", 5*time.Second)
	v.SetDefault("sources.twitter.base_url", "https://api.twitter.com/2")
	v.SetDefault("sources.twitter.timeout", 15*time.Second)
	v.SetDefault("sources.congress.base_url", "https://www.congress.gov")
	v.SetDefault("sources.congress.user_agent", "civiclens-bot/0.1")
	v.SetDefault("sources.congress.timeout", 15*time.Second)
	v.SetDefault("sources.renderer.enabled", false)
	v.SetDefault("sources.renderer.max_parallel", 1)
	v.SetDefault("sources.renderer.nav_timeout", 25*time.Second)
	v.SetDefault("sources.renderer.user_agent", "civiclens-bot/0.1")
	v.SetDefault("sources.votes.refresh_timeout", 2*time.Minute)
	v.SetDefault("archive.provider", "noop")
	v.SetDefault("archive.prefix", "payloads")
	v.SetDefault("notify.provider", "noop")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.provider: %s", c.DB.Provider)
	}
	if c.Background.PollInterval <= 0 {
		return fmt.Errorf("background.poll_interval must be > 0")
	}
	if c.Background.StopTimeout <= 0 {
		return fmt.Errorf("background.stop_timeout must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Archive.Provider == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
	}
	if c.Archive.Provider == "local" && c.Archive.BaseDir == "" {
		return fmt.Errorf("archive.base_dir must be set when archive.provider is local")
	}
	if c.Notify.Provider == "pubsub" && (c.Notify.ProjectID == "" || c.Notify.Topic == "") {
		return fmt.Errorf("notify.project_id and notify.topic must be set when notify.provider is pubsub")
	}
	return nil
}

// BackgroundOnlySet returns the background-only fields as a set.
func (c Config) BackgroundOnlySet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Fetch.BackgroundOnlyFields))
	for _, f := range c.Fetch.BackgroundOnlyFields {
		set[f] = struct{}{}
	}
	return set
}

// ServerTimeout converts the HTTP timeout config into a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}
