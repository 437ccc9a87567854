// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/corpus-crawler/internal/crawler"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Optional provider names.
const (
	ProviderNone   = "none"
	ProviderMemory = "memory"
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderPubSub = "pubsub"
)

// DefaultUserAgent mimics a desktop browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Logic    LogicConfig    `mapstructure:"logic"`
	Detector DetectorConfig `mapstructure:"detector"`
	Sources  []SourceConfig `mapstructure:"sources"`
	DB       DBConfig       `mapstructure:"db"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// LogicConfig governs pacing, retries and request headers.
type LogicConfig struct {
	Delay                  float64 `mapstructure:"delay"`
	UserAgent              string  `mapstructure:"user_agent"`
	MaxPages               int     `mapstructure:"max_pages"`
	TimeoutSeconds         int     `mapstructure:"timeout_seconds"`
	MaxAttempts            int     `mapstructure:"max_attempts"`
	CaptchaCooldownSeconds int     `mapstructure:"captcha_cooldown_seconds"`
	JitterMin              float64 `mapstructure:"jitter_min"`
	JitterMax              float64 `mapstructure:"jitter_max"`
	AcceptLanguage         string  `mapstructure:"accept_language"`
	RespectRobots          bool    `mapstructure:"respect_robots"`
	MaxRequestsPerSecond   float64 `mapstructure:"max_requests_per_second"`
}

// DetectorConfig tunes the block detector.
type DetectorConfig struct {
	MaxBodyBytes int      `mapstructure:"max_body_bytes"`
	Markers      []string `mapstructure:"markers"`
}

// SourceConfig describes one site to crawl.
type SourceConfig struct {
	Name            string `mapstructure:"name"`
	StartURL        string `mapstructure:"start_url"`
	ItemSelector    string `mapstructure:"item_selector"`
	PaginationType  string `mapstructure:"pagination_type"`
	NextBtnSelector string `mapstructure:"next_btn_selector"`
	MaxPages        int    `mapstructure:"max_pages"`
}

// DBConfig controls access to the document store.
type DBConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	Path        string `mapstructure:"path"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// ArchiveConfig selects the optional raw document mirror.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// NotifyConfig selects the optional ingest notification channel.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig configures the ops HTTP server.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features and the log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// Load builds a Config from disk and environment. An empty path searches
// the working directory for config.yaml and tolerates its absence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("logic.delay", 2.0)
	v.SetDefault("logic.user_agent", DefaultUserAgent)
	v.SetDefault("logic.max_pages", crawler.DefaultMaxPages)
	v.SetDefault("logic.timeout_seconds", 15)
	v.SetDefault("logic.max_attempts", crawler.DefaultMaxAttempts)
	v.SetDefault("logic.captcha_cooldown_seconds", int(crawler.DefaultCaptchaCooldown/time.Second))
	v.SetDefault("logic.jitter_min", 0.1)
	v.SetDefault("logic.jitter_max", 0.5)
	v.SetDefault("logic.accept_language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	v.SetDefault("logic.respect_robots", false)
	v.SetDefault("logic.max_requests_per_second", 0.0)
	v.SetDefault("detector.max_body_bytes", crawler.DefaultBlockBodyLimit)
	v.SetDefault("detector.markers", crawler.DefaultBlockMarkers)
	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.dbname", "corpus")
	v.SetDefault("db.path", "data/corpus.db")
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("archive.provider", ProviderNone)
	v.SetDefault("archive.base_dir", "data/raw")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("notify.provider", ProviderNone)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "documents")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file", "crawler.log")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("sources must list at least one source")
	}
	for i, s := range c.Sources {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if strings.TrimSpace(s.StartURL) == "" {
			return fmt.Errorf("sources[%d].start_url is required", i)
		}
		switch crawler.PaginationType(s.PaginationType) {
		case "", crawler.PaginationNone, crawler.PaginationHTMLLink:
		default:
			return fmt.Errorf("sources[%d].pagination_type %q is not supported", i, s.PaginationType)
		}
		if s.MaxPages < 0 {
			return fmt.Errorf("sources[%d].max_pages must be >= 0", i)
		}
	}
	if c.Logic.MaxPages <= 0 {
		return fmt.Errorf("logic.max_pages must be > 0")
	}
	if c.Logic.TimeoutSeconds <= 0 {
		return fmt.Errorf("logic.timeout_seconds must be > 0")
	}
	if c.Logic.MaxAttempts <= 0 {
		return fmt.Errorf("logic.max_attempts must be > 0")
	}
	if c.Logic.Delay < 0 {
		return fmt.Errorf("logic.delay must be >= 0")
	}
	if c.Logic.JitterMin < 0 || c.Logic.JitterMin > c.Logic.JitterMax {
		return fmt.Errorf("logic.jitter_min must be between 0 and logic.jitter_max")
	}
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.DSN == "" && c.DB.Host == "" {
			return fmt.Errorf("db.dsn or db.host must be set for the postgres driver")
		}
	case DriverSQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("db.path must be set for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}
	switch c.Archive.Provider {
	case "", ProviderNone, ProviderMemory:
	case ProviderLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local archive")
		}
	case ProviderGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.provider %q is not supported", c.Archive.Provider)
	}
	switch c.Notify.Provider {
	case "", ProviderNone, ProviderMemory:
	case ProviderPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("notify.provider %q is not supported", c.Notify.Provider)
	}
	return nil
}

// Targets converts the configured sources into crawl targets.
func (c Config) Targets() []crawler.CrawlTarget {
	targets := make([]crawler.CrawlTarget, 0, len(c.Sources))
	for _, s := range c.Sources {
		pagination := crawler.PaginationType(s.PaginationType)
		if pagination == "" {
			pagination = crawler.PaginationNone
		}
		targets = append(targets, crawler.CrawlTarget{
			Name:               s.Name,
			StartURL:           s.StartURL,
			ItemSelector:       s.ItemSelector,
			PaginationType:     pagination,
			NextButtonSelector: s.NextBtnSelector,
			MaxPages:           s.MaxPages,
		})
	}
	return targets
}

// BaseDelay is the politeness delay between requests.
func (c LogicConfig) BaseDelay() time.Duration {
	return seconds(c.Delay)
}

// Jitter is the random addition range for every pause.
func (c LogicConfig) Jitter() crawler.Jitter {
	return crawler.NewJitter(seconds(c.JitterMin), seconds(c.JitterMax))
}

// Timeout bounds a single HTTP request.
func (c LogicConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Retry returns the retry controller settings.
func (c LogicConfig) Retry() crawler.RetryConfig {
	return crawler.RetryConfig{
		MaxAttempts:     c.MaxAttempts,
		CaptchaCooldown: time.Duration(c.CaptchaCooldownSeconds) * time.Second,
	}
}

// ConnString returns the DSN, building a postgres URL from the discrete
// connection keys when no DSN is configured.
func (c DBConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}
	return u.String()
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
