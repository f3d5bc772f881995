// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/session-harvester/internal/delivery"
	"github.com/JakeFAU/session-harvester/internal/harvest"
	"github.com/JakeFAU/session-harvester/internal/session/browser"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Identities  []IdentityConfig  `mapstructure:"identities"`
	Extraction  ExtractionConfig  `mapstructure:"extraction"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	Seed        SeedConfig        `mapstructure:"seed"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Reporting   ReportingConfig   `mapstructure:"reporting"`
	Pause       PauseConfig       `mapstructure:"pause"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Humanize    HumanizeConfig    `mapstructure:"humanize"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Site        SiteConfig        `mapstructure:"site"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// IdentityConfig is one credentialed account. PasswordEnv names an
// environment variable holding the password, so secrets stay out of files.
type IdentityConfig struct {
	Name        string `mapstructure:"name"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	PasswordEnv string `mapstructure:"password_env"`
}

// ExtractionConfig governs the per-worker state machine.
type ExtractionConfig struct {
	MaxRecords           int           `mapstructure:"max_records"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	PeriodicCheckEvery   int           `mapstructure:"periodic_check_every"`
	BreakEvery           int           `mapstructure:"break_every"`
	FirstRecordTimeout   time.Duration `mapstructure:"first_record_timeout"`
	MaxRecordsPerMinute  float64       `mapstructure:"max_records_per_minute"`
	FlushTimeout         time.Duration `mapstructure:"flush_timeout"`
}

// DeliveryConfig selects the delivery mode and sink.
type DeliveryConfig struct {
	Mode        string        `mapstructure:"mode"`
	BatchSize   int           `mapstructure:"batch_size"`
	Sink        string        `mapstructure:"sink"`
	SourceLabel string        `mapstructure:"source_label"`
	Webhook     WebhookConfig `mapstructure:"webhook"`
	PubSub      PubSubConfig  `mapstructure:"pubsub"`
}

// WebhookConfig configures the HTTP sink.
type WebhookConfig struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// PubSubConfig configures the Pub/Sub sink.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// SeedConfig selects where previously harvested identifiers come from.
type SeedConfig struct {
	Provider  string        `mapstructure:"provider"`
	URL       string        `mapstructure:"url"`
	File      string        `mapstructure:"file"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
}

// ArchiveConfig selects the blob store for accepted records.
type ArchiveConfig struct {
	Provider string      `mapstructure:"provider"`
	Prefix   string      `mapstructure:"prefix"`
	Local    LocalConfig `mapstructure:"local"`
	GCS      GCSConfig   `mapstructure:"gcs"`
}

// LocalConfig configures the filesystem blob store.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSConfig configures the Cloud Storage blob store.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// DatabaseConfig controls Postgres, which backs the record archive, the
// postgres seed provider and the run ledger.
type DatabaseConfig struct {
	DSN            string        `mapstructure:"dsn"`
	MaxConns       int32         `mapstructure:"max_conns"`
	ConnLifetime   time.Duration `mapstructure:"conn_lifetime"`
	RecordsTable   string        `mapstructure:"records_table"`
	ArchiveRecords bool          `mapstructure:"archive_records"`
	RunLedger      bool          `mapstructure:"run_ledger"`
}

// ReportingConfig sets progress report thresholds.
type ReportingConfig struct {
	EveryNew     int `mapstructure:"every_new"`
	EverySkipped int `mapstructure:"every_skipped"`
}

// PauseConfig tunes the intervention pause.
type PauseConfig struct {
	SettleTime time.Duration `mapstructure:"settle_time"`
}

// CoordinatorConfig tunes worker start and shutdown.
type CoordinatorConfig struct {
	StartStagger  time.Duration `mapstructure:"start_stagger"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// HumanizeConfig sets the skip-profile distribution.
type HumanizeConfig struct {
	SkipQuick        float64 `mapstructure:"skip_quick"`
	SkipScanThenSkip float64 `mapstructure:"skip_scan_then_skip"`
	SkipHesitate     float64 `mapstructure:"skip_hesitate"`
}

// BrowserConfig configures the Chrome instances.
type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless"`
	ExecPath       string        `mapstructure:"exec_path"`
	UserAgents     []string      `mapstructure:"user_agents"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	WaitTimeout    time.Duration `mapstructure:"wait_timeout"`
	DetailsTimeout time.Duration `mapstructure:"details_timeout"`
}

// SiteConfig describes the harvested site and how to recognize trouble.
type SiteConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	LoginPath      string            `mapstructure:"login_path"`
	ListingPath    string            `mapstructure:"listing_path"`
	Selectors      browser.Selectors `mapstructure:"selectors"`
	LockoutMarkers []string          `mapstructure:"lockout_markers"`
	ErrorMarkers   []string          `mapstructure:"error_markers"`
	MinBodyChars   int               `mapstructure:"min_body_chars"`
}

// ServerConfig controls the operator HTTP API.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and per-identity files.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Dir         string `mapstructure:"dir"`
}

// Load builds a Config from disk and the HARVEST_* environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
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
	cfg.Site.Selectors = cfg.Site.Selectors.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("extraction.max_records", 0)
	v.SetDefault("extraction.max_consecutive_errors", 3)
	v.SetDefault("extraction.periodic_check_every", 10)
	v.SetDefault("extraction.break_every", 30)
	v.SetDefault("extraction.first_record_timeout", "4s")
	v.SetDefault("extraction.max_records_per_minute", 0)
	v.SetDefault("extraction.flush_timeout", "30s")
	v.SetDefault("delivery.mode", "realtime")
	v.SetDefault("delivery.batch_size", 50)
	v.SetDefault("delivery.sink", "webhook")
	v.SetDefault("delivery.source_label", "Session Harvester")
	v.SetDefault("delivery.webhook.timeout", "30s")
	v.SetDefault("delivery.webhook.user_agent", "session-harvester/1.0")
	v.SetDefault("seed.provider", "http")
	v.SetDefault("seed.timeout", "60s")
	v.SetDefault("seed.retries", 3)
	v.SetDefault("seed.base_delay", "2s")
	v.SetDefault("archive.provider", "local")
	v.SetDefault("archive.prefix", "records")
	v.SetDefault("archive.local.base_dir", "data/harvest")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.conn_lifetime", "30m")
	v.SetDefault("database.records_table", "harvested_records")
	v.SetDefault("reporting.every_new", 20)
	v.SetDefault("reporting.every_skipped", 50)
	v.SetDefault("pause.settle_time", "2s")
	v.SetDefault("coordinator.start_stagger", "3s")
	v.SetDefault("coordinator.shutdown_grace", "10s")
	v.SetDefault("humanize.skip_quick", 0.60)
	v.SetDefault("humanize.skip_scan_then_skip", 0.25)
	v.SetDefault("humanize.skip_hesitate", 0.15)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.nav_timeout", "45s")
	v.SetDefault("browser.wait_timeout", "4s")
	v.SetDefault("browser.details_timeout", "4s")
	v.SetDefault("site.login_path", "/login")
	v.SetDefault("site.listing_path", "/questoes/filtrar")
	v.SetDefault("site.min_body_chars", 100)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Identities) == 0 {
		return errors.New("at least one identity is required")
	}
	seen := make(map[string]bool, len(c.Identities))
	for i, id := range c.Identities {
		switch {
		case strings.TrimSpace(id.Name) == "":
			return fmt.Errorf("identities[%d].name is required", i)
		case seen[id.Name]:
			return fmt.Errorf("identities[%d].name %q is duplicated", i, id.Name)
		case id.Username == "":
			return fmt.Errorf("identity %q: username is required", id.Name)
		case id.Password == "" && id.PasswordEnv == "":
			return fmt.Errorf("identity %q: password or password_env is required", id.Name)
		}
		seen[id.Name] = true
	}
	if strings.TrimSpace(c.Site.BaseURL) == "" {
		return errors.New("site.base_url is required")
	}
	if c.Extraction.MaxRecords < 0 {
		return errors.New("extraction.max_records must be >= 0")
	}
	if c.Extraction.MaxConsecutiveErrors <= 0 {
		return errors.New("extraction.max_consecutive_errors must be > 0")
	}
	if err := c.validateDelivery(); err != nil {
		return err
	}
	if err := c.validateSeed(); err != nil {
		return err
	}
	switch c.Archive.Provider {
	case "", "none", "memory":
	case "local":
		if c.Archive.Local.BaseDir == "" {
			return errors.New("archive.local.base_dir is required for the local archive")
		}
	case "gcs":
		if c.Archive.GCS.Bucket == "" {
			return errors.New("archive.gcs.bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	if (c.Database.ArchiveRecords || c.Database.RunLedger) && c.Database.DSN == "" {
		return errors.New("database.dsn is required when records or the run ledger are persisted")
	}
	if c.Coordinator.StartStagger < 0 {
		return errors.New("coordinator.start_stagger must be >= 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return errors.New("server.port must be > 0 when the server is enabled")
	}
	return nil
}

func (c Config) validateDelivery() error {
	mode, err := delivery.ParseMode(c.Delivery.Mode)
	if err != nil {
		return fmt.Errorf("delivery.mode: %w", err)
	}
	if mode == delivery.ModeDisabled {
		return nil
	}
	if mode == delivery.ModeBatched && c.Delivery.BatchSize <= 0 {
		return errors.New("delivery.batch_size must be > 0 in batched mode")
	}
	switch c.Delivery.Sink {
	case "webhook":
		if c.Delivery.Webhook.URL == "" {
			return errors.New("delivery.webhook.url is required for the webhook sink")
		}
	case "pubsub":
		if c.Delivery.PubSub.ProjectID == "" || c.Delivery.PubSub.TopicID == "" {
			return errors.New("delivery.pubsub.project_id and topic_id are required for the pubsub sink")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown delivery.sink %q", c.Delivery.Sink)
	}
	return nil
}

func (c Config) validateSeed() error {
	switch c.Seed.Provider {
	case "", "none":
	case "http":
		if c.Seed.URL == "" {
			return errors.New("seed.url is required for the http seed provider")
		}
	case "file":
		if c.Seed.File == "" {
			return errors.New("seed.file is required for the file seed provider")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres seed provider")
		}
	default:
		return fmt.Errorf("unknown seed.provider %q", c.Seed.Provider)
	}
	if c.Seed.Retries < 0 {
		return errors.New("seed.retries must be >= 0")
	}
	return nil
}

// ResolveIdentities materializes identities, reading PasswordEnv through
// lookup (os.LookupEnv when nil).
func (c Config) ResolveIdentities(lookup func(string) (string, bool)) ([]harvest.Identity, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	out := make([]harvest.Identity, 0, len(c.Identities))
	for _, id := range c.Identities {
		password := id.Password
		if id.PasswordEnv != "" {
			val, ok := lookup(id.PasswordEnv)
			if !ok || val == "" {
				return nil, fmt.Errorf("identity %q: environment variable %s is not set", id.Name, id.PasswordEnv)
			}
			password = val
		}
		out = append(out, harvest.Identity{Name: id.Name, Username: id.Username, Password: password})
	}
	return out, nil
}

// DeliveryMode returns the parsed delivery mode. Validate has already
// rejected unknown modes.
func (c Config) DeliveryMode() delivery.Mode {
	mode, err := delivery.ParseMode(c.Delivery.Mode)
	if err != nil {
		return delivery.ModeDisabled
	}
	return mode
}

// PostgresNeeded reports whether any component uses the database.
func (c Config) PostgresNeeded() bool {
	return c.Database.DSN != "" &&
		(c.Seed.Provider == "postgres" || c.Database.ArchiveRecords || c.Database.RunLedger)
}
