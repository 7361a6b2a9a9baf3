package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	_ "time/tzdata" // delivery.location must resolve on hosts without zoneinfo

	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Compose  ComposeConfig  `mapstructure:"compose"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Viewer   ViewerConfig   `mapstructure:"viewer"`
}

type PathsConfig struct {
	Database    string `mapstructure:"database"`
	Downloads   string `mapstructure:"downloads"`
	Generated   string `mapstructure:"generated"`
	Catalog     string `mapstructure:"catalog"`
	SearchIndex string `mapstructure:"search_index"`
}

type FetchConfig struct {
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type ComposeConfig struct {
	JPEGQuality int `mapstructure:"jpeg_quality"`
}

type DeliveryConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Deadline    time.Duration `mapstructure:"deadline"`
	// Location decides which calendar day "today" and "already delivered" refer to.
	Location string `mapstructure:"location"`
}

// ScheduleConfig holds standard 5-field cron expressions for daemon mode.
type ScheduleConfig struct {
	Prefetch string `mapstructure:"prefetch"`
	Deliver  string `mapstructure:"deliver"`
	Final    string `mapstructure:"final"`
}

type WebhookConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	DefaultUsername string        `mapstructure:"default_username"`
	// DefaultURL receives ad-hoc posts and flashbacks sent without --to.
	DefaultURL string `mapstructure:"default_url"`
}

type SMTPConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
	ReplyTo   string `mapstructure:"reply_to"`
	BaseURL   string `mapstructure:"base_url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type MetricsConfig struct {
	Pushgateway string `mapstructure:"pushgateway"`
	Job         string `mapstructure:"job"`
}

// ViewerConfig lists image viewers tried in order by `post --open`.
type ViewerConfig struct {
	Darwin        []string `mapstructure:"darwin"`
	Linux         []string `mapstructure:"linux"`
	Windows       []string `mapstructure:"windows"`
	DefaultOpener string   `mapstructure:"default_opener"`
}

const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".covers")

	return &Config{
		Paths: PathsConfig{
			Database:    filepath.Join(dataDir, "subscriptions.db"),
			Downloads:   filepath.Join(dataDir, "downloads"),
			Generated:   filepath.Join(dataDir, "generated_images"),
			Catalog:     filepath.Join(homeDir, ".config", "covers", "papers.yaml"),
			SearchIndex: "",
		},
		Fetch: FetchConfig{
			HTTPTimeout:       30 * time.Second,
			UserAgent:         browserUserAgent,
			Concurrency:       4,
			RequestsPerSecond: 2,
			Burst:             2,
		},
		Compose: ComposeConfig{
			JPEGQuality: 90,
		},
		Delivery: DeliveryConfig{
			Concurrency: 4,
			Deadline:    50 * time.Minute,
			Location:    "America/New_York",
		},
		Schedule: ScheduleConfig{
			Prefetch: "30 6 * * *",
			Deliver:  "0 7-10 * * *",
			Final:    "0 11 * * *",
		},
		Webhook: WebhookConfig{
			Timeout:         30 * time.Second,
			DefaultUsername: "CoverCompare",
		},
		SMTP: SMTPConfig{
			Port:     587,
			FromName: "CoverCompare",
			BaseURL:  "https://covercompare.io",
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Job: "covers",
		},
		Viewer: ViewerConfig{
			Darwin:        []string{"open"},
			Linux:         []string{"sxiv", "feh", "eog", "xdg-open"},
			Windows:       []string{"start"},
			DefaultOpener: getDefaultOpener(),
		},
	}
}

func getDefaultOpener() string {
	switch runtime.GOOS {
	case "darwin":
		return "open"
	case "linux":
		return "xdg-open"
	case "windows":
		return "start"
	default:
		return "open"
	}
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	for section, values := range settings(defaultConfig()) {
		for key, value := range values {
			v.SetDefault(section+"."+key, value)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "covers")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("COVERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Secrets are usually injected through the environment.
	_ = v.BindEnv("smtp.password", "COVERS_SMTP_PASSWORD", "SMTP_PASSWORD")
	_ = v.BindEnv("smtp.user", "COVERS_SMTP_USER", "SMTP_USER")
	_ = v.BindEnv("smtp.host", "COVERS_SMTP_HOST", "SMTP_HOST")
	_ = v.BindEnv("webhook.default_url", "COVERS_WEBHOOK_DEFAULT_URL", "DISCORD_WEBHOOK_URL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be at least 1, got %d", c.Fetch.Concurrency)
	}
	if c.Delivery.Concurrency < 1 {
		return fmt.Errorf("delivery.concurrency must be at least 1, got %d", c.Delivery.Concurrency)
	}
	if c.Compose.JPEGQuality < 1 || c.Compose.JPEGQuality > 100 {
		return fmt.Errorf("compose.jpeg_quality must be within 1..100, got %d", c.Compose.JPEGQuality)
	}
	if _, err := c.Delivery.TimeLocation(); err != nil {
		return err
	}
	return nil
}

// TimeLocation resolves the configured delivery time zone.
func (d DeliveryConfig) TimeLocation() (*time.Location, error) {
	if d.Location == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(d.Location)
	if err != nil {
		return nil, fmt.Errorf("delivery.location %q: %w", d.Location, err)
	}
	return loc, nil
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Paths.Database = expandPath(cfg.Paths.Database)
	cfg.Paths.Downloads = expandPath(cfg.Paths.Downloads)
	cfg.Paths.Generated = expandPath(cfg.Paths.Generated)
	cfg.Paths.Catalog = expandPath(cfg.Paths.Catalog)
	cfg.Paths.SearchIndex = expandPath(cfg.Paths.SearchIndex)
	cfg.Log.File = expandPath(cfg.Log.File)
}

func Save(config *Config, path string) error {
	v := viper.New()

	for section, values := range settings(config) {
		v.Set(section, values)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

// settings flattens cfg into per-section maps keyed like the TOML file.
// Durations are written as strings for readability.
func settings(cfg *Config) map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"paths": {
			"database":     cfg.Paths.Database,
			"downloads":    cfg.Paths.Downloads,
			"generated":    cfg.Paths.Generated,
			"catalog":      cfg.Paths.Catalog,
			"search_index": cfg.Paths.SearchIndex,
		},
		"fetch": {
			"http_timeout":        cfg.Fetch.HTTPTimeout.String(),
			"user_agent":          cfg.Fetch.UserAgent,
			"concurrency":         cfg.Fetch.Concurrency,
			"requests_per_second": cfg.Fetch.RequestsPerSecond,
			"burst":               cfg.Fetch.Burst,
		},
		"compose": {
			"jpeg_quality": cfg.Compose.JPEGQuality,
		},
		"delivery": {
			"concurrency": cfg.Delivery.Concurrency,
			"deadline":    cfg.Delivery.Deadline.String(),
			"location":    cfg.Delivery.Location,
		},
		"schedule": {
			"prefetch": cfg.Schedule.Prefetch,
			"deliver":  cfg.Schedule.Deliver,
			"final":    cfg.Schedule.Final,
		},
		"webhook": {
			"timeout":          cfg.Webhook.Timeout.String(),
			"default_username": cfg.Webhook.DefaultUsername,
			"default_url":      cfg.Webhook.DefaultURL,
		},
		"smtp": {
			"host":       cfg.SMTP.Host,
			"port":       cfg.SMTP.Port,
			"user":       cfg.SMTP.User,
			"password":   cfg.SMTP.Password,
			"from_email": cfg.SMTP.FromEmail,
			"from_name":  cfg.SMTP.FromName,
			"reply_to":   cfg.SMTP.ReplyTo,
			"base_url":   cfg.SMTP.BaseURL,
		},
		"log": {
			"level": cfg.Log.Level,
			"file":  cfg.Log.File,
		},
		"metrics": {
			"pushgateway": cfg.Metrics.Pushgateway,
			"job":         cfg.Metrics.Job,
		},
		"viewer": {
			"darwin":         cfg.Viewer.Darwin,
			"linux":          cfg.Viewer.Linux,
			"windows":        cfg.Viewer.Windows,
			"default_opener": cfg.Viewer.DefaultOpener,
		},
	}
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
