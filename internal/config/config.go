// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"

	minBackupInterval = 5 * time.Minute
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token         string        `yaml:"token"`
	Mode          string        `yaml:"mode"` // polling | webhook
	Username      string        `yaml:"username"`
	Workers       int           `yaml:"workers"` // update workers
	AdminIDs      []int64       `yaml:"admin_ids"`
	PollTimeout   int           `yaml:"poll_timeout"` // seconds
	WebhookURL    string        `yaml:"webhook_url"`
	WebhookSecret string        `yaml:"webhook_secret"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`    // trace|debug|info|warn|error
	Format     string `yaml:"format"`   // json|console
	Sampling   bool   `yaml:"sampling"` // enable sampling in prod
	File       string `yaml:"file"`     // optional rotating file output
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	DataDir      string        `yaml:"data_dir"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ReferralConfig struct {
	Target          int           `yaml:"target"`
	RewardType      string        `yaml:"reward_type"`
	PendingTTL      time.Duration `yaml:"pending_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	AllowedChatIDs  []int64       `yaml:"allowed_chat_ids"`
	CodeLength      int           `yaml:"code_length"`
}

type BackupConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	Keep     int           `yaml:"keep"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}

type NotifyConfig struct {
	OnReferral bool `yaml:"on_referral"`
	OnReward   bool `yaml:"on_reward"`
}

type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	Referral  ReferralConfig  `yaml:"referral"`
	Backup    BackupConfig    `yaml:"backup"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Notify    NotifyConfig    `yaml:"notify"`

	Runtime RuntimeConfig `yaml:"-"`
}

// IsAdmin reports whether the telegram id is listed in bot.admin_ids.
func (c *Config) IsAdmin(tgID int64) bool {
	for _, id := range c.Bot.AdminIDs {
		if id == tgID {
			return true
		}
	}
	return false
}

func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	return Load(configPath, dev)
}

// Load reads the yaml file at path, applies environment overrides and
// defaults, and validates the result. A missing file is tolerated when
// the environment supplies the bot token.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && os.Getenv("TELEGRAM_BOT_TOKEN") != "":
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Bot.Token = v
	}
	if v := os.Getenv("BOT_USERNAME"); v != "" {
		cfg.Bot.Username = v
	}
	if v := os.Getenv("REWARD_TYPE"); v != "" {
		cfg.Referral.RewardType = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("WEBHOOK_MODE"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WEBHOOK_MODE: %w", err)
		}
		if on {
			cfg.Bot.Mode = ModeWebhook
		} else {
			cfg.Bot.Mode = ModePolling
		}
	}
	if v := os.Getenv("ADMIN_IDS"); v != "" {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("ADMIN_IDS: %w", err)
		}
		cfg.Bot.AdminIDs = ids
	}
	return nil
}

func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.Mode == "" {
		cfg.Bot.Mode = ModePolling
	}
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 8
	}
	if cfg.Bot.PollTimeout <= 0 {
		cfg.Bot.PollTimeout = 30
	}
	if cfg.Bot.SendTimeout <= 0 {
		cfg.Bot.SendTimeout = 10 * time.Second
	}
	cfg.Bot.Username = strings.TrimPrefix(cfg.Bot.Username, "@")

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 50
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 10 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.WriteTimeout <= 0 {
		cfg.Storage.WriteTimeout = 5 * time.Second
	}

	if cfg.Referral.Target <= 0 {
		cfg.Referral.Target = 10
	}
	if cfg.Referral.RewardType == "" {
		cfg.Referral.RewardType = "Premium Access"
	}
	if cfg.Referral.PendingTTL <= 0 {
		cfg.Referral.PendingTTL = time.Hour
	}
	if cfg.Referral.CleanupInterval <= 0 {
		cfg.Referral.CleanupInterval = 10 * time.Minute
	}
	if cfg.Referral.CodeLength <= 0 {
		cfg.Referral.CodeLength = 8
	}

	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = "backups"
	}
	if cfg.Backup.Interval <= 0 {
		cfg.Backup.Interval = time.Hour
	}
	if cfg.Backup.Keep <= 0 {
		cfg.Backup.Keep = 24
	}

	if cfg.RateLimit.PerMinute <= 0 {
		cfg.RateLimit.PerMinute = 30
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}
}

// Validate performs the minimal checks needed to start the bot.
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return errors.New("bot.token is required")
	}
	switch c.Bot.Mode {
	case ModePolling:
	case ModeWebhook:
		if c.Bot.WebhookURL == "" {
			return errors.New("bot.webhook_url is required in webhook mode")
		}
		if c.Bot.WebhookSecret == "" {
			return errors.New("bot.webhook_secret is required in webhook mode")
		}
	default:
		return fmt.Errorf("bot.mode must be %q or %q, got %q", ModePolling, ModeWebhook, c.Bot.Mode)
	}
	if c.Referral.CodeLength < 6 {
		return errors.New("referral.code_length must be at least 6")
	}
	if c.Backup.Enabled && c.Backup.Interval < minBackupInterval {
		return fmt.Errorf("backup.interval must be at least %s", minBackupInterval)
	}
	return nil
}
