package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/dropledger/internal/fees"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBSource        string        `yaml:"db_source"`
	MaxDBConns      int32         `yaml:"max_db_conns"`
	Port            string        `yaml:"port"`
	Env             string        `yaml:"env"`
	PublicBaseURL   string        `yaml:"public_base_url"`
	Currency        string        `yaml:"currency"`
	ProductTTL      time.Duration `yaml:"product_ttl"`
	ExternalTimeout time.Duration `yaml:"external_timeout"`
	RedisURL        string        `yaml:"redis_url"`

	Stripe    StripeConfig    `yaml:"stripe"`
	PayPal    PayPalConfig    `yaml:"paypal"`
	Storage   StorageConfig   `yaml:"storage"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Fees      FeesConfig      `yaml:"fees"`
	Payout    PayoutConfig    `yaml:"payout"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Schedules SchedulesConfig `yaml:"schedules"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
}

type PayPalConfig struct {
	ClientID string `yaml:"client_id"`
	Secret   string `yaml:"secret"`
	Mode     string `yaml:"mode"`
}

type StorageConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Bucket    string        `yaml:"bucket"`
	UseSSL    bool          `yaml:"use_ssl"`
	LinkTTL   time.Duration `yaml:"link_ttl"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	NotifyTopic string   `yaml:"notify_topic"`
}

type ChannelFee struct {
	Percent string `yaml:"percent"`
	Fixed   string `yaml:"fixed"`
}

type FeesConfig struct {
	Channels      map[string]ChannelFee `yaml:"channels"`
	PlatformRate  string                `yaml:"platform_rate"`
	PayoutPercent string                `yaml:"payout_percent"`
	PayoutFixed   string                `yaml:"payout_fixed"`
	PayoutCap     string                `yaml:"payout_cap"`
}

type PayoutConfig struct {
	Threshold      string        `yaml:"threshold"`
	ChunkSize      int           `yaml:"chunk_size"`
	ChunkPause     time.Duration `yaml:"chunk_pause"`
	CallsPerSecond float64       `yaml:"calls_per_second"`
}

type NotifierConfig struct {
	Lookahead      time.Duration `yaml:"lookahead"`
	Tolerance      time.Duration `yaml:"tolerance"`
	SendsPerSecond float64       `yaml:"sends_per_second"`
}

type SweepConfig struct {
	DeleteBatchSize   int `yaml:"delete_batch_size"`
	MaxProductsPerRun int `yaml:"max_products_per_run"`
}

type OutboxConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Interval  time.Duration `yaml:"interval"`
}

type SchedulesConfig struct {
	Cleanup  string `yaml:"cleanup"`
	Warnings string `yaml:"warnings"`
	Payout   string `yaml:"payout"`
}

func Default() *Config {
	return &Config{
		Port:            "8080",
		Env:             "development",
		PublicBaseURL:   "http://localhost:8080",
		Currency:        "USD",
		ProductTTL:      72 * time.Hour,
		ExternalTimeout: 10 * time.Second,
		PayPal:          PayPalConfig{Mode: "sandbox"},
		Storage:         StorageConfig{Bucket: "listings", LinkTTL: 15 * time.Minute},
		Kafka:           KafkaConfig{NotifyTopic: "market.notifications"},
		Fees: FeesConfig{
			Channels: map[string]ChannelFee{
				"card":       {Percent: "0.029", Fixed: "0.30"},
				"paypal":     {Percent: "0.0349", Fixed: "0.49"},
				"sepa_debit": {Percent: "0.008", Fixed: "0"},
			},
			PlatformRate:  "0.12",
			PayoutPercent: "0.02",
			PayoutFixed:   "0",
			PayoutCap:     "1.00",
		},
		Payout: PayoutConfig{
			Threshold:      "10.00",
			ChunkSize:      50,
			ChunkPause:     5 * time.Second,
			CallsPerSecond: 5,
		},
		Notifier: NotifierConfig{
			Lookahead:      24 * time.Hour,
			Tolerance:      time.Hour,
			SendsPerSecond: 2,
		},
		Sweep:  SweepConfig{DeleteBatchSize: 500, MaxProductsPerRun: 1000},
		Outbox: OutboxConfig{BatchSize: 100, Interval: 15 * time.Second},
		Schedules: SchedulesConfig{
			Cleanup:  "@hourly",
			Warnings: "30 * * * *",
			Payout:   "0 9 * * MON",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.DBSource = envOrDefault("DB_SOURCE", cfg.DBSource)
	cfg.Port = envOrDefault("SERVER_PORT", cfg.Port)
	cfg.Env = envOrDefault("ENVIRONMENT", cfg.Env)
	cfg.PublicBaseURL = envOrDefault("PUBLIC_BASE_URL", cfg.PublicBaseURL)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.Stripe.SecretKey = envOrDefault("STRIPE_SECRET_KEY", cfg.Stripe.SecretKey)
	cfg.Stripe.WebhookSecret = envOrDefault("STRIPE_WEBHOOK_SECRET", cfg.Stripe.WebhookSecret)
	cfg.PayPal.ClientID = envOrDefault("PAYPAL_CLIENT_ID", cfg.PayPal.ClientID)
	cfg.PayPal.Secret = envOrDefault("PAYPAL_SECRET", cfg.PayPal.Secret)
	cfg.PayPal.Mode = envOrDefault("PAYPAL_MODE", cfg.PayPal.Mode)
	cfg.Storage.Endpoint = envOrDefault("STORAGE_ENDPOINT", cfg.Storage.Endpoint)
	cfg.Storage.AccessKey = envOrDefault("STORAGE_ACCESS_KEY", cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = envOrDefault("STORAGE_SECRET_KEY", cfg.Storage.SecretKey)
	cfg.Storage.Bucket = envOrDefault("STORAGE_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.UseSSL = envBool("STORAGE_USE_SSL", cfg.Storage.UseSSL)
	cfg.Kafka.Brokers = envCSV("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.NotifyTopic = envOrDefault("KAFKA_NOTIFY_TOPIC", cfg.Kafka.NotifyTopic)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.Payout.Threshold = envOrDefault("PAYOUT_THRESHOLD", cfg.Payout.Threshold)

	if cfg.DBSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}
	if _, err := cfg.FeeSchedule(); err != nil {
		return nil, err
	}
	if _, err := cfg.PayoutThreshold(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FeeSchedule converts the textual fee table to decimals.
func (c *Config) FeeSchedule() (fees.Schedule, error) {
	s := fees.Schedule{Channels: make(map[string]fees.Rate, len(c.Fees.Channels))}
	for name, ch := range c.Fees.Channels {
		pct, err := parseDecimal("fees.channels."+name+".percent", ch.Percent)
		if err != nil {
			return fees.Schedule{}, err
		}
		fixed, err := parseDecimal("fees.channels."+name+".fixed", ch.Fixed)
		if err != nil {
			return fees.Schedule{}, err
		}
		s.Channels[strings.ToLower(name)] = fees.Rate{Percent: pct, Fixed: fixed}
	}
	var err error
	if s.PlatformRate, err = parseDecimal("fees.platform_rate", c.Fees.PlatformRate); err != nil {
		return fees.Schedule{}, err
	}
	if s.Payout.Percent, err = parseDecimal("fees.payout_percent", c.Fees.PayoutPercent); err != nil {
		return fees.Schedule{}, err
	}
	if s.Payout.Fixed, err = parseDecimal("fees.payout_fixed", c.Fees.PayoutFixed); err != nil {
		return fees.Schedule{}, err
	}
	if s.Payout.Cap, err = parseDecimal("fees.payout_cap", c.Fees.PayoutCap); err != nil {
		return fees.Schedule{}, err
	}
	return s, nil
}

func (c *Config) PayoutThreshold() (decimal.Decimal, error) {
	return parseDecimal("payout.threshold", c.Payout.Threshold)
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("config %s: %w", field, err)
	}
	return d, nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	out := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
