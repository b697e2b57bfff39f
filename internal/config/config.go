package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Redis   RedisConfig
	NATS    NATSConfig
	JWT     JWTConfig
	Model   ModelConfig
	Gateway GatewayConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	CORSAllowedOrigins []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL     string
	Enabled bool
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
}

// ModelConfig configures the remote model API connection.
type ModelConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	AttemptTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// GatewayConfig holds the system-wide default quota limits and gateway tuning.
type GatewayConfig struct {
	DailyRequestLimit   int64
	DailyTokenLimit     int64
	DailyCostLimit      float64
	MonthlyRequestLimit int64
	MonthlyTokenLimit   int64
	MonthlyCostLimit    float64

	RequestsPerMinute int
	RateLimitCooldown time.Duration

	DefaultOutputTokens int64
	AuditRetention      time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               k.String("server.host"),
			Port:               k.Int("server.port"),
			CORSAllowedOrigins: k.Strings("server.cors.origins"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:     k.String("nats.url"),
			Enabled: k.Bool("nats.enabled"),
		},
		JWT: JWTConfig{
			AccessSecret: k.String("jwt.access.secret"),
		},
		Model: ModelConfig{
			BaseURL:        k.String("model.base.url"),
			APIKey:         k.String("model.api.key"),
			Model:          k.String("model.name"),
			EmbeddingModel: k.String("model.embedding.name"),
			MaxRetries:     k.Int("model.max.retries"),
		},
		Gateway: GatewayConfig{
			DailyRequestLimit:   k.Int64("gateway.daily.request.limit"),
			DailyTokenLimit:     k.Int64("gateway.daily.token.limit"),
			DailyCostLimit:      k.Float64("gateway.daily.cost.limit"),
			MonthlyRequestLimit: k.Int64("gateway.monthly.request.limit"),
			MonthlyTokenLimit:   k.Int64("gateway.monthly.token.limit"),
			MonthlyCostLimit:    k.Float64("gateway.monthly.cost.limit"),
			RequestsPerMinute:   k.Int("gateway.requests.per.minute"),
			DefaultOutputTokens: k.Int64("gateway.default.output.tokens"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	applyDefaults(cfg)

	// Parse durations
	cfg.JWT.AccessExpiry, err = parseDuration(k, "jwt.access.expiry", "15m")
	if err != nil {
		return nil, err
	}
	cfg.Model.AttemptTimeout, err = parseDuration(k, "model.attempt.timeout", "30s")
	if err != nil {
		return nil, err
	}
	cfg.Model.RetryBackoff, err = parseDuration(k, "model.retry.backoff", "500ms")
	if err != nil {
		return nil, err
	}
	cfg.Gateway.RateLimitCooldown, err = parseDuration(k, "gateway.rate.limit.cooldown", "1m")
	if err != nil {
		return nil, err
	}
	cfg.Gateway.AuditRetention, err = parseDuration(k, "gateway.audit.retention", "2160h")
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseDuration(k *koanf.Koanf, key, fallback string) (time.Duration, error) {
	raw := k.String(key)
	if raw == "" {
		raw = fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "omnichat"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "omnichat"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Model.BaseURL == "" {
		cfg.Model.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model.Model == "" {
		cfg.Model.Model = "gpt-4o-mini"
	}
	if cfg.Model.EmbeddingModel == "" {
		cfg.Model.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Model.MaxRetries == 0 {
		cfg.Model.MaxRetries = 3
	}
	if cfg.Gateway.DailyRequestLimit == 0 {
		cfg.Gateway.DailyRequestLimit = 500
	}
	if cfg.Gateway.DailyTokenLimit == 0 {
		cfg.Gateway.DailyTokenLimit = 500_000
	}
	if cfg.Gateway.DailyCostLimit == 0 {
		cfg.Gateway.DailyCostLimit = 5.0
	}
	if cfg.Gateway.MonthlyRequestLimit == 0 {
		cfg.Gateway.MonthlyRequestLimit = 10_000
	}
	if cfg.Gateway.MonthlyTokenLimit == 0 {
		cfg.Gateway.MonthlyTokenLimit = 10_000_000
	}
	if cfg.Gateway.MonthlyCostLimit == 0 {
		cfg.Gateway.MonthlyCostLimit = 100.0
	}
	if cfg.Gateway.RequestsPerMinute == 0 {
		cfg.Gateway.RequestsPerMinute = 30
	}
	if cfg.Gateway.DefaultOutputTokens == 0 {
		cfg.Gateway.DefaultOutputTokens = 1024
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
