package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Fusion   FusionConfig   `yaml:"fusion"`
	Booking  BookingConfig  `yaml:"booking"`
	Worker   WorkerConfig   `yaml:"worker"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Address    string `yaml:"address"`
	SwaggerDir string `yaml:"swagger_dir"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	SessionEventsTopic string   `yaml:"session_events_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

// FusionConfig describes the upstream cruise reservation API.
type FusionConfig struct {
	BaseURL           string      `yaml:"base_url"`
	TokenURL          string      `yaml:"token_url"`
	ClientID          string      `yaml:"client_id"`
	ClientSecret      string      `yaml:"client_secret"`
	SID               string      `yaml:"sid"`
	RequestTimeoutSec int         `yaml:"request_timeout_seconds"`
	RequestsPerSecond float64     `yaml:"requests_per_second"`
	TokenBufferSec    int         `yaml:"token_buffer_seconds"`
	Retry             RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs     int `yaml:"max_delay_ms"`
	MaxJitterMs    int `yaml:"max_jitter_ms"`
}

type BookingConfig struct {
	SessionTTLMinutes       int      `yaml:"session_ttl_minutes"`
	HoldWarningMinutes      int      `yaml:"hold_warning_minutes"`
	DefaultHoldMinutes      int      `yaml:"default_hold_minutes"`
	OfferableTripStatuses   []string `yaml:"offerable_trip_statuses"`
	IdempotencyRetentionHrs int      `yaml:"idempotency_retention_hours"`
	SearchCacheTTLSeconds   int      `yaml:"search_cache_ttl_seconds"`
}

type WorkerConfig struct {
	ExpireSessionsCron     string `yaml:"expire_sessions_cron"`
	CleanupIdempotencyCron string `yaml:"cleanup_idempotency_cron"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (b BookingConfig) SessionTTL() time.Duration {
	return time.Duration(b.SessionTTLMinutes) * time.Minute
}

func (b BookingConfig) HoldWarning() time.Duration {
	return time.Duration(b.HoldWarningMinutes) * time.Minute
}

func (b BookingConfig) DefaultHold() time.Duration {
	return time.Duration(b.DefaultHoldMinutes) * time.Minute
}

func (b BookingConfig) IdempotencyRetention() time.Duration {
	return time.Duration(b.IdempotencyRetentionHrs) * time.Hour
}

func (b BookingConfig) SearchCacheTTL() time.Duration {
	return time.Duration(b.SearchCacheTTLSeconds) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and fills defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"FUSION_CLIENT_ID":     &c.Fusion.ClientID,
		"FUSION_CLIENT_SECRET": &c.Fusion.ClientSecret,
		"DATABASE_PASSWORD":    &c.Database.Password,
		"AUTH_JWT_SECRET":      &c.Auth.JWTSecret,
	}
	for key, dst := range overrides {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.GRPC.Address == "" {
		c.GRPC.Address = ":9090"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	f := &c.Fusion
	if f.RequestTimeoutSec == 0 {
		f.RequestTimeoutSec = 30
	}
	if f.RequestsPerSecond == 0 {
		f.RequestsPerSecond = 10
	}
	if f.TokenBufferSec == 0 {
		f.TokenBufferSec = 60
	}
	if f.Retry.MaxAttempts == 0 {
		f.Retry.MaxAttempts = 3
	}
	if f.Retry.InitialDelayMs == 0 {
		f.Retry.InitialDelayMs = 1000
	}
	if f.Retry.MaxDelayMs == 0 {
		f.Retry.MaxDelayMs = 10000
	}
	if f.Retry.MaxJitterMs == 0 {
		f.Retry.MaxJitterMs = 2000
	}

	b := &c.Booking
	if b.SessionTTLMinutes == 0 {
		b.SessionTTLMinutes = 30
	}
	if b.HoldWarningMinutes == 0 {
		b.HoldWarningMinutes = 5
	}
	if b.DefaultHoldMinutes == 0 {
		b.DefaultHoldMinutes = 15
	}
	if len(b.OfferableTripStatuses) == 0 {
		b.OfferableTripStatuses = []string{"quoted", "accepted"}
	}
	if b.IdempotencyRetentionHrs == 0 {
		b.IdempotencyRetentionHrs = 72
	}
	if b.SearchCacheTTLSeconds == 0 {
		b.SearchCacheTTLSeconds = 300
	}

	if c.Worker.ExpireSessionsCron == "" {
		c.Worker.ExpireSessionsCron = "*/1 * * * *"
	}
	if c.Worker.CleanupIdempotencyCron == "" {
		c.Worker.CleanupIdempotencyCron = "0 3 * * *"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}
