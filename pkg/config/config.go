package config

import (
	"fmt"
	"time"
)

// Mode selects between real infrastructure and in-memory doubles.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// Config is the root application configuration. Values are loaded from the
// environment; see Load for the variable naming scheme.
type Config struct {
	Mode      Mode            `koanf:"mode"`
	AppURL    string          `koanf:"app_url"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Engine    EngineConfig    `koanf:"engine"`
	Auth      AuthConfig      `koanf:"auth"`
	Providers ProvidersConfig `koanf:"providers"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	Host            string        `koanf:"host"`
	Port            string        `koanf:"port"`
	User            string        `koanf:"user"`
	Password        string        `koanf:"password"`
	Name            string        `koanf:"name"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	PingTimeout     time.Duration `koanf:"ping_timeout"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Host         string        `koanf:"host"`
	Port         string        `koanf:"port"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	PingTimeout  time.Duration `koanf:"ping_timeout"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// EngineConfig carries dispatch, caching and circuit-breaker tunables.
type EngineConfig struct {
	ResultCacheTTL       time.Duration `koanf:"result_cache_ttl"`
	IntegrationCacheTTL  time.Duration `koanf:"integration_cache_ttl"`
	ErrorCountTTL        time.Duration `koanf:"error_count_ttl"`
	DisableThreshold     int64         `koanf:"disable_threshold"`
	DefaultRetryLimit    int           `koanf:"default_retry_limit"`
	SweepBatchSize       int           `koanf:"sweep_batch_size"`
	SweepInterval        time.Duration `koanf:"sweep_interval"`
	MaxTaskAttempts      int           `koanf:"max_task_attempts"`
	AdapterTimeout       time.Duration `koanf:"adapter_timeout"`
	RenewalInterval      time.Duration `koanf:"renewal_interval"`
	RenewalLeadTime      time.Duration `koanf:"renewal_lead_time"`
	WebhookMaxBody       int64         `koanf:"webhook_max_body"`
	WebhookTimestampSkew time.Duration `koanf:"webhook_timestamp_skew"`
}

type AuthConfig struct {
	CronSecretToken      string `koanf:"cron_secret_token"`
	WebhookRefreshAPIKey string `koanf:"webhook_refresh_api_key"`
}

// ProviderConfig holds per-provider OAuth and webhook credentials. BaseURL and
// TokenURL are overridable so tests can point adapters at local stubs.
type ProviderConfig struct {
	ClientID      string `koanf:"client_id"`
	ClientSecret  string `koanf:"client_secret"`
	SigningSecret string `koanf:"signing_secret"`
	BaseURL       string `koanf:"base_url"`
	TokenURL      string `koanf:"token_url"`
	// PubSubTopic is the Cloud Pub/Sub topic Gmail watch notifications are
	// published to. Only meaningful for the gmail provider.
	PubSubTopic string `koanf:"pubsub_topic"`
}

type ProvidersConfig struct {
	Gmail      ProviderConfig `koanf:"gmail"`
	Notion     ProviderConfig `koanf:"notion"`
	Slack      ProviderConfig `koanf:"slack"`
	Asana      ProviderConfig `koanf:"asana"`
	Trello     ProviderConfig `koanf:"trello"`
	TaskMaster ProviderConfig `koanf:"taskmaster"`
}

// ByTool returns the provider configuration registered under the given tool name.
func (p *ProvidersConfig) ByTool(tool string) (ProviderConfig, bool) {
	switch tool {
	case "gmail":
		return p.Gmail, true
	case "notion":
		return p.Notion, true
	case "slack":
		return p.Slack, true
	case "asana":
		return p.Asana, true
	case "trello":
		return p.Trello, true
	case "taskmaster":
		return p.TaskMaster, true
	default:
		return ProviderConfig{}, false
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Mode == ModeDevelopment
}

// Default returns the configuration baseline before environment overrides.
func Default() *Config {
	return &Config{
		Mode:   ModeDevelopment,
		AppURL: "http://localhost:8080",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           "5432",
			User:           "postgres",
			Name:           "toolbridge",
			SSLMode:        "disable",
			MaxOpenConns:   20,
			ConnectTimeout: 5 * time.Second,
			PingTimeout:    3 * time.Second,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         "6379",
			PoolSize:     10,
			PingTimeout:  10 * time.Second,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Engine: EngineConfig{
			ResultCacheTTL:       300 * time.Second,
			IntegrationCacheTTL:  3600 * time.Second,
			ErrorCountTTL:        3600 * time.Second,
			DisableThreshold:     10,
			DefaultRetryLimit:    2,
			SweepBatchSize:       10,
			SweepInterval:        time.Minute,
			MaxTaskAttempts:      3,
			AdapterTimeout:       30 * time.Second,
			RenewalInterval:      time.Hour,
			RenewalLeadTime:      24 * time.Hour,
			WebhookMaxBody:       1 << 20,
			WebhookTimestampSkew: 300 * time.Second,
		},
	}
}

// Validate rejects configurations that cannot serve requests.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Engine.DisableThreshold <= 0 {
		return fmt.Errorf("config: disable threshold must be positive")
	}
	if c.Engine.SweepBatchSize <= 0 {
		return fmt.Errorf("config: sweep batch size must be positive")
	}
	if !c.IsDevelopment() {
		if c.Database.URL == "" && c.Database.Host == "" {
			return fmt.Errorf("config: database connection is required in production mode")
		}
		if c.Redis.URL == "" && c.Redis.Host == "" {
			return fmt.Errorf("config: redis connection is required in production mode")
		}
		if c.Auth.CronSecretToken == "" {
			return fmt.Errorf("config: auth.cron_secret_token is required in production mode")
		}
		if c.Auth.WebhookRefreshAPIKey == "" {
			return fmt.Errorf("config: auth.webhook_refresh_api_key is required in production mode")
		}
	}
	return nil
}
