package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nexuscrm/mycrm/internal/infrastructure/ratelimit"
	"github.com/spf13/viper"
)

// Config is the complete runtime configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Profiler    ProfilerConfig    `mapstructure:"profiler"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Log         LogConfig         `mapstructure:"log"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	PublicURL       string        `mapstructure:"public_url"`
}

func (s ServerConfig) IsRelease() bool {
	return s.Mode == "release"
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	TLS             bool          `mapstructure:"tls"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	Issuer     string        `mapstructure:"issuer"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

// RateLimitConfig holds throttle rates as "N/period" strings.
type RateLimitConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Anon    string `mapstructure:"anon"`
	User    string `mapstructure:"user"`
	Auth    string `mapstructure:"auth"`
	Bulk    string `mapstructure:"bulk"`
}

type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

type ProfilerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	NPlusOneThreshold  int           `mapstructure:"nplusone_threshold"`
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type MaintenanceConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	SessionSpec     string        `mapstructure:"session_spec"`
	OutboxSpec      string        `mapstructure:"outbox_spec"`
	AuditSpec       string        `mapstructure:"audit_spec"`
	LimiterSpec     string        `mapstructure:"limiter_spec"`
	OutboxRetention time.Duration `mapstructure:"outbox_retention"`
	AuditRetention  time.Duration `mapstructure:"audit_retention"`
	LimiterIdle     time.Duration `mapstructure:"limiter_idle"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.public_url", "")

	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 4000)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "mycrm")
	v.SetDefault("database.tls", false)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.max_idle_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 3*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "mycrm")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.anon", "100/hour")
	v.SetDefault("ratelimit.user", "1000/hour")
	v.SetDefault("ratelimit.auth", "10/min")
	v.SetDefault("ratelimit.bulk", "30/min")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.default_ttl", 5*time.Minute)

	v.SetDefault("profiler.enabled", true)
	v.SetDefault("profiler.nplusone_threshold", 5)
	v.SetDefault("profiler.slow_query_threshold", 200*time.Millisecond)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "crm.record-events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("outbox.poll_interval", 500*time.Millisecond)
	v.SetDefault("outbox.batch_size", 50)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.session_spec", "0 * * * *")
	v.SetDefault("maintenance.outbox_spec", "15 3 * * *")
	v.SetDefault("maintenance.audit_spec", "30 3 * * *")
	v.SetDefault("maintenance.limiter_spec", "*/10 * * * *")
	v.SetDefault("maintenance.outbox_retention", 7*24*time.Hour)
	v.SetDefault("maintenance.audit_retention", 365*24*time.Hour)
	v.SetDefault("maintenance.limiter_idle", 30*time.Minute)
}

// LoadDotEnv loads the first .env found walking up from the working
// directory, so tests run from package directories pick up the repo's file.
func LoadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// Load reads .env, the given YAML files (or the default locations) and
// CRM_-prefixed environment variables, in increasing priority.
func Load(paths ...string) (*Config, error) {
	LoadDotEnv()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	explicit := len(paths) > 0
	if !explicit {
		paths = []string{"config.yaml", "configs/config.yaml"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if explicit {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// comma separated lists from the environment
	cfg.Server.CORSOrigins = splitList(cfg.Server.CORSOrigins)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		if c.Server.IsRelease() {
			errs = append(errs, errors.New("auth.jwt_secret is required in release mode"))
		} else {
			c.Auth.JWTSecret = "dev-secret-change-me"
		}
	}
	for name, rate := range map[string]string{
		"ratelimit.anon": c.RateLimit.Anon,
		"ratelimit.user": c.RateLimit.User,
		"ratelimit.auth": c.RateLimit.Auth,
		"ratelimit.bulk": c.RateLimit.Bulk,
	} {
		if _, err := ratelimit.ParseRate(rate); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("auth token ttls must be positive"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("outbox.batch_size must be positive"))
	}
	return errors.Join(errs...)
}

// DSN builds the go-sql-driver/mysql data source name.
func (d DatabaseConfig) DSN(tlsName string) string {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC&multiStatements=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
	if tlsName != "" {
		dsn += "&tls=" + tlsName
	}
	return dsn
}
