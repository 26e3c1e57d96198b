package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the root configuration, loaded once at startup and passed by
// reference into constructors.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Driver      DriverConfig      `mapstructure:"driver"`
	Auth        AuthConfig        `mapstructure:"auth"`
	GC          GCConfig          `mapstructure:"gc"`
	Readiness   ReadinessConfig   `mapstructure:"readiness"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Log         LogConfig         `mapstructure:"log"`

	// ProfilesFile points at the YAML profile manifest. Empty = built-in
	// defaults only.
	ProfilesFile string `mapstructure:"profiles_file"`

	// Instance labels every backend resource this process creates, so the
	// orphan-container reaper only touches its own containers.
	Instance string `mapstructure:"instance" validate:"required"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the relational backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type" validate:"oneof=sqlite postgres"`
	// Path is the SQLite file path (":memory:" for tests).
	Path string `mapstructure:"path"`
	// URL is the PostgreSQL DSN.
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DriverConfig selects and configures the container backend.
type DriverConfig struct {
	Type   string       `mapstructure:"type" validate:"oneof=docker kube"`
	Docker DockerConfig `mapstructure:"docker"`
	Kube   KubeConfig   `mapstructure:"kube"`
}

// DockerConfig configures the single-host docker backend.
type DockerConfig struct {
	Socket  string `mapstructure:"socket"`
	Network string `mapstructure:"network"`
}

// KubeConfig configures the cluster scheduler backend.
type KubeConfig struct {
	Namespace    string `mapstructure:"namespace"`
	Kubeconfig   string `mapstructure:"kubeconfig"`
	StorageClass string `mapstructure:"storage_class"`
}

// AuthConfig configures bearer-token authentication.
type AuthConfig struct {
	// Tokens maps bearer token -> owner identity.
	Tokens map[string]string `mapstructure:"tokens"`
	// AllowAnonymous enables the development mode where the owner is taken
	// from the X-Bay-Owner header when no token is presented.
	AllowAnonymous bool `mapstructure:"allow_anonymous"`
}

// GCConfig holds the periodic schedules for garbage collection tasks.
type GCConfig struct {
	IdleSessionInterval     time.Duration `mapstructure:"idle_session_interval"`
	ExpiredSandboxInterval  time.Duration `mapstructure:"expired_sandbox_interval"`
	OrphanCargoInterval     time.Duration `mapstructure:"orphan_cargo_interval"`
	OrphanContainerInterval time.Duration `mapstructure:"orphan_container_interval"`
	LeaseTTL                time.Duration `mapstructure:"lease_ttl"`
}

// ReadinessConfig bounds the session readiness polling loop.
type ReadinessConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Deadline       time.Duration `mapstructure:"deadline"`
}

// IdempotencyConfig bounds idempotency record retention.
type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig bounds per-owner request rates.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Load reads configuration from bay.yaml (searched in the working directory
// and /etc/bay) with BAY_* environment overrides, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bay")
	}

	v.SetEnvPrefix("BAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; env + defaults still apply.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "bay.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("driver.type", "docker")
	v.SetDefault("driver.docker.socket", "unix:///var/run/docker.sock")
	v.SetDefault("driver.docker.network", "bay-network")
	v.SetDefault("driver.kube.namespace", "bay")

	v.SetDefault("auth.allow_anonymous", false)

	v.SetDefault("gc.idle_session_interval", time.Minute)
	v.SetDefault("gc.expired_sandbox_interval", time.Minute)
	v.SetDefault("gc.orphan_cargo_interval", 10*time.Minute)
	v.SetDefault("gc.orphan_container_interval", 10*time.Minute)
	v.SetDefault("gc.lease_ttl", 5*time.Minute)

	v.SetDefault("readiness.initial_backoff", 250*time.Millisecond)
	v.SetDefault("readiness.max_backoff", 5*time.Second)
	v.SetDefault("readiness.deadline", 120*time.Second)

	v.SetDefault("idempotency.ttl", 24*time.Hour)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 20.0)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("instance", "bay-default")
}
