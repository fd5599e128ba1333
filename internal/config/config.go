// Package config loads service configuration from file and environment.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// Module provides the parsed configuration.
var Module = fx.Module("config",
	fx.Provide(New),
)

// Config is the root service configuration.
type Config struct {
	Environment string     `mapstructure:"environment"`
	HTTP        HTTPConfig `mapstructure:"http"`
	Database    Database   `mapstructure:"database"`
	Redis       Redis      `mapstructure:"redis"`
	Tracing     Tracing    `mapstructure:"tracing"`
	Billing     Billing    `mapstructure:"billing"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// Database configures the persistence layer.
type Database struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// Redis configures the optional task notification stream.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Tracing configures the OpenTelemetry exporter.
type Tracing struct {
	Enabled          bool    `mapstructure:"enabled"`
	ServiceName      string  `mapstructure:"service_name"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	ExporterProtocol string  `mapstructure:"exporter_protocol"`
	SamplingRatio    float64 `mapstructure:"sampling_ratio"`
}

// Billing tunes the reconciliation rules.
type Billing struct {
	PassingThreshold  float64       `mapstructure:"passing_threshold"`
	TimelinessSLADays int           `mapstructure:"timeliness_sla_days"`
	RuleTimeout       time.Duration `mapstructure:"rule_timeout"`
	RateCacheTTL      time.Duration `mapstructure:"rate_cache_ttl"`
}

// New reads configuration from ./config.yaml (optional) with FIELDBILL_
// prefixed environment overrides.
func New() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.SetEnvPrefix("FIELDBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "fieldbill.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "fieldbill")
	v.SetDefault("tracing.exporter_protocol", "grpc")
	v.SetDefault("tracing.sampling_ratio", 1.0)
	v.SetDefault("billing.passing_threshold", 80.0)
	v.SetDefault("billing.timeliness_sla_days", 7)
	v.SetDefault("billing.rule_timeout", 10*time.Second)
	v.SetDefault("billing.rate_cache_ttl", 30*time.Second)
}

// IsProduction reports whether the service runs with production hardening.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}
