// Package config loads settings from defaults, an optional twin.yaml and
// TWIN_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Forecast    ForecastConfig    `mapstructure:"forecast"`
	Predictions PredictionsConfig `mapstructure:"predictions"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	StaticDir    string `mapstructure:"static_dir"`
	CookieSecure bool   `mapstructure:"cookie_secure"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type ForecastConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerSec int           `mapstructure:"requests_per_sec"`
	MaxRetryTime   time.Duration `mapstructure:"max_retry_time"`
}

type PredictionsConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SnapshotConfig struct {
	Schedule string        `mapstructure:"schedule"`
	IdleTTL  time.Duration `mapstructure:"idle_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_dir", "./static")
	v.SetDefault("server.cookie_secure", false)
	v.SetDefault("database.path", "twin.db")
	v.SetDefault("forecast.base_url", "http://localhost:5000")
	v.SetDefault("forecast.timeout", 30*time.Second)
	v.SetDefault("forecast.requests_per_sec", 5)
	v.SetDefault("forecast.max_retry_time", 10*time.Second)
	v.SetDefault("predictions.base_url", "http://localhost:5001")
	v.SetDefault("predictions.timeout", 15*time.Second)
	v.SetDefault("snapshot.schedule", "@every 5s")
	v.SetDefault("snapshot.idle_ttl", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads configuration. configFile, when set, replaces the twin.yaml
// search.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, relying on actual environment variables")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TWIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("twin")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.twin")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Forecast.BaseURL == "" {
		return errors.New("forecast.base_url is required")
	}
	if c.Forecast.RequestsPerSec <= 0 {
		return fmt.Errorf("invalid forecast.requests_per_sec %d", c.Forecast.RequestsPerSec)
	}
	if c.Snapshot.Schedule == "" {
		return errors.New("snapshot.schedule is required")
	}
	return nil
}
