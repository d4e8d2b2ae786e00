// Package config loads gateway configuration from an optional YAML file
// with environment variable overrides. Environment values take precedence
// over the file so deployments can tune a shared base config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr        string `yaml:"addr"`
	ServiceName string `yaml:"service_name"`

	Auth struct {
		Mode     string `yaml:"mode"`
		Secret   string `yaml:"secret"`
		Issuer   string `yaml:"issuer"`
		Audience string `yaml:"audience"`
	} `yaml:"auth"`

	CORSOrigins string `yaml:"cors_origins"`

	SQLitePath string `yaml:"sqlite_path"`

	Redis RedisConfig `yaml:"redis"`

	PostgresDSN string `yaml:"postgres_dsn"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
}

// RedisConfig is handed to store.NewRedis when the gateway connects.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func defaults() Config {
	cfg := Config{
		Addr:            ":8080",
		ServiceName:     "aerogate",
		SQLitePath:      "aerogate.db",
		RateLimitWindow: time.Minute,
	}
	cfg.Auth.Mode = "off"
	cfg.Kafka.Topic = "aerogate.traces"
	return cfg
}

// Load reads the YAML file at path when it is non-empty, then applies
// environment overrides. A missing file is an error; an empty path is not.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Addr, "AEROGATE_ADDR")
	setString(&cfg.ServiceName, "AEROGATE_SERVICE_NAME")
	setString(&cfg.Auth.Mode, "AEROGATE_AUTH_MODE")
	setString(&cfg.Auth.Secret, "AEROGATE_AUTH_SECRET")
	setString(&cfg.Auth.Issuer, "AEROGATE_AUTH_ISSUER")
	setString(&cfg.Auth.Audience, "AEROGATE_AUTH_AUDIENCE")
	setString(&cfg.CORSOrigins, "AEROGATE_CORS_ORIGINS")
	setString(&cfg.SQLitePath, "AEROGATE_SQLITE_PATH")
	setString(&cfg.Redis.Addr, "AEROGATE_REDIS_ADDR")
	setString(&cfg.Redis.Password, "AEROGATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AEROGATE_REDIS_DB")
	setString(&cfg.PostgresDSN, "AEROGATE_POSTGRES_DSN")
	setString(&cfg.Kafka.Topic, "AEROGATE_KAFKA_TOPIC")
	if v := strings.TrimSpace(os.Getenv("AEROGATE_KAFKA_BROKERS")); v != "" {
		brokers := []string{}
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				brokers = append(brokers, part)
			}
		}
		cfg.Kafka.Brokers = brokers
	}
	if v := strings.TrimSpace(os.Getenv("AEROGATE_RATE_LIMIT_WINDOW_SEC")); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.RateLimitWindow = time.Duration(sec) * time.Second
		}
	}
}

func validate(cfg Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Auth.Mode)) {
	case "", "off":
	case "static_bearer", "oidc_hs256":
		if strings.TrimSpace(cfg.Auth.Secret) == "" {
			return fmt.Errorf("auth mode %q requires a secret", cfg.Auth.Mode)
		}
	default:
		return fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if cfg.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_window must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}
