// Package config loads service configuration from an optional YAML file with
// environment variable overrides. Environment always wins.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`
	Migrate     bool   `yaml:"migrate"`

	Auth struct {
		Mode   string `yaml:"mode"` // dev, hmac, jwks
		Secret string `yaml:"secret"`
		JWKS   string `yaml:"jwksUrl"`
		Issuer string `yaml:"issuer"`
	} `yaml:"auth"`

	Geo struct {
		SpeedKph  float64 `yaml:"speedKph"`
		RateRPS   float64 `yaml:"rateRps"`
		RateBurst int     `yaml:"rateBurst"`
	} `yaml:"geo"`

	Webhooks struct {
		MaxAttempts int `yaml:"maxAttempts"`
	} `yaml:"webhooks"`
}

func Default() Config {
	var c Config
	c.Port = "8080"
	c.Migrate = true
	c.Auth.Mode = "dev"
	c.Geo.SpeedKph = 30
	c.Webhooks.MaxAttempts = 10
	return c
}

// Load reads path (if non-empty and present) over defaults, then applies env
// overrides.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, &c); err != nil {
				return Config{}, err
			}
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	setStr(&c.Port, "PORT")
	setStr(&c.DatabaseURL, "DATABASE_URL")
	setStr(&c.RedisURL, "REDIS_URL")
	if v := os.Getenv("DB_MIGRATE"); v != "" {
		c.Migrate = v != "false"
	}
	setStr(&c.Auth.Mode, "AUTH_MODE")
	setStr(&c.Auth.Secret, "AUTH_HMAC_SECRET")
	setStr(&c.Auth.JWKS, "AUTH_JWKS_URL")
	setStr(&c.Auth.Issuer, "AUTH_ISSUER")
	setFloat(&c.Geo.SpeedKph, "GEO_SPEED_KPH")
	setFloat(&c.Geo.RateRPS, "GEO_RATE_RPS")
	setInt(&c.Geo.RateBurst, "GEO_RATE_BURST")
	setInt(&c.Webhooks.MaxAttempts, "WEBHOOK_MAX_ATTEMPTS")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
