package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets from the config file.
const (
	EnvHubToken      = "CHIME_HUB_TOKEN"
	EnvDatabaseURL   = "CHIME_DATABASE_URL"
	EnvRedisPassword = "CHIME_REDIS_PASSWORD"
	EnvMQTTPassword  = "CHIME_MQTT_PASSWORD"
	EnvHTTPToken     = "CHIME_HTTP_TOKEN"
)

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment without overriding variables already set. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return err
		}
	}
	return nil
}

// applyEnv fills secrets from the environment. Set variables win over the
// file so secrets can stay out of it.
func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Hub.Token, EnvHubToken)
	set(&cfg.Storage.DSN, EnvDatabaseURL)
	set(&cfg.Storage.Redis.Password, EnvRedisPassword)
	set(&cfg.MQTT.Password, EnvMQTTPassword)
	set(&cfg.HTTP.Token, EnvHTTPToken)
}
