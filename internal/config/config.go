// Package config centralises configuration loading for the client and the
// hub server.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures runtime settings. Values come from an optional YAML file
// with environment variable overrides (ASCENDR_ prefix).
type Config struct {
	// HubAddress is the listen address of the hub server or the endpoint the
	// client dials, e.g. ":8090" / "ws://localhost:8090/sync".
	HubAddress string

	// MetricsAddress serves /metrics on the hub.
	MetricsAddress string

	// MessageDebounce gates conversation refreshes under write storms.
	MessageDebounce time.Duration

	// JWTSecret and JWTIssuer verify identity tokens.
	JWTSecret string
	JWTIssuer string
}

// Load reads configuration from config/<name>.yaml when present, applying
// defaults and environment overrides.
func Load(name string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ascendr")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("hub.address", ":8090")
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("messaging.debounce", "500ms")
	v.SetDefault("jwt.secret", "dev-secret-change-me")
	v.SetDefault("jwt.issuer", "ascendr.identity")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return &Config{
		HubAddress:      v.GetString("hub.address"),
		MetricsAddress:  v.GetString("metrics.address"),
		MessageDebounce: v.GetDuration("messaging.debounce"),
		JWTSecret:       v.GetString("jwt.secret"),
		JWTIssuer:       v.GetString("jwt.issuer"),
	}, nil
}
