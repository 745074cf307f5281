package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "STUDIO"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "studio.db"
	defaultLogLevel     = "info"
	defaultTokenTTL     = 30
)

// AppConfig captures runtime configuration for the overlay API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	StudioKey     string
	TokenTTL      time.Duration
}

// AuthEnabled reports whether the mutating endpoints require a session token.
func (c AppConfig) AuthEnabled() bool {
	return strings.TrimSpace(c.SigningSecret) != "" && strings.TrimSpace(c.StudioKey) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		StudioKey:     configViper.GetString("auth.studio_key"),
		TokenTTL:      time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" && strings.TrimSpace(c.StudioKey) != "" {
		return fmt.Errorf("auth.signing_secret is required when auth.studio_key is set")
	}
	if strings.TrimSpace(c.SigningSecret) != "" && strings.TrimSpace(c.StudioKey) == "" {
		return fmt.Errorf("auth.studio_key is required when auth.signing_secret is set")
	}
	return nil
}
