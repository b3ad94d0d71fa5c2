// Package config builds runtime settings from command line flags
// with environment overrides (PROJHUB_ prefix, dashes become underscores).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PROJHUB"

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

type Config struct {
	APIListenAddr  string
	WSListenAddr   string
	LogLevel       string
	AllowedOrigins []string
	WireBuffer     int
	Database       DatabaseConfig
	JWT            JWTConfig
}

type DatabaseConfig struct {
	Path string
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)
	fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
	fs.StringP("ws-listen-addr", "w", ":8888", "websocket signaling listen address")
	fs.StringP("log-level", "l", "debug", "log level")
	fs.String("allowed-origins", "", "comma separated list of CORS origins, empty allows any")
	fs.Int("wire-buffer", 64, "outbound event queue size per connection")
	fs.String("db-path", "projhub.db", "sqlite database path")
	fs.String("jwt-secret", "", "secret used to verify auth tokens")
	fs.String("jwt-issuer", "", "expected token issuer, empty skips the check")
	fs.Duration("jwt-expiration", 24*time.Hour, "lifetime of issued tokens")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		APIListenAddr:  v.GetString("api-listen-addr"),
		WSListenAddr:   v.GetString("ws-listen-addr"),
		LogLevel:       v.GetString("log-level"),
		AllowedOrigins: splitCSV(v.GetString("allowed-origins")),
		WireBuffer:     v.GetInt("wire-buffer"),
		Database: DatabaseConfig{
			Path: v.GetString("db-path"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt-secret"),
			Issuer:     v.GetString("jwt-issuer"),
			Expiration: v.GetDuration("jwt-expiration"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt secret is required")
	}
	if c.WireBuffer <= 0 {
		return fmt.Errorf("wire buffer must be positive, got %d", c.WireBuffer)
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
