package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// ClientConfig is what presencectl needs to join a channel.
type ClientConfig struct {
	SignalURL      string        `mapstructure:"signal_url"`
	StoreDSN       string        `mapstructure:"store_dsn"`
	BackendTimeout time.Duration `mapstructure:"backend_timeout"`
	WatchInterval  time.Duration `mapstructure:"watch_interval"`
	EventBuffer    int           `mapstructure:"event_buffer"`
}

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	StaticPath      string        `mapstructure:"static_path"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	Secret          string        `mapstructure:"secret"`
	LogLevel        string        `mapstructure:"log_level"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	TokenWarnBefore time.Duration `mapstructure:"token_warn_before"`
	JoinLimit       int           `mapstructure:"join_limit"`
	JoinWindow      time.Duration `mapstructure:"join_window"`
	// BackpressurePolicy is "kick" or "drop".
	BackpressurePolicy string `mapstructure:"backpressure_policy"`
	// STUNURLs are handed to both server and client peer connections.
	STUNURLs []string `mapstructure:"stun_urls"`

	Client ClientConfig `mapstructure:"client"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName on top of the defaults. A missing file is not an
// error; VOICE_* environment variables override both.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("token_ttl", "1h")
	v.SetDefault("token_warn_before", "1m")
	v.SetDefault("join_limit", 10)
	v.SetDefault("join_window", "1m")
	v.SetDefault("backpressure_policy", "kick")
	v.SetDefault("stun_urls", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("client.signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("client.store_dsn", "presence.db")
	v.SetDefault("client.backend_timeout", "5s")
	v.SetDefault("client.watch_interval", "1s")
	v.SetDefault("client.event_buffer", 64)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}
