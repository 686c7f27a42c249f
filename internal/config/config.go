package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API    APIConfig    `mapstructure:"api"`
	Socket SocketConfig `mapstructure:"socket"`
	Bid    BidConfig    `mapstructure:"bid"`
	Store  StoreConfig  `mapstructure:"store"`
}

type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type SocketConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	KeepaliveInterval    time.Duration `mapstructure:"keepalive_interval"`
	BackoffInitial       time.Duration `mapstructure:"backoff_initial"`
	BackoffMax           time.Duration `mapstructure:"backoff_max"`
	BackoffFactor        float64       `mapstructure:"backoff_factor"`
	JitterBand           float64       `mapstructure:"jitter_band"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	QueueMaxAge          time.Duration `mapstructure:"queue_max_age"`
}

type BidConfig struct {
	PlaceTimeout time.Duration `mapstructure:"place_timeout"`
	ChatTimeout  time.Duration `mapstructure:"chat_timeout"`
}

type StoreConfig struct {
	DetailTTL   time.Duration `mapstructure:"detail_ttl"`
	RefreshSpec string        `mapstructure:"refresh_spec"`
}

func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("api.base_url", "https://api.auction.local")
	viper.SetDefault("api.request_timeout", 10*time.Second)
	viper.SetDefault("socket.base_url", "wss://api.auction.local")
	viper.SetDefault("socket.handshake_timeout", 10*time.Second)
	viper.SetDefault("socket.write_timeout", 10*time.Second)
	viper.SetDefault("socket.keepalive_interval", 30*time.Second)
	viper.SetDefault("socket.backoff_initial", 3*time.Second)
	viper.SetDefault("socket.backoff_max", 30*time.Second)
	viper.SetDefault("socket.backoff_factor", 1.5)
	viper.SetDefault("socket.jitter_band", 0.15)
	viper.SetDefault("socket.max_reconnect_attempts", 10)
	viper.SetDefault("socket.queue_max_age", time.Minute)
	viper.SetDefault("bid.place_timeout", 10*time.Second)
	viper.SetDefault("bid.chat_timeout", 5*time.Second)
	viper.SetDefault("store.detail_ttl", 5*time.Minute)
	viper.SetDefault("store.refresh_spec", "@every 1m")

	// Configuration file settings
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/auction-client/")

	// Environment variable support
	viper.AutomaticEnv()

	// Environment variable mappings
	viper.BindEnv("api.base_url", "AUCTION_API_URL")
	viper.BindEnv("api.request_timeout", "AUCTION_API_TIMEOUT")
	viper.BindEnv("socket.base_url", "AUCTION_WS_URL")
	viper.BindEnv("socket.keepalive_interval", "AUCTION_WS_KEEPALIVE")
	viper.BindEnv("socket.max_reconnect_attempts", "AUCTION_WS_MAX_RECONNECTS")
	viper.BindEnv("bid.place_timeout", "AUCTION_BID_TIMEOUT")
	viper.BindEnv("store.detail_ttl", "AUCTION_DETAIL_TTL")
	viper.BindEnv("store.refresh_spec", "AUCTION_REFRESH_SPEC")

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, continue with defaults and environment variables
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"API: %s, WS: %s, keepalive: %s, max reconnects: %d",
		c.API.BaseURL,
		c.Socket.BaseURL,
		c.Socket.KeepaliveInterval,
		c.Socket.MaxReconnectAttempts,
	)
}
