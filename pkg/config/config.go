// Package config provides configuration loading for the Behemoth control plane.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	// SiteURL is the control-plane base URL the agent calls back to.
	SiteURL     string `mapstructure:"site_url"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// StorageConfig selects and configures the persistence backends.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
	// CommandBackend is "bolt" or "redis".
	CommandBackend string      `mapstructure:"command_backend"`
	Redis          RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the search-index command store configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AgentConfig controls the remote agent driver.
type AgentConfig struct {
	SSHTimeout    time.Duration `mapstructure:"ssh_timeout"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	EncryptBundle bool          `mapstructure:"encrypt_bundle"`
	// BinaryDir is where the per-platform agent binaries live locally.
	BinaryDir string `mapstructure:"binary_dir"`
	// OrphanHorizon is how long an execution may stay `executing` without
	// progress before the reconciler marks it failed.
	OrphanHorizon time.Duration `mapstructure:"orphan_horizon"`
}

// SyncConfig controls the sync-plan participant quorum.
type SyncConfig struct {
	RequiredParticipants int           `mapstructure:"required_participants"`
	WaitParticipantIdle  time.Duration `mapstructure:"wait_participant_idle"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	JSONOutput bool   `mapstructure:"json_output"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/behemoth")

	v.SetEnvPrefix("BEHEMOTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", "0.0.0.0:8080")
	v.SetDefault("server.site_url", "http://localhost:8080")
	v.SetDefault("server.metrics_addr", "0.0.0.0:9100")

	v.SetDefault("storage.data_dir", "/var/lib/behemoth")
	v.SetDefault("storage.command_backend", "bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)

	v.SetDefault("agent.ssh_timeout", "15s")
	v.SetDefault("agent.token_ttl", "1h")
	v.SetDefault("agent.encrypt_bundle", true)
	v.SetDefault("agent.binary_dir", "/var/lib/behemoth/bin")
	v.SetDefault("agent.orphan_horizon", "24h")

	v.SetDefault("sync.required_participants", 2)
	v.SetDefault("sync.wait_participant_idle", "1h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json_output", false)
}
