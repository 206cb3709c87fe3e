package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// OAuthClientConfig holds the OAuth2 client registration for a provider.
type OAuthClientConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
}

// YahooConfig holds the IMAP/SMTP endpoints for Yahoo accounts, plus
// the OAuth client registration for accounts not using an app password.
type YahooConfig struct {
	IMAPHost string            `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string            `mapstructure:"imap_port" yaml:"imap_port"`
	SMTPHost string            `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string            `mapstructure:"smtp_port" yaml:"smtp_port"`
	OAuth    OAuthClientConfig `mapstructure:"oauth" yaml:"oauth"`
}

// ProvidersConfig groups the per-provider settings.
type ProvidersConfig struct {
	Gmail   OAuthClientConfig `mapstructure:"gmail" yaml:"gmail"`
	Outlook OAuthClientConfig `mapstructure:"outlook" yaml:"outlook"`
	Yahoo   YahooConfig       `mapstructure:"yahoo" yaml:"yahoo"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`

	// PageSize is the maximum number of messages per list page.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// CallTimeoutSec bounds a single provider call, including the one
	// permitted refresh-and-retry.
	CallTimeoutSec int `mapstructure:"call_timeout_sec" yaml:"call_timeout_sec"`

	// DBPath is the SQLite database location for account metadata.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailhub/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailhub", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	home, _ := os.UserHomeDir()
	return &AppConfig{
		Providers: ProvidersConfig{
			Yahoo: YahooConfig{
				IMAPHost: "imap.mail.yahoo.com",
				IMAPPort: "993",
				SMTPHost: "smtp.mail.yahoo.com",
				SMTPPort: "465",
			},
		},
		PageSize:       20,
		CallTimeoutSec: 30,
		DBPath:         filepath.Join(home, ".config", "mailhub", "mailhub.db"),
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("page_size", 20)
	v.SetDefault("call_timeout_sec", 30)
	v.SetDefault("providers.yahoo.imap_host", "imap.mail.yahoo.com")
	v.SetDefault("providers.yahoo.imap_port", "993")
	v.SetDefault("providers.yahoo.smtp_host", "smtp.mail.yahoo.com")
	v.SetDefault("providers.yahoo.smtp_port", "465")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.PageSize > 50 {
		cfg.PageSize = 50
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 20
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("providers", cfg.Providers)
	v.Set("page_size", cfg.PageSize)
	v.Set("call_timeout_sec", cfg.CallTimeoutSec)
	v.Set("db_path", cfg.DBPath)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
