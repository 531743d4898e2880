// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from switchboard.yaml.
type Config struct {
	Server          ServerConfig    `yaml:"server"`
	Database        DatabaseConfig  `yaml:"database"`
	AssistantNumber string          `yaml:"assistant_number"`
	AudioDir        string          `yaml:"audio_dir"`
	Twilio          TwilioConfig    `yaml:"twilio"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Dashboard       DashboardConfig `yaml:"dashboard"`
	Notify          NotifyConfig    `yaml:"notify"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`
	// PublicURL is the externally reachable base URL the provider calls back
	// on, e.g. https://calls.example.com. Used to build the stream URL.
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig holds connection settings for the durable store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file
}

// TwilioConfig holds telephony provider credentials.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	BaseURL    string `yaml:"base_url"`
}

// OpenAIConfig holds transcription and summarization settings.
type OpenAIConfig struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	TranscribeModel string `yaml:"transcribe_model"`
	ChatModel       string `yaml:"chat_model"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// DashboardConfig tunes the push channel to dashboard observers.
type DashboardConfig struct {
	StatsSchedule       string `yaml:"stats_schedule"`
	InitialStatsDelayMs int    `yaml:"initial_stats_delay_ms"`
}

// NotifyConfig enables optional chat notifications.
type NotifyConfig struct {
	Slack   ChatConfig `yaml:"slack"`
	Discord ChatConfig `yaml:"discord"`
}

// ChatConfig identifies a bot and the channel it posts to.
type ChatConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether both token and channel are set.
func (c ChatConfig) Enabled() bool {
	return c.BotToken != "" && c.ChannelID != ""
}

// Load reads a YAML config file from path and returns a validated Config.
// ${VAR} references are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "switchboard"
		}
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "switchboard.db"
		}
	}
	if c.AudioDir == "" {
		c.AudioDir = "storage/audio"
	}
	if c.Twilio.BaseURL == "" {
		c.Twilio.BaseURL = "https://api.twilio.com"
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.TranscribeModel == "" {
		c.OpenAI.TranscribeModel = "whisper-1"
	}
	if c.OpenAI.ChatModel == "" {
		c.OpenAI.ChatModel = "gpt-4"
	}
	if c.OpenAI.TimeoutSeconds == 0 {
		c.OpenAI.TimeoutSeconds = 120
	}
	if c.Dashboard.StatsSchedule == "" {
		c.Dashboard.StatsSchedule = "@every 30s"
	}
	if c.Dashboard.InitialStatsDelayMs == 0 {
		c.Dashboard.InitialStatsDelayMs = 1000
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.PublicURL != "" && !strings.HasPrefix(c.Server.PublicURL, "http://") &&
		!strings.HasPrefix(c.Server.PublicURL, "https://") {
		errs = append(errs, "server.public_url must start with http:// or https://")
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (mysql, sqlite)", c.Database.Driver))
	}
	if c.Twilio.AccountSID == "" {
		errs = append(errs, "twilio.account_sid is required")
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, "twilio.auth_token is required")
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, "openai.api_key is required")
	}
	if c.Dashboard.InitialStatsDelayMs < 0 {
		errs = append(errs, "dashboard.initial_stats_delay_ms must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// StreamURL returns the wss:// URL the provider should stream call audio to.
func (c *Config) StreamURL() string {
	host := strings.TrimPrefix(strings.TrimPrefix(c.Server.PublicURL, "https://"), "http://")
	return "wss://" + host + "/audio-stream"
}
