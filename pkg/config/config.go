package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Typewriter TypewriterConfig `mapstructure:"typewriter"`
	Session    SessionConfig    `mapstructure:"session"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	DevServer  DevServerConfig  `mapstructure:"devserver"`
}

// ServerConfig describes the prediction backend the client talks to
type ServerConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	ChatflowID string        `mapstructure:"chatflow_id"`
	APIKey     string        `mapstructure:"api_key"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	Timeout    time.Duration `mapstructure:"-"`
	TimeoutStr string        `mapstructure:"timeout"` // For parsing string duration
}

// StreamConfig controls how prediction streams are opened
type StreamConfig struct {
	ConnectRetries  int           `mapstructure:"connect_retries"`
	RetryInitial    time.Duration `mapstructure:"-"`
	RetryInitialStr string        `mapstructure:"retry_initial"`
	RetryMax        time.Duration `mapstructure:"-"`
	RetryMaxStr     string        `mapstructure:"retry_max"`
}

// TypewriterConfig holds the incremental text renderer settings
type TypewriterConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	ChunkSize           int           `mapstructure:"chunk_size"`
	InstantComplete     bool          `mapstructure:"instant_complete"`
	MinDelay            time.Duration `mapstructure:"-"`
	MinDelayStr         string        `mapstructure:"min_delay"`
	MaxDelay            time.Duration `mapstructure:"-"`
	MaxDelayStr         string        `mapstructure:"max_delay"`
	PunctuationDelay    time.Duration `mapstructure:"-"`
	PunctuationDelayStr string        `mapstructure:"punctuation_delay"`
	WhitespaceDelay     time.Duration `mapstructure:"-"`
	WhitespaceDelayStr  string        `mapstructure:"whitespace_delay"`
	InitialDelay        time.Duration `mapstructure:"-"`
	InitialDelayStr     string        `mapstructure:"initial_delay"`
}

// SessionConfig holds per-conversation settings
type SessionConfig struct {
	ID       string `mapstructure:"id"`
	Greeting string `mapstructure:"greeting"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level"`
}

// DevServerConfig holds the local prediction backend configuration
type DevServerConfig struct {
	Addr             string        `mapstructure:"addr"`
	Database         string        `mapstructure:"database"`
	DocumentsDir     string        `mapstructure:"documents_dir"`
	Provider         string        `mapstructure:"provider"` // ollama or echo
	Model            string        `mapstructure:"model"`
	OllamaURL        string        `mapstructure:"ollama_url"`
	APIKey           string        `mapstructure:"api_key"`
	TopK             int           `mapstructure:"top_k"`
	TokenInterval    time.Duration `mapstructure:"-"`
	TokenIntervalStr string        `mapstructure:"token_interval"`
}

var cfg *Config

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}

		viper.AddConfigPath("./.flowchat")
		viper.AddConfigPath(filepath.Join(xdgConfigHome, "flowchat"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.SetEnvPrefix("FLOWCHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindEnvironmentVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing settings file is fine, a broken one is not
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			if _, statErr := os.Stat(cfgFile); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := processDurations(loaded); err != nil {
		return nil, fmt.Errorf("failed to process durations: %w", err)
	}

	cfg = loaded
	return cfg, nil
}

// setDefaults sets all default configuration values
func setDefaults() {
	viper.SetDefault("server.base_url", "http://localhost:3000")
	viper.SetDefault("server.chatflow_id", "")
	viper.SetDefault("server.api_key", "")
	viper.SetDefault("server.username", "")
	viper.SetDefault("server.password", "")
	viper.SetDefault("server.timeout", "0s")

	viper.SetDefault("stream.connect_retries", 2)
	viper.SetDefault("stream.retry_initial", "250ms")
	viper.SetDefault("stream.retry_max", "2s")

	viper.SetDefault("typewriter.enabled", true)
	viper.SetDefault("typewriter.chunk_size", 1)
	viper.SetDefault("typewriter.instant_complete", false)
	viper.SetDefault("typewriter.min_delay", "10ms")
	viper.SetDefault("typewriter.max_delay", "30ms")
	viper.SetDefault("typewriter.punctuation_delay", "120ms")
	viper.SetDefault("typewriter.whitespace_delay", "40ms")
	viper.SetDefault("typewriter.initial_delay", "100ms")

	viper.SetDefault("session.id", "")
	viper.SetDefault("session.greeting", "Hi there! How can I help?")

	viper.SetDefault("logging.log_file", "./.flowchat/system.log")
	viper.SetDefault("logging.preserve", false)
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("devserver.addr", "127.0.0.1:3000")
	viper.SetDefault("devserver.database", "./.flowchat/devserver.db")
	viper.SetDefault("devserver.documents_dir", "")
	viper.SetDefault("devserver.provider", "echo")
	viper.SetDefault("devserver.model", "qwen3:latest")
	viper.SetDefault("devserver.ollama_url", "http://localhost:11434")
	viper.SetDefault("devserver.api_key", "")
	viper.SetDefault("devserver.top_k", 3)
	viper.SetDefault("devserver.token_interval", "20ms")
}

// bindEnvironmentVariables binds the documented environment variables to viper keys
func bindEnvironmentVariables() {
	viper.BindEnv("server.base_url", "FLOWCHAT_BASE_URL")
	viper.BindEnv("server.chatflow_id", "FLOWCHAT_CHATFLOW_ID")
	viper.BindEnv("server.api_key", "FLOWCHAT_API_KEY")
	viper.BindEnv("server.username", "FLOWCHAT_USERNAME")
	viper.BindEnv("server.password", "FLOWCHAT_PASSWORD")
	viper.BindEnv("logging.level", "FLOWCHAT_LOG_LEVEL")
	viper.BindEnv("logging.log_file", "FLOWCHAT_LOG_FILE")
	viper.BindEnv("devserver.ollama_url", "OLLAMA_HOST")
}

// processDurations converts string durations to time.Duration
func processDurations(c *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
		def  time.Duration
	}{
		{"server.timeout", c.Server.TimeoutStr, &c.Server.Timeout, 0},
		{"stream.retry_initial", c.Stream.RetryInitialStr, &c.Stream.RetryInitial, 250 * time.Millisecond},
		{"stream.retry_max", c.Stream.RetryMaxStr, &c.Stream.RetryMax, 2 * time.Second},
		{"typewriter.min_delay", c.Typewriter.MinDelayStr, &c.Typewriter.MinDelay, 10 * time.Millisecond},
		{"typewriter.max_delay", c.Typewriter.MaxDelayStr, &c.Typewriter.MaxDelay, 30 * time.Millisecond},
		{"typewriter.punctuation_delay", c.Typewriter.PunctuationDelayStr, &c.Typewriter.PunctuationDelay, 120 * time.Millisecond},
		{"typewriter.whitespace_delay", c.Typewriter.WhitespaceDelayStr, &c.Typewriter.WhitespaceDelay, 40 * time.Millisecond},
		{"typewriter.initial_delay", c.Typewriter.InitialDelayStr, &c.Typewriter.InitialDelay, 100 * time.Millisecond},
		{"devserver.token_interval", c.DevServer.TokenIntervalStr, &c.DevServer.TokenInterval, 20 * time.Millisecond},
	}

	for _, f := range fields {
		if f.raw == "" {
			*f.dst = f.def
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.name, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: negative duration %s", f.name, f.raw)
		}
		*f.dst = d
	}

	if c.Typewriter.MaxDelay < c.Typewriter.MinDelay {
		c.Typewriter.MaxDelay = c.Typewriter.MinDelay
	}

	return nil
}

// GetConfigFileUsed returns the path to the config file being used
func GetConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// UsesBasicAuth reports whether username/password credentials are configured
func (s ServerConfig) UsesBasicAuth() bool {
	return s.Username != "" && s.Password != ""
}
