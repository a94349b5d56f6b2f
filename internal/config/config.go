// ABOUTME: Configuration loading and parsing for burrow-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete burrow-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Agent    AgentConfig    `yaml:"agent"`
	LLM      LLMConfig      `yaml:"llm"`
	Telegram TelegramConfig `yaml:"telegram"`
	GitHub   GitHubConfig   `yaml:"github"`
	Triggers []TriggerRule  `yaml:"triggers"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
// APIKey guards server-to-server routes; SessionSecret signs web chat
// session cookies; PasswordHash is the bcrypt hash checked at login.
type AuthConfig struct {
	APIKey        string `yaml:"api_key"`
	SessionSecret string `yaml:"session_secret"`
	Username      string `yaml:"username"`
	PasswordHash  string `yaml:"password_hash"`
}

// AgentConfig holds agent runtime connection configuration
type AgentConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	TitleModel string `yaml:"title_model"`

	Timeout time.Duration `yaml:"-"`
	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// LLMConfig holds the completions API used for titles and job summaries.
// This is a plain OpenAI-compatible endpoint, separate from the agent
// runtime; which models to use is set under agent.
type LLMConfig struct {
	APIBase string `yaml:"api_base"`
	APIKey  string `yaml:"api_key"`
}

// TelegramConfig holds Telegram integration configuration.
// BotToken is the initial token; it can be replaced at runtime via the
// register endpoint. ChatID is the chat that receives job notifications.
type TelegramConfig struct {
	BotToken      string `yaml:"bot_token"`
	WebhookSecret string `yaml:"webhook_secret"`
	ChatID        string `yaml:"chat_id"`
}

// GitHubConfig holds GitHub webhook and job dispatch configuration
type GitHubConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
	Repo          string `yaml:"repo"` // "owner/name"
	Token         string `yaml:"token"`
	Workflow      string `yaml:"workflow"`
}

// TriggerRule declares a side-effect webhook fired on matching ingress events
type TriggerRule struct {
	Name       string `yaml:"name"`
	PathPrefix string `yaml:"path_prefix"`
	ForwardURL string `yaml:"forward_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("auth.session_secret is required")
	}
	if c.Agent.BaseURL == "" {
		return fmt.Errorf("agent.base_url is required")
	}
	for i, tr := range c.Triggers {
		if tr.ForwardURL == "" {
			return fmt.Errorf("triggers[%d].forward_url is required", i)
		}
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Agent.TimeoutRaw != "" {
		var err error
		cfg.Agent.Timeout, err = time.ParseDuration(cfg.Agent.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing agent timeout %q: %w", cfg.Agent.TimeoutRaw, err)
		}
	}
	if cfg.Agent.Timeout == 0 {
		cfg.Agent.Timeout = 5 * time.Minute
	}
	return nil
}
