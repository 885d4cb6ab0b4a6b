// Package config loads the chat CLI's configuration file.
//
// The file is optional. Missing keys keep their defaults, and ${VAR} or
// ${VAR:-default} references in path values are expanded from the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names a conversation storage backend.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendBolt   Backend = "bolt"
)

type Config struct {
	// BaseURL is the site the chat endpoint and script bundles live on.
	BaseURL string `yaml:"base_url"`

	Paths   PathsConfig   `yaml:"paths"`
	Storage StorageConfig `yaml:"storage"`
	Chat    ChatConfig    `yaml:"chat"`
	Token   TokenConfig   `yaml:"token"`

	// HTTPTimeout bounds every outbound request.
	// Default: 60s
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

type PathsConfig struct {
	// Cookies is the cookie file. It is created from a prompt when missing.
	Cookies string `yaml:"cookies"`

	// TokenCache is the file the validated token is persisted to.
	TokenCache string `yaml:"token_cache"`

	// Bolt is the database file used by the bolt backend.
	Bolt string `yaml:"bolt"`
}

type StorageConfig struct {
	// Backend is "memory" or "bolt".
	// Default: memory
	Backend Backend `yaml:"backend"`

	// Async puts the backend behind the asynchronous adapter.
	Async bool `yaml:"async"`
}

type ChatConfig struct {
	// Model is a model id from the catalogue.
	// Default: blackbox
	Model string `yaml:"model"`

	// History sends earlier messages with each turn.
	// Default: true
	History bool `yaml:"history"`

	WebSearch bool `yaml:"web_search"`

	SystemPrompt string `yaml:"system_prompt"`

	MaxQuestionLength int `yaml:"max_question_length"`
}

type TokenConfig struct {
	// TTL is how long a persisted token stays usable.
	// Default: 4h
	TTL time.Duration `yaml:"ttl"`

	// Revalidate re-checks the in-memory token against TTL on every use.
	Revalidate bool `yaml:"revalidate"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		BaseURL: "https://www.blackbox.ai",
		Paths: PathsConfig{
			Cookies:    "${HOME}/.config/blackbox-agent/cookies.json",
			TokenCache: "${HOME}/.config/blackbox-agent/validated_cache.json",
			Bolt:       "${HOME}/.config/blackbox-agent/chats.db",
		},
		Storage: StorageConfig{Backend: BackendMemory},
		Chat: ChatConfig{
			Model:             "blackbox",
			History:           true,
			MaxQuestionLength: 4000,
		},
		Token:       TokenConfig{TTL: 4 * time.Hour},
		HTTPTimeout: 60 * time.Second,
	}
}

// LoadFile reads path over the defaults. An empty path returns the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.Paths.Cookies = expandVars(c.Paths.Cookies)
	c.Paths.TokenCache = expandVars(c.Paths.TokenCache)
	c.Paths.Bolt = expandVars(c.Paths.Bolt)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if c.Paths.Cookies == "" {
		errs = append(errs, errors.New("paths.cookies is required"))
	}
	if c.Paths.TokenCache == "" {
		errs = append(errs, errors.New("paths.token_cache is required"))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Paths.Bolt == "" {
			errs = append(errs, errors.New("paths.bolt is required for the bolt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be one of: %s, %s", BackendMemory, BackendBolt))
	}
	if c.Token.TTL <= 0 {
		errs = append(errs, errors.New("token.ttl must be positive"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http_timeout must be positive"))
	}
	if c.Chat.MaxQuestionLength < 0 {
		errs = append(errs, errors.New("chat.max_question_length must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
