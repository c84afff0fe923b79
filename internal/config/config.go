// Package config handles bot configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/matrix-openai-bot/config.yaml,
// /etc/matrix-openai-bot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "matrix-openai-bot", "config.yaml"))
	}

	paths = append(paths, "/etc/matrix-openai-bot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all bot configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Homeserver HomeserverConfig `yaml:"homeserver"`
	Appservice AppserviceConfig `yaml:"appservice"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	LogLevel   string           `yaml:"log_level"`
	// LogFormat selects "text" (default) or "json" log output.
	LogFormat string `yaml:"log_format"`
}

// ListenConfig defines the appservice HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// HomeserverConfig defines the Matrix homeserver connection settings.
type HomeserverConfig struct {
	// URL is the client-server API base, e.g. https://matrix.example.org.
	URL string `yaml:"url"`
	// Domain is the server name used in user IDs, e.g. example.org.
	Domain string `yaml:"domain"`
}

// AppserviceConfig defines the application-service registration settings.
type AppserviceConfig struct {
	// ID uniquely identifies this appservice to the homeserver.
	ID string `yaml:"id"`
	// URL is where the homeserver reaches the appservice,
	// e.g. http://localhost:9993.
	URL string `yaml:"url"`
	// ASToken authenticates the appservice to the homeserver.
	ASToken string `yaml:"as_token"`
	// HSToken authenticates the homeserver to the appservice.
	HSToken string `yaml:"hs_token"`
	// SenderLocalpart is the localpart of the bot user, e.g. "openai".
	SenderLocalpart string `yaml:"sender_localpart"`
}

// OpenAIConfig defines the chat-completion backend settings.
type OpenAIConfig struct {
	// Endpoint is the full chat completions URL,
	// e.g. https://api.openai.com/v1/chat/completions.
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// BotUserID returns the full Matrix user ID of the bot user.
func (c *Config) BotUserID() string {
	return fmt.Sprintf("@%s:%s", c.Appservice.SenderLocalpart, c.Homeserver.Domain)
}

// Validate reports the first missing required field, if any.
func (c *Config) Validate() error {
	switch {
	case c.Homeserver.URL == "":
		return fmt.Errorf("homeserver.url is required")
	case c.Homeserver.Domain == "":
		return fmt.Errorf("homeserver.domain is required")
	case c.Appservice.ASToken == "":
		return fmt.Errorf("appservice.as_token is required")
	case c.Appservice.HSToken == "":
		return fmt.Errorf("appservice.hs_token is required")
	case c.Appservice.SenderLocalpart == "":
		return fmt.Errorf("appservice.sender_localpart is required")
	case c.OpenAI.Endpoint == "":
		return fmt.Errorf("openai.endpoint is required")
	case c.OpenAI.Model == "":
		return fmt.Errorf("openai.model is required")
	}
	return nil
}

// Registration is the appservice registration document the homeserver
// consumes. Generated by the "register" subcommand.
type Registration struct {
	ID              string                `yaml:"id"`
	URL             string                `yaml:"url"`
	ASToken         string                `yaml:"as_token"`
	HSToken         string                `yaml:"hs_token"`
	SenderLocalpart string                `yaml:"sender_localpart"`
	RateLimited     bool                  `yaml:"rate_limited"`
	Namespaces      RegistrationNamespace `yaml:"namespaces"`
}

// RegistrationNamespace declares which users the appservice claims.
type RegistrationNamespace struct {
	Users []NamespaceEntry `yaml:"users"`
}

// NamespaceEntry is a single namespace pattern.
type NamespaceEntry struct {
	Exclusive bool   `yaml:"exclusive"`
	Regex     string `yaml:"regex"`
}

// BuildRegistration derives the registration document from the loaded
// configuration.
func (c *Config) BuildRegistration() Registration {
	return Registration{
		ID:              c.Appservice.ID,
		URL:             c.Appservice.URL,
		ASToken:         c.Appservice.ASToken,
		HSToken:         c.Appservice.HSToken,
		SenderLocalpart: c.Appservice.SenderLocalpart,
		RateLimited:     false,
		Namespaces: RegistrationNamespace{
			Users: []NamespaceEntry{
				{
					Exclusive: true,
					Regex:     fmt.Sprintf(`@%s:%s`, c.Appservice.SenderLocalpart, strings.ReplaceAll(c.Homeserver.Domain, ".", `\.`)),
				},
			},
		},
	}
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 9993},
		Appservice: AppserviceConfig{
			ID:              "matrix-openai-bot",
			SenderLocalpart: "openai",
		},
		OpenAI: OpenAIConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
		},
	}
}
