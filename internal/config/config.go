package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all configuration for the relay gateway
type Config struct {
	Server      ServerConfig       `json:"server"`
	Chat        ChatConfig         `json:"chat"`
	RAG         RAGConfig          `json:"rag"`
	Memory      MemoryConfig       `json:"memory"`
	ToolServers []ToolServerConfig `json:"tool_servers"`
	Downstream  []SeedServerConfig `json:"downstream_servers"`
	Otel        OtelConfig         `json:"otel"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	CORSOrigins []string `json:"cors_origins"`
}

// ChatConfig selects the orchestrator and its knobs
type ChatConfig struct {
	Mode               string `json:"mode"` // "normal" or "react"
	ReactMaxIterations int    `json:"react_max_iterations"`
	ChunkSize          int    `json:"chunk_size"` // streaming chunk size in runes
}

// RAGConfig holds the retrieval-augmentation configuration
type RAGConfig struct {
	Enabled        bool    `json:"enabled"`
	Policy         string  `json:"policy"` // "system-message" or "last-user-message"
	VectorServer   string  `json:"vector_server,omitempty"`
	KeywordServer  string  `json:"keyword_server,omitempty"`
	ContextWindow  int     `json:"context_window"`
	Limit          int     `json:"limit"`
	ScoreThreshold float64 `json:"score_threshold"`
	WeightedAlpha  float64 `json:"weighted_alpha"`
}

// MemoryConfig holds the conversation memory configuration
type MemoryConfig struct {
	Enabled            bool   `json:"enabled"`
	DatabaseURL        string `json:"database_url"`
	MaxContextTokens   int    `json:"max_context_tokens"`
	MaxWorkingMessages int    `json:"max_working_messages"`
	SummarizeThreshold int    `json:"summarize_threshold"`
	KeepRecentMessages int    `json:"keep_recent_messages,omitempty"`
	AutoSummarize      bool   `json:"auto_summarize"`
	SummaryModel       string `json:"summary_model,omitempty"`
}

// KeepRecent returns the configured floor of messages kept through a
// summarization pass, defaulting to half the summarize threshold.
func (m *MemoryConfig) KeepRecent() int {
	if m.KeepRecentMessages > 0 {
		return m.KeepRecentMessages
	}
	return m.SummarizeThreshold / 2
}

// ToolServerConfig represents a single MCP tool server
type ToolServerConfig struct {
	Name            string `json:"name"`
	URL             string `json:"url"`
	APIKey          string `json:"api_key,omitempty"`
	Role            string `json:"role,omitempty"` // "search" or "generic"; defaulted by name when empty
	FallbackMessage string `json:"fallback_message,omitempty"`
}

// SeedServerConfig is a downstream server registered at startup; the same
// shape the admin register endpoint accepts.
type SeedServerConfig struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	APIKey string   `json:"api_key,omitempty"`
	Kind   []string `json:"kind"`
}

// OtelConfig holds observability configuration
type OtelConfig struct {
	Endpoint    string `json:"endpoint"`
	Environment string `json:"environment"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Chat: ChatConfig{
			Mode:               "normal",
			ReactMaxIterations: 8,
			ChunkSize:          10,
		},
		RAG: RAGConfig{
			Enabled:        false,
			Policy:         "system-message",
			ContextWindow:  1,
			Limit:          10,
			ScoreThreshold: 0.5,
			WeightedAlpha:  0.5,
		},
		Memory: MemoryConfig{
			Enabled:            false,
			DatabaseURL:        "",
			MaxContextTokens:   8192,
			MaxWorkingMessages: 20,
			SummarizeThreshold: 10,
			AutoSummarize:      true,
		},
		ToolServers: []ToolServerConfig{},
		Downstream:  []SeedServerConfig{},
		Otel: OtelConfig{
			Endpoint:    "",
			Environment: "development",
		},
	}
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// envBool loads a boolean environment variable into the target pointer if set and valid
func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// envStringSlice loads a comma-separated environment variable into a string slice
func envStringSlice(key string, target *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			*target = result
		}
	}
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	envString("RELAY_SERVER_HOST", &cfg.Server.Host)
	envInt("RELAY_SERVER_PORT", &cfg.Server.Port)
	envStringSlice("RELAY_CORS_ORIGINS", &cfg.Server.CORSOrigins)

	envString("RELAY_MODE", &cfg.Chat.Mode)
	envInt("RELAY_REACT_MAX_ITERATIONS", &cfg.Chat.ReactMaxIterations)
	envInt("RELAY_CHUNK_SIZE", &cfg.Chat.ChunkSize)

	envBool("RELAY_RAG_ENABLED", &cfg.RAG.Enabled)
	envString("RELAY_RAG_POLICY", &cfg.RAG.Policy)
	envInt("RELAY_RAG_CONTEXT_WINDOW", &cfg.RAG.ContextWindow)
	envFloat("RELAY_RAG_SCORE_THRESHOLD", &cfg.RAG.ScoreThreshold)
	envFloat("RELAY_RAG_WEIGHTED_ALPHA", &cfg.RAG.WeightedAlpha)

	envBool("RELAY_MEMORY_ENABLED", &cfg.Memory.Enabled)
	envString("RELAY_DATABASE_URL", &cfg.Memory.DatabaseURL)
	envInt("RELAY_MAX_CONTEXT_TOKENS", &cfg.Memory.MaxContextTokens)
	envInt("RELAY_MAX_WORKING_MESSAGES", &cfg.Memory.MaxWorkingMessages)

	envString("RELAY_OTLP_ENDPOINT", &cfg.Otel.Endpoint)
	envString("RELAY_ENVIRONMENT", &cfg.Otel.Environment)

	// Tool and downstream servers are primarily configured via the config
	// file, but can be augmented via env as JSON arrays
	if serversJSON := os.Getenv("RELAY_TOOL_SERVERS"); serversJSON != "" {
		var envServers []ToolServerConfig
		if err := json.Unmarshal([]byte(serversJSON), &envServers); err == nil {
			cfg.ToolServers = append(cfg.ToolServers, envServers...)
		}
	}
	if serversJSON := os.Getenv("RELAY_DOWNSTREAM_SERVERS"); serversJSON != "" {
		var envServers []SeedServerConfig
		if err := json.Unmarshal([]byte(serversJSON), &envServers); err == nil {
			cfg.Downstream = append(cfg.Downstream, envServers...)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ListenAddr returns host:port for the HTTP listener
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	if c.Chat.Mode != "normal" && c.Chat.Mode != "react" {
		errs = append(errs, "chat mode must be 'normal' or 'react'")
	}
	if c.Chat.ReactMaxIterations < 1 {
		errs = append(errs, "react_max_iterations must be at least 1")
	}
	if c.Chat.ChunkSize < 1 {
		errs = append(errs, "chunk_size must be at least 1")
	}

	if c.RAG.Policy != "system-message" && c.RAG.Policy != "last-user-message" {
		errs = append(errs, "rag policy must be 'system-message' or 'last-user-message'")
	}
	if c.RAG.ContextWindow < 1 {
		errs = append(errs, "rag context_window must be at least 1")
	}
	if c.RAG.Limit < 1 {
		errs = append(errs, "rag limit must be at least 1")
	}
	if c.RAG.ScoreThreshold < 0 || c.RAG.ScoreThreshold > 1 {
		errs = append(errs, "rag score_threshold must be between 0 and 1")
	}
	if c.RAG.WeightedAlpha < 0 || c.RAG.WeightedAlpha > 1 {
		errs = append(errs, "rag weighted_alpha must be between 0 and 1")
	}

	if c.Memory.Enabled {
		if c.Memory.DatabaseURL == "" {
			errs = append(errs, "memory database_url is required when memory is enabled")
		} else if !isValidURL(c.Memory.DatabaseURL) {
			errs = append(errs, "memory database_url must be a valid URL")
		}
	}
	if c.Memory.MaxContextTokens < 1 {
		errs = append(errs, "memory max_context_tokens must be positive")
	}
	if c.Memory.MaxWorkingMessages < 1 {
		errs = append(errs, "memory max_working_messages must be positive")
	}
	if c.Memory.SummarizeThreshold < 1 {
		errs = append(errs, "memory summarize_threshold must be positive")
	}

	for i, server := range c.ToolServers {
		if server.Name == "" {
			errs = append(errs, fmt.Sprintf("tool server %d: name is required", i))
		}
		if server.URL == "" {
			errs = append(errs, fmt.Sprintf("tool server %s: URL is required", server.Name))
		} else if !isValidURL(server.URL) {
			errs = append(errs, fmt.Sprintf("tool server %s: URL must be a valid URL", server.Name))
		}
		if server.Role != "" && server.Role != "search" && server.Role != "generic" {
			errs = append(errs, fmt.Sprintf("tool server %s: role must be 'search' or 'generic'", server.Name))
		}
	}

	for i, server := range c.Downstream {
		if server.ID == "" {
			errs = append(errs, fmt.Sprintf("downstream server %d: id is required", i))
		}
		if server.URL == "" || !isValidURL(server.URL) {
			errs = append(errs, fmt.Sprintf("downstream server %s: URL must be a valid URL", server.ID))
		}
		if len(server.Kind) == 0 {
			errs = append(errs, fmt.Sprintf("downstream server %s: at least one capability is required", server.ID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getConfigPath returns the path to the config file
func getConfigPath() string {
	if path := os.Getenv("RELAY_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}

	// Check ~/.config/relay/config.json first
	configDir := filepath.Join(homeDir, ".config", "relay")
	configPath := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	// Check ~/.relay/config.json
	altPath := filepath.Join(homeDir, ".relay", "config.json")
	if _, err := os.Stat(altPath); err == nil {
		return altPath
	}

	return configPath
}
