package config

import (
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Error("Server Port should be valid")
	}
	if cfg.Server.Host == "" {
		t.Error("Server Host should not be empty")
	}

	if cfg.Chat.Mode != "normal" {
		t.Errorf("default chat mode should be 'normal', got %q", cfg.Chat.Mode)
	}
	if cfg.Chat.ReactMaxIterations <= 0 {
		t.Error("ReactMaxIterations should be positive")
	}
	if cfg.Chat.ChunkSize <= 0 {
		t.Error("ChunkSize should be positive")
	}

	if cfg.RAG.Limit <= 0 {
		t.Error("RAG Limit should be positive")
	}
	if cfg.RAG.ScoreThreshold < 0 || cfg.RAG.ScoreThreshold > 1 {
		t.Error("RAG ScoreThreshold should be between 0 and 1")
	}
	if cfg.RAG.WeightedAlpha < 0 || cfg.RAG.WeightedAlpha > 1 {
		t.Error("RAG WeightedAlpha should be between 0 and 1")
	}

	if cfg.Memory.MaxContextTokens <= 0 {
		t.Error("Memory MaxContextTokens should be positive")
	}
	if cfg.Memory.MaxWorkingMessages <= 0 {
		t.Error("Memory MaxWorkingMessages should be positive")
	}

	if cfg.ToolServers == nil {
		t.Error("ToolServers should be initialized")
	}
	if cfg.Downstream == nil {
		t.Error("Downstream should be initialized")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestKeepRecent(t *testing.T) {
	m := MemoryConfig{SummarizeThreshold: 10}
	if got := m.KeepRecent(); got != 5 {
		t.Errorf("derived keep_recent should be threshold/2 = 5, got %d", got)
	}

	m.KeepRecentMessages = 3
	if got := m.KeepRecent(); got != 3 {
		t.Errorf("explicit keep_recent should win, got %d", got)
	}
}

func TestEnvString(t *testing.T) {
	target := "original"

	t.Run("sets value when env var exists", func(t *testing.T) {
		t.Setenv("TEST_VAR", "new_value")
		envString("TEST_VAR", &target)
		if target != "new_value" {
			t.Errorf("expected 'new_value', got '%s'", target)
		}
	})

	t.Run("does not change value when env var is empty", func(t *testing.T) {
		t.Setenv("TEST_VAR", "")
		target = "original"
		envString("TEST_VAR", &target)
		if target != "original" {
			t.Errorf("expected 'original', got '%s'", target)
		}
	})
}

func TestEnvInt(t *testing.T) {
	target := 42

	t.Run("sets value when env var is valid int", func(t *testing.T) {
		t.Setenv("TEST_INT", "100")
		envInt("TEST_INT", &target)
		if target != 100 {
			t.Errorf("expected 100, got %d", target)
		}
	})

	t.Run("does not change value when env var is invalid", func(t *testing.T) {
		t.Setenv("TEST_INT", "not_a_number")
		target = 42
		envInt("TEST_INT", &target)
		if target != 42 {
			t.Errorf("expected 42, got %d", target)
		}
	})
}

func TestEnvFloat(t *testing.T) {
	target := 0.5

	t.Run("sets value when env var is valid float", func(t *testing.T) {
		t.Setenv("TEST_FLOAT", "0.8")
		envFloat("TEST_FLOAT", &target)
		if target != 0.8 {
			t.Errorf("expected 0.8, got %f", target)
		}
	})

	t.Run("does not change value when env var is invalid", func(t *testing.T) {
		t.Setenv("TEST_FLOAT", "not_a_float")
		target = 0.5
		envFloat("TEST_FLOAT", &target)
		if target != 0.5 {
			t.Errorf("expected 0.5, got %f", target)
		}
	})
}

func TestEnvStringSlice(t *testing.T) {
	target := []string{"original"}

	t.Run("parses comma-separated values", func(t *testing.T) {
		t.Setenv("TEST_SLICE", "a,b,c")
		envStringSlice("TEST_SLICE", &target)
		if len(target) != 3 || target[0] != "a" || target[1] != "b" || target[2] != "c" {
			t.Errorf("expected [a b c], got %v", target)
		}
	})

	t.Run("filters empty values", func(t *testing.T) {
		t.Setenv("TEST_SLICE", "a,,b,  ,c")
		target = []string{"original"}
		envStringSlice("TEST_SLICE", &target)
		if len(target) != 3 || target[0] != "a" || target[1] != "b" || target[2] != "c" {
			t.Errorf("expected [a b c], got %v", target)
		}
	})
}

func TestValidate_ServerPort(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{"valid port 80", 80, false},
		{"valid port 8080", 8080, false},
		{"valid port 65535", 65535, false},
		{"invalid port 0", 0, true},
		{"invalid port -1", -1, true},
		{"invalid port 65536", 65536, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Server.Port = tt.port
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && err != nil && !strings.Contains(err.Error(), "server port") {
				t.Errorf("error should mention server port, got: %v", err)
			}
		})
	}
}

func TestValidate_ChatMode(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		wantErr bool
	}{
		{"normal mode", "normal", false},
		{"react mode", "react", false},
		{"unknown mode", "agentic", true},
		{"empty mode", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Chat.Mode = tt.mode
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MemoryRequiresDatabaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory.Enabled = true
	cfg.Memory.DatabaseURL = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error when memory is enabled without database_url")
	}
	if !strings.Contains(err.Error(), "database_url") {
		t.Errorf("error should mention database_url, got: %v", err)
	}

	cfg.Memory.DatabaseURL = "postgres://localhost:5432/relay"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid database_url should pass, got: %v", err)
	}
}

func TestValidate_ToolServers(t *testing.T) {
	tests := []struct {
		name    string
		server  ToolServerConfig
		wantErr bool
	}{
		{"valid search server", ToolServerConfig{Name: "kw", URL: "http://localhost:9069", Role: "search"}, false},
		{"valid generic server", ToolServerConfig{Name: "calc", URL: "http://localhost:9070", Role: "generic"}, false},
		{"role defaulted", ToolServerConfig{Name: "kw", URL: "http://localhost:9069"}, false},
		{"missing name", ToolServerConfig{URL: "http://localhost:9069"}, true},
		{"missing url", ToolServerConfig{Name: "kw"}, true},
		{"bad role", ToolServerConfig{Name: "kw", URL: "http://localhost:9069", Role: "primary"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ToolServers = []ToolServerConfig{tt.server}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
