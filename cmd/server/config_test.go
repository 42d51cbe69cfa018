package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Port != defaultPort {
		t.Errorf("Port = %q, want %q", cfg.Port, defaultPort)
	}
	if cfg.LLM.Host != "http://localhost:11434" {
		t.Errorf("LLM.Host = %q", cfg.LLM.Host)
	}
	if !slices.Equal(cfg.Models, defaultModels) {
		t.Errorf("Models = %v, want %v", cfg.Models, defaultModels)
	}
	if cfg.DefaultModel != "llama3.1" {
		t.Errorf("DefaultModel = %q, want llama3.1", cfg.DefaultModel)
	}
	if cfg.CodeStyle != "monokai" {
		t.Errorf("CodeStyle = %q, want monokai", cfg.CodeStyle)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("SessionTTL = %v, want 1h", cfg.SessionTTL)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want INFO", cfg.LogLevel)
	}
}

func TestLoadConfigHostFromEnv(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://10.0.0.2:11434")

	cfg, err := loadConfig(writeConfig(t, "port: \"9000\"\n"))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.LLM.Host != "http://10.0.0.2:11434" {
		t.Errorf("LLM.Host = %q, want the OLLAMA_HOST value", cfg.LLM.Host)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %q, want 9000", cfg.Port)
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(t *testing.T, cfg config)
	}{
		{
			name: "Full config",
			content: `
port: "3000"
llm:
  provider: ollama
  host: http://gpu-box:11434
models: [llama3.1, llava, mistral]
defaultModel: llava
codeStyle: dracula
sessionTTL: 30m
logLevel: debug
`,
			check: func(t *testing.T, cfg config) {
				if cfg.LLM.Host != "http://gpu-box:11434" || cfg.LLM.Provider != "ollama" {
					t.Errorf("LLM = %+v", cfg.LLM)
				}
				if cfg.DefaultModel != "llava" || len(cfg.Models) != 3 {
					t.Errorf("models = %v default %q", cfg.Models, cfg.DefaultModel)
				}
				if cfg.CodeStyle != "dracula" {
					t.Errorf("CodeStyle = %q", cfg.CodeStyle)
				}
				if cfg.SessionTTL != 30*time.Minute {
					t.Errorf("SessionTTL = %v", cfg.SessionTTL)
				}
				if cfg.LogLevel != slog.LevelDebug {
					t.Errorf("LogLevel = %v", cfg.LogLevel)
				}
				opts := cfg.sessionOptions()
				if opts.DefaultModel != "llava" || len(opts.Models) != 3 {
					t.Errorf("sessionOptions() = %+v", opts)
				}
			},
		},
		{
			name:    "Unknown provider",
			content: "llm:\n  provider: anthropic\n",
			wantErr: true,
		},
		{
			name:    "Missing provider",
			content: "llm:\n  host: http://localhost:11434\n",
			wantErr: true,
		},
		{
			name:    "Default model not offered",
			content: "models: [llama3.1]\ndefaultModel: llava\n",
			wantErr: true,
		},
		{
			name:    "Unknown code style",
			content: "codeStyle: not-a-style\n",
			wantErr: true,
		},
		{
			name:    "Invalid log level",
			content: "logLevel: loud\n",
			wantErr: true,
		},
		{
			name:    "Malformed yaml",
			content: "port: [\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, tt.content))
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestOllamaConfigLLM(t *testing.T) {
	if _, err := (ollamaConfig{Host: "http://localhost:11434"}).llm(slog.Default()); err != nil {
		t.Errorf("llm() error = %v", err)
	}
	if _, err := (ollamaConfig{Host: "localhost"}).llm(slog.Default()); err == nil {
		t.Error("llm() with a host missing its scheme should fail")
	}
}
