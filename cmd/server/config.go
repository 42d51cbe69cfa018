package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/MegaGrindStone/llama-chat/internal/models"
	"github.com/MegaGrindStone/llama-chat/internal/services"
	"github.com/MegaGrindStone/llama-chat/internal/session"
	"github.com/alecthomas/chroma/styles"
	"gopkg.in/yaml.v3"
)

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
}

type config struct {
	Port         string        `yaml:"port"`
	LLM          ollamaConfig  `yaml:"llm"`
	Models       []string      `yaml:"models"`
	DefaultModel string        `yaml:"defaultModel"`
	CodeStyle    string        `yaml:"codeStyle"`
	SessionTTL   time.Duration `yaml:"sessionTTL"`
	LogLevel     slog.Level    `yaml:"logLevel"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

var defaultModels = []string{"llama3.1", "llava"}

const (
	defaultPort       = "8080"
	defaultSessionTTL = time.Hour
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string         `yaml:"port"`
		LLM          map[string]any `yaml:"llm"`
		Models       []string       `yaml:"models"`
		DefaultModel string         `yaml:"defaultModel"`
		CodeStyle    string         `yaml:"codeStyle"`
		SessionTTL   time.Duration  `yaml:"sessionTTL"`
		LogLevel     string         `yaml:"logLevel"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.Models = rawConfig.Models
	c.DefaultModel = rawConfig.DefaultModel
	c.CodeStyle = rawConfig.CodeStyle
	c.SessionTTL = rawConfig.SessionTTL

	if rawConfig.LogLevel != "" {
		if err := c.LogLevel.UnmarshalText([]byte(rawConfig.LogLevel)); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
	}

	if len(rawConfig.LLM) == 0 {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	// Ollama is the only provider speaking the streaming chat protocol this client implements
	if llmProvider != "ollama" {
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(llmRawYAML, &c.LLM)
}

// loadConfig reads the configuration at path. A missing file yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := config{}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c *config) applyDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
	}
	if c.LLM.Host == "" {
		c.LLM.Host = os.Getenv("OLLAMA_HOST")
	}
	if c.LLM.Host == "" {
		c.LLM.Host = services.DefaultOllamaHost
	}
	if len(c.Models) == 0 {
		c.Models = slices.Clone(defaultModels)
	}
	if c.DefaultModel == "" {
		c.DefaultModel = c.Models[0]
	}
	if c.CodeStyle == "" {
		c.CodeStyle = models.DefaultCodeStyle
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = defaultSessionTTL
	}
}

func (c config) validate() error {
	if !slices.Contains(c.Models, c.DefaultModel) {
		return fmt.Errorf("default model %q is not one of the models %v", c.DefaultModel, c.Models)
	}
	if slices.Contains(c.Models, "") {
		return fmt.Errorf("model names must not be empty")
	}
	if _, ok := styles.Registry[c.CodeStyle]; !ok {
		return fmt.Errorf("unknown code style %q", c.CodeStyle)
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("session ttl must not be negative")
	}
	return nil
}

func (c config) sessionOptions() session.Options {
	return session.Options{
		Models:       c.Models,
		DefaultModel: c.DefaultModel,
	}
}

func (o ollamaConfig) llm(logger *slog.Logger) (services.Ollama, error) {
	return services.NewOllama(o.Host, nil, logger)
}
