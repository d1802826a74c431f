package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the config file nor the environment sets a value.
const (
	DefaultBoardSize = 19
	DefaultKomi      = 7.5
	DefaultPersona   = "sarcastic"

	DefaultLLMProvider = "ollama"
	DefaultLLMModel    = "llama3.2"

	DefaultServerAddr = ":3001"

	defaultKatagoModel  = "~/Go/katago-networks/kata1-b28c512nbt-s9584861952-d4960414494.bin.gz"
	defaultKatagoConfig = "~/.config/katago/minimal_fast.cfg"

	userConfigName = "katagollum.yaml"
	bundledConfig  = "config.yaml.default"
)

type KatagoConfig struct {
	// Command overrides the assembled "katago gtp -model ... -config ..." line.
	Command string `yaml:"command"`
	Model   string `yaml:"model"`
	Config  string `yaml:"config"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type GameConfig struct {
	BoardSize int     `yaml:"board_size"`
	Komi      float64 `yaml:"komi"`
	Handicap  int     `yaml:"handicap"`
	Persona   string  `yaml:"persona"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	RedisURL      string `yaml:"redis_url"`
	DatabaseURL   string `yaml:"database_url"`
	SessionTTLSec int    `yaml:"session_ttl_sec"`
}

type AppConfig struct {
	Katago KatagoConfig `yaml:"katago"`
	LLM    LLMConfig    `yaml:"llm"`
	Game   GameConfig   `yaml:"game"`
	Server ServerConfig `yaml:"server"`
}

// Load reads ~/.config/katagollum.yaml, falling back to config.yaml.default
// next to the working directory, then applies environment overrides. A missing
// file is not an error; defaults still apply.
func Load() (*AppConfig, error) {
	cfg := defaults()

	path, ok := configPath()
	if ok {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	normalize(cfg)
	return cfg, nil
}

// LoadFile reads a specific config file, then applies environment overrides.
func LoadFile(path string) (*AppConfig, error) {
	cfg := defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnv(cfg)
	normalize(cfg)
	return cfg, nil
}

func defaults() *AppConfig {
	return &AppConfig{
		Katago: KatagoConfig{
			Model:  defaultKatagoModel,
			Config: defaultKatagoConfig,
		},
		LLM: LLMConfig{
			Provider:    DefaultLLMProvider,
			Model:       DefaultLLMModel,
			Temperature: 0.7,
			MaxTokens:   1024,
		},
		Game: GameConfig{
			BoardSize: DefaultBoardSize,
			Komi:      DefaultKomi,
			Persona:   DefaultPersona,
		},
		Server: ServerConfig{
			Addr:          DefaultServerAddr,
			SessionTTLSec: 3600,
		},
	}
}

func configPath() (string, bool) {
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", userConfigName)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	if _, err := os.Stat(bundledConfig); err == nil {
		return bundledConfig, true
	}
	return "", false
}

func applyEnv(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("KATAGO_COMMAND")); v != "" {
		cfg.Katago.Command = v
	}
	if v := strings.TrimSpace(os.Getenv("KATAGO_MODEL")); v != "" {
		cfg.Katago.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("KATAGO_CONFIG")); v != "" {
		cfg.Katago.Config = v
	}

	if v := strings.TrimSpace(os.Getenv("LLM_PROVIDER")); v != "" {
		cfg.LLM.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_MODEL")); v != "" {
		cfg.LLM.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_BASE_URL")); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_API_KEY")); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := strings.TrimSpace(os.Getenv("BOARD_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Game.BoardSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("KOMI")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Game.Komi = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("PERSONA")); v != "" {
		cfg.Game.Persona = v
	}

	if v := strings.TrimSpace(os.Getenv("SERVER_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	cfg.Server.RedisURL = envDefault("REDIS_URL", cfg.Server.RedisURL)
	cfg.Server.DatabaseURL = envDefault("DATABASE_URL", cfg.Server.DatabaseURL)
	if v := strings.TrimSpace(os.Getenv("SESSION_TTL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.SessionTTLSec = n
		}
	}
}

func normalize(cfg *AppConfig) {
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.Game.Persona = strings.ToLower(strings.TrimSpace(cfg.Game.Persona))
	if cfg.Game.BoardSize <= 0 {
		cfg.Game.BoardSize = DefaultBoardSize
	}
}

// KatagoCommand assembles the engine command line. An explicit command string
// wins; otherwise the model/config paths are expanded into the standard
// "katago gtp" invocation.
func (c *AppConfig) KatagoCommand() []string {
	if cmd := strings.TrimSpace(c.Katago.Command); cmd != "" {
		return strings.Fields(cmd)
	}
	return []string{
		"katago", "gtp",
		"-model", ExpandHome(c.Katago.Model),
		"-config", ExpandHome(c.Katago.Config),
	}
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
		}
	}
	return path
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
