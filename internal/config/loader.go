package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a YAML config file, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults for anything left zero.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := expandEnvTemplates(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields a bare Defaults() merge might
// still leave empty (slice/struct fields yaml.Unmarshal zeroes on decode
// of a present-but-empty block), and applies the DATABASE_PATH and PORT
// environment overrides.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = DataDir() + "/chatflow.db"
	}
	if cfg.AI.Driver == "" {
		cfg.AI.Driver = def.AI.Driver
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = def.AI.Model
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = def.AI.Timeout
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = def.AI.MaxTokens
	}
	if cfg.AI.Auth.APIKey == "" {
		if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
			cfg.AI.Auth.APIKey = v
		}
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = def.Events.BufferSize
	}
	if cfg.Events.LogLevel == "" {
		cfg.Events.LogLevel = def.Events.LogLevel
	}
	if cfg.Flow.MaxStepsPerTurn == 0 {
		cfg.Flow.MaxStepsPerTurn = def.Flow.MaxStepsPerTurn
	}
	if cfg.Flow.MaxWait == 0 {
		cfg.Flow.MaxWait = def.Flow.MaxWait
	}
}
