package config

import "time"

// Config is the root configuration for the chatflow server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AI       AIConfig       `yaml:"ai"`
	Events   EventsConfig   `yaml:"events"`
	Flow     FlowConfig     `yaml:"flow"`
}

// ServerConfig holds the HTTP/WS server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig configures the sqlite-backed store.
type DatabaseConfig struct {
	Path string `yaml:"path"` // empty = DataDir()/chatflow.db
}

// AuthConfig configures API credential resolution, the same shape the
// teacher uses for its model providers: a direct value or a
// ${{ .Env.VAR }} template, expanded by Load; an empty key falls back
// to ANTHROPIC_API_KEY.
type AuthConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
}

// AIConfig configures the AI gateway's upstream LLM provider.
type AIConfig struct {
	Driver      string     `yaml:"driver"` // "anthropic" (default) | "stub"
	Model       string     `yaml:"model"`
	Auth        AuthConfig `yaml:"auth"`
	Timeout     Duration   `yaml:"timeout,omitempty"`
	MaxTokens   int        `yaml:"max_tokens,omitempty"`
	Temperature float64    `yaml:"temperature,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `yaml:"buffer_size"`
	LogLevel   string `yaml:"log_level"` // "debug" | "info" | "warn" | "error"
}

// FlowConfig holds flow interpreter tunables.
type FlowConfig struct {
	MaxStepsPerTurn int      `yaml:"max_steps_per_turn"` // default 24
	MaxWait         Duration `yaml:"max_wait,omitempty"` // cap on wait-node duration, default 5m
}

// Duration wraps time.Duration for human-readable YAML values ("30s", "5m").
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Defaults returns a Config with the values the server falls back to when
// no config file is present, mirroring the teacher's runGateway fallback.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		AI:     AIConfig{Driver: "anthropic", Model: "claude-3-5-haiku-latest", Timeout: Duration(20 * time.Second), MaxTokens: 1024},
		Events: EventsConfig{BufferSize: 256, LogLevel: "info"},
		Flow:   FlowConfig{MaxStepsPerTurn: 24, MaxWait: Duration(5 * time.Minute)},
	}
}
