package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config is the immutable process configuration. It is built once at
// startup (file values overlaid by environment variables) and passed
// explicitly to every component; nothing reads configuration globally.
type Config struct {
	Workspace string          `json:"workspace" env:"CHARLIE_WORKSPACE"`
	Log       LogConfig       `json:"log"`
	Session   SessionConfig   `json:"session"`
	Memory    MemoryConfig    `json:"memory"`
	Prompt    PromptConfig    `json:"prompt"`
	Provider  ProviderConfig  `json:"provider"`
	Voice     VoiceConfig     `json:"voice"`
	Tasks     TasksConfig     `json:"tasks"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type LogConfig struct {
	Level  string `json:"level" env:"CHARLIE_LOG_LEVEL"`
	Format string `json:"format" env:"CHARLIE_LOG_FORMAT"`
}

type SessionConfig struct {
	WindowCapacity   int `json:"window_capacity" env:"CHARLIE_SESSION_WINDOW_CAPACITY"`
	TimeoutSeconds   int `json:"timeout_seconds" env:"CHARLIE_SESSION_TIMEOUT_SECONDS"`
	PromoteThreshold int `json:"promote_threshold" env:"CHARLIE_SESSION_PROMOTE_THRESHOLD"`
	SweepSeconds     int `json:"sweep_seconds" env:"CHARLIE_SESSION_SWEEP_SECONDS"`
}

type MemoryConfig struct {
	RetrieveLimit int `json:"retrieve_limit" env:"CHARLIE_MEMORY_RETRIEVE_LIMIT"`
	// Relevance weights are tunable; defaults satisfy the ordering
	// contract but are not claimed optimal.
	TagOverlapWeight   float64 `json:"tag_overlap_weight" env:"CHARLIE_MEMORY_TAG_OVERLAP_WEIGHT"`
	RecencyWeight      float64 `json:"recency_weight" env:"CHARLIE_MEMORY_RECENCY_WEIGHT"`
	ImportanceWeight   float64 `json:"importance_weight" env:"CHARLIE_MEMORY_IMPORTANCE_WEIGHT"`
	RecencyHalfLifeHrs int     `json:"recency_half_life_hours" env:"CHARLIE_MEMORY_RECENCY_HALF_LIFE_HOURS"`
}

type PromptConfig struct {
	MaxTokens          int    `json:"max_tokens" env:"CHARLIE_PROMPT_MAX_TOKENS"`
	SystemInstructions string `json:"system_instructions" env:"CHARLIE_PROMPT_SYSTEM_INSTRUCTIONS"`
}

type ProviderConfig struct {
	APIBase        string `json:"api_base" env:"CHARLIE_PROVIDER_API_BASE"`
	APIKey         string `json:"api_key" env:"CHARLIE_PROVIDER_API_KEY"`
	Model          string `json:"model" env:"CHARLIE_PROVIDER_MODEL"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"CHARLIE_PROVIDER_TIMEOUT_SECONDS"`
	MaxRetries     int    `json:"max_retries" env:"CHARLIE_PROVIDER_MAX_RETRIES"`
	FallbackReply  string `json:"fallback_reply" env:"CHARLIE_PROVIDER_FALLBACK_REPLY"`
}

type VoiceConfig struct {
	DefaultVoice string  `json:"default_voice" env:"CHARLIE_VOICE_DEFAULT_VOICE"`
	SpeakingRate float64 `json:"speaking_rate" env:"CHARLIE_VOICE_SPEAKING_RATE"`
}

type TasksConfig struct {
	Workers        int `json:"workers" env:"CHARLIE_TASKS_WORKERS"`
	QueueCapacity  int `json:"queue_capacity" env:"CHARLIE_TASKS_QUEUE_CAPACITY"`
	TimeoutSeconds int `json:"timeout_seconds" env:"CHARLIE_TASKS_TIMEOUT_SECONDS"`
	MaxOutputBytes int `json:"max_output_bytes" env:"CHARLIE_TASKS_MAX_OUTPUT_BYTES"`
	MaxRetries     int `json:"max_retries" env:"CHARLIE_TASKS_MAX_RETRIES"`
	MaxMemoryMB    int `json:"max_memory_mb" env:"CHARLIE_TASKS_MAX_MEMORY_MB"`
	MaxCPUPercent  int `json:"max_cpu_percent" env:"CHARLIE_TASKS_MAX_CPU_PERCENT"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled" env:"CHARLIE_SCHEDULER_ENABLED"`
}

// DefaultConfig returns the baseline configuration before file and
// environment overlays.
func DefaultConfig() *Config {
	return &Config{
		Workspace: "~/.charlie/workspace",
		Log: LogConfig{
			Level: "info",
		},
		Session: SessionConfig{
			WindowCapacity:   10,
			TimeoutSeconds:   300,
			PromoteThreshold: 3,
			SweepSeconds:     60,
		},
		Memory: MemoryConfig{
			RetrieveLimit:      5,
			TagOverlapWeight:   1.0,
			RecencyWeight:      0.5,
			ImportanceWeight:   0.3,
			RecencyHalfLifeHrs: 72,
		},
		Prompt: PromptConfig{
			MaxTokens:          4096,
			SystemInstructions: "You are Charlie, a helpful voice-driven assistant. Use the recalled memory context and the conversation to answer concisely.",
		},
		Provider: ProviderConfig{
			APIBase:        "https://openrouter.ai/api/v1",
			Model:          "openai/gpt-5.2",
			TimeoutSeconds: 30,
			MaxRetries:     3,
			FallbackReply:  "I'm having trouble reaching my language service right now. Please try again in a moment.",
		},
		Voice: VoiceConfig{
			DefaultVoice: "charlie-neutral",
			SpeakingRate: 1.0,
		},
		Tasks: TasksConfig{
			Workers:        4,
			QueueCapacity:  64,
			TimeoutSeconds: 30,
			MaxOutputBytes: 64000,
			MaxRetries:     2,
			MaxMemoryMB:    512,
			MaxCPUPercent:  50,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
	}
}

// Load reads the optional JSON config file at path, overlays environment
// variables, and expands the workspace path. A missing file is not an
// error; the defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// defaults apply
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	ws, err := expandHome(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	cfg.Workspace = ws
	return cfg, nil
}

func expandHome(path string) (string, error) {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// StatePath returns the path of a state file under the workspace.
func (c *Config) StatePath(name string) string {
	return filepath.Join(c.Workspace, "state", name)
}

// SandboxRoot returns the directory under which sandbox working
// directories are created.
func (c *Config) SandboxRoot() string {
	return filepath.Join(c.Workspace, "sandbox")
}

// FilesRoot returns the directory persistent file tasks operate on.
func (c *Config) FilesRoot() string {
	return filepath.Join(c.Workspace, "files")
}
