// Package config loads scribe's declarative startup configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "scribe.yaml"
	homeConfigName    = "config.yaml"
	homeConfigDir     = ".scribe"
)

// File is the top-level scribe.yaml shape.
type File struct {
	Model      ModelConfig      `yaml:"model"`
	ToolServer ToolServerConfig `yaml:"tool_server"`
	Agent      AgentConfig      `yaml:"agent"`
	History    HistoryConfig    `yaml:"history"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ModelConfig selects and configures the completion endpoint.
type ModelConfig struct {
	// Provider is "ollama" for the raw local endpoint, or an iris provider
	// name (anthropic, openai, ...). Default ollama.
	Provider string `yaml:"provider,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Name     string `yaml:"name,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	// TimeoutMS bounds the completion round trip. 0 uses the gateway default.
	TimeoutMS int `yaml:"timeout_ms,omitempty"`
}

// ToolServerConfig declares the tool-server subprocess. An empty command
// means no tool server: only local capabilities are available.
type ToolServerConfig struct {
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	// WarmupMS is the post-spawn readiness wait. 0 uses the transport default.
	WarmupMS int `yaml:"warmup_ms,omitempty"`
	// CallTimeoutMS bounds each response read. 0 uses the transport default.
	CallTimeoutMS int `yaml:"call_timeout_ms,omitempty"`
}

// AgentConfig configures the loop itself.
type AgentConfig struct {
	// Context seeds the conversation/task state sent to the model.
	Context string `yaml:"context,omitempty"`
	// AppendResults appends executed-directive records to the context
	// between iterations.
	AppendResults bool `yaml:"append_results,omitempty"`
	// WorkspaceRoot contains local write_file paths when set.
	WorkspaceRoot string `yaml:"workspace_root,omitempty"`
	// IntervalSeconds is the pause between loop iterations.
	IntervalSeconds int `yaml:"interval_seconds,omitempty"`
	// Cron schedules loop iterations instead of a fixed interval (UTC-only).
	Cron string `yaml:"cron,omitempty"`
}

// HistoryConfig configures the iteration journal. An empty path disables it.
type HistoryConfig struct {
	Path           string `yaml:"path,omitempty"`
	RetentionHours int    `yaml:"retention_hours,omitempty"`
}

// TelemetryConfig configures trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	ServiceName  string `yaml:"service_name,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
}

// ModelTimeout returns the configured completion timeout.
func (m ModelConfig) ModelTimeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// Warmup returns the configured warm-up interval.
func (t ToolServerConfig) Warmup() time.Duration {
	return time.Duration(t.WarmupMS) * time.Millisecond
}

// CallTimeout returns the configured per-call response deadline.
func (t ToolServerConfig) CallTimeout() time.Duration {
	return time.Duration(t.CallTimeoutMS) * time.Millisecond
}

// Interval returns the configured pause between iterations.
func (a AgentConfig) Interval() time.Duration {
	return time.Duration(a.IntervalSeconds) * time.Second
}

// RetentionAge returns the configured journal retention window.
func (h HistoryConfig) RetentionAge() time.Duration {
	return time.Duration(h.RetentionHours) * time.Hour
}

// Discover resolves the config file location with first-match semantics:
// an explicit path (which must exist), then ./scribe.yaml, then
// ~/.scribe/config.yaml.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverFrom(explicitPath, cwd, homeDir)
}

// DiscoverFrom is a testable variant of Discover.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// An explicit path that does not exist is an error.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load reads and decodes a config file, expanding $VAR references in string
// values that commonly carry secrets or machine-local paths.
func Load(path string) (File, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg File
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return File{}, fmt.Errorf("parsing config %q: %w", path, err)
	}

	cfg.Model.Endpoint = os.ExpandEnv(cfg.Model.Endpoint)
	cfg.Model.APIKey = os.ExpandEnv(cfg.Model.APIKey)
	cfg.ToolServer.Command = os.ExpandEnv(cfg.ToolServer.Command)
	for i, arg := range cfg.ToolServer.Args {
		cfg.ToolServer.Args[i] = os.ExpandEnv(arg)
	}
	for key, value := range cfg.ToolServer.Env {
		cfg.ToolServer.Env[key] = os.ExpandEnv(value)
	}
	cfg.Agent.WorkspaceRoot = os.ExpandEnv(cfg.Agent.WorkspaceRoot)
	cfg.History.Path = os.ExpandEnv(cfg.History.Path)
	cfg.Telemetry.OTLPEndpoint = os.ExpandEnv(cfg.Telemetry.OTLPEndpoint)

	if strings.TrimSpace(cfg.Model.Provider) == "" {
		cfg.Model.Provider = "ollama"
	}
	return cfg, nil
}
