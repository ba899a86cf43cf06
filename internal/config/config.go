package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ytnobody/accord/internal/agent"
)

type Config struct {
	Negotiation NegotiationConfig `toml:"negotiation"`
	Agreement   AgreementConfig   `toml:"agreement"`
	Alignment   AlignmentConfig   `toml:"alignment"`
	Daemon      DaemonConfig      `toml:"daemon"`
	// Roles overrides the built-in scoring weights per role, keyed by role
	// name (e.g. [roles.critic]).
	Roles map[string]RoleWeights `toml:"roles,omitempty"`
}

type NegotiationConfig struct {
	MaxRounds int `toml:"max_rounds"`
	// Quorum is the fraction of participants that must approve, in (0,1].
	Quorum                 float64 `toml:"quorum"`
	ApprovalThreshold      float64 `toml:"approval_threshold"`
	InitialDeadlineMinutes int     `toml:"initial_deadline_minutes"`
	RoundDeadlineMinutes   int     `toml:"round_deadline_minutes"`
}

type AgreementConfig struct {
	// TTLHours sets the expiration of new agreements. 0 means they never
	// expire.
	TTLHours int `toml:"ttl_hours"`
}

const (
	ProviderKeyword = "keyword"
	ProviderStatic  = "static"
	ProviderGemini  = "gemini"
)

type AlignmentConfig struct {
	Provider    string   `toml:"provider"`
	Goals       []string `toml:"goals,omitempty"`
	StaticValue float64  `toml:"static_value"`
	GeminiModel string   `toml:"gemini_model"`
	// GeminiAPIKeyEnv names the environment variable holding the API key.
	GeminiAPIKeyEnv string `toml:"gemini_api_key_env"`
}

type DaemonConfig struct {
	DataDir         string `toml:"data_dir"`
	ChatlogMaxLines int    `toml:"chatlog_max_lines"`
	SweepSeconds    int    `toml:"sweep_seconds"`
}

type RoleWeights struct {
	Timeline  float64 `toml:"timeline"`
	Resources float64 `toml:"resources"`
	Quality   float64 `toml:"quality"`
	Risk      float64 `toml:"risk"`
	Strategy  float64 `toml:"strategy"`
}

func (w RoleWeights) weights() agent.Weights {
	return agent.Weights{
		agent.DimTimeline:  w.Timeline,
		agent.DimResources: w.Resources,
		agent.DimQuality:   w.Quality,
		agent.DimRisk:      w.Risk,
		agent.DimStrategy:  w.Strategy,
	}
}

// Template is written by `accord init`.
const Template = `[negotiation]
max_rounds = 10
quorum = 0.75
approval_threshold = 70
initial_deadline_minutes = 30
round_deadline_minutes = 5

[agreement]
ttl_hours = 0

[alignment]
provider = "keyword"
goals = []

[daemon]
data_dir = ".accord"
chatlog_max_lines = 500
sweep_seconds = 30

# [roles.critic]
# timeline = 0.05
# resources = 0.1
# quality = 0.4
# risk = 0.4
# strategy = 0.05
`

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a TOML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

func setDefaults(cfg *Config) {
	if cfg.Negotiation.MaxRounds == 0 {
		cfg.Negotiation.MaxRounds = 10
	}
	if cfg.Negotiation.Quorum == 0 {
		cfg.Negotiation.Quorum = 0.75
	}
	if cfg.Negotiation.ApprovalThreshold == 0 {
		cfg.Negotiation.ApprovalThreshold = 70
	}
	if cfg.Negotiation.InitialDeadlineMinutes == 0 {
		cfg.Negotiation.InitialDeadlineMinutes = 30
	}
	if cfg.Negotiation.RoundDeadlineMinutes == 0 {
		cfg.Negotiation.RoundDeadlineMinutes = 5
	}
	if cfg.Alignment.Provider == "" {
		cfg.Alignment.Provider = ProviderKeyword
	}
	if cfg.Alignment.GeminiModel == "" {
		cfg.Alignment.GeminiModel = "gemini-2.5-flash"
	}
	if cfg.Alignment.GeminiAPIKeyEnv == "" {
		cfg.Alignment.GeminiAPIKeyEnv = "GEMINI_API_KEY"
	}
	if cfg.Daemon.DataDir == "" {
		cfg.Daemon.DataDir = ".accord"
	}
	if cfg.Daemon.ChatlogMaxLines == 0 {
		cfg.Daemon.ChatlogMaxLines = 500
	}
	if cfg.Daemon.SweepSeconds == 0 {
		cfg.Daemon.SweepSeconds = 30
	}
	// TTLHours has no default (0 = agreements never expire).
}

func validate(cfg *Config) error {
	n := cfg.Negotiation
	if n.MaxRounds < 1 {
		return fmt.Errorf("negotiation.max_rounds must be at least 1, got %d", n.MaxRounds)
	}
	if math.IsNaN(n.Quorum) || n.Quorum <= 0 || n.Quorum > 1 {
		return fmt.Errorf("negotiation.quorum must be in (0,1], got %v", n.Quorum)
	}
	if n.ApprovalThreshold < 0 || n.ApprovalThreshold > 100 {
		return fmt.Errorf("negotiation.approval_threshold must be in [0,100], got %v", n.ApprovalThreshold)
	}
	if n.InitialDeadlineMinutes < 0 || n.RoundDeadlineMinutes < 0 {
		return fmt.Errorf("negotiation deadlines must not be negative")
	}
	if cfg.Agreement.TTLHours < 0 {
		return fmt.Errorf("agreement.ttl_hours must not be negative")
	}

	switch cfg.Alignment.Provider {
	case ProviderKeyword, ProviderGemini:
	case ProviderStatic:
		if v := cfg.Alignment.StaticValue; v < 0 || v > 100 {
			return fmt.Errorf("alignment.static_value must be in [0,100], got %v", v)
		}
	default:
		return fmt.Errorf("alignment.provider must be one of keyword, static, gemini; got %q", cfg.Alignment.Provider)
	}

	if cfg.Daemon.ChatlogMaxLines < 0 || cfg.Daemon.SweepSeconds < 0 {
		return fmt.Errorf("daemon intervals must not be negative")
	}

	for name, w := range cfg.Roles {
		if _, err := agent.ParseRole(name); err != nil {
			return fmt.Errorf("roles.%s: %w", name, err)
		}
		vals := []float64{w.Timeline, w.Resources, w.Quality, w.Risk, w.Strategy}
		var sum float64
		for _, v := range vals {
			if v < 0 || math.IsNaN(v) {
				return fmt.Errorf("roles.%s: weights must not be negative", name)
			}
			sum += v
		}
		if sum == 0 {
			return fmt.Errorf("roles.%s: at least one weight must be positive", name)
		}
	}
	return nil
}

// RoleOverrides converts [roles.*] into registry overrides.
func (c *Config) RoleOverrides() map[agent.Role]agent.Weights {
	if len(c.Roles) == 0 {
		return nil
	}
	out := make(map[agent.Role]agent.Weights, len(c.Roles))
	for name, w := range c.Roles {
		r, err := agent.ParseRole(strings.TrimSpace(name))
		if err != nil {
			continue
		}
		out[r] = w.weights()
	}
	return out
}

func (c *Config) InitialDeadline() time.Duration {
	return time.Duration(c.Negotiation.InitialDeadlineMinutes) * time.Minute
}

func (c *Config) RoundDeadline() time.Duration {
	return time.Duration(c.Negotiation.RoundDeadlineMinutes) * time.Minute
}

func (c *Config) AgreementTTL() time.Duration {
	return time.Duration(c.Agreement.TTLHours) * time.Hour
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Daemon.SweepSeconds) * time.Second
}
