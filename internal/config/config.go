// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Unregistered tool policies.
const (
	ToolPolicySkip        = "skip"
	ToolPolicyErrorOutput = "error_output"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	DBPath        string
	CustomAPIKey  string
	AllowNoAPIKey bool

	OpenAI          OpenAIConfig
	Assistant       AssistantConfig
	Run             RunConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig

	TurnTimeout    time.Duration
	GRPCHealthPort string
}

// OpenAIConfig configures the remote assistant service.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// AssistantConfig locates the local assistant artifacts.
type AssistantConfig struct {
	DefinitionPath string
	RecordPath     string
	ToolsDir       string
	ResourcesDir   string
	// ResyncSchedule is a standard 5-field cron expression; empty disables resync.
	ResyncSchedule string
}

// RunConfig controls run polling.
type RunConfig struct {
	PollInterval           time.Duration
	MaxPolls               int
	UnregisteredToolPolicy string
}

// RateLimitConfig controls per-chat request throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// LookupFunc resolves a configuration key. It has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads configuration through lookup and validates it.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := Parse(lookup)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse reads configuration through lookup without validating it. Offline
// tooling uses it when remote credentials are not needed.
func Parse(lookup LookupFunc) *Config {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	e := env{lookup: lookup}

	queueSize := e.int("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	return &Config{
		Port:          e.str("PORT", "8080"),
		FrontendURL:   e.str("FRONTEND_URL", ""),
		DBPath:        e.str("DB_PATH", ".storage/chat_mappings.db"),
		CustomAPIKey:  e.str("CUSTOM_API_KEY", ""),
		AllowNoAPIKey: e.bool("ALLOW_NO_API_KEY", false),
		OpenAI: OpenAIConfig{
			APIKey:  e.str("OPENAI_API_KEY", ""),
			BaseURL: e.str("OPENAI_BASE_URL", ""),
		},
		Assistant: AssistantConfig{
			DefinitionPath: e.str("ASSISTANT_DEFINITION_PATH", "assistant"),
			RecordPath:     e.str("ASSISTANT_RECORD_PATH", ".storage/assistant.json"),
			ToolsDir:       e.str("TOOLS_DIR", "tools"),
			ResourcesDir:   e.str("RESOURCES_DIR", "resources"),
			ResyncSchedule: e.str("ASSISTANT_RESYNC_SCHEDULE", ""),
		},
		Run: RunConfig{
			PollInterval:           e.duration("RUN_POLL_INTERVAL", 2*time.Second),
			MaxPolls:               e.int("RUN_MAX_POLLS", 300),
			UnregisteredToolPolicy: strings.ToLower(e.str("UNREGISTERED_TOOL_POLICY", ToolPolicySkip)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: e.int("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    e.duration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   e.bool("CONVERSATION_LOG_ENABLED", false),
			Dir:       e.str("CONVERSATION_LOG_DIR", ".storage/logs/conversations"),
			QueueSize: queueSize,
		},
		TurnTimeout:    e.duration("TURN_TIMEOUT", 5*time.Minute),
		GRPCHealthPort: e.str("GRPC_HEALTH_PORT", ""),
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.OpenAI.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.CustomAPIKey == "" && !c.AllowNoAPIKey {
		return errors.New("CUSTOM_API_KEY is required unless ALLOW_NO_API_KEY=true")
	}
	if c.Assistant.DefinitionPath == "" || c.Assistant.RecordPath == "" || c.Assistant.ToolsDir == "" {
		return errors.New("ASSISTANT_DEFINITION_PATH, ASSISTANT_RECORD_PATH and TOOLS_DIR cannot be empty")
	}
	if c.Run.PollInterval <= 0 {
		return errors.New("RUN_POLL_INTERVAL must be > 0")
	}
	if c.Run.MaxPolls < 0 {
		return errors.New("RUN_MAX_POLLS must be >= 0")
	}
	switch c.Run.UnregisteredToolPolicy {
	case ToolPolicySkip, ToolPolicyErrorOutput:
	default:
		return fmt.Errorf("UNREGISTERED_TOOL_POLICY must be %q or %q", ToolPolicySkip, ToolPolicyErrorOutput)
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.TurnTimeout <= 0 {
		return errors.New("TURN_TIMEOUT must be > 0")
	}
	if c.Assistant.ResyncSchedule != "" {
		if _, err := cron.ParseStandard(c.Assistant.ResyncSchedule); err != nil {
			return fmt.Errorf("ASSISTANT_RESYNC_SCHEDULE: %w", err)
		}
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	return nil
}

// APIKeyRequired reports whether /api requests must carry the custom API key.
func (c *Config) APIKeyRequired() bool {
	return c.CustomAPIKey != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins derived from FrontendURL.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

type env struct {
	lookup LookupFunc
}

func (e env) str(key, fallback string) string {
	if value, ok := e.lookup(key); ok {
		return value
	}
	return fallback
}

func (e env) bool(key string, fallback bool) bool {
	value, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func (e env) int(key string, fallback int) int {
	value, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	value, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
