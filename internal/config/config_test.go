package config

import (
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(lookupMap(map[string]string{
		"OPENAI_API_KEY": "sk-test",
		"CUSTOM_API_KEY": "secret",
	}))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.DBPath != ".storage/chat_mappings.db" {
		t.Fatalf("unexpected DB path %q", cfg.DBPath)
	}
	if cfg.Run.PollInterval != 2*time.Second {
		t.Fatalf("expected 2s poll interval, got %s", cfg.Run.PollInterval)
	}
	if cfg.Run.MaxPolls != 300 {
		t.Fatalf("expected 300 max polls, got %d", cfg.Run.MaxPolls)
	}
	if cfg.Run.UnregisteredToolPolicy != ToolPolicySkip {
		t.Fatalf("expected skip policy, got %q", cfg.Run.UnregisteredToolPolicy)
	}
	if cfg.TurnTimeout != 5*time.Minute {
		t.Fatalf("expected 5m turn timeout, got %s", cfg.TurnTimeout)
	}
	if !cfg.APIKeyRequired() {
		t.Fatal("expected API key to be required")
	}
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(lookupMap(map[string]string{
		"OPENAI_API_KEY":            "sk-test",
		"ALLOW_NO_API_KEY":          "true",
		"PORT":                      "9090",
		"RUN_POLL_INTERVAL":         "250ms",
		"RUN_MAX_POLLS":             "0",
		"UNREGISTERED_TOOL_POLICY":  "ERROR_OUTPUT",
		"ASSISTANT_RESYNC_SCHEDULE": "*/15 * * * *",
		"FRONTEND_URL":              "https://chat.example.com",
	}))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.Port)
	}
	if cfg.Run.PollInterval != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval %s", cfg.Run.PollInterval)
	}
	if cfg.Run.MaxPolls != 0 {
		t.Fatalf("expected unbounded polls, got %d", cfg.Run.MaxPolls)
	}
	if cfg.Run.UnregisteredToolPolicy != ToolPolicyErrorOutput {
		t.Fatalf("unexpected policy %q", cfg.Run.UnregisteredToolPolicy)
	}
	if cfg.APIKeyRequired() {
		t.Fatal("expected API key check to be disabled")
	}
	if cfg.IsDevelopment() {
		t.Fatal("expected production mode for a public frontend URL")
	}
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "https://chat.example.com" {
		t.Fatalf("unexpected origins %v", got)
	}
}

func TestLoadFromValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing openai key",
			env:     map[string]string{"CUSTOM_API_KEY": "secret"},
			wantErr: "OPENAI_API_KEY",
		},
		{
			name:    "missing custom key",
			env:     map[string]string{"OPENAI_API_KEY": "sk-test"},
			wantErr: "CUSTOM_API_KEY",
		},
		{
			name: "bad policy",
			env: map[string]string{
				"OPENAI_API_KEY":           "sk-test",
				"CUSTOM_API_KEY":           "secret",
				"UNREGISTERED_TOOL_POLICY": "explode",
			},
			wantErr: "UNREGISTERED_TOOL_POLICY",
		},
		{
			name: "bad schedule",
			env: map[string]string{
				"OPENAI_API_KEY":            "sk-test",
				"CUSTOM_API_KEY":            "secret",
				"ASSISTANT_RESYNC_SCHEDULE": "every tuesday",
			},
			wantErr: "ASSISTANT_RESYNC_SCHEDULE",
		},
		{
			name: "negative max polls",
			env: map[string]string{
				"OPENAI_API_KEY": "sk-test",
				"CUSTOM_API_KEY": "secret",
				"RUN_MAX_POLLS":  "-1",
			},
			wantErr: "RUN_MAX_POLLS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(lookupMap(tt.env))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInvalidDurationFallsBack(t *testing.T) {
	cfg, err := LoadFrom(lookupMap(map[string]string{
		"OPENAI_API_KEY": "sk-test",
		"CUSTOM_API_KEY": "secret",
		"TURN_TIMEOUT":   "soon",
	}))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.TurnTimeout != 5*time.Minute {
		t.Fatalf("expected fallback turn timeout, got %s", cfg.TurnTimeout)
	}
}

func TestParseSkipsValidation(t *testing.T) {
	cfg := Parse(lookupMap(map[string]string{"TOOLS_DIR": "/srv/tools"}))
	if cfg.Assistant.ToolsDir != "/srv/tools" {
		t.Fatalf("unexpected tools dir %q", cfg.Assistant.ToolsDir)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation to fail without OPENAI_API_KEY")
	}
}
