package main

import (
	"context"
	"testing"

	"github.com/sebastienvg/claude-mem/internal/config"
)

func TestResolveConfigPathDefault(t *testing.T) {
	t.Setenv("CLAUDE_MEM_CONFIG", "")
	if got := resolveConfigPath(""); got != "./settings.json" {
		t.Errorf("resolveConfigPath(\"\") = %q, want ./settings.json", got)
	}
}

func TestResolveConfigPathFlagWins(t *testing.T) {
	t.Setenv("CLAUDE_MEM_CONFIG", "/env/settings.json")
	if got := resolveConfigPath("/flag/settings.json"); got != "/flag/settings.json" {
		t.Errorf("resolveConfigPath with flag = %q, want flag value", got)
	}
}

func TestResolveConfigPathEnvFallback(t *testing.T) {
	t.Setenv("CLAUDE_MEM_CONFIG", "/env/settings.json")
	if got := resolveConfigPath(""); got != "/env/settings.json" {
		t.Errorf("resolveConfigPath env fallback = %q, want /env/settings.json", got)
	}
}

func TestNewProviderRejectsUnknownKey(t *testing.T) {
	_, err := newProvider(context.Background(), config.LLMConfig{}, "bogus")
	if err == nil {
		t.Fatal("expected an error for an unknown provider key")
	}
}
