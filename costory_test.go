package main

import (
	"testing"

	"github.com/costory/costory/internal/config"
)

func TestEmbeddedConfig(t *testing.T) {
	t.Setenv("COSTORY_ACCESS_SECRET", "s3cret")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("COSTORY_HOST", "")

	c, err := config.LoadFromBytes(embeddedConfig)
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if c.Auth.AccessSecret != "s3cret" || c.OpenRouter.APIKey != "or-key" {
		t.Errorf("env not expanded: secret=%q key=%q", c.Auth.AccessSecret, c.OpenRouter.APIKey)
	}
	if c.Runner.ModelSwitchDelay <= 0 || c.Runner.CodexLookupDelay <= 0 {
		t.Errorf("pacing delays = %s/%s, want both set", c.Runner.ModelSwitchDelay, c.Runner.CodexLookupDelay)
	}
	if c.Addr() != "127.0.0.1:8787" || !c.IsRateLimitEnabled() {
		t.Errorf("addr = %s, rate limit = %v", c.Addr(), c.IsRateLimitEnabled())
	}
}
