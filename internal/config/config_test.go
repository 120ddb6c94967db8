package config

import (
	"testing"
	"time"
)

func TestLoadFromBytesExpandsEnv(t *testing.T) {
	t.Setenv("COSTORY_TEST_KEY", "sk-or-123")
	c, err := LoadFromBytes([]byte(`
port: 9000
openrouter:
  api_key: ${COSTORY_TEST_KEY}
runner:
  backoff_base: 5ms
`))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if c.OpenRouter.APIKey != "sk-or-123" {
		t.Errorf("api key = %q", c.OpenRouter.APIKey)
	}
	if c.Port != 9000 {
		t.Errorf("port = %d", c.Port)
	}
	if c.Runner.BackoffBase != 5*time.Millisecond {
		t.Errorf("backoff = %v", c.Runner.BackoffBase)
	}
}

func TestDefaults(t *testing.T) {
	c, err := LoadFromBytes([]byte("name: x\n"))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if c.Runner.MaxTurns != 5 || c.Runner.CandidatesPerTurn != 3 || c.Runner.AttemptsPerModel != 2 {
		t.Errorf("runner defaults = %+v", c.Runner)
	}
	if c.Registry.RateLimitTTL != 24*time.Hour {
		t.Errorf("rate limit ttl = %v", c.Registry.RateLimitTTL)
	}
	if c.Billing.Markup != 5 {
		t.Errorf("markup = %v", c.Billing.Markup)
	}
	if c.Summarizer.KeepRecent != 20 || c.Summarizer.MinCandidates != 5 {
		t.Errorf("summarizer defaults = %+v", c.Summarizer)
	}
	if !c.IsRateLimitEnabled() {
		t.Error("rate limit should default to enabled")
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in   string
		def  bool
		want bool
	}{
		{"", true, true},
		{"", false, false},
		{"yes", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"no", true, false},
	}
	for _, tt := range tests {
		if got := parseBool(tt.in, tt.def); got != tt.want {
			t.Errorf("parseBool(%q, %v) = %v, want %v", tt.in, tt.def, got, tt.want)
		}
	}
}
