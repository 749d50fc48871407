// ABOUTME: Unit tests for configuration validation
// ABOUTME: Tests defaults and rejection of out-of-range knobs
package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad group", func(c *Config) { c.GroupV4 = "242.355.43.2" }},
		{"group is not v4", func(c *Config) { c.GroupV4 = "ff02::1" }},
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"port overflow", func(c *Config) { c.Port = 70000 }},
		{"odd sample rate", func(c *Config) { c.SampleRate = 22050 }},
		{"too many channels", func(c *Config) { c.Channels = 6 }},
		{"weird opus frame", func(c *Config) { c.OpusFrameMs = 7 }},
		{"jitter min above initial", func(c *Config) { c.JitterMin = 10; c.JitterInitial = 4 }},
		{"jitter initial above max", func(c *Config) { c.JitterInitial = 65 }},
		{"zero host timeout", func(c *Config) { c.HostTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error")
			}
		})
	}
}

func TestFrameSize(t *testing.T) {
	cfg := Default()
	if got := cfg.FrameSize(); got != 240 {
		t.Errorf("FrameSize() = %d, want 240 (5ms at 48kHz)", got)
	}
}
