package config_test

import (
	"testing"

	"github.com/MrWong99/voxweave/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		want  bool
	}{
		{config.LogDebug, true},
		{config.LogInfo, true},
		{config.LogWarn, true},
		{config.LogError, true},
		{config.LogLevel(""), false},
		{config.LogLevel("verbose"), false},
		{config.LogLevel("INFO"), false},
	}
	for _, tc := range tests {
		if got := tc.level.IsValid(); got != tc.want {
			t.Errorf("LogLevel(%q).IsValid() = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestRealtimeProvider_IsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		provider config.RealtimeProvider
		want     bool
	}{
		{config.ProviderConvoAI, true},
		{config.ProviderMock, true},
		{config.RealtimeProvider(""), false},
		{config.RealtimeProvider("webrtc"), false},
	}
	for _, tc := range tests {
		if got := tc.provider.IsValid(); got != tc.want {
			t.Errorf("RealtimeProvider(%q).IsValid() = %v, want %v", tc.provider, got, tc.want)
		}
	}
}

func TestValidate_EmptyConfigIsValid(t *testing.T) {
	t.Parallel()
	// An empty config only produces warnings, never errors: every subsystem
	// has a usable zero value or is optional.
	if err := config.Validate(&config.Config{}); err != nil {
		t.Fatalf("Validate(empty) = %v, want nil", err)
	}
}
