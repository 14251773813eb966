package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Turn.MaxRetryAttempts != 3 {
		t.Errorf("Expected default max retry attempts 3, got %d", cfg.Turn.MaxRetryAttempts)
	}
	if cfg.Turn.TimeExpansionFactor != 4.0 {
		t.Errorf("Expected default expansion factor 4.0, got %f", cfg.Turn.TimeExpansionFactor)
	}
	if cfg.Cache.CapacityBytes != 64*1024*1024 {
		t.Errorf("Expected default cache capacity 64MB, got %d", cfg.Cache.CapacityBytes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOGSTORE_BASE_URLS", "http://a:1,http://b:2, ")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("TURN_MAX_TOOL_ITERATIONS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if len(cfg.LogStore.BaseURLs) != 2 {
		t.Fatalf("Expected 2 base URLs, got %v", cfg.LogStore.BaseURLs)
	}
	if cfg.LogStore.BaseURLs[1] != "http://b:2" {
		t.Errorf("Expected second base URL http://b:2, got %s", cfg.LogStore.BaseURLs[1])
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("Expected cache TTL 90s, got %s", cfg.Cache.TTL)
	}
	if cfg.Turn.MaxToolIterations != 5 {
		t.Errorf("Expected 5 max tool iterations, got %d", cfg.Turn.MaxToolIterations)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr bool
	}{
		{"empty base URLs", "LOGSTORE_BASE_URLS", " , ", true},
		{"expansion factor at one", "TURN_TIME_EXPANSION_FACTOR", "1.0", true},
		{"zero item cap", "LOGSTORE_ITEM_CAP", "0", true},
		{"unparsable int falls back", "TURN_MAX_TOOL_ITERATIONS", "not-a-number", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if tt.wantErr && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}
