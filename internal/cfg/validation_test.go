package cfg

import (
	"strings"
	"testing"
	"time"
)

// createValidSettings creates a valid Settings struct for testing
func createValidSettings() *Settings {
	return &Settings{
		ModelStorePath:   "saved_models",
		DataPath:         "data",
		BatchSize:        48,
		TargetColumn:     "TARGET",
		ExcludeColumns:   []string{"DATE", "LIST_NUMBER"},
		TestFraction:     0.2,
		RandomSeed:       42,
		WindowSize:       10,
		Port:             8501,
		MetricsEnabled:   true,
		DatasetCacheSize: 16,
		MaxUploadMB:      32,
		RequestTimeout:   10 * time.Minute,
		LogLevel:         "info",
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	settings := createValidSettings()

	err := validateSettings(settings)
	if err != nil {
		t.Errorf("Expected valid config to pass, got error: %v", err)
	}
}

func TestValidateSettings_Ranges(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"empty model store path", func(s *Settings) { s.ModelStorePath = "" }, "model store path"},
		{"empty data path", func(s *Settings) { s.DataPath = "" }, "data path"},
		{"batch size below minimum", func(s *Settings) { s.BatchSize = 2 }, "batch size"},
		{"batch size above maximum", func(s *Settings) { s.BatchSize = 10001 }, "batch size"},
		{"blank target column", func(s *Settings) { s.TargetColumn = "  " }, "target column"},
		{"target column excluded", func(s *Settings) { s.ExcludeColumns = []string{"TARGET"} }, "cannot be excluded"},
		{"zero test fraction", func(s *Settings) { s.TestFraction = 0 }, "test fraction"},
		{"whole test fraction", func(s *Settings) { s.TestFraction = 1 }, "test fraction"},
		{"zero window", func(s *Settings) { s.WindowSize = 0 }, "window size"},
		{"privileged port", func(s *Settings) { s.Port = 80 }, "port"},
		{"port out of range", func(s *Settings) { s.Port = 70000 }, "port"},
		{"no dataset cache", func(s *Settings) { s.DatasetCacheSize = 0 }, "dataset cache"},
		{"upload limit too large", func(s *Settings) { s.MaxUploadMB = 2048 }, "max upload"},
		{"request timeout too short", func(s *Settings) { s.RequestTimeout = time.Millisecond }, "request timeout"},
		{"negative dataset ttl", func(s *Settings) { s.DatasetTTL = -time.Hour }, "dataset TTL"},
		{"unknown log level", func(s *Settings) { s.LogLevel = "chatty" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.mutate(settings)

			err := validateSettings(settings)
			if err == nil {
				t.Fatal("Expected validation error, got none")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateSettings_Boundaries(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"minimum batch size", func(s *Settings) { s.BatchSize = 3 }},
		{"maximum batch size", func(s *Settings) { s.BatchSize = 10000 }},
		{"minimum port", func(s *Settings) { s.Port = 1024 }},
		{"no excluded columns", func(s *Settings) { s.ExcludeColumns = nil }},
		{"empty log level", func(s *Settings) { s.LogLevel = "" }},
		{"dataset ttl", func(s *Settings) { s.DatasetTTL = time.Hour }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.mutate(settings)

			if err := validateSettings(settings); err != nil {
				t.Errorf("Expected boundary value to pass, got error: %v", err)
			}
		})
	}
}
