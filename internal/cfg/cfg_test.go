package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, settings Settings)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelStorePath != "saved_models" {
					t.Errorf("expected default ModelStorePath, got %s", settings.ModelStorePath)
				}
				if settings.BatchSize != 48 {
					t.Errorf("expected default BatchSize 48, got %d", settings.BatchSize)
				}
				if settings.TargetColumn != "TARGET" {
					t.Errorf("expected default TargetColumn TARGET, got %s", settings.TargetColumn)
				}
				if len(settings.ExcludeColumns) != 2 || settings.ExcludeColumns[0] != "DATE" {
					t.Errorf("expected default exclude columns, got %v", settings.ExcludeColumns)
				}
				if settings.TestFraction != 0.2 {
					t.Errorf("expected default TestFraction 0.2, got %f", settings.TestFraction)
				}
				if settings.RandomSeed != 42 {
					t.Errorf("expected default RandomSeed 42, got %d", settings.RandomSeed)
				}
				if settings.Port != 8501 {
					t.Errorf("expected default Port 8501, got %d", settings.Port)
				}
				if !settings.MetricsEnabled {
					t.Error("expected metrics to be enabled by default")
				}
				if settings.RequestTimeout != 10*time.Minute {
					t.Errorf("expected default RequestTimeout 10m, got %v", settings.RequestTimeout)
				}
				if settings.DatasetTTL != 0 {
					t.Errorf("expected no dataset TTL, got %v", settings.DatasetTTL)
				}
			},
		},
		{
			name: "custom settings",
			envVars: map[string]string{
				"MODEL_STORE_PATH":   "/tmp/models",
				"BATCH_SIZE":         "24",
				"TARGET_COLUMN":      "Y",
				"EXCLUDE_COLUMNS":    "ID, TS ,",
				"TEST_FRACTION":      "0.3",
				"RANDOM_SEED":        "7",
				"WINDOW_SIZE":        "5",
				"PORT":               "9000",
				"METRICS_ENABLED":    "false",
				"DATASET_CACHE_SIZE": "4",
				"MAX_UPLOAD_MB":      "8",
				"REQUEST_TIMEOUT":    "30s",
				"DATASET_TTL":        "24h",
				"LOG_LEVEL":          "debug",
			},
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelStorePath != "/tmp/models" {
					t.Errorf("expected ModelStorePath /tmp/models, got %s", settings.ModelStorePath)
				}
				if settings.BatchSize != 24 {
					t.Errorf("expected BatchSize 24, got %d", settings.BatchSize)
				}
				if settings.TargetColumn != "Y" {
					t.Errorf("expected TargetColumn Y, got %s", settings.TargetColumn)
				}
				expected := []string{"ID", "TS"}
				if len(settings.ExcludeColumns) != len(expected) {
					t.Fatalf("expected exclude columns %v, got %v", expected, settings.ExcludeColumns)
				}
				for i, col := range expected {
					if settings.ExcludeColumns[i] != col {
						t.Errorf("expected column %s at index %d, got %v", col, i, settings.ExcludeColumns)
					}
				}
				if settings.TestFraction != 0.3 {
					t.Errorf("expected TestFraction 0.3, got %f", settings.TestFraction)
				}
				if settings.RandomSeed != 7 {
					t.Errorf("expected RandomSeed 7, got %d", settings.RandomSeed)
				}
				if settings.Port != 9000 {
					t.Errorf("expected Port 9000, got %d", settings.Port)
				}
				if settings.MetricsEnabled {
					t.Error("expected metrics to be disabled")
				}
				if settings.DatasetCacheSize != 4 || settings.MaxUploadMB != 8 {
					t.Errorf("unexpected service limits: cache %d upload %d", settings.DatasetCacheSize, settings.MaxUploadMB)
				}
				if settings.RequestTimeout != 30*time.Second {
					t.Errorf("expected RequestTimeout 30s, got %v", settings.RequestTimeout)
				}
				if settings.DatasetTTL != 24*time.Hour {
					t.Errorf("expected DatasetTTL 24h, got %v", settings.DatasetTTL)
				}
				if settings.Level() != zerolog.DebugLevel {
					t.Errorf("expected debug level, got %v", settings.Level())
				}
			},
		},
		{
			name:    "malformed numbers fall back to defaults",
			envVars: map[string]string{"BATCH_SIZE": "many", "TEST_FRACTION": "most"},
			validate: func(t *testing.T, settings Settings) {
				if settings.BatchSize != 48 {
					t.Errorf("expected fallback BatchSize 48, got %d", settings.BatchSize)
				}
				if settings.TestFraction != 0.2 {
					t.Errorf("expected fallback TestFraction 0.2, got %f", settings.TestFraction)
				}
			},
		},
		{
			name:    "batch size too small",
			envVars: map[string]string{"BATCH_SIZE": "2"},
			wantErr: true,
		},
		{
			name:    "test fraction out of range",
			envVars: map[string]string{"TEST_FRACTION": "1"},
			wantErr: true,
		},
		{
			name:    "target excluded",
			envVars: map[string]string{"EXCLUDE_COLUMNS": "DATE,TARGET"},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			envVars: map[string]string{"LOG_LEVEL": "loud"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear all environment variables first
			clearTestEnv(t)

			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			settings, err := loadFromEnv()

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	tests := []struct {
		name         string
		yamlContent  string
		envOverrides map[string]string
		wantErr      bool
		validate     func(t *testing.T, settings Settings)
	}{
		{
			name: "full config",
			yamlContent: `
storage:
  modelStorePath: "/var/lib/batchml/models"
  dataPath: "/var/lib/batchml/data"
  datasetTTL: "72h"
features:
  batchSize: 12
  targetColumn: "TARGET"
  excludeColumns: ["DATE"]
training:
  testFraction: 0.25
  randomSeed: 0
  windowSize: 4
server:
  port: 8600
  metricsEnabled: false
  datasetCacheSize: 8
  maxUploadMB: 64
  requestTimeout: "2m"
  url: "http://ml.internal:8600"
logging:
  level: "warn"
`,
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelStorePath != "/var/lib/batchml/models" {
					t.Errorf("expected ModelStorePath from file, got %s", settings.ModelStorePath)
				}
				if settings.BatchSize != 12 {
					t.Errorf("expected BatchSize 12, got %d", settings.BatchSize)
				}
				if len(settings.ExcludeColumns) != 1 || settings.ExcludeColumns[0] != "DATE" {
					t.Errorf("expected exclude columns [DATE], got %v", settings.ExcludeColumns)
				}
				if settings.TestFraction != 0.25 {
					t.Errorf("expected TestFraction 0.25, got %f", settings.TestFraction)
				}
				if settings.RandomSeed != 0 {
					t.Errorf("expected explicit RandomSeed 0, got %d", settings.RandomSeed)
				}
				if settings.WindowSize != 4 {
					t.Errorf("expected WindowSize 4, got %d", settings.WindowSize)
				}
				if settings.Port != 8600 {
					t.Errorf("expected Port 8600, got %d", settings.Port)
				}
				if settings.MetricsEnabled {
					t.Error("expected metrics to be disabled")
				}
				if settings.RequestTimeout != 2*time.Minute {
					t.Errorf("expected RequestTimeout 2m, got %v", settings.RequestTimeout)
				}
				if settings.DatasetTTL != 72*time.Hour {
					t.Errorf("expected DatasetTTL 72h, got %v", settings.DatasetTTL)
				}
				if settings.ServerURL != "http://ml.internal:8600" {
					t.Errorf("expected ServerURL from file, got %s", settings.ServerURL)
				}
				if settings.Level() != zerolog.WarnLevel {
					t.Errorf("expected warn level, got %v", settings.Level())
				}
			},
		},
		{
			name: "environment overrides file",
			yamlContent: `
features:
  batchSize: 12
server:
  port: 8600
`,
			envOverrides: map[string]string{
				"BATCH_SIZE": "96",
				"PORT":       "8700",
			},
			validate: func(t *testing.T, settings Settings) {
				if settings.BatchSize != 96 {
					t.Errorf("expected env BatchSize 96, got %d", settings.BatchSize)
				}
				if settings.Port != 8700 {
					t.Errorf("expected env Port 8700, got %d", settings.Port)
				}
			},
		},
		{
			name:        "empty file uses defaults",
			yamlContent: "{}\n",
			validate: func(t *testing.T, settings Settings) {
				if settings.BatchSize != 48 || settings.WindowSize != 10 {
					t.Errorf("expected defaults, got batch %d window %d", settings.BatchSize, settings.WindowSize)
				}
				if settings.RequestTimeout != 10*time.Minute {
					t.Errorf("expected default RequestTimeout, got %v", settings.RequestTimeout)
				}
			},
		},
		{
			name:        "invalid yaml",
			yamlContent: "features: [unclosed",
			wantErr:     true,
		},
		{
			name: "invalid values",
			yamlContent: `
server:
  port: 80
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)

			for key, value := range tt.envOverrides {
				t.Setenv(key, value)
			}

			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.yamlContent), 0o644)
			if err != nil {
				t.Fatalf("failed to write test config file: %v", err)
			}

			settings, err := loadFromYAML(configPath)

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML_MissingFile(t *testing.T) {
	clearTestEnv(t)

	if _, err := loadFromYAML(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		yamlContent string
		dotenv      string
		wantErr     bool
		validate    func(t *testing.T, settings Settings)
	}{
		{
			name:    "environment only",
			envVars: map[string]string{"WINDOW_SIZE": "20"},
			validate: func(t *testing.T, settings Settings) {
				if settings.WindowSize != 20 {
					t.Errorf("expected WindowSize 20, got %d", settings.WindowSize)
				}
			},
		},
		{
			name:        "config file",
			yamlContent: "training:\n  windowSize: 15\n",
			validate: func(t *testing.T, settings Settings) {
				if settings.WindowSize != 15 {
					t.Errorf("expected WindowSize 15, got %d", settings.WindowSize)
				}
			},
		},
		{
			name:   "dotenv file",
			dotenv: "BATCH_SIZE=60\nLOG_LEVEL=error\n",
			validate: func(t *testing.T, settings Settings) {
				if settings.BatchSize != 60 {
					t.Errorf("expected BatchSize 60 from .env, got %d", settings.BatchSize)
				}
				if settings.LogLevel != "error" {
					t.Errorf("expected LogLevel error from .env, got %s", settings.LogLevel)
				}
			},
		},
		{
			name:        "invalid config file",
			yamlContent: "server:\n  maxUploadMB: 5000\n",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)

			// .env is read from the working directory
			tmpDir := t.TempDir()
			oldWd, err := os.Getwd()
			if err != nil {
				t.Fatalf("failed to get working directory: %v", err)
			}
			if err := os.Chdir(tmpDir); err != nil {
				t.Fatalf("failed to chdir: %v", err)
			}
			t.Cleanup(func() { _ = os.Chdir(oldWd) })

			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			if tt.dotenv != "" {
				if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte(tt.dotenv), 0o644); err != nil {
					t.Fatalf("failed to write .env file: %v", err)
				}
				// godotenv sets variables directly; register them for cleanup
				t.Setenv("BATCH_SIZE", "")
				t.Setenv("LOG_LEVEL", "")
				os.Unsetenv("BATCH_SIZE")
				os.Unsetenv("LOG_LEVEL")
			}

			if tt.yamlContent != "" {
				configPath := filepath.Join(tmpDir, "config.yaml")
				err := os.WriteFile(configPath, []byte(tt.yamlContent), 0o644)
				if err != nil {
					t.Fatalf("failed to write test config file: %v", err)
				}
				t.Setenv("CONFIG_FILE", configPath)
			}

			settings, err := Load()

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestSettingsHelpers(t *testing.T) {
	s := Settings{Port: 8600, MaxUploadMB: 2, LogLevel: ""}

	if s.Addr() != ":8600" {
		t.Errorf("expected :8600, got %s", s.Addr())
	}
	if s.MaxUploadBytes() != 2<<20 {
		t.Errorf("expected %d bytes, got %d", 2<<20, s.MaxUploadBytes())
	}
	if s.Level() != zerolog.InfoLevel {
		t.Errorf("expected info level for empty setting, got %v", s.Level())
	}
}

func clearTestEnv(t *testing.T) {
	t.Helper()

	envVars := []string{
		"CONFIG_FILE", "MODEL_STORE_PATH", "DATA_PATH", "BATCH_SIZE", "TARGET_COLUMN",
		"EXCLUDE_COLUMNS", "TEST_FRACTION", "RANDOM_SEED", "WINDOW_SIZE", "PORT",
		"METRICS_ENABLED", "DATASET_CACHE_SIZE", "MAX_UPLOAD_MB", "REQUEST_TIMEOUT",
		"DATASET_TTL", "LOG_LEVEL", "MLDASH_URL",
	}

	for _, env := range envVars {
		if val := os.Getenv(env); val != "" {
			t.Setenv(env, "")
		}
	}
}
