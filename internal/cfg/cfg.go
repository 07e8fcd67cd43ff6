package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"batchml/internal/common"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ModelStorePath   string
	DataPath         string
	BatchSize        int
	TargetColumn     string
	ExcludeColumns   []string
	TestFraction     float64
	RandomSeed       int64
	WindowSize       int
	Port             int
	MetricsEnabled   bool
	DatasetCacheSize int
	MaxUploadMB      int
	RequestTimeout   time.Duration
	DatasetTTL       time.Duration // 0 keeps uploaded datasets forever
	LogLevel         string
	ServerURL        string
}

type ConfigFile struct {
	Storage struct {
		ModelStorePath string `yaml:"modelStorePath"`
		DataPath       string `yaml:"dataPath"`
		DatasetTTL     string `yaml:"datasetTTL"`
	} `yaml:"storage"`

	Features struct {
		BatchSize      int      `yaml:"batchSize"`
		TargetColumn   string   `yaml:"targetColumn"`
		ExcludeColumns []string `yaml:"excludeColumns"`
	} `yaml:"features"`

	Training struct {
		TestFraction float64 `yaml:"testFraction"`
		RandomSeed   *int64  `yaml:"randomSeed"`
		WindowSize   int     `yaml:"windowSize"`
	} `yaml:"training"`

	Server struct {
		Port             int    `yaml:"port"`
		MetricsEnabled   *bool  `yaml:"metricsEnabled"`
		DatasetCacheSize int    `yaml:"datasetCacheSize"`
		MaxUploadMB      int    `yaml:"maxUploadMB"`
		RequestTimeout   string `yaml:"requestTimeout"`
		URL              string `yaml:"url"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads an optional .env file, then the YAML file named by CONFIG_FILE
// or, without one, the environment. Environment variables always win over
// file values.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to read .env file: %w", err)
	}

	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func defaults() Settings {
	return Settings{
		ModelStorePath:   common.DefaultModelStorePath,
		DataPath:         common.DefaultDataPath,
		BatchSize:        common.DefaultBatchSize,
		TargetColumn:     common.TargetColumn,
		ExcludeColumns:   append([]string(nil), common.DefaultExcludeColumns...),
		TestFraction:     common.DefaultTestFraction,
		RandomSeed:       common.DefaultRandomSeed,
		WindowSize:       common.DefaultWindowSize,
		Port:             common.DefaultPort,
		MetricsEnabled:   true,
		DatasetCacheSize: common.DefaultDatasetCacheSize,
		MaxUploadMB:      common.DefaultMaxUploadMB,
		RequestTimeout:   10 * time.Minute,
		LogLevel:         common.DefaultLogLevel,
		ServerURL:        common.DefaultServerURL,
	}
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	d := defaults()

	requestTimeout, err := time.ParseDuration(config.Server.RequestTimeout)
	if err != nil {
		requestTimeout = d.RequestTimeout
	}
	datasetTTL, err := time.ParseDuration(config.Storage.DatasetTTL)
	if err != nil {
		datasetTTL = 0
	}

	seed := d.RandomSeed
	if config.Training.RandomSeed != nil {
		seed = *config.Training.RandomSeed
	}
	metricsEnabled := d.MetricsEnabled
	if config.Server.MetricsEnabled != nil {
		metricsEnabled = *config.Server.MetricsEnabled
	}
	exclude := d.ExcludeColumns
	if config.Features.ExcludeColumns != nil {
		exclude = config.Features.ExcludeColumns
	}

	settings := Settings{
		ModelStorePath:   getEnvOrDefault(common.EnvModelStorePath, orString(config.Storage.ModelStorePath, d.ModelStorePath)),
		DataPath:         getEnvOrDefault(common.EnvDataPath, orString(config.Storage.DataPath, d.DataPath)),
		BatchSize:        getIntFromEnvOrConfig(common.EnvBatchSize, config.Features.BatchSize, d.BatchSize),
		TargetColumn:     getEnvOrDefault(common.EnvTargetColumn, orString(config.Features.TargetColumn, d.TargetColumn)),
		ExcludeColumns:   splitOrDefault(os.Getenv(common.EnvExcludeColumns), exclude),
		TestFraction:     getFloatFromEnvOrConfig(common.EnvTestFraction, config.Training.TestFraction, d.TestFraction),
		RandomSeed:       getInt64OrDefault(common.EnvRandomSeed, seed),
		WindowSize:       getIntFromEnvOrConfig(common.EnvWindowSize, config.Training.WindowSize, d.WindowSize),
		Port:             getIntFromEnvOrConfig(common.EnvPort, config.Server.Port, d.Port),
		MetricsEnabled:   getBoolOrDefault(common.EnvMetricsEnabled, metricsEnabled),
		DatasetCacheSize: getIntFromEnvOrConfig(common.EnvDatasetCacheSize, config.Server.DatasetCacheSize, d.DatasetCacheSize),
		MaxUploadMB:      getIntFromEnvOrConfig(common.EnvMaxUploadMB, config.Server.MaxUploadMB, d.MaxUploadMB),
		RequestTimeout:   requestTimeout,
		DatasetTTL:       datasetTTL,
		LogLevel:         getEnvOrDefault(common.EnvLogLevel, orString(config.Logging.Level, d.LogLevel)),
		ServerURL:        getEnvOrDefault(common.EnvServerURL, orString(config.Server.URL, d.ServerURL)),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	d := defaults()

	settings := Settings{
		ModelStorePath:   getEnvOrDefault(common.EnvModelStorePath, d.ModelStorePath),
		DataPath:         getEnvOrDefault(common.EnvDataPath, d.DataPath),
		BatchSize:        getIntOrDefault(common.EnvBatchSize, d.BatchSize),
		TargetColumn:     getEnvOrDefault(common.EnvTargetColumn, d.TargetColumn),
		ExcludeColumns:   splitOrDefault(os.Getenv(common.EnvExcludeColumns), d.ExcludeColumns),
		TestFraction:     getFloatOrDefault(common.EnvTestFraction, d.TestFraction),
		RandomSeed:       getInt64OrDefault(common.EnvRandomSeed, d.RandomSeed),
		WindowSize:       getIntOrDefault(common.EnvWindowSize, d.WindowSize),
		Port:             getIntOrDefault(common.EnvPort, d.Port),
		MetricsEnabled:   getBoolOrDefault(common.EnvMetricsEnabled, d.MetricsEnabled),
		DatasetCacheSize: getIntOrDefault(common.EnvDatasetCacheSize, d.DatasetCacheSize),
		MaxUploadMB:      getIntOrDefault(common.EnvMaxUploadMB, d.MaxUploadMB),
		RequestTimeout:   getDurationOrDefault("REQUEST_TIMEOUT", d.RequestTimeout),
		DatasetTTL:       getDurationOrDefault("DATASET_TTL", 0),
		LogLevel:         getEnvOrDefault(common.EnvLogLevel, d.LogLevel),
		ServerURL:        getEnvOrDefault(common.EnvServerURL, d.ServerURL),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// Level returns the configured zerolog level.
func (s *Settings) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Addr is the listen address of the service.
func (s *Settings) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// MaxUploadBytes is the upload size limit in bytes.
func (s *Settings) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	// Validate paths
	if settings.ModelStorePath == "" {
		return fmt.Errorf("model store path cannot be empty")
	}
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}

	// Validate feature extraction
	if settings.BatchSize < common.MinBatchSize || settings.BatchSize > common.MaxBatchSize {
		return fmt.Errorf("batch size must be between %d and %d, got %d",
			common.MinBatchSize, common.MaxBatchSize, settings.BatchSize)
	}
	if strings.TrimSpace(settings.TargetColumn) == "" {
		return fmt.Errorf("target column cannot be empty")
	}
	for _, col := range settings.ExcludeColumns {
		if col == settings.TargetColumn {
			return fmt.Errorf("target column %q cannot be excluded", col)
		}
	}

	// Validate training defaults
	if settings.TestFraction <= 0 || settings.TestFraction >= 1 {
		return fmt.Errorf("test fraction must be between 0 and 1 (exclusive), got %f", settings.TestFraction)
	}
	if settings.WindowSize < common.MinWindowSize || settings.WindowSize > common.MaxWindowSize {
		return fmt.Errorf("window size must be between %d and %d, got %d",
			common.MinWindowSize, common.MaxWindowSize, settings.WindowSize)
	}

	// Validate service settings
	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}
	if settings.DatasetCacheSize < 1 || settings.DatasetCacheSize > common.MaxDatasetCache {
		return fmt.Errorf("dataset cache size must be between 1 and %d, got %d",
			common.MaxDatasetCache, settings.DatasetCacheSize)
	}
	if settings.MaxUploadMB < 1 || settings.MaxUploadMB > common.MaxUploadMBLimit {
		return fmt.Errorf("max upload size must be between 1 and %d MB, got %d",
			common.MaxUploadMBLimit, settings.MaxUploadMB)
	}
	if settings.RequestTimeout < time.Second || settings.RequestTimeout > time.Hour {
		return fmt.Errorf("request timeout must be between 1s and 1h, got %v", settings.RequestTimeout)
	}
	if settings.DatasetTTL < 0 {
		return fmt.Errorf("dataset TTL cannot be negative, got %v", settings.DatasetTTL)
	}

	// Validate logging
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	return nil
}
