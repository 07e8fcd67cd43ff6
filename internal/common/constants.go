package common

// Column names of the input sheet
const (
	TargetColumn     = "TARGET"
	DateColumn       = "Date"
	ListNumberColumn = "LIST_NUMBER"
)

// Environment variable keys
const (
	EnvConfigFile       = "CONFIG_FILE"
	EnvModelStorePath   = "MODEL_STORE_PATH"
	EnvDataPath         = "DATA_PATH"
	EnvBatchSize        = "BATCH_SIZE"
	EnvTargetColumn     = "TARGET_COLUMN"
	EnvExcludeColumns   = "EXCLUDE_COLUMNS"
	EnvTestFraction     = "TEST_FRACTION"
	EnvRandomSeed       = "RANDOM_SEED"
	EnvWindowSize       = "WINDOW_SIZE"
	EnvPort             = "PORT"
	EnvMetricsEnabled   = "METRICS_ENABLED"
	EnvDatasetCacheSize = "DATASET_CACHE_SIZE"
	EnvMaxUploadMB      = "MAX_UPLOAD_MB"
	EnvLogLevel         = "LOG_LEVEL"
	EnvServerURL        = "MLDASH_URL"
)

// Configuration defaults
const (
	DefaultModelStorePath   = "saved_models"
	DefaultDataPath         = "data"
	DefaultBatchSize        = 48
	DefaultTestFraction     = 0.2
	DefaultRandomSeed       = 42
	DefaultWindowSize       = 10
	DefaultPort             = 8501
	DefaultDatasetCacheSize = 16
	DefaultMaxUploadMB      = 32
	DefaultLogLevel         = "info"
	DefaultServerURL        = "http://localhost:8501"
)

// DefaultExcludeColumns are identifier columns dropped before feature extraction.
var DefaultExcludeColumns = []string{DateColumn, ListNumberColumn}

// Model store layout
const (
	ModelsDirName   = "models"
	MetadataDirName = "metadata"
	ArtifactExt     = ".model"
	MetadataExt     = ".json"
	SavedAtLayout   = "2006-01-02 15:04:05"
	SaveNameLayout  = "20060102_150405"
)

// Validation constants
const (
	MinBatchSize       = 3
	MaxBatchSize       = 10000
	MinPort            = 1024
	MaxPort            = 65535
	MaxDatasetCache    = 1024
	MaxUploadMBLimit   = 1024
	MinWindowSize      = 1
	MaxWindowSize      = 1000
	DefaultValidSplit  = 0.2
	DefaultPatience    = 10
	DefaultRNNHidden   = 32
	DefaultRNNEpochs   = 100
	DefaultRNNBatch    = 32
	DefaultRNNLearning = 0.001
)
