package config

import (
	"fmt"
	"runtime"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/couchcryptid/weather-grid-etl/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Output formats selectable with OUTPUT_FORMAT.
const (
	OutputArrayStore = "array-store"
	OutputRelational = "relational"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Ingest sources and targets.
	Source           string `envconfig:"SOURCE" default:"gfs" validate:"required"`
	RawDir           string `envconfig:"RAW_DIR" default:"raw" validate:"required"`
	FieldCatalogFile string `envconfig:"FIELD_CATALOG_FILE"`
	OutputFormat     string `envconfig:"OUTPUT_FORMAT" default:"array-store" validate:"oneof=array-store relational"`
	StoreDir         string `envconfig:"STORE_DIR" default:"store" validate:"required"`
	StoreLayout      string `envconfig:"STORE_LAYOUT" default:"per_cycle" validate:"oneof=per_cycle shared"`
	DatabaseURL      string `envconfig:"DATABASE_URL" validate:"required_if=OutputFormat relational"`
	DBSchema         string `envconfig:"DB_SCHEMA" default:"weather" validate:"required"`

	// Region of interest, default Europe.
	BBoxLatMin float64 `envconfig:"BBOX_LAT_MIN" default:"35" validate:"gte=-90,lte=90"`
	BBoxLatMax float64 `envconfig:"BBOX_LAT_MAX" default:"70" validate:"gte=-90,lte=90,gtfield=BBoxLatMin"`
	BBoxLonMin float64 `envconfig:"BBOX_LON_MIN" default:"-15" validate:"gte=-180,lte=360"`
	BBoxLonMax float64 `envconfig:"BBOX_LON_MAX" default:"40" validate:"gte=-180,lte=360,gtfield=BBoxLonMin"`

	// Gust estimation.
	GustMethod string  `envconfig:"GUST_METHOD" default:"factor" validate:"oneof=none factor friction_velocity tke"`
	GustFactor float64 `envconfig:"GUST_FACTOR" default:"1.5" validate:"gt=0"`
	GustAlpha  float64 `envconfig:"GUST_ALPHA" default:"3.0" validate:"gt=0"`
	GustBeta   float64 `envconfig:"GUST_BETA" default:"2.0" validate:"gt=0"`

	// Decoding.
	Workers            int           `envconfig:"WORKERS" default:"0" validate:"gte=0"`
	DecodeTimeout      time.Duration `envconfig:"DECODE_TIMEOUT" default:"2m" validate:"gte=0"`
	Wgrib2Path         string        `envconfig:"WGRIB2_PATH" default:"wgrib2" validate:"required"`
	InventoryCacheSize int           `envconfig:"INVENTORY_CACHE_SIZE" default:"64" validate:"gt=0"`

	// Service.
	KafkaBrokers     []string      `ignored:"true" validate:"min=1"`
	KafkaSourceTopic string        `envconfig:"KAFKA_SOURCE_TOPIC" default:"grid-cycle-requests" validate:"required"`
	KafkaSinkTopic   string        `envconfig:"KAFKA_SINK_TOPIC" default:"grid-ingest-results" validate:"required"`
	KafkaGroupID     string        `envconfig:"KAFKA_GROUP_ID" default:"weather-grid-etl" validate:"required"`
	HTTPAddr         string        `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat        string        `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
	ShutdownTimeout  time.Duration `ignored:"true"`

	BatchSize          int           `ignored:"true"`
	BatchFlushInterval time.Duration `ignored:"true"`
}

// ConfigError wraps a failure to read or validate the environment.
type ConfigError struct {
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is read if present and
// never overrides variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Message: "failed to process environment configuration", Err: err}
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, &ConfigError{Message: "invalid SHUTDOWN_TIMEOUT", Err: err}
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, &ConfigError{Message: "invalid BATCH_SIZE", Err: err}
	}
	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, &ConfigError{Message: "invalid BATCH_FLUSH_INTERVAL", Err: err}
	}
	cfg.ShutdownTimeout = shutdownTimeout
	cfg.BatchSize = batchSize
	cfg.BatchFlushInterval = flushInterval
	cfg.KafkaBrokers = sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092"))

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Message: "configuration validation failed", Err: err}
	}
	if err := domain.ValidateSource(cfg.Source); err != nil {
		return nil, &ConfigError{Message: "invalid SOURCE", Err: err}
	}
	if err := cfg.BBox().Validate(); err != nil {
		return nil, &ConfigError{Message: "invalid bounding box", Err: err}
	}
	return &cfg, nil
}

// BBox returns the configured region of interest.
func (c *Config) BBox() domain.BBox {
	return domain.BBox{LatMin: c.BBoxLatMin, LatMax: c.BBoxLatMax, LonMin: c.BBoxLonMin, LonMax: c.BBoxLonMax}
}

// GustOptions returns the configured gust estimator.
func (c *Config) GustOptions() (domain.GustOptions, error) {
	m, err := domain.ParseGustMethod(c.GustMethod)
	if err != nil {
		return domain.GustOptions{}, err
	}
	return domain.GustOptions{Method: m, Factor: c.GustFactor, Alpha: c.GustAlpha, Beta: c.GustBeta}, nil
}

// WorkerCount resolves WORKERS, where 0 means one per CPU.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Catalog returns the field catalog: FIELD_CATALOG_FILE if set, otherwise
// the built-in catalog for SOURCE.
func (c *Config) Catalog() (domain.Catalog, error) {
	if c.FieldCatalogFile != "" {
		return domain.LoadCatalogFile(c.FieldCatalogFile)
	}
	cat, err := domain.CatalogFor(c.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: set FIELD_CATALOG_FILE", err)
	}
	return cat, nil
}
