// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load(ctx) layers defaults, optional YAML file, and env vars.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// CatalogPath points at the cohort catalog YAML document.
	CatalogPath string `koanf:"catalog_path" validate:"required"`

	// WatchCatalog enables hot reload of the catalog file.
	WatchCatalog bool `koanf:"watch_catalog"`

	// CheckpointPath is the on-disk checkpoint directory. Empty selects
	// an in-memory checkpoint store, which loses recovery on restart.
	CheckpointPath string `koanf:"checkpoint_path"`

	// StoreBackend selects the score repository: memory or redis.
	StoreBackend string `koanf:"store_backend" validate:"oneof=memory redis"`

	// RedisAddr, RedisPassword and RedisDB configure the redis backend.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db" validate:"gte=0"`

	// QueueCapacity bounds each priority tier of the work unit queue.
	QueueCapacity int `koanf:"queue_capacity" validate:"gt=0"`

	// MinWorkers and MaxWorkers bound the autoscaled worker pool.
	MinWorkers int `koanf:"min_workers" validate:"gt=0"`
	MaxWorkers int `koanf:"max_workers" validate:"gtefield=MinWorkers"`

	// LowWatermark and HighWatermark are the queue depths that drive
	// scale-down and scale-up.
	LowWatermark  int `koanf:"low_watermark" validate:"gte=0"`
	HighWatermark int `koanf:"high_watermark" validate:"gtfield=LowWatermark"`

	// UnitSize is the target VIN count per work unit.
	UnitSize int `koanf:"unit_size" validate:"gt=0"`

	// MaxPriorityUnits caps the fast-path units emitted per job.
	MaxPriorityUnits int `koanf:"max_priority_units" validate:"gte=0"`

	// ThresholdMargin is the posterior distance to a severity boundary
	// that qualifies a vehicle for the fast path.
	ThresholdMargin float64 `koanf:"threshold_margin" validate:"gte=0,lte=1"`

	// MaxRetries bounds unit retries before dead-lettering.
	MaxRetries int `koanf:"max_retries" validate:"gte=0"`

	// UnitTimeoutSeconds bounds one unit's processing time.
	UnitTimeoutSeconds int `koanf:"unit_timeout_seconds" validate:"gt=0"`

	// FailureRateThreshold is the dead-lettered unit fraction above
	// which a finished job is marked failed instead of degraded.
	FailureRateThreshold float64 `koanf:"failure_rate_threshold" validate:"gte=0,lte=1"`

	// CheckpointEveryN and CheckpointEverySeconds set flush cadence.
	CheckpointEveryN       int `koanf:"checkpoint_every_n" validate:"gt=0"`
	CheckpointEverySeconds int `koanf:"checkpoint_every_seconds" validate:"gt=0"`

	// DeadlineHours is the batch completion window from job start.
	DeadlineHours int `koanf:"deadline_hours" validate:"gt=0"`

	// ChangeLookbackHours bounds the change detection window.
	ChangeLookbackHours int `koanf:"change_lookback_hours" validate:"gt=0"`

	// Combiner names the evidence combination strategy.
	Combiner string `koanf:"combiner" validate:"oneof=interpolated_odds full_ratio"`

	// FullRefresh forces jobs to rescore the entire fleet.
	FullRefresh bool `koanf:"full_refresh"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:               "info",
		Addr:                   ":9080",
		CatalogPath:            "catalog.yaml",
		WatchCatalog:           true,
		CheckpointPath:         "",
		StoreBackend:           "memory",
		RedisAddr:              "localhost:6379",
		RedisDB:                0,
		QueueCapacity:          100_000,
		MinWorkers:             runtime.NumCPU(),
		MaxWorkers:             runtime.NumCPU() * 4,
		LowWatermark:           50,
		HighWatermark:          1000,
		UnitSize:               500,
		MaxPriorityUnits:       4,
		ThresholdMargin:        0.02,
		MaxRetries:             3,
		UnitTimeoutSeconds:     120,
		FailureRateThreshold:   0.05,
		CheckpointEveryN:       5000,
		CheckpointEverySeconds: 30,
		DeadlineHours:          6,
		ChangeLookbackHours:    26,
		Combiner:               "interpolated_odds",
		FullRefresh:            false,
	}
}

// UnitTimeout returns the per-unit timeout as a duration.
func (c *Config) UnitTimeout() time.Duration {
	return time.Duration(c.UnitTimeoutSeconds) * time.Second
}

// CheckpointInterval returns the time-based checkpoint cadence.
func (c *Config) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointEverySeconds) * time.Second
}

// Deadline returns the completion window as a duration.
func (c *Config) Deadline() time.Duration {
	return time.Duration(c.DeadlineHours) * time.Hour
}

// ChangeLookback returns the change detection window as a duration.
func (c *Config) ChangeLookback() time.Duration {
	return time.Duration(c.ChangeLookbackHours) * time.Hour
}
