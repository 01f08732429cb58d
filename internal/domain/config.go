package domain

import (
	"time"
)

// Config holds the complete RationGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`

	// Verification pipeline
	Face         FaceConfig         `json:"face" mapstructure:"face"`
	Detection    DetectionConfig    `json:"detection" mapstructure:"detection"`
	Verification VerificationConfig `json:"verification" mapstructure:"verification"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"readtimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"writetimeout"` // seconds
}

// FaceConfig configures embedding extraction and comparison.
type FaceConfig struct {
	// ExtractorURL is the endpoint of the external embedding service.
	ExtractorURL string        `json:"extractorUrl" mapstructure:"extractorurl"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`

	// Metric is "cosine" or "euclidean". Fixed for the lifetime of the process.
	Metric string `json:"metric" mapstructure:"metric"`

	// MatchThreshold is the minimum confidence, as a fraction, required on top of a metric match.
	MatchThreshold float64 `json:"matchThreshold" mapstructure:"matchthreshold"`

	// AcceptExpression is a CEL expression over is_match, confidence, min_confidence and distance.
	// Empty means the default acceptance rule.
	AcceptExpression string `json:"acceptExpression" mapstructure:"acceptexpression"`
}

// DetectionConfig tunes the fraud-signal evaluators.
type DetectionConfig struct {
	CardHistoryLimit     int           `json:"cardHistoryLimit" mapstructure:"cardhistorylimit"`
	LocationHistoryLimit int           `json:"locationHistoryLimit" mapstructure:"locationhistorylimit"`
	TimingWindow         time.Duration `json:"timingWindow" mapstructure:"timingwindow"`
	RapidRepeatGap       time.Duration `json:"rapidRepeatGap" mapstructure:"rapidrepeatgap"`
}

// VerificationConfig holds verification flow switches.
type VerificationConfig struct {
	// RecordFailedAttempts writes a failed transaction when the face does not match.
	RecordFailedAttempts bool `json:"recordFailedAttempts" mapstructure:"recordfailedattempts"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// DefaultDetectionConfig returns the evaluator defaults.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		CardHistoryLimit:     5,
		LocationHistoryLimit: 10,
		TimingWindow:         6 * time.Hour,
		RapidRepeatGap:       2 * time.Hour,
	}
}

// DefaultConfig returns a single-node configuration with SQLite, in-memory cache and channels.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./rationguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalTTL:     5 * time.Minute,
			LocalCleanup: 10 * time.Minute,
			LookupTTL:    time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Face: FaceConfig{
			ExtractorURL:   "http://localhost:5001/embed",
			Timeout:        10 * time.Second,
			Metric:         "cosine",
			MatchThreshold: 0.8,
		},
		Detection: DefaultDetectionConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DistributedConfig returns a configuration for PostgreSQL + Redis + NATS deployments.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "rationguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalTTL:       30 * time.Second,
		LocalCleanup:   time.Minute,
		LookupTTL:      time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	return cfg
}
