// Package config loads RationGuard configuration from an optional YAML file and
// RATIONGUARD_* environment variables on top of domain.DefaultConfig.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/rationguard/internal/domain"
	"github.com/opensource-finance/rationguard/internal/policy"
)

// EnvPrefix prefixes every environment override, e.g. RATIONGUARD_SERVER_PORT.
const EnvPrefix = "RATIONGUARD"

// ProfileEnv selects the default set: "single" (SQLite, memory, channels) or
// "distributed" (PostgreSQL, Redis, NATS).
const ProfileEnv = EnvPrefix + "_PROFILE"

// envBinding maps a config key to additional, conventional environment names.
type envBinding struct {
	ConfigKey string
	EnvVars   []string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"server.port", []string{"RATIONGUARD_SERVER_PORT", "PORT"}, validatePort},
		{"face.extractorurl", []string{"RATIONGUARD_FACE_EXTRACTORURL", "FACE_EXTRACTOR_URL"}, nil},
		{"face.matchthreshold", []string{"RATIONGUARD_FACE_MATCHTHRESHOLD", "FACE_MATCH_THRESHOLD"}, validateFraction},
		{"repository.postgrespassword", []string{"RATIONGUARD_REPOSITORY_POSTGRESPASSWORD", "POSTGRES_PASSWORD"}, nil},
		{"cache.redispassword", []string{"RATIONGUARD_CACHE_REDISPASSWORD", "REDIS_PASSWORD"}, nil},
		{"eventbus.amqpurl", []string{"RATIONGUARD_EVENTBUS_AMQPURL", "AMQP_URL"}, nil},
	}
}

// Load reads configuration. path may be empty, in which case only defaults and
// the environment apply.
func Load(path string) (*domain.Config, error) {
	defaults, err := profileDefaults(os.Getenv(ProfileEnv))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, defaults)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func profileDefaults(profile string) (*domain.Config, error) {
	switch strings.ToLower(profile) {
	case "", "single":
		return domain.DefaultConfig(), nil
	case "distributed":
		return domain.DistributedConfig(), nil
	default:
		return nil, fmt.Errorf("%w: unknown %s %q", domain.ErrValidation, ProfileEnv, profile)
	}
}

// bindEnvVars binds the conventional names and validates any that are set.
func bindEnvVars(v *viper.Viper) error {
	var problems []string
	for _, b := range getEnvBindings() {
		args := append([]string{b.ConfigKey}, b.EnvVars...)
		if err := v.BindEnv(args...); err != nil {
			problems = append(problems, fmt.Sprintf("failed to bind %s: %v", b.ConfigKey, err))
			continue
		}
		if b.Validate == nil {
			continue
		}
		for _, name := range b.EnvVars {
			if value := os.Getenv(name); value != "" {
				if err := b.Validate(value); err != nil {
					problems = append(problems, fmt.Sprintf("invalid %s value '%s': %v", name, value, err))
				}
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func setDefaults(v *viper.Viper, d *domain.Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.readtimeout", d.Server.ReadTimeout)
	v.SetDefault("server.writetimeout", d.Server.WriteTimeout)

	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlitepath", d.Repository.SQLitePath)
	v.SetDefault("repository.postgreshost", d.Repository.PostgresHost)
	v.SetDefault("repository.postgresport", d.Repository.PostgresPort)
	v.SetDefault("repository.postgresuser", d.Repository.PostgresUser)
	v.SetDefault("repository.postgrespassword", d.Repository.PostgresPassword)
	v.SetDefault("repository.postgresdb", d.Repository.PostgresDB)
	v.SetDefault("repository.postgressslmode", d.Repository.PostgresSSLMode)
	v.SetDefault("repository.maxopenconns", d.Repository.MaxOpenConns)
	v.SetDefault("repository.maxidleconns", d.Repository.MaxIdleConns)
	v.SetDefault("repository.connmaxlifetime", d.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.localttl", d.Cache.LocalTTL)
	v.SetDefault("cache.localcleanup", d.Cache.LocalCleanup)
	v.SetDefault("cache.redisaddr", d.Cache.RedisAddr)
	v.SetDefault("cache.redispassword", d.Cache.RedisPassword)
	v.SetDefault("cache.redisdb", d.Cache.RedisDB)
	v.SetDefault("cache.rediskeyspace", d.Cache.RedisKeyspace)
	v.SetDefault("cache.enabletwophase", d.Cache.EnableTwoPhase)
	v.SetDefault("cache.lookupttl", d.Cache.LookupTTL)

	v.SetDefault("eventbus.type", d.EventBus.Type)
	v.SetDefault("eventbus.channelbuffersize", d.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.natsurl", d.EventBus.NATSUrl)
	v.SetDefault("eventbus.natstoken", d.EventBus.NATSToken)
	v.SetDefault("eventbus.natsmaxreconnects", d.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.natsreconnectwait", d.EventBus.NATSReconnectWait)
	v.SetDefault("eventbus.natsqueuegroup", d.EventBus.NATSQueueGroup)
	v.SetDefault("eventbus.amqpurl", d.EventBus.AMQPUrl)
	v.SetDefault("eventbus.amqpexchange", d.EventBus.AMQPExchange)
	v.SetDefault("eventbus.amqpqueue", d.EventBus.AMQPQueue)

	v.SetDefault("face.extractorurl", d.Face.ExtractorURL)
	v.SetDefault("face.timeout", d.Face.Timeout)
	v.SetDefault("face.metric", d.Face.Metric)
	v.SetDefault("face.matchthreshold", d.Face.MatchThreshold)
	v.SetDefault("face.acceptexpression", d.Face.AcceptExpression)

	v.SetDefault("detection.cardhistorylimit", d.Detection.CardHistoryLimit)
	v.SetDefault("detection.locationhistorylimit", d.Detection.LocationHistoryLimit)
	v.SetDefault("detection.timingwindow", d.Detection.TimingWindow)
	v.SetDefault("detection.rapidrepeatgap", d.Detection.RapidRepeatGap)

	v.SetDefault("verification.recordfailedattempts", d.Verification.RecordFailedAttempts)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate checks values that would otherwise fail later at wiring time.
func Validate(cfg *domain.Config) error {
	var problems []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", cfg.Server.Port))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("unsupported repository.driver %q", cfg.Repository.Driver))
	}
	switch cfg.Face.Metric {
	case "", "cosine", "euclidean":
	default:
		problems = append(problems, fmt.Sprintf("unsupported face.metric %q", cfg.Face.Metric))
	}
	if cfg.Face.MatchThreshold < 0 || cfg.Face.MatchThreshold > 1 {
		problems = append(problems, fmt.Sprintf("face.matchthreshold %v must be between 0 and 1", cfg.Face.MatchThreshold))
	}
	if cfg.Face.ExtractorURL == "" {
		problems = append(problems, "face.extractorurl is required")
	}
	if err := policy.Validate(cfg.Face.AcceptExpression); err != nil {
		problems = append(problems, fmt.Sprintf("face.acceptexpression: %v", err))
	}
	if cfg.Detection.TimingWindow < 0 || cfg.Detection.RapidRepeatGap < 0 {
		problems = append(problems, "detection windows must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: invalid configuration: %s", domain.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func validatePort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("must be between 1 and 65535")
	}
	return nil
}

func validateFraction(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}
