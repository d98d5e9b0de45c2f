// Package config loads the harvester configuration from a YAML file,
// HARVESTER_* environment variables and command-line flags.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/graphql"
	"github.com/Sternrassler/search-harvester/pkg/harvest"
	"github.com/Sternrassler/search-harvester/pkg/logging"
	"github.com/Sternrassler/search-harvester/pkg/queue"
	"github.com/Sternrassler/search-harvester/pkg/search/organization"
	"github.com/Sternrassler/search-harvester/pkg/search/repository"
	"github.com/Sternrassler/search-harvester/pkg/search/user"
	"github.com/Sternrassler/search-harvester/pkg/search/usercount"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// Command names.
const (
	CommandRepositorySearch         = "repository-search"
	CommandOrganizationRepositories = "organization-repositories"
	CommandUserCountSearch          = "user-count-search"
	CommandUserSearch               = "user-search"
)

// CommandNames lists every command in pipeline order.
var CommandNames = []string{
	CommandRepositorySearch,
	CommandOrganizationRepositories,
	CommandUserCountSearch,
	CommandUserSearch,
}

// Config holds all harvester configuration.
type Config struct {
	// DataDirectory holds one sub-directory per command.
	DataDirectory string `mapstructure:"data_directory" validate:"required"`

	// MetricsAddr serves /metrics when set.
	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	Log       LogConfig       `mapstructure:"log"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Command sections are validated when their command runs.
	Commands CommandsConfig `mapstructure:"commands" validate:"-"`
}

// LogConfig contains the logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Pretty bool   `mapstructure:"pretty"`
}

// GitHubConfig contains the GraphQL transport settings.
type GitHubConfig struct {
	Endpoint       string        `mapstructure:"endpoint" validate:"required,url"`
	Token          string        `mapstructure:"token"`
	UserAgent      string        `mapstructure:"user_agent" validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=1"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

// RedisConfig contains the optional Redis connection. An empty Addr runs
// without Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// QueueConfig contains the dispatch settings.
type QueueConfig struct {
	Concurrency     int           `mapstructure:"concurrency" validate:"gte=1"`
	PerTaskTimeout  time.Duration `mapstructure:"per_task_timeout" validate:"gte=0"`
	Interval        time.Duration `mapstructure:"interval" validate:"gte=0"`
	IntervalCap     int           `mapstructure:"interval_cap" validate:"gte=1"`
	RetryCount      int           `mapstructure:"retry_count" validate:"gte=0"`
	ReportPeriod    time.Duration `mapstructure:"report_period" validate:"gte=0"`
	MaxRunTime      time.Duration `mapstructure:"max_run_time" validate:"gte=0"`
	StateSavePeriod time.Duration `mapstructure:"state_save_period" validate:"gte=0"`
}

// RateLimitConfig contains the quota threshold.
type RateLimitConfig struct {
	StopPercent int `mapstructure:"stop_percent" validate:"gte=0,lte=100"`
}

// CommandsConfig holds one section per command.
type CommandsConfig struct {
	RepositorySearch         repository.Config   `mapstructure:"repository_search"`
	OrganizationRepositories organization.Config `mapstructure:"organization_repositories"`
	UserCountSearch          usercount.Config    `mapstructure:"user_count_search"`
	UserSearch               user.Config         `mapstructure:"user_search"`
}

// Validate checks the global settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// CommandDataDirectory returns the data directory of a command.
func (c *Config) CommandDataDirectory(command string) string {
	return filepath.Join(c.DataDirectory, command)
}

// LoggingConfig returns the logger setup.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// HarvestOptions returns the run options.
func (c *Config) HarvestOptions() harvest.Options {
	return harvest.Options{
		Queue: queue.Options{
			Concurrency:    c.Queue.Concurrency,
			PerTaskTimeout: c.Queue.PerTaskTimeout,
			Interval:       c.Queue.Interval,
			IntervalCap:    c.Queue.IntervalCap,
			RetryCount:     c.Queue.RetryCount,
			ReportPeriod:   c.Queue.ReportPeriod,
			MaxRunTime:     c.Queue.MaxRunTime,
		},
		RateLimitStopPercent: c.RateLimit.StopPercent,
		StateSavePeriod:      c.Queue.StateSavePeriod,
	}
}

// GraphQLConfig returns the transport settings. redisClient may be nil.
func (c *Config) GraphQLConfig(redisClient *redis.Client) graphql.Config {
	cfg := graphql.DefaultConfig(redisClient, c.GitHub.Token)
	cfg.Endpoint = c.GitHub.Endpoint
	cfg.UserAgent = c.GitHub.UserAgent
	cfg.RequestTimeout = c.GitHub.RequestTimeout
	cfg.RateLimitStopPercent = c.RateLimit.StopPercent
	cfg.Retry.MaxAttempts = c.GitHub.MaxRetries
	if redisClient != nil {
		cfg.CacheTTL = c.GitHub.CacheTTL
	}
	return cfg
}

// RedisOptions returns the Redis client options, or nil when Redis is not
// configured.
func (c *Config) RedisOptions() *redis.Options {
	if c.Redis.Addr == "" {
		return nil
	}
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}
