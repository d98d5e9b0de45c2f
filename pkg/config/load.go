package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/search-harvester/pkg/graphql"
	"github.com/Sternrassler/search-harvester/pkg/harvest"
	"github.com/Sternrassler/search-harvester/pkg/search/organization"
	"github.com/Sternrassler/search-harvester/pkg/search/repository"
	"github.com/Sternrassler/search-harvester/pkg/search/user"
	"github.com/Sternrassler/search-harvester/pkg/search/usercount"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g.
// HARVESTER_QUEUE_CONCURRENCY for queue.concurrency.
const EnvPrefix = "HARVESTER"

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"data-dir":     "data_directory",
	"log-level":    "log.level",
	"log-pretty":   "log.pretty",
	"metrics-addr": "metrics_addr",
	"redis-addr":   "redis.addr",
	"concurrency":  "queue.concurrency",
	"max-run-time": "queue.max_run_time",
}

// Load reads the configuration. path may be empty, in which case
// harvester.yaml is looked up in the working directory and its absence is
// not an error. Flags present in flags override file and environment.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("harvester")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("github.token", EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN"); err != nil {
		return nil, fmt.Errorf("bind token env: %w", err)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Commands.UserSearch.UserCountDataDirectory == "" {
		cfg.Commands.UserSearch.UserCountDataDirectory = cfg.CommandDataDirectory(CommandUserCountSearch)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_directory", "data")
	v.SetDefault("metrics_addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	gql := graphql.DefaultConfig(nil, "")
	v.SetDefault("github.endpoint", gql.Endpoint)
	v.SetDefault("github.token", "")
	v.SetDefault("github.user_agent", gql.UserAgent)
	v.SetDefault("github.request_timeout", gql.RequestTimeout)
	v.SetDefault("github.max_retries", gql.Retry.MaxAttempts)
	v.SetDefault("github.cache_ttl", "1h")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	run := harvest.DefaultOptions()
	v.SetDefault("queue.concurrency", run.Queue.Concurrency)
	v.SetDefault("queue.per_task_timeout", run.Queue.PerTaskTimeout)
	v.SetDefault("queue.interval", run.Queue.Interval)
	v.SetDefault("queue.interval_cap", run.Queue.IntervalCap)
	v.SetDefault("queue.retry_count", run.Queue.RetryCount)
	v.SetDefault("queue.report_period", run.Queue.ReportPeriod)
	v.SetDefault("queue.max_run_time", run.Queue.MaxRunTime)
	v.SetDefault("queue.state_save_period", run.StateSavePeriod)
	v.SetDefault("rate_limit.stop_percent", run.RateLimitStopPercent)

	repo := repository.DefaultConfig()
	v.SetDefault("commands.repository_search.exclude_repositories_created_before", repo.ExcludeRepositoriesCreatedBefore)
	v.SetDefault("commands.repository_search.min_age_in_days", repo.MinAgeInDays)
	v.SetDefault("commands.repository_search.max_inactivity_days", repo.MaxInactivityDays)
	v.SetDefault("commands.repository_search.min_stars", repo.MinStars)
	v.SetDefault("commands.repository_search.min_forks", repo.MinForks)
	v.SetDefault("commands.repository_search.min_size_in_kb", repo.MinSizeInKb)
	v.SetDefault("commands.repository_search.search_period_in_days", repo.SearchPeriodInDays)
	v.SetDefault("commands.repository_search.page_size", repo.PageSize)

	org := organization.DefaultConfig()
	v.SetDefault("commands.organization_repositories.organizations_file", org.OrganizationsFile)
	v.SetDefault("commands.organization_repositories.page_size", org.PageSize)

	uc := usercount.DefaultConfig()
	v.SetDefault("commands.user_count_search.locations_file", uc.LocationsFile)
	v.SetDefault("commands.user_count_search.min_repositories", uc.MinRepositories)
	v.SetDefault("commands.user_count_search.min_followers", uc.MinFollowers)

	us := user.DefaultConfig()
	v.SetDefault("commands.user_search.min_repositories", us.MinRepositories)
	v.SetDefault("commands.user_search.min_followers", us.MinFollowers)
	v.SetDefault("commands.user_search.exclude_users_signed_up_before", us.ExcludeUsersSignedUpBefore)
	v.SetDefault("commands.user_search.min_user_age", us.MinUserAge)
	v.SetDefault("commands.user_search.contrib_max_age", us.ContribMaxAge)
	v.SetDefault("commands.user_search.contrib_min_age", us.ContribMinAge)
	v.SetDefault("commands.user_search.user_count_data_directory", us.UserCountDataDirectory)
	v.SetDefault("commands.user_search.search_period_in_days_for_10000_users", us.SearchPeriodInDaysFor10000Users)
	v.SetDefault("commands.user_search.contrib_search_period_parts", us.ContribSearchPeriodParts)
	v.SetDefault("commands.user_search.page_size", us.PageSize)
}
