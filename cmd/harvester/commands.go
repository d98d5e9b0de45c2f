package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/cache"
	"github.com/Sternrassler/search-harvester/pkg/config"
	"github.com/Sternrassler/search-harvester/pkg/graphql"
	"github.com/Sternrassler/search-harvester/pkg/harvest"
	"github.com/Sternrassler/search-harvester/pkg/logging"
	"github.com/Sternrassler/search-harvester/pkg/metrics"
	"github.com/Sternrassler/search-harvester/pkg/process"
	"github.com/Sternrassler/search-harvester/pkg/search/organization"
	"github.com/Sternrassler/search-harvester/pkg/search/repository"
	"github.com/Sternrassler/search-harvester/pkg/search/user"
	"github.com/Sternrassler/search-harvester/pkg/search/usercount"
	"github.com/Sternrassler/search-harvester/pkg/task"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// errIncomplete is returned by latest-complete when the latest run is not
// complete.
var errIncomplete = errors.New("latest run is not complete")

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "harvester",
		Short: "Enumerate GitHub search results beyond the 1000 result window",
		Long: `harvester runs search commands against the GitHub GraphQL API.

Every command stores its runs under <data_directory>/<command>. An execution
resumes the latest run when it is not complete, otherwise it starts a new one.
Queries that time out are split into narrower ones until they succeed.

Commands:
  ` + strings.Join(config.CommandNames, "\n  "),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default ./harvester.yaml)")
	flags.String("data-dir", "data", "root data directory")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-pretty", false, "human-readable log output")
	flags.String("redis-addr", "", "redis address for shared rate limit state and response cache")

	root.AddCommand(newExecuteCommand(), newLatestCompleteCommand(), newStatusCommand(), newPurgeCacheCommand())
	return root
}

func newExecuteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "execute <command>",
		Short:     "Resume or start a run of a search command",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: config.CommandNames,
		RunE:      runExecute,
	}
	cmd.Flags().Int("concurrency", 0, "concurrent tasks")
	cmd.Flags().Duration("max-run-time", 0, "stop dispatching after this duration (0 disables)")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func newLatestCompleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "latest-complete <command>",
		Short: "Report whether the latest run of a command is complete",
		Long: `Prints true or false. The exit code is 0 when the latest run is complete
and 2 otherwise, so pipelines can chain commands.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: config.CommandNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			complete, err := harvest.LatestComplete(cfg.CommandDataDirectory(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), complete)
			if !complete {
				return errIncomplete
			}
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "status <command>",
		Short:     "Print the latest run of a command as YAML",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: config.CommandNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sum, err := harvest.LatestSummary(cfg.CommandDataDirectory(args[0]))
			if errors.Is(err, process.ErrNoProcessState) {
				fmt.Fprintf(cmd.OutOrStdout(), "no runs in %s\n", cfg.CommandDataDirectory(args[0]))
				return nil
			}
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(sum); err != nil {
				return fmt.Errorf("encode summary: %w", err)
			}
			return enc.Close()
		},
	}
}

func newPurgeCacheCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-cache",
		Short: "Remove every cached response of the configured endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.LoggingConfig())
			redisClient, err := connectRedis(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if redisClient == nil {
				return errors.New("purge-cache requires redis.addr")
			}
			defer redisClient.Close()

			removed, err := cache.NewStore(redisClient).Purge(cmd.Context(), cfg.GitHub.Endpoint)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached responses\n", removed)
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path, cmd.Flags())
}

func runExecute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logger := logging.Setup(logCfg)

	if cfg.GitHub.Token == "" {
		return errors.New("github token is required (set HARVESTER_GITHUB_TOKEN or GITHUB_TOKEN)")
	}

	if cfg.MetricsAddr != "" {
		if _, err := metrics.Serve(ctx, cfg.MetricsAddr, logging.NewLogger("metrics")); err != nil {
			return err
		}
	}

	redisClient, err := connectRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	client, err := graphql.New(cfg.GraphQLConfig(redisClient), logger)
	if err != nil {
		return fmt.Errorf("create graphql client: %w", err)
	}

	job, err := newJob(cfg, name, client, logger)
	if err != nil {
		return err
	}

	res, err := job.Execute(ctx)
	if res.Directory != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: complete=%t records=%d unresolved=%d errored=%d output=%s\n",
			res.Directory, res.Complete, res.Records, res.Counts.Unresolved, res.Counts.Errored, res.OutputFile)
	}
	return err
}

// connectRedis returns nil when no address is configured.
func connectRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts := cfg.RedisOptions()
	if opts == nil {
		logger.Info().Msg("Redis not configured, rate limit state is process-local and the response cache is disabled")
		return nil, nil
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return client, nil
}

// newJob binds the named command to its data directory.
func newJob(cfg *config.Config, name string, transport task.Transport, logger zerolog.Logger) (harvest.Job, error) {
	dir := cfg.CommandDataDirectory(name)
	opts := cfg.HarvestOptions()
	cmds := cfg.Commands

	switch name {
	case config.CommandRepositorySearch:
		return harvest.New[repository.Result, repository.Spec](name, dir,
			repository.NewCommand(cmds.RepositorySearch, time.Now), transport, opts, logger), nil
	case config.CommandOrganizationRepositories:
		return harvest.New[organization.Result, organization.Spec](name, dir,
			organization.NewCommand(cmds.OrganizationRepositories), transport, opts, logger), nil
	case config.CommandUserCountSearch:
		return harvest.New[usercount.Result, usercount.Spec](name, dir,
			usercount.NewCommand(cmds.UserCountSearch), transport, opts, logger), nil
	case config.CommandUserSearch:
		return harvest.New[user.Result, user.Spec](name, dir,
			user.NewCommand(cmds.UserSearch, time.Now), transport, opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
}
