package repository

import (
	"fmt"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/period"
	"github.com/Sternrassler/search-harvester/pkg/task"
	"github.com/go-playground/validator/v10"
)

// Config holds the search criteria and seeding granularity.
type Config struct {
	// Repositories created before this date are excluded.
	ExcludeRepositoriesCreatedBefore string `mapstructure:"exclude_repositories_created_before" validate:"required,datetime=2006-01-02"`

	// Repositories younger than this many days are excluded.
	MinAgeInDays int `mapstructure:"min_age_in_days" validate:"gte=0"`

	// Repositories without a push in this many days are excluded.
	MaxInactivityDays int `mapstructure:"max_inactivity_days" validate:"gte=0"`

	MinStars    int `mapstructure:"min_stars" validate:"gte=0"`
	MinForks    int `mapstructure:"min_forks" validate:"gte=0"`
	MinSizeInKb int `mapstructure:"min_size_in_kb" validate:"gte=0"`

	// Length of each seeded creation interval.
	SearchPeriodInDays int `mapstructure:"search_period_in_days" validate:"gte=1"`

	// Repositories requested per page.
	PageSize int `mapstructure:"page_size" validate:"gte=1,lte=100"`
}

// DefaultConfig returns the default criteria.
func DefaultConfig() Config {
	return Config{
		ExcludeRepositoriesCreatedBefore: "2008-01-01",
		MinAgeInDays:                     365,
		MaxInactivityDays:                90,
		MinStars:                         50,
		MinForks:                         50,
		MinSizeInKb:                      1000,
		SearchPeriodInDays:               5,
		PageSize:                         100,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("repository search config: %w", err)
	}
	return nil
}

// Command seeds and instantiates repository search tasks.
type Command struct {
	config Config
	now    func() time.Time
}

var _ task.Command[Result, Spec] = (*Command)(nil)

// NewCommand returns a command. A nil now uses time.Now.
func NewCommand(cfg Config, now func() time.Time) *Command {
	if now == nil {
		now = time.Now
	}
	return &Command{config: cfg, now: now}
}

// CreateTask implements task.Command.
func (c *Command) CreateTask(_ *task.Context, spec Spec) task.Task[Result, Spec] {
	return NewTask(spec)
}

// CreateNewQueueItems implements task.Command. The creation range
// [excludeBefore, now-minAge] is partitioned into consecutive inclusive
// intervals of SearchPeriodInDays days.
func (c *Command) CreateNewQueueItems(tc *task.Context) ([]Spec, error) {
	if err := c.config.Validate(); err != nil {
		return nil, err
	}

	start, err := period.ParseDate(c.config.ExcludeRepositoriesCreatedBefore)
	if err != nil {
		return nil, err
	}
	today := period.DateOf(c.now().UTC())
	end := today.AddDays(-c.config.MinAgeInDays)
	hasActivityAfter := today.AddDays(-c.config.MaxInactivityDays)

	tc.Logger.Info().
		Str("start_date", start.String()).
		Str("end_date", end.String()).
		Str("has_activity_after", hasActivityAfter.String()).
		Msg("Creating a new process state")

	ranges := period.Partition(start, end, c.config.SearchPeriodInDays)
	specs := make([]Spec, 0, len(ranges))
	for _, r := range ranges {
		specs = append(specs, Spec{
			Meta:             task.RootMeta(),
			MinStars:         c.config.MinStars,
			MinForks:         c.config.MinForks,
			MinSizeInKb:      c.config.MinSizeInKb,
			HasActivityAfter: hasActivityAfter,
			CreatedAfter:     r.From,
			CreatedBefore:    r.To,
			PageSize:         c.config.PageSize,
		})
	}
	return specs, nil
}
