package user

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/output"
	"github.com/Sternrassler/search-harvester/pkg/period"
	"github.com/Sternrassler/search-harvester/pkg/process"
	"github.com/Sternrassler/search-harvester/pkg/search/usercount"
	"github.com/Sternrassler/search-harvester/pkg/task"
	"github.com/go-playground/validator/v10"
)

// usersPerSearchPeriod is the user count SearchPeriodInDaysFor10000Users
// refers to.
const usersPerSearchPeriod = 10000

// ErrUserCountRunIncomplete is returned when the latest user count run has
// not completed.
var ErrUserCountRunIncomplete = errors.New("latest user count run is not complete")

// Config holds the user search criteria and seeding granularity.
type Config struct {
	MinRepositories int `mapstructure:"min_repositories" validate:"gte=0"`
	MinFollowers    int `mapstructure:"min_followers" validate:"gte=0"`

	// Users who signed up before this date are excluded.
	ExcludeUsersSignedUpBefore string `mapstructure:"exclude_users_signed_up_before" validate:"required,datetime=2006-01-02"`

	// Users who signed up in the last MinUserAge days are excluded.
	MinUserAge int `mapstructure:"min_user_age" validate:"gte=0"`

	// Contributions are searched within [now-ContribMaxAge, now-ContribMinAge].
	ContribMaxAge int `mapstructure:"contrib_max_age" validate:"gte=0,gtefield=ContribMinAge"`
	ContribMinAge int `mapstructure:"contrib_min_age" validate:"gte=0"`

	// UserCountDataDirectory is the data directory of the user count command.
	// Its latest run must be complete.
	UserCountDataDirectory string `mapstructure:"user_count_data_directory" validate:"required"`

	// Sign-up interval length for a location with 10000 users. Denser
	// locations get proportionally shorter intervals.
	SearchPeriodInDaysFor10000Users int `mapstructure:"search_period_in_days_for_10000_users" validate:"gte=1"`

	// The contribution interval is split into this many parts. Must be a
	// power of two.
	ContribSearchPeriodParts int `mapstructure:"contrib_search_period_parts" validate:"gte=1"`

	// Users requested per page.
	PageSize int `mapstructure:"page_size" validate:"gte=1,lte=100"`
}

// DefaultConfig returns the default criteria. UserCountDataDirectory has no
// default.
func DefaultConfig() Config {
	return Config{
		MinRepositories:                 1,
		MinFollowers:                    0,
		ExcludeUsersSignedUpBefore:      "2008-01-01",
		MinUserAge:                      0,
		ContribMaxAge:                   365,
		ContribMinAge:                   0,
		SearchPeriodInDaysFor10000Users: 5,
		ContribSearchPeriodParts:        1,
		PageSize:                        100,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("user search config: %w", err)
	}
	if p := c.ContribSearchPeriodParts; p&(p-1) != 0 {
		return fmt.Errorf("user search config: contrib_search_period_parts must be a power of two, got %d", p)
	}
	return nil
}

// LoadUserCounts reads the user count per location from the latest run in
// dataDir. Locations without users are left out.
func LoadUserCounts(dataDir string) (map[string]int, error) {
	files := process.NewFileHelper(dataDir)

	dir, err := files.LatestProcessStateDirectory()
	if err != nil {
		return nil, fmt.Errorf("user count data: %w", err)
	}
	header, err := process.ReadHeader(dir)
	if err != nil {
		return nil, fmt.Errorf("user count data: %w", err)
	}
	if !header.Complete() {
		return nil, fmt.Errorf("%w: %s", ErrUserCountRunIncomplete, dir)
	}

	paths, err := files.ProcessOutputFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("user count data: %w", err)
	}

	counts := map[string]int{}
	for _, path := range paths {
		records, err := output.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("user count data: %w", err)
		}
		for _, rec := range records {
			var c usercount.Count
			if err := json.Unmarshal(rec.Result, &c); err != nil {
				return nil, fmt.Errorf("user count data: decode record of %s: %w", rec.SourceSpecID, err)
			}
			if c.UserCount < 1 {
				continue
			}
			counts[c.Location] = c.UserCount
		}
	}
	return counts, nil
}

// Command seeds and instantiates user search tasks.
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

// CreateNewQueueItems implements task.Command. One root spec is created per
// location, sign-up partition and contribution part. The sign-up partition
// span of a location shrinks with its user count.
func (c *Command) CreateNewQueueItems(tc *task.Context) ([]Spec, error) {
	if err := c.config.Validate(); err != nil {
		return nil, err
	}

	counts, err := LoadUserCounts(c.config.UserCountDataDirectory)
	if err != nil {
		return nil, err
	}

	signUpStart, err := period.ParseDate(c.config.ExcludeUsersSignedUpBefore)
	if err != nil {
		return nil, err
	}
	today := period.DateOf(c.now().UTC())
	signUpEnd := today.AddDays(-c.config.MinUserAge)

	contrib := period.Range{
		From: today.AddDays(-c.config.ContribMaxAge),
		To:   today.AddDays(-c.config.ContribMinAge),
	}
	contribParts, err := contrib.SplitParts(c.config.ContribSearchPeriodParts)
	if err != nil {
		return nil, err
	}

	tc.Logger.Info().
		Str("start_date", signUpStart.String()).
		Str("end_date", signUpEnd.String()).
		Str("contrib_start_date", contrib.From.String()).
		Str("contrib_end_date", contrib.To.String()).
		Int("locations", len(counts)).
		Msg("Creating a new process state")

	locations := make([]string, 0, len(counts))
	for loc := range counts {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	var specs []Spec
	for _, loc := range locations {
		span := period.SpanForDensity(c.config.SearchPeriodInDaysFor10000Users, usersPerSearchPeriod, counts[loc])
		for _, signUp := range period.Partition(signUpStart, signUpEnd, span) {
			for _, part := range contribParts {
				specs = append(specs, Spec{
					Meta:            task.RootMeta(),
					Location:        loc,
					SignedUpAfter:   signUp.From,
					SignedUpBefore:  signUp.To,
					MinRepositories: c.config.MinRepositories,
					MinFollowers:    c.config.MinFollowers,
					ContribFromDate: part.From,
					ContribToDate:   part.To,
					PageSize:        c.config.PageSize,
				})
			}
		}
	}
	return specs, nil
}
