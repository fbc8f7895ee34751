package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"telemetry-cloud/internal/analytics/domain/statistic"
	masterdata "telemetry-cloud/internal/masterdata/domain"
	"telemetry-cloud/internal/observability/metrics"
)

// Weekday bits of a schedule's day mask.
const (
	DaySunday byte = 1 << iota
	DayMonday
	DayTuesday
	DayWednesday
	DayThursday
	DayFriday
	DaySaturday
	EveryDay = DaySunday | DayMonday | DayTuesday | DayWednesday |
		DayThursday | DayFriday | DaySaturday
)

// ControlSchedule fires one outbound command at a site-local minute
// of day on the selected weekdays.
type ControlSchedule struct {
	ID          string `yaml:"id"`
	UnitID      string `yaml:"unit_id"`
	Variable    string `yaml:"variable"`
	Value       string `yaml:"value"`
	MinuteOfDay int    `yaml:"minute_of_day"`
	DayMask     byte   `yaml:"day_mask"`
	Active      bool   `yaml:"active"`
}

// Validate checks schedule invariants.
func (s ControlSchedule) Validate() error {
	if s.ID == "" {
		return errors.New("schedule: empty id")
	}
	if s.UnitID == "" {
		return errors.New("schedule: empty unit id")
	}
	if s.Variable == "" {
		return errors.New("schedule: empty variable")
	}
	if s.MinuteOfDay < 0 || s.MinuteOfDay >= 24*60 {
		return errors.New("schedule: minute of day out of range")
	}
	if s.DayMask == 0 || s.DayMask > EveryDay {
		return errors.New("schedule: bad day mask")
	}
	return nil
}

// DueAt reports whether the schedule's minute has been reached on an
// enabled weekday. Ticks later in the day still report true so a
// delayed tick cannot skip the day's dispatch; the controller fires at
// most once per local day.
func (s ControlSchedule) DueAt(local time.Time) bool {
	if s.DayMask&(1<<byte(local.Weekday())) == 0 {
		return false
	}
	return local.Hour()*60+local.Minute() >= s.MinuteOfDay
}

// CommandPublisher pushes a command to a unit, fire and forget.
type CommandPublisher interface {
	Publish(ctx context.Context, unitID, variable, value string) error
}

// Controller dispatches schedules from a minute ticker. An absent
// publisher degrades to a logged no-op; publish errors are logged and
// never retried.
type Controller struct {
	schedules []ControlSchedule
	units     masterdata.UnitRepository
	blocks    masterdata.BlockRepository
	sites     masterdata.SiteRepository
	publisher CommandPublisher
	clock     statistic.Clock
	logger    *log.Logger

	offsets map[string]int
	// fired maps schedule id to the local day (year*1000+yday) it last
	// dispatched on.
	fired map[string]int
}

// ControllerOption configures the controller.
type ControllerOption func(*Controller)

// WithControllerClock overrides the clock.
func WithControllerClock(clock statistic.Clock) ControllerOption {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithControllerLogger sets the logger.
func WithControllerLogger(logger *log.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// WithPublisher sets the command transport.
func WithPublisher(publisher CommandPublisher) ControllerOption {
	return func(c *Controller) { c.publisher = publisher }
}

// NewController constructs the controller over a static schedule set.
func NewController(
	schedules []ControlSchedule,
	units masterdata.UnitRepository,
	blocks masterdata.BlockRepository,
	sites masterdata.SiteRepository,
	opts ...ControllerOption,
) (*Controller, error) {
	if units == nil {
		return nil, errors.New("schedule controller: nil unit repository")
	}
	if blocks == nil {
		return nil, errors.New("schedule controller: nil block repository")
	}
	if sites == nil {
		return nil, errors.New("schedule controller: nil site repository")
	}
	for _, s := range schedules {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}

	c := &Controller{
		schedules: schedules,
		units:     units,
		blocks:    blocks,
		sites:     sites,
		clock:     statistic.SystemClock{},
		offsets:   make(map[string]int),
		fired:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run drives the dispatch loop off a minute ticker.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick dispatches every schedule whose local minute has been reached
// and that has not fired yet today.
func (c *Controller) Tick(ctx context.Context) {
	now := c.clock.Now().UTC()
	for _, s := range c.schedules {
		if !s.Active {
			continue
		}
		offset, err := c.offsetFor(ctx, s.UnitID)
		if err != nil {
			c.logf("schedule: %s offset lookup: %v", s.ID, err)
			continue
		}
		local := now.Add(time.Duration(offset) * time.Minute)
		if !s.DueAt(local) {
			continue
		}
		day := local.Year()*1000 + local.YearDay()
		if c.fired[s.ID] == day {
			continue
		}
		c.fired[s.ID] = day
		c.dispatch(ctx, s)
	}
}

func (c *Controller) dispatch(ctx context.Context, s ControlSchedule) {
	if c.publisher == nil {
		c.logf("schedule: %s no command transport, dropping unit=%s %s=%s", s.ID, s.UnitID, s.Variable, s.Value)
		metrics.IncScheduleDispatch(metrics.ResultError)
		return
	}
	if err := c.publisher.Publish(ctx, s.UnitID, s.Variable, s.Value); err != nil {
		c.logf("schedule: %s publish: %v", s.ID, err)
		metrics.IncScheduleDispatch(metrics.ResultError)
		return
	}
	metrics.IncScheduleDispatch(metrics.ResultSuccess)
}

func (c *Controller) offsetFor(ctx context.Context, unitID string) (int, error) {
	if offset, ok := c.offsets[unitID]; ok {
		return offset, nil
	}
	unit, err := c.units.Get(ctx, unitID)
	if err != nil {
		return 0, err
	}
	if unit == nil {
		return 0, fmt.Errorf("schedule: unknown unit %s", unitID)
	}
	block, err := c.blocks.Get(ctx, unit.BlockID)
	if err != nil {
		return 0, err
	}
	if block == nil {
		return 0, fmt.Errorf("schedule: unit %s references unknown block %s", unitID, unit.BlockID)
	}
	site, err := c.sites.Get(ctx, block.SiteID)
	if err != nil {
		return 0, err
	}
	if site == nil {
		return 0, fmt.Errorf("schedule: block %s references unknown site %s", block.ID, block.SiteID)
	}
	c.offsets[unitID] = site.OffsetMinutes
	return site.OffsetMinutes, nil
}

func (c *Controller) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
