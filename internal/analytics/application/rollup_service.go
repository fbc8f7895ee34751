package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"telemetry-cloud/internal/analytics/application/events"
	"telemetry-cloud/internal/analytics/domain/statistic"
	"telemetry-cloud/internal/eventing"
	masterdata "telemetry-cloud/internal/masterdata/domain"
	"telemetry-cloud/internal/observability/metrics"
	"telemetry-cloud/internal/variables"
)

// RollupService drives statistic rollups across every active unit and
// its configured variables. A single unit variable is never rolled up
// concurrently with itself; distinct series run independently.
type RollupService struct {
	rollup   *statistic.RollupService
	records  statistic.Repository
	units    masterdata.UnitRepository
	blocks   masterdata.BlockRepository
	sites    masterdata.SiteRepository
	registry *variables.Registry
	bus      eventing.EventBus
	clock    statistic.Clock
	logger   *log.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// RollupOption configures the service.
type RollupOption func(*RollupService)

// WithRollupClock overrides the clock.
func WithRollupClock(clock statistic.Clock) RollupOption {
	return func(s *RollupService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRollupLogger sets the logger.
func WithRollupLogger(logger *log.Logger) RollupOption {
	return func(s *RollupService) { s.logger = logger }
}

// WithRollupBus sets the event bus.
func WithRollupBus(bus eventing.EventBus) RollupOption {
	return func(s *RollupService) { s.bus = bus }
}

// NewRollupService constructs the application service.
func NewRollupService(
	rollup *statistic.RollupService,
	records statistic.Repository,
	units masterdata.UnitRepository,
	blocks masterdata.BlockRepository,
	sites masterdata.SiteRepository,
	registry *variables.Registry,
	opts ...RollupOption,
) (*RollupService, error) {
	if rollup == nil {
		return nil, errors.New("rollup app service: nil rollup service")
	}
	if records == nil {
		return nil, errors.New("rollup app service: nil record repository")
	}
	if units == nil {
		return nil, errors.New("rollup app service: nil unit repository")
	}
	if blocks == nil {
		return nil, errors.New("rollup app service: nil block repository")
	}
	if sites == nil {
		return nil, errors.New("rollup app service: nil site repository")
	}
	if registry == nil {
		return nil, errors.New("rollup app service: nil variable registry")
	}

	s := &RollupService{
		rollup:   rollup,
		records:  records,
		units:    units,
		blocks:   blocks,
		sites:    sites,
		registry: registry,
		clock:    statistic.SystemClock{},
		inFlight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunAll rolls up every variable of every active unit. Per-series
// failures are logged and counted, never fatal to the sweep.
func (s *RollupService) RunAll(ctx context.Context) error {
	units, err := s.units.ListActive(ctx)
	if err != nil {
		return err
	}

	offsets := make(map[string]int)
	for _, unit := range units {
		offset, err := s.offsetFor(ctx, unit.BlockID, offsets)
		if err != nil {
			s.logf("statistic rollup: unit=%s offset lookup: %v", unit.ID, err)
			continue
		}
		for _, def := range s.registry.ForClass(unit.ClassCode) {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.runOne(ctx, unit.ID, def.Name, offset)
		}
	}
	return nil
}

// RunUnit rolls up one unit variable immediately.
func (s *RollupService) RunUnit(ctx context.Context, unitID, variable string) (statistic.RunSummary, error) {
	unit, err := s.units.Get(ctx, unitID)
	if err != nil {
		return statistic.RunSummary{}, err
	}
	if unit == nil {
		return statistic.RunSummary{}, ErrUnknownUnit
	}
	if _, ok := s.registry.Lookup(unit.ClassCode, variable); !ok {
		return statistic.RunSummary{}, errors.New("rollup app service: unknown variable")
	}
	offset, err := s.offsetFor(ctx, unit.BlockID, map[string]int{})
	if err != nil {
		return statistic.RunSummary{}, err
	}
	return s.guardedRun(ctx, unitID, variable, offset)
}

// Recompute deletes a series and rebuilds it from raw samples.
func (s *RollupService) Recompute(ctx context.Context, unitID, variable string) (statistic.RunSummary, error) {
	if err := s.records.DeleteSeries(ctx, unitID, variable); err != nil {
		return statistic.RunSummary{}, err
	}
	summary, err := s.RunUnit(ctx, unitID, variable)
	if err != nil {
		return summary, err
	}
	s.publish(ctx, events.StatisticSeriesRecomputed{
		UnitID:     unitID,
		Variable:   variable,
		OccurredAt: s.clock.Now().UTC(),
	})
	return summary, nil
}

func (s *RollupService) runOne(ctx context.Context, unitID, variable string, offset int) {
	summary, err := s.guardedRun(ctx, unitID, variable, offset)
	if err != nil {
		metrics.ObserveStatisticRollup(metrics.ResultError, 0, 0)
		s.logf("statistic rollup: unit=%s variable=%s err=%v", unitID, variable, err)
		return
	}
	metrics.ObserveStatisticRollup(metrics.ResultSuccess, summary.HoursComputed, summary.GapsSkipped)
	if summary.HoursComputed > 0 {
		s.publish(ctx, events.StatisticRollupCompleted{
			UnitID:        unitID,
			Variable:      variable,
			HoursComputed: summary.HoursComputed,
			GapsSkipped:   summary.GapsSkipped,
			OccurredAt:    s.clock.Now().UTC(),
		})
	}
}

// ErrRollupInProgress is returned when a series is already being rolled up.
var ErrRollupInProgress = errors.New("rollup app service: series rollup already running")

// ErrUnknownUnit is returned when a rollup targets a missing unit.
var ErrUnknownUnit = errors.New("rollup app service: unknown unit")

func (s *RollupService) guardedRun(ctx context.Context, unitID, variable string, offset int) (statistic.RunSummary, error) {
	key := unitID + ":" + variable
	s.mu.Lock()
	if s.inFlight[key] {
		s.mu.Unlock()
		return statistic.RunSummary{}, ErrRollupInProgress
	}
	s.inFlight[key] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}()

	return s.rollup.Run(ctx, unitID, variable, offset)
}

func (s *RollupService) offsetFor(ctx context.Context, blockID string, cache map[string]int) (int, error) {
	if offset, ok := cache[blockID]; ok {
		return offset, nil
	}
	block, err := s.blocks.Get(ctx, blockID)
	if err != nil {
		return 0, err
	}
	if block == nil {
		return 0, fmt.Errorf("rollup app service: unknown block %s", blockID)
	}
	site, err := s.sites.Get(ctx, block.SiteID)
	if err != nil {
		return 0, err
	}
	if site == nil {
		return 0, fmt.Errorf("rollup app service: block %s references unknown site %s", blockID, block.SiteID)
	}
	cache[blockID] = site.OffsetMinutes
	return site.OffsetMinutes, nil
}

func (s *RollupService) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logf("statistic rollup: publish: %v", err)
	}
}

func (s *RollupService) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
