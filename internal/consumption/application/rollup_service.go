package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"telemetry-cloud/internal/analytics/domain/statistic"
	"telemetry-cloud/internal/consumption/application/events"
	consumption "telemetry-cloud/internal/consumption/domain"
	"telemetry-cloud/internal/eventing"
	masterdata "telemetry-cloud/internal/masterdata/domain"
	"telemetry-cloud/internal/observability/metrics"
)

// ErrRollupInProgress is returned when a block is already being rolled
// up for the same resource.
var ErrRollupInProgress = errors.New("consumption app service: block rollup already running")

// ErrUnknownBlock is returned when a rollup targets a missing block.
var ErrUnknownBlock = errors.New("consumption app service: unknown block")

// ErrUnknownItem is returned when a removal targets an id that is
// neither a unit nor a sub-item.
var ErrUnknownItem = errors.New("consumption app service: unknown item")

// RollupService drives consumption rollups for every registered
// resource calculator across every active block. A block/resource pair
// never rolls up concurrently with itself.
type RollupService struct {
	rollup      *consumption.RollupService
	records     consumption.Repository
	sites       masterdata.SiteRepository
	blocks      masterdata.BlockRepository
	units       masterdata.UnitRepository
	calculators map[int]consumption.Calculator
	bus         eventing.EventBus
	clock       statistic.Clock
	logger      *log.Logger

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

// NewRollupService constructs the application service. calculators
// maps resource codes to the calculator producing that resource's
// hourly deltas.
func NewRollupService(
	rollup *consumption.RollupService,
	records consumption.Repository,
	sites masterdata.SiteRepository,
	blocks masterdata.BlockRepository,
	units masterdata.UnitRepository,
	calculators map[int]consumption.Calculator,
	opts ...RollupOption,
) (*RollupService, error) {
	if rollup == nil {
		return nil, errors.New("consumption app service: nil rollup service")
	}
	if records == nil {
		return nil, errors.New("consumption app service: nil record repository")
	}
	if sites == nil {
		return nil, errors.New("consumption app service: nil site repository")
	}
	if blocks == nil {
		return nil, errors.New("consumption app service: nil block repository")
	}
	if units == nil {
		return nil, errors.New("consumption app service: nil unit repository")
	}
	if len(calculators) == 0 {
		return nil, errors.New("consumption app service: no calculators")
	}
	for resource, calc := range calculators {
		if calc == nil || calc.Resource() != resource {
			return nil, fmt.Errorf("consumption app service: bad calculator for resource %d", resource)
		}
	}

	s := &RollupService{
		rollup:      rollup,
		records:     records,
		sites:       sites,
		blocks:      blocks,
		units:       units,
		calculators: calculators,
		clock:       statistic.SystemClock{},
		inFlight:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunAll rolls up every resource of every active block. Per-block
// failures are logged and counted, never fatal to the sweep.
func (s *RollupService) RunAll(ctx context.Context) error {
	activeSites, err := s.sites.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, site := range activeSites {
		siteBlocks, err := s.blocks.ListBySite(ctx, site.ID)
		if err != nil {
			s.logf("consumption rollup: site=%s list blocks: %v", site.ID, err)
			continue
		}
		for _, block := range siteBlocks {
			if !block.Active {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			topo, err := s.topology(ctx, *block, site.OffsetMinutes)
			if err != nil {
				s.logf("consumption rollup: block=%s topology: %v", block.ID, err)
				continue
			}
			for resource := range s.calculators {
				s.runOne(ctx, topo, site.ID, resource)
			}
		}
	}
	return nil
}

// RunBlock rolls up one block for one resource immediately.
func (s *RollupService) RunBlock(ctx context.Context, blockID string, resource int) (consumption.RunSummary, error) {
	if _, ok := s.calculators[resource]; !ok {
		return consumption.RunSummary{}, errors.New("consumption app service: unknown resource")
	}
	block, err := s.blocks.Get(ctx, blockID)
	if err != nil {
		return consumption.RunSummary{}, err
	}
	if block == nil {
		return consumption.RunSummary{}, ErrUnknownBlock
	}
	site, err := s.sites.Get(ctx, block.SiteID)
	if err != nil {
		return consumption.RunSummary{}, err
	}
	if site == nil {
		return consumption.RunSummary{}, fmt.Errorf("consumption app service: block %s references unknown site %s", block.ID, block.SiteID)
	}
	topo, err := s.topology(ctx, *block, site.OffsetMinutes)
	if err != nil {
		return consumption.RunSummary{}, err
	}
	return s.guardedRun(ctx, topo, resource)
}

// RemoveHour removes one item's hourly record for a resource and
// corrects the item's and block's coarser records. The id may name a
// unit or a sub-item; sub-item records are never folded into a block.
func (s *RollupService) RemoveHour(ctx context.Context, resource int, itemID string, year, hourIndex int) error {
	key := statistic.PeriodKey{Year: year, Kind: statistic.KindHour, Index: hourIndex}
	if err := key.Validate(); err != nil {
		return err
	}
	blockID, folded, err := s.resolveItem(ctx, itemID)
	if err != nil {
		return err
	}
	err = s.rollup.RemoveHour(ctx, resource, itemID, blockID, key, folded)
	if err != nil {
		return err
	}
	s.publish(ctx, events.ConsumptionHourRemoved{
		Resource:   resource,
		ItemID:     itemID,
		BlockID:    blockID,
		Year:       year,
		HourIndex:  hourIndex,
		OccurredAt: s.clock.Now().UTC(),
	})
	return nil
}

// resolveItem classifies a removal target: a unit folds into its block
// unless it is an aggregator; a sub-item never folds.
func (s *RollupService) resolveItem(ctx context.Context, itemID string) (blockID string, folded bool, err error) {
	unit, err := s.units.Get(ctx, itemID)
	if err != nil {
		return "", false, err
	}
	if unit != nil {
		return unit.BlockID, !unit.Aggregator, nil
	}
	active, err := s.units.ListActive(ctx)
	if err != nil {
		return "", false, err
	}
	for _, owner := range active {
		items, err := s.units.ListItems(ctx, owner.ID)
		if err != nil {
			return "", false, err
		}
		for _, item := range items {
			if item.ID == itemID {
				return "", false, nil
			}
		}
	}
	return "", false, ErrUnknownItem
}

func (s *RollupService) runOne(ctx context.Context, topo consumption.BlockTopology, siteID string, resource int) {
	summary, err := s.guardedRun(ctx, topo, resource)
	if err != nil {
		metrics.ObserveConsumptionRollup(metrics.ResultError, 0, 0)
		s.logf("consumption rollup: block=%s resource=%d err=%v", topo.Block.ID, resource, err)
		return
	}
	metrics.ObserveConsumptionRollup(metrics.ResultSuccess, summary.HoursComputed, summary.GapsSkipped)
	if summary.HoursComputed > 0 {
		s.publish(ctx, events.ConsumptionRollupCompleted{
			Resource:      resource,
			BlockID:       topo.Block.ID,
			SiteID:        siteID,
			HoursComputed: summary.HoursComputed,
			GapsSkipped:   summary.GapsSkipped,
			OccurredAt:    s.clock.Now().UTC(),
		})
	}
}

func (s *RollupService) guardedRun(ctx context.Context, topo consumption.BlockTopology, resource int) (consumption.RunSummary, error) {
	key := fmt.Sprintf("%d:%s", resource, topo.Block.ID)
	s.mu.Lock()
	if s.inFlight[key] {
		s.mu.Unlock()
		return consumption.RunSummary{}, ErrRollupInProgress
	}
	s.inFlight[key] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}()

	return s.rollup.RunBlock(ctx, topo, s.calculators[resource])
}

func (s *RollupService) topology(ctx context.Context, block masterdata.Block, offsetMinutes int) (consumption.BlockTopology, error) {
	topo := consumption.BlockTopology{Block: block, OffsetMinutes: offsetMinutes}
	blockUnits, err := s.units.ListByBlock(ctx, block.ID)
	if err != nil {
		return topo, err
	}
	for _, unit := range blockUnits {
		if !unit.Active {
			continue
		}
		node := consumption.UnitNode{Unit: *unit}
		items, err := s.units.ListItems(ctx, unit.ID)
		if err != nil {
			return topo, err
		}
		for _, item := range items {
			if item.Independent {
				node.Independent = append(node.Independent, *item)
			} else {
				node.Dependent = append(node.Dependent, *item)
			}
		}
		topo.Units = append(topo.Units, node)
	}
	return topo, nil
}

func (s *RollupService) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logf("consumption rollup: publish: %v", err)
	}
}

func (s *RollupService) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
