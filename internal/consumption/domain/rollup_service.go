package consumption

import (
	"context"
	"errors"
	"time"

	"telemetry-cloud/internal/analytics/domain/statistic"
	masterdata "telemetry-cloud/internal/masterdata/domain"
	telemetry "telemetry-cloud/internal/telemetry/domain"
)

// BlockTopology is the flattened shape of one block, loaded up front
// for a computation pass so the hour loop does no masterdata I/O.
type BlockTopology struct {
	Block         masterdata.Block
	OffsetMinutes int
	Units         []UnitNode
}

// UnitNode carries a unit and its sub-items split by independence.
type UnitNode struct {
	Unit        masterdata.Unit
	Dependent   []masterdata.UnitItem
	Independent []masterdata.UnitItem
}

// RunSummary reports one consumption rollup run over a block.
type RunSummary struct {
	HoursComputed int
	GapsSkipped   int
}

// ErrNoRecord is returned when a correction targets a missing hour.
var ErrNoRecord = errors.New("consumption: no hourly record")

// RollupService turns counter samples into five-tier consumption
// records, one site-local hour at a time. Each unit's delta lands in
// its own records and folds into the owning block's parallel records;
// aggregator units and independent sub-items keep their own hierarchy
// and are excluded from block folding.
type RollupService struct {
	records Repository
	samples telemetry.SampleStore
	clock   statistic.Clock
}

// NewRollupService constructs the service.
func NewRollupService(records Repository, samples telemetry.SampleStore, clock statistic.Clock) (*RollupService, error) {
	if records == nil {
		return nil, errors.New("consumption rollup: nil record repository")
	}
	if samples == nil {
		return nil, errors.New("consumption rollup: nil sample store")
	}
	if clock == nil {
		clock = statistic.SystemClock{}
	}
	return &RollupService{records: records, samples: samples, clock: clock}, nil
}

// RunBlock processes every pending hour of one block for the
// calculator's resource. An hour in which no item yields a value is a
// gap: skipped and retried at the next hour.
func (s *RollupService) RunBlock(ctx context.Context, topo BlockTopology, calc Calculator) (RunSummary, error) {
	summary := RunSummary{}
	if calc == nil {
		return summary, errors.New("consumption rollup: nil calculator")
	}
	if err := topo.Block.Validate(); err != nil {
		return summary, err
	}

	year, hour, ok, err := s.resumePoint(ctx, topo, calc.Resource())
	if err != nil || !ok {
		return summary, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := s.step(ctx, topo, calc, year, hour)
		if err != nil {
			return summary, err
		}
		switch result {
		case statistic.StepComputed:
			summary.HoursComputed++
		case statistic.StepGap:
			summary.GapsSkipped++
		case statistic.StepUpToDate:
			return summary, nil
		}
		year, hour = statistic.NextHour(year, hour)
	}
}

func (s *RollupService) resumePoint(ctx context.Context, topo BlockTopology, resource int) (int, int, bool, error) {
	ids := make([]string, 0, len(topo.Units)+1)
	ids = append(ids, topo.Block.ID)
	for _, node := range topo.Units {
		ids = append(ids, node.Unit.ID)
		for _, item := range node.Dependent {
			ids = append(ids, item.ID)
		}
		for _, item := range node.Independent {
			ids = append(ids, item.ID)
		}
	}

	// Blocks holding only aggregator units or independent sub-items
	// never write block records, so the resume point is the newest
	// hourly record across the whole topology.
	var latest *Record
	for _, id := range ids {
		record, err := s.records.LatestHour(ctx, resource, id)
		if err != nil {
			return 0, 0, false, err
		}
		if record == nil {
			continue
		}
		if latest == nil || record.Key.Year > latest.Key.Year ||
			(record.Key.Year == latest.Key.Year && record.Key.Index > latest.Key.Index) {
			latest = record
		}
	}
	if latest != nil {
		year, hour := statistic.NextHour(latest.Key.Year, latest.Key.Index)
		return year, hour, true, nil
	}

	earliest, ok, err := s.samples.Earliest(ctx, ids[1:])
	if err != nil || !ok {
		return 0, 0, false, err
	}
	local := statistic.TruncateToHour(earliest.Add(time.Duration(topo.OffsetMinutes) * time.Minute))
	key := statistic.KeyFor(statistic.KindHour, local)
	return key.Year, key.Index, true, nil
}

func (s *RollupService) step(ctx context.Context, topo BlockTopology, calc Calculator, year, hour int) (statistic.StepResult, error) {
	localFrom := statistic.HourStart(year, hour)
	gmtFrom := localFrom.Add(-time.Duration(topo.OffsetMinutes) * time.Minute)
	gmtTo := gmtFrom.Add(time.Hour)

	if gmtTo.After(s.clock.Now()) {
		return statistic.StepUpToDate, nil
	}

	resource := calc.Resource()
	batch := newRecordBatch(resource)
	anyData := false

	for _, node := range topo.Units {
		value, ok, err := calc.Compute(ctx, node.Unit.ID, gmtFrom, gmtTo)
		if err != nil {
			return 0, err
		}
		// Dependent sub-items fold into the parent unit's reading.
		for _, item := range node.Dependent {
			extra, itemOK, err := calc.Compute(ctx, item.ID, gmtFrom, gmtTo)
			if err != nil {
				return 0, err
			}
			if itemOK {
				value += extra
				ok = true
			}
		}
		if ok {
			anyData = true
			delta, err := s.setHourly(ctx, batch, node.Unit.ID, localFrom, year, hour, value)
			if err != nil {
				return 0, err
			}
			if !node.Unit.Aggregator {
				if err := s.fold(ctx, batch, topo.Block.ID, localFrom, year, hour, delta); err != nil {
					return 0, err
				}
			}
		}

		for _, item := range node.Independent {
			value, itemOK, err := calc.Compute(ctx, item.ID, gmtFrom, gmtTo)
			if err != nil {
				return 0, err
			}
			if !itemOK {
				continue
			}
			anyData = true
			if _, err := s.setHourly(ctx, batch, item.ID, localFrom, year, hour, value); err != nil {
				return 0, err
			}
		}
	}

	if !anyData {
		return statistic.StepGap, nil
	}
	if err := s.records.SaveBatch(ctx, batch.list()); err != nil {
		return 0, err
	}
	return statistic.StepComputed, nil
}

// setHourly writes an item's hourly value and folds the change into
// its four coarser records. Returns the applied delta.
func (s *RollupService) setHourly(ctx context.Context, batch *recordBatch, itemID string, localFrom time.Time, year, hour int, value float64) (float64, error) {
	hourly, err := batch.fetch(ctx, s.records, itemID, statistic.PeriodKey{Year: year, Kind: statistic.KindHour, Index: hour})
	if err != nil {
		return 0, err
	}
	// A counter decrease with no reset compensation yields a negative
	// value; clamp before differencing so the hourly record and the
	// coarser tiers see the same quantity.
	if value < zeroClamp {
		value = 0
	}
	delta := value - hourly.Consumption
	hourly.Consumption = value

	for _, kind := range []statistic.PeriodKind{statistic.KindDay, statistic.KindWeek, statistic.KindMonth, statistic.KindYear} {
		record, err := batch.fetch(ctx, s.records, itemID, statistic.KeyFor(kind, localFrom))
		if err != nil {
			return 0, err
		}
		record.AddConsumption(delta)
	}
	return delta, nil
}

// fold applies a unit's delta to the block's five parallel records.
func (s *RollupService) fold(ctx context.Context, batch *recordBatch, blockID string, localFrom time.Time, year, hour int, delta float64) error {
	keys := append(
		[]statistic.PeriodKey{{Year: year, Kind: statistic.KindHour, Index: hour}},
		statistic.KeyFor(statistic.KindDay, localFrom),
		statistic.KeyFor(statistic.KindWeek, localFrom),
		statistic.KeyFor(statistic.KindMonth, localFrom),
		statistic.KeyFor(statistic.KindYear, localFrom),
	)
	for _, key := range keys {
		record, err := batch.fetch(ctx, s.records, blockID, key)
		if err != nil {
			return err
		}
		record.AddConsumption(delta)
	}
	return nil
}

// RemoveHour administratively removes one unit's hourly record and
// subtracts its value from the unit's coarser records and the block's
// parallel hierarchy in one transaction. foldedIntoBlock is false for
// aggregator units and independent sub-items.
func (s *RollupService) RemoveHour(ctx context.Context, resource int, itemID, blockID string, key statistic.PeriodKey, foldedIntoBlock bool) error {
	if key.Kind != statistic.KindHour {
		return statistic.ErrInvalidKind
	}
	hourly, err := s.records.Get(ctx, resource, itemID, key)
	if err != nil {
		return err
	}
	if hourly == nil {
		return ErrNoRecord
	}
	value := hourly.Consumption
	localFrom := statistic.HourStart(key.Year, key.Index)

	batch := newRecordBatch(resource)
	for _, kind := range []statistic.PeriodKind{statistic.KindDay, statistic.KindWeek, statistic.KindMonth, statistic.KindYear} {
		record, err := batch.fetch(ctx, s.records, itemID, statistic.KeyFor(kind, localFrom))
		if err != nil {
			return err
		}
		record.AddConsumption(-value)
	}
	if foldedIntoBlock && blockID != "" {
		if err := s.fold(ctx, batch, blockID, localFrom, key.Year, key.Index, -value); err != nil {
			return err
		}
	}
	return s.records.RemoveHour(ctx, resource, itemID, key, batch.list())
}

// recordBatch accumulates the records touched while computing one
// hour so each is fetched once and saved once.
type recordBatch struct {
	resource int
	byID     map[string]*Record
	order    []*Record
}

func newRecordBatch(resource int) *recordBatch {
	return &recordBatch{resource: resource, byID: make(map[string]*Record)}
}

func (b *recordBatch) fetch(ctx context.Context, repo Repository, itemID string, key statistic.PeriodKey) (*Record, error) {
	lookup := Record{Resource: b.resource, ItemID: itemID, Key: key}
	if record, ok := b.byID[lookup.ID()]; ok {
		return record, nil
	}
	record, err := repo.Get(ctx, b.resource, itemID, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &Record{Resource: b.resource, ItemID: itemID, Key: key}
	}
	b.byID[record.ID()] = record
	b.order = append(b.order, record)
	return record, nil
}

func (b *recordBatch) list() []*Record {
	return b.order
}
