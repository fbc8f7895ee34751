package statistic

import (
	"context"
	"errors"
	"time"

	telemetry "telemetry-cloud/internal/telemetry/domain"
)

// Clock abstracts time for rollup decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// StepResult reports the outcome of one hourly rollup step.
type StepResult int

const (
	// StepComputed means the hour was aggregated and persisted.
	StepComputed StepResult = iota + 1
	// StepGap means the hour had no samples; the window advances and
	// the caller retries.
	StepGap
	// StepUpToDate means the next window is in the future or the
	// series has no samples at all.
	StepUpToDate
)

// RunSummary reports one rollup run over a unit variable.
type RunSummary struct {
	HoursComputed int
	GapsSkipped   int
}

// RollupService turns raw samples into the five-tier statistic
// records of a unit variable, one site-local hour at a time. Records
// at every tier are created lazily and updated via the mergeable
// summary, so an hour is folded into its day, week, month and year in
// constant time.
type RollupService struct {
	samples telemetry.SampleStore
	records Repository
	clock   Clock
}

// NewRollupService constructs the service.
func NewRollupService(samples telemetry.SampleStore, records Repository, clock Clock) (*RollupService, error) {
	if samples == nil {
		return nil, errors.New("statistic rollup: nil sample store")
	}
	if records == nil {
		return nil, errors.New("statistic rollup: nil record repository")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &RollupService{samples: samples, records: records, clock: clock}, nil
}

// Run processes every pending hour of one unit variable until the
// next window would be in the future. offsetMinutes is the fixed UTC
// offset of the unit's site; all period boundaries are site-local. An
// hour without samples is a gap: skipped, never an error, and never a
// reason to stop.
func (s *RollupService) Run(ctx context.Context, unitID, variable string, offsetMinutes int) (RunSummary, error) {
	summary := RunSummary{}
	if unitID == "" || variable == "" {
		return summary, errors.New("statistic rollup: empty unit or variable")
	}

	year, hour, ok, err := s.resumePoint(ctx, unitID, variable, offsetMinutes)
	if err != nil || !ok {
		return summary, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := s.step(ctx, unitID, variable, offsetMinutes, year, hour)
		if err != nil {
			return summary, err
		}
		switch result {
		case StepComputed:
			summary.HoursComputed++
		case StepGap:
			summary.GapsSkipped++
		case StepUpToDate:
			return summary, nil
		}
		year, hour = NextHour(year, hour)
	}
}

// resumePoint finds the first hour to compute: the hour after the
// latest persisted hourly record, or the hour of the earliest sample
// when the series has never been rolled up.
func (s *RollupService) resumePoint(ctx context.Context, unitID, variable string, offsetMinutes int) (int, int, bool, error) {
	latest, err := s.records.LatestHour(ctx, unitID, variable)
	if err != nil {
		return 0, 0, false, err
	}
	if latest != nil {
		year, hour := NextHour(latest.Key.Year, latest.Key.Index)
		return year, hour, true, nil
	}

	earliest, ok, err := s.samples.Earliest(ctx, []string{unitID})
	if err != nil || !ok {
		return 0, 0, false, err
	}
	local := TruncateToHour(siteLocal(earliest, offsetMinutes))
	key := KeyFor(KindHour, local)
	return key.Year, key.Index, true, nil
}

// step aggregates one site-local hour and commits all five tiers.
func (s *RollupService) step(ctx context.Context, unitID, variable string, offsetMinutes, year, hour int) (StepResult, error) {
	localFrom := HourStart(year, hour)
	gmtFrom := siteGMT(localFrom, offsetMinutes)
	gmtTo := gmtFrom.Add(time.Hour)

	// Never run ahead of wall clock: only closed hours are rolled up.
	if gmtTo.After(s.clock.Now()) {
		return StepUpToDate, nil
	}

	rows, err := s.samples.Query(ctx, unitID, variable, gmtFrom, gmtTo)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return StepGap, nil
	}

	hourly := Statistics{}
	for _, row := range rows {
		hourly = hourly.Add(row.Value)
	}

	tier := make([]*Record, 0, 5)
	tier = append(tier, &Record{
		UnitID:   unitID,
		Variable: variable,
		Key:      PeriodKey{Year: year, Kind: KindHour, Index: hour},
		Stats:    hourly,
	})
	for _, kind := range []PeriodKind{KindDay, KindWeek, KindMonth, KindYear} {
		key := KeyFor(kind, localFrom)
		existing, err := s.records.Get(ctx, unitID, variable, key)
		if err != nil {
			return 0, err
		}
		merged := hourly
		if existing != nil {
			merged = existing.Stats.Merge(hourly)
		}
		tier = append(tier, &Record{UnitID: unitID, Variable: variable, Key: key, Stats: merged})
	}

	if err := s.records.SaveTier(ctx, tier); err != nil {
		return 0, err
	}
	return StepComputed, nil
}

func siteLocal(gmt time.Time, offsetMinutes int) time.Time {
	return gmt.Add(time.Duration(offsetMinutes) * time.Minute)
}

func siteGMT(local time.Time, offsetMinutes int) time.Time {
	return local.Add(-time.Duration(offsetMinutes) * time.Minute)
}
