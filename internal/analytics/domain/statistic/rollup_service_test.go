package statistic_test

import (
	"context"
	"math"
	"testing"
	"time"

	"telemetry-cloud/internal/analytics/domain/statistic"
	analyticsmem "telemetry-cloud/internal/analytics/infrastructure/memory"
	telemetry "telemetry-cloud/internal/telemetry/domain"
	telemetrymem "telemetry-cloud/internal/telemetry/infrastructure/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type rollupFixture struct {
	samples *telemetrymem.SampleStore
	records *analyticsmem.StatisticRepository
	clock   *fakeClock
	service *statistic.RollupService
}

func newRollupFixture(t *testing.T, now time.Time) *rollupFixture {
	t.Helper()
	samples := telemetrymem.NewSampleStore()
	records := analyticsmem.NewStatisticRepository()
	clock := &fakeClock{now: now}
	service, err := statistic.NewRollupService(samples, records, clock)
	if err != nil {
		t.Fatalf("new rollup service: %v", err)
	}
	return &rollupFixture{samples: samples, records: records, clock: clock, service: service}
}

func (f *rollupFixture) insert(t *testing.T, unitID, variable string, at time.Time, value float64) {
	t.Helper()
	err := f.samples.Insert(context.Background(), []telemetry.Sample{{
		UnitID:      unitID,
		Variable:    variable,
		CollectedAt: at,
		Value:       value,
	}})
	if err != nil {
		t.Fatalf("insert sample: %v", err)
	}
}

func (f *rollupFixture) get(t *testing.T, unitID, variable string, kind statistic.PeriodKind, local time.Time) *statistic.Record {
	t.Helper()
	record, err := f.records.Get(context.Background(), unitID, variable, statistic.KeyFor(kind, local))
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	return record
}

func TestRunAggregatesHoursAndSkipsGaps(t *testing.T) {
	day := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	f := newRollupFixture(t, day.Add(13*time.Hour+30*time.Minute))

	f.insert(t, "u1", "temperature", day.Add(10*time.Hour+15*time.Minute), 1)
	f.insert(t, "u1", "temperature", day.Add(10*time.Hour+45*time.Minute), 3)
	// Hour 11 has no samples.
	f.insert(t, "u1", "temperature", day.Add(12*time.Hour+30*time.Minute), 5)

	summary, err := f.service.Run(context.Background(), "u1", "temperature", 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.HoursComputed != 2 || summary.GapsSkipped != 1 {
		t.Fatalf("summary = %+v, want 2 hours, 1 gap", summary)
	}

	hour10 := f.get(t, "u1", "temperature", statistic.KindHour, day.Add(10*time.Hour))
	if hour10 == nil {
		t.Fatal("hour 10 record missing")
	}
	if hour10.Stats.Count != 2 || hour10.Stats.Mean != 2 || hour10.Stats.Min != 1 || hour10.Stats.Max != 3 {
		t.Fatalf("hour 10 stats = %+v", hour10.Stats)
	}

	if gap := f.get(t, "u1", "temperature", statistic.KindHour, day.Add(11*time.Hour)); gap != nil {
		t.Fatalf("gap hour has a record: %+v", gap)
	}

	dayRecord := f.get(t, "u1", "temperature", statistic.KindDay, day)
	if dayRecord == nil {
		t.Fatal("day record missing")
	}
	if dayRecord.Stats.Count != 3 || math.Abs(dayRecord.Stats.Mean-3) > tolerance {
		t.Fatalf("day stats = %+v", dayRecord.Stats)
	}
	for _, kind := range []statistic.PeriodKind{statistic.KindWeek, statistic.KindMonth, statistic.KindYear} {
		record := f.get(t, "u1", "temperature", kind, day)
		if record == nil || record.Stats.Count != 3 {
			t.Fatalf("%s record = %+v, want count 3", kind, record)
		}
	}
}

func TestRunIsIdempotentWhenUpToDate(t *testing.T) {
	day := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	f := newRollupFixture(t, day.Add(11*time.Hour))
	f.insert(t, "u1", "temperature", day.Add(10*time.Hour+5*time.Minute), 4)

	first, err := f.service.Run(context.Background(), "u1", "temperature", 0)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.HoursComputed != 1 {
		t.Fatalf("first run computed %d hours, want 1", first.HoursComputed)
	}

	second, err := f.service.Run(context.Background(), "u1", "temperature", 0)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.HoursComputed != 0 || second.GapsSkipped != 0 {
		t.Fatalf("second run = %+v, want no work", second)
	}

	dayRecord := f.get(t, "u1", "temperature", statistic.KindDay, day)
	if dayRecord.Stats.Count != 1 {
		t.Fatalf("day count after rerun = %d, want 1", dayRecord.Stats.Count)
	}
}

func TestRunResumesAfterLatestHour(t *testing.T) {
	day := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	f := newRollupFixture(t, day.Add(11*time.Hour))
	f.insert(t, "u1", "temperature", day.Add(10*time.Hour+5*time.Minute), 2)

	if _, err := f.service.Run(context.Background(), "u1", "temperature", 0); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Another closed hour arrives.
	f.insert(t, "u1", "temperature", day.Add(11*time.Hour+5*time.Minute), 6)
	f.clock.now = day.Add(12 * time.Hour)

	summary, err := f.service.Run(context.Background(), "u1", "temperature", 0)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.HoursComputed != 1 {
		t.Fatalf("second run computed %d hours, want 1", summary.HoursComputed)
	}

	dayRecord := f.get(t, "u1", "temperature", statistic.KindDay, day)
	if dayRecord.Stats.Count != 2 || dayRecord.Stats.Mean != 4 {
		t.Fatalf("day stats = %+v, want count 2 mean 4", dayRecord.Stats)
	}
}

func TestRunNeverRollsUpOpenHour(t *testing.T) {
	day := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	// Clock sits inside hour 10: the hour is still open.
	f := newRollupFixture(t, day.Add(10*time.Hour+50*time.Minute))
	f.insert(t, "u1", "temperature", day.Add(10*time.Hour+5*time.Minute), 4)

	summary, err := f.service.Run(context.Background(), "u1", "temperature", 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.HoursComputed != 0 {
		t.Fatalf("computed %d hours, want 0", summary.HoursComputed)
	}
}

func TestRunHonorsSiteOffset(t *testing.T) {
	// Site at UTC+5:30. A sample at 23:40 GMT lands in local hour 5:10,
	// so its record belongs to the next local day.
	day := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	f := newRollupFixture(t, day.Add(26*time.Hour))
	f.insert(t, "u1", "temperature", day.Add(23*time.Hour+40*time.Minute), 9)

	summary, err := f.service.Run(context.Background(), "u1", "temperature", 330)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.HoursComputed != 1 {
		t.Fatalf("computed %d hours, want 1", summary.HoursComputed)
	}

	local := day.Add(23*time.Hour + 40*time.Minute).Add(330 * time.Minute)
	hourly := f.get(t, "u1", "temperature", statistic.KindHour, local)
	if hourly == nil || hourly.Stats.Count != 1 {
		t.Fatalf("local hour record = %+v", hourly)
	}
	if hourly.Key.Index != (62-1)*24+5 {
		t.Fatalf("hour index = %d, want %d", hourly.Key.Index, (62-1)*24+5)
	}
	dayRecord := f.get(t, "u1", "temperature", statistic.KindDay, local)
	if dayRecord == nil || dayRecord.Key.Index != 62 {
		t.Fatalf("day record = %+v, want day-of-year 62", dayRecord)
	}
}

func TestRunWithNoSamplesDoesNothing(t *testing.T) {
	f := newRollupFixture(t, time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC))
	summary, err := f.service.Run(context.Background(), "u1", "temperature", 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary != (statistic.RunSummary{}) {
		t.Fatalf("summary = %+v, want zero", summary)
	}
}
