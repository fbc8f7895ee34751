package application_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"telemetry-cloud/internal/analytics/domain/statistic"
	application "telemetry-cloud/internal/consumption/application"
	consumption "telemetry-cloud/internal/consumption/domain"
	consumptionmem "telemetry-cloud/internal/consumption/infrastructure/memory"
	masterdata "telemetry-cloud/internal/masterdata/domain"
	masterdatamem "telemetry-cloud/internal/masterdata/infrastructure/memory"
	telemetry "telemetry-cloud/internal/telemetry/domain"
	telemetrymem "telemetry-cloud/internal/telemetry/infrastructure/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type appFixture struct {
	samples *telemetrymem.SampleStore
	records *consumptionmem.ConsumptionRepository
	clock   *fakeClock
	service *application.RollupService
}

// newAppFixture seeds one site with one block holding a metered unit
// and an independent sub-item, wired through the memory repositories.
func newAppFixture(t *testing.T, now time.Time) *appFixture {
	t.Helper()
	ctx := context.Background()

	sites := masterdatamem.NewSiteRepository()
	blocks := masterdatamem.NewBlockRepository()
	units := masterdatamem.NewUnitRepository()
	if err := sites.Save(ctx, &masterdata.Site{ID: "s1", Name: "Plant", Active: true}); err != nil {
		t.Fatalf("save site: %v", err)
	}
	if err := blocks.Save(ctx, &masterdata.Block{ID: "b1", SiteID: "s1", Name: "Block 1", Active: true}); err != nil {
		t.Fatalf("save block: %v", err)
	}
	if err := units.Save(ctx, &masterdata.Unit{ID: "u1", BlockID: "b1", Name: "Meter", ClassCode: "meter", Active: true}); err != nil {
		t.Fatalf("save unit: %v", err)
	}
	if err := units.SaveItem(ctx, &masterdata.UnitItem{ID: "it1", UnitID: "u1", Name: "Standalone", Independent: true}); err != nil {
		t.Fatalf("save item: %v", err)
	}

	samples := telemetrymem.NewSampleStore()
	records := consumptionmem.NewConsumptionRepository()
	clock := &fakeClock{now: now}
	rollup, err := consumption.NewRollupService(records, samples, clock)
	if err != nil {
		t.Fatalf("new rollup service: %v", err)
	}
	calc, err := consumption.NewDifference(samples, masterdata.ResourceElectricity, "energyMeter")
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	service, err := application.NewRollupService(rollup, records, sites, blocks, units,
		map[int]consumption.Calculator{masterdata.ResourceElectricity: calc},
		application.WithRollupClock(clock))
	if err != nil {
		t.Fatalf("new app service: %v", err)
	}
	return &appFixture{samples: samples, records: records, clock: clock, service: service}
}

func (f *appFixture) insert(t *testing.T, itemID string, at time.Time, value float64) {
	t.Helper()
	err := f.samples.Insert(context.Background(), []telemetry.Sample{{
		UnitID:      itemID,
		Variable:    "energyMeter",
		CollectedAt: at,
		Value:       value,
	}})
	if err != nil {
		t.Fatalf("insert sample: %v", err)
	}
}

func (f *appFixture) value(t *testing.T, itemID string, kind statistic.PeriodKind, local time.Time) (float64, bool) {
	t.Helper()
	record, err := f.records.Get(context.Background(), masterdata.ResourceElectricity, itemID, statistic.KeyFor(kind, local))
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record == nil {
		return 0, false
	}
	return record.Consumption, true
}

func TestRunBlockUnknownBlock(t *testing.T) {
	f := newAppFixture(t, time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC))

	_, err := f.service.RunBlock(context.Background(), "no-such-block", masterdata.ResourceElectricity)
	if !errors.Is(err, application.ErrUnknownBlock) {
		t.Fatalf("err = %v, want ErrUnknownBlock", err)
	}
}

func TestRemoveHourUnknownID(t *testing.T) {
	f := newAppFixture(t, time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC))

	key := statistic.KeyFor(statistic.KindHour, time.Date(2024, time.June, 10, 10, 0, 0, 0, time.UTC))
	err := f.service.RemoveHour(context.Background(), masterdata.ResourceElectricity, "no-such-unit", key.Year, key.Index)
	if !errors.Is(err, application.ErrUnknownItem) {
		t.Fatalf("err = %v, want ErrUnknownItem", err)
	}
}

func TestRemoveHourIndependentItem(t *testing.T) {
	day := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	f := newAppFixture(t, day.Add(2*time.Hour+30*time.Minute))

	f.insert(t, "u1", day, 100)
	f.insert(t, "u1", day.Add(time.Hour), 110)
	f.insert(t, "u1", day.Add(2*time.Hour), 130)
	f.insert(t, "it1", day, 1000)
	f.insert(t, "it1", day.Add(time.Hour), 1001)
	f.insert(t, "it1", day.Add(2*time.Hour), 1003)

	summary, err := f.service.RunBlock(context.Background(), "b1", masterdata.ResourceElectricity)
	if err != nil {
		t.Fatalf("run block: %v", err)
	}
	if summary.HoursComputed != 2 {
		t.Fatalf("computed %d hours, want 2", summary.HoursComputed)
	}

	key := statistic.KeyFor(statistic.KindHour, day)
	if err := f.service.RemoveHour(context.Background(), masterdata.ResourceElectricity, "it1", key.Year, key.Index); err != nil {
		t.Fatalf("remove hour: %v", err)
	}

	if _, ok := f.value(t, "it1", statistic.KindHour, day); ok {
		t.Fatal("removed hourly record still present")
	}
	if got, ok := f.value(t, "it1", statistic.KindDay, day); !ok || math.Abs(got-2) > 1e-6 {
		t.Fatalf("item daily = %v (%v), want 2", got, ok)
	}
	// Independent sub-items never fold into the block, so block
	// records stay untouched by the correction.
	if got, ok := f.value(t, "b1", statistic.KindDay, day); !ok || math.Abs(got-30) > 1e-6 {
		t.Fatalf("block daily = %v (%v), want 30", got, ok)
	}

	// The dependent record path stays intact for units.
	if err := f.service.RemoveHour(context.Background(), masterdata.ResourceElectricity, "u1", key.Year, key.Index); err != nil {
		t.Fatalf("remove unit hour: %v", err)
	}
	if got, ok := f.value(t, "b1", statistic.KindDay, day); !ok || math.Abs(got-20) > 1e-6 {
		t.Fatalf("block daily after unit removal = %v (%v), want 20", got, ok)
	}
}
