package livecache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telemetry-cloud/internal/livecache"
	masterdata "telemetry-cloud/internal/masterdata/domain"
	masterdatamem "telemetry-cloud/internal/masterdata/infrastructure/memory"
	telemetry "telemetry-cloud/internal/telemetry/domain"
	"telemetry-cloud/internal/variables"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingSource wraps a LastKnown cache and counts lookups so tests
// can observe lazy evaluation.
type countingSource struct {
	inner *livecache.LastKnown
	mu    sync.Mutex
	calls int
}

func (s *countingSource) Current(ctx context.Context, unitID, variable string) (float64, bool, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.inner.Current(ctx, unitID, variable)
}

func (s *countingSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingSubscriber struct {
	mu      sync.Mutex
	batches [][]string
	fail    bool
}

func (r *recordingSubscriber) Notify(blockIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("subscriber down")
	}
	copied := make([]string, len(blockIDs))
	copy(copied, blockIDs)
	r.batches = append(r.batches, copied)
	return nil
}

func (r *recordingSubscriber) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func limitDef(name string, significance int, low, high float64) variables.Definition {
	return variables.Definition{
		Name:         name,
		Significance: significance,
		AlertEnabled: true,
		Kind:         variables.KindLimit,
		Limit: &variables.Limit{
			Lowest: low - 20, Lower: low - 10, Low: low,
			High: high, Higher: high + 10, Highest: high + 20,
		},
	}
}

func switchDef(name string, significance int) variables.Definition {
	return variables.Definition{
		Name:         name,
		Significance: significance,
		AlertEnabled: true,
		Kind:         variables.KindSwitch,
		Switch:       &variables.Switch{AlarmWhenOn: true},
	}
}

type cacheFixture struct {
	cache   *livecache.Cache
	source  *countingSource
	last    *livecache.LastKnown
	clock   *fakeClock
	unitIDs []string
}

// newCacheFixture builds one site with one block of n units of class
// "sensor", each monitored by a "pressure" limit (20..80).
func newCacheFixture(t *testing.T, n int) *cacheFixture {
	t.Helper()
	sites := masterdatamem.NewSiteRepository()
	blocks := masterdatamem.NewBlockRepository()
	units := masterdatamem.NewUnitRepository()
	ctx := context.Background()

	if err := sites.Save(ctx, &masterdata.Site{ID: "s1", Name: "Plant", Active: true}); err != nil {
		t.Fatalf("save site: %v", err)
	}
	if err := blocks.Save(ctx, &masterdata.Block{ID: "b1", SiteID: "s1", Name: "Hall", Active: true}); err != nil {
		t.Fatalf("save block: %v", err)
	}
	f := &cacheFixture{}
	for i := 0; i < n; i++ {
		id := string(rune('a'+i)) + "-unit"
		f.unitIDs = append(f.unitIDs, id)
		err := units.Save(ctx, &masterdata.Unit{
			ID: id, BlockID: "b1", Name: id, ClassCode: "sensor", Ordinality: i, Active: true,
		})
		if err != nil {
			t.Fatalf("save unit: %v", err)
		}
	}

	registry := variables.NewRegistry()
	if err := registry.Register("sensor", []variables.Definition{limitDef("pressure", 10, 20, 80)}); err != nil {
		t.Fatalf("register: %v", err)
	}

	f.last = livecache.NewLastKnown()
	f.source = &countingSource{inner: f.last}
	f.clock = &fakeClock{now: time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)}
	cache, err := livecache.NewCache(sites, blocks, units, registry, f.source, livecache.WithCacheClock(f.clock))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	f.cache = cache
	return f
}

func (f *cacheFixture) reading(unitID string, value float64) {
	f.last.Record([]telemetry.Sample{{UnitID: unitID, Variable: "pressure", CollectedAt: f.clock.Now(), Value: value}})
}

func TestSnapshotSurfacesTopKMostAbnormal(t *testing.T) {
	f := newCacheFixture(t, 10)
	// One abnormal reading per unit, increasingly severe.
	severities := []float64{50, 85, 95, 105, 15, 5, -5, 50, 50, 50}
	for i, id := range f.unitIDs {
		f.reading(id, severities[i])
	}

	snap, err := f.cache.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Sites) != 1 {
		t.Fatalf("got %d sites, want 1", len(snap.Sites))
	}
	statuses := snap.Sites[0].Statuses
	if len(statuses) != 6 {
		t.Fatalf("site surfaces %d statuses, want 6", len(statuses))
	}
	levels := make([]int, len(statuses))
	for i, status := range statuses {
		levels[i] = status.Level
	}
	// 105→3, 5→-2, -5→-3 etc: absolute level must be non-increasing.
	for i := 1; i < len(levels); i++ {
		if abs(levels[i]) > abs(levels[i-1]) {
			t.Fatalf("levels not sorted by |level| desc: %v", levels)
		}
	}
	if abs(levels[0]) != 3 {
		t.Fatalf("most severe level = %d, want |3|", levels[0])
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestStatusesMemoizedUntilTouchedBlockTicks(t *testing.T) {
	f := newCacheFixture(t, 1)
	f.reading(f.unitIDs[0], 50)

	ctx := context.Background()
	if _, err := f.cache.Snapshot(ctx); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	before := f.source.callCount()
	if _, err := f.cache.Snapshot(ctx); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	if f.source.callCount() != before {
		t.Fatal("memoized status re-evaluated without invalidation")
	}

	// New data arrives, tick invalidates, next read recomputes.
	f.clock.advance(time.Second)
	f.reading(f.unitIDs[0], 99)
	f.cache.Touch("b1")
	f.cache.Tick()
	snap, err := f.cache.Snapshot(ctx)
	if err != nil {
		t.Fatalf("third snapshot: %v", err)
	}
	if f.source.callCount() == before {
		t.Fatal("dirty status not recomputed")
	}
	if got := snap.Sites[0].Statuses[0].Level; got != 2 {
		t.Fatalf("level after update = %d, want 2", got)
	}
}

func TestTickNotifiesSubscribersWithTouchedBlocks(t *testing.T) {
	f := newCacheFixture(t, 1)
	sub := &recordingSubscriber{}
	f.cache.Subscribe(sub)

	// Nothing touched: no notification.
	f.cache.Tick()
	if sub.count() != 0 {
		t.Fatalf("idle tick notified %d times", sub.count())
	}

	f.clock.advance(time.Second)
	f.cache.Touch("b1")
	f.cache.Tick()
	if sub.count() != 1 {
		t.Fatalf("got %d notifications, want 1", sub.count())
	}
	if got := sub.batches[0]; len(got) != 1 || got[0] != "b1" {
		t.Fatalf("notified blocks = %v, want [b1]", got)
	}

	// Same state: a second tick stays quiet.
	f.cache.Tick()
	if sub.count() != 1 {
		t.Fatalf("repeat tick notified again: %d", sub.count())
	}
}

func TestFailingSubscriberIsUnregistered(t *testing.T) {
	f := newCacheFixture(t, 1)
	broken := &recordingSubscriber{fail: true}
	healthy := &recordingSubscriber{}
	f.cache.Subscribe(broken)
	f.cache.Subscribe(healthy)

	f.clock.advance(time.Second)
	f.cache.Touch("b1")
	f.cache.Tick()
	if healthy.count() != 1 {
		t.Fatalf("healthy subscriber got %d notifications, want 1", healthy.count())
	}

	// The broken subscriber no longer receives anything, even fixed.
	broken.fail = false
	f.clock.advance(time.Second)
	f.cache.Touch("b1")
	f.cache.Tick()
	if broken.count() != 0 {
		t.Fatalf("dropped subscriber notified %d times", broken.count())
	}
	if healthy.count() != 2 {
		t.Fatalf("healthy subscriber got %d notifications, want 2", healthy.count())
	}
}

func TestRefreshRunsHooksAndNotifiesAllBlocks(t *testing.T) {
	hookRuns := 0
	sites := masterdatamem.NewSiteRepository()
	blocks := masterdatamem.NewBlockRepository()
	units := masterdatamem.NewUnitRepository()
	ctx := context.Background()
	if err := sites.Save(ctx, &masterdata.Site{ID: "s1", Name: "Plant", Active: true}); err != nil {
		t.Fatalf("save site: %v", err)
	}
	if err := blocks.Save(ctx, &masterdata.Block{ID: "b1", SiteID: "s1", Name: "Hall", Active: true}); err != nil {
		t.Fatalf("save block: %v", err)
	}
	if err := units.Save(ctx, &masterdata.Unit{ID: "u1", BlockID: "b1", Name: "u1", ClassCode: "sensor", Active: true}); err != nil {
		t.Fatalf("save unit: %v", err)
	}
	registry := variables.NewRegistry()
	if err := registry.Register("sensor", []variables.Definition{limitDef("pressure", 10, 20, 80)}); err != nil {
		t.Fatalf("register: %v", err)
	}

	cache, err := livecache.NewCache(
		sites, blocks, units, registry, livecache.NewLastKnown(),
		livecache.WithRefreshHook(func() { hookRuns++ }),
	)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	sub := &recordingSubscriber{}
	cache.Subscribe(sub)

	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if hookRuns != 1 {
		t.Fatalf("hook ran %d times, want 1", hookRuns)
	}
	if sub.count() != 1 || sub.batches[0][0] != "b1" {
		t.Fatalf("refresh notifications = %+v, want one [b1]", sub.batches)
	}
}

func TestSwitchesClusterAheadOfLesserLimits(t *testing.T) {
	sites := masterdatamem.NewSiteRepository()
	blocks := masterdatamem.NewBlockRepository()
	units := masterdatamem.NewUnitRepository()
	ctx := context.Background()
	if err := sites.Save(ctx, &masterdata.Site{ID: "s1", Name: "Plant", Active: true}); err != nil {
		t.Fatalf("save site: %v", err)
	}
	if err := blocks.Save(ctx, &masterdata.Block{ID: "b1", SiteID: "s1", Name: "Hall", Active: true}); err != nil {
		t.Fatalf("save block: %v", err)
	}
	if err := units.Save(ctx, &masterdata.Unit{ID: "u1", BlockID: "b1", Name: "u1", ClassCode: "pump", Active: true}); err != nil {
		t.Fatalf("save unit: %v", err)
	}
	registry := variables.NewRegistry()
	defs := []variables.Definition{
		limitDef("pressure", 50, 20, 80),
		limitDef("flow", 10, 20, 80),
		switchDef("tripped", 30),
		switchDef("doorOpen", 25),
	}
	if err := registry.Register("pump", defs); err != nil {
		t.Fatalf("register: %v", err)
	}

	cache, err := livecache.NewCache(sites, blocks, units, registry, livecache.NewLastKnown())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	leaves := cache.UnitsOfBlock("b1")
	if len(leaves) != 1 {
		t.Fatalf("got %d leaves, want 1", len(leaves))
	}
	statuses, err := leaves[0].Statuses(ctx, cache.Source())
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	var order []string
	for _, status := range statuses {
		order = append(order, status.Variable)
	}
	// The switch cluster outranks "flow" (significance 10) but not
	// "pressure" (50), and keeps its own internal order.
	want := []string{"pressure", "tripped", "doorOpen", "flow"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
