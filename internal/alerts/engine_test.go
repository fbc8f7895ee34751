package alerts_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"telemetry-cloud/internal/alerts"
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

type sentMessage struct {
	group   string
	content string
}

type recordingChannel struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingChannel) Send(ctx context.Context, groupID, content string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{group: groupID, content: content})
	return nil
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingChannel) last() sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

type engineFixture struct {
	engine  *alerts.Engine
	channel *recordingChannel
	clock   *fakeClock
	last    *livecache.LastKnown
	cache   *livecache.Cache
}

// newEngineFixture builds one site (message group "ops") with one
// block and one unit monitored by an alert-enabled "pressure" limit
// with thresholds 0/10/20/80/90/100.
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	sites := masterdatamem.NewSiteRepository()
	blocks := masterdatamem.NewBlockRepository()
	units := masterdatamem.NewUnitRepository()
	ctx := context.Background()

	if err := sites.Save(ctx, &masterdata.Site{ID: "s1", Name: "Plant", MessageGroupID: "ops", Active: true}); err != nil {
		t.Fatalf("save site: %v", err)
	}
	if err := blocks.Save(ctx, &masterdata.Block{ID: "b1", SiteID: "s1", Name: "Hall", Active: true}); err != nil {
		t.Fatalf("save block: %v", err)
	}
	if err := units.Save(ctx, &masterdata.Unit{ID: "u1", BlockID: "b1", Name: "Boiler", ClassCode: "boiler", Active: true}); err != nil {
		t.Fatalf("save unit: %v", err)
	}

	registry := variables.NewRegistry()
	def := variables.Definition{
		Name:         "pressure",
		Significance: 10,
		AlertEnabled: true,
		Kind:         variables.KindLimit,
		Limit:        &variables.Limit{Lowest: 0, Lower: 10, Low: 20, High: 80, Higher: 90, Highest: 100},
	}
	if err := registry.Register("boiler", []variables.Definition{def}); err != nil {
		t.Fatalf("register: %v", err)
	}

	f := &engineFixture{
		channel: &recordingChannel{},
		clock:   &fakeClock{now: time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)},
		last:    livecache.NewLastKnown(),
	}
	cache, err := livecache.NewCache(sites, blocks, units, registry, f.last, livecache.WithCacheClock(f.clock))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	f.cache = cache

	engine, err := alerts.NewEngine(cache, blocks, f.channel, alerts.WithEngineClock(f.clock))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f.engine = engine
	return f
}

func (f *engineFixture) reading(value float64) {
	f.last.Record([]telemetry.Sample{{UnitID: "u1", Variable: "pressure", CollectedAt: f.clock.Now(), Value: value}})
	f.cache.Touch("b1")
	f.cache.Tick()
}

func TestRepeatAlarmSuppressedWithinWindow(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.reading(85) // level 1
	f.engine.Scan(ctx)
	if f.channel.count() != 1 {
		t.Fatalf("first scan sent %d messages, want 1", f.channel.count())
	}
	if got := f.channel.last().group; got != "ops" {
		t.Fatalf("message group = %q, want ops", got)
	}

	// Same level ten minutes later: suppressed.
	f.clock.advance(10 * time.Minute)
	f.reading(86)
	f.engine.Scan(ctx)
	if f.channel.count() != 1 {
		t.Fatalf("suppressed repeat still sent: %d messages", f.channel.count())
	}

	// Window elapsed: re-notify.
	f.clock.advance(55 * time.Minute)
	f.reading(86)
	f.engine.Scan(ctx)
	if f.channel.count() != 2 {
		t.Fatalf("after window got %d messages, want 2", f.channel.count())
	}
}

func TestLevelChangeBreaksSuppression(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.reading(85) // level 1
	f.engine.Scan(ctx)
	f.clock.advance(5 * time.Minute)
	f.reading(120) // level 3, inside the window
	f.engine.Scan(ctx)
	if f.channel.count() != 2 {
		t.Fatalf("level change sent %d messages, want 2", f.channel.count())
	}
	if !strings.Contains(f.channel.last().content, "Raised") {
		t.Fatalf("second message not a raise: %q", f.channel.last().content)
	}
}

func TestClearedAlwaysNotifiesAndRearmsImmediately(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.reading(85)
	f.engine.Scan(ctx)
	f.clock.advance(time.Minute)
	f.reading(50) // back to normal, well inside the window
	f.engine.Scan(ctx)
	if f.channel.count() != 2 {
		t.Fatalf("clear sent %d messages, want 2", f.channel.count())
	}
	if !strings.Contains(f.channel.last().content, "Cleared") {
		t.Fatalf("clear message = %q", f.channel.last().content)
	}

	// Normal again: no repeated clear.
	f.clock.advance(time.Minute)
	f.reading(55)
	f.engine.Scan(ctx)
	if f.channel.count() != 2 {
		t.Fatalf("repeated clear: %d messages", f.channel.count())
	}

	// Re-alert right away: notifies without waiting out the window.
	f.clock.advance(time.Minute)
	f.reading(95) // level 2
	f.engine.Scan(ctx)
	if f.channel.count() != 3 {
		t.Fatalf("re-alert sent %d messages, want 3", f.channel.count())
	}
}

func TestNormalStatusNeverNotifies(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.reading(50)
	f.engine.Scan(ctx)
	f.engine.Scan(ctx)
	if f.channel.count() != 0 {
		t.Fatalf("normal status sent %d messages", f.channel.count())
	}
}

func TestResetSuppressionForcesRenotify(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.reading(85)
	f.engine.Scan(ctx)
	f.engine.ResetSuppression()
	f.clock.advance(time.Minute)
	f.reading(85)
	f.engine.Scan(ctx)
	if f.channel.count() != 2 {
		t.Fatalf("after reset got %d messages, want 2", f.channel.count())
	}
}

func TestBlockMessageGroupOverridesSite(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// Rebuild with a block-level group.
	sites := masterdatamem.NewSiteRepository()
	blocks := masterdatamem.NewBlockRepository()
	units := masterdatamem.NewUnitRepository()
	if err := sites.Save(ctx, &masterdata.Site{ID: "s1", Name: "Plant", MessageGroupID: "ops", Active: true}); err != nil {
		t.Fatalf("save site: %v", err)
	}
	if err := blocks.Save(ctx, &masterdata.Block{ID: "b1", SiteID: "s1", Name: "Hall", MessageGroupID: "hall-crew", Active: true}); err != nil {
		t.Fatalf("save block: %v", err)
	}
	if err := units.Save(ctx, &masterdata.Unit{ID: "u1", BlockID: "b1", Name: "Boiler", ClassCode: "boiler", Active: true}); err != nil {
		t.Fatalf("save unit: %v", err)
	}
	registry := variables.NewRegistry()
	def := variables.Definition{
		Name:         "pressure",
		Significance: 10,
		AlertEnabled: true,
		Kind:         variables.KindLimit,
		Limit:        &variables.Limit{Lowest: 0, Lower: 10, Low: 20, High: 80, Higher: 90, Highest: 100},
	}
	if err := registry.Register("boiler", []variables.Definition{def}); err != nil {
		t.Fatalf("register: %v", err)
	}
	cache, err := livecache.NewCache(sites, blocks, units, registry, f.last, livecache.WithCacheClock(f.clock))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	engine, err := alerts.NewEngine(cache, blocks, f.channel, alerts.WithEngineClock(f.clock))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	f.last.Record([]telemetry.Sample{{UnitID: "u1", Variable: "pressure", CollectedAt: f.clock.Now(), Value: 85}})
	cache.Touch("b1")
	cache.Tick()
	engine.Scan(ctx)
	if f.channel.count() != 1 {
		t.Fatalf("messages = %d, want 1", f.channel.count())
	}
	if got := f.channel.last().group; got != "hall-crew" {
		t.Fatalf("group = %q, want hall-crew", got)
	}
}
