package alerts_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"telemetry-cloud/internal/alerts"
)

type lastDataStub struct {
	mu sync.Mutex
	at time.Time
}

func (s *lastDataStub) get() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.at
}

func (s *lastDataStub) set(at time.Time) {
	s.mu.Lock()
	s.at = at
	s.mu.Unlock()
}

func TestWatchdogNotifiesFailureAndRestoreOnce(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	data := &lastDataStub{}

	watchdog, err := alerts.NewWatchdog(data.get, channel, "ops", alerts.WithWatchdogClock(clock))
	if err != nil {
		t.Fatalf("new watchdog: %v", err)
	}
	ctx := context.Background()

	// Fresh start: silence shorter than the threshold.
	watchdog.Check(ctx)
	if channel.count() != 0 {
		t.Fatalf("early check sent %d messages", channel.count())
	}

	// Past the threshold: exactly one failure notice, repeated checks
	// stay quiet.
	clock.advance(16 * time.Minute)
	watchdog.Check(ctx)
	watchdog.Check(ctx)
	if channel.count() != 1 {
		t.Fatalf("failure notices = %d, want 1", channel.count())
	}
	if !strings.Contains(channel.last().content, "Communication failure") {
		t.Fatalf("notice = %q", channel.last().content)
	}
	if !watchdog.Down() {
		t.Fatal("watchdog not marked down")
	}

	// Data resumes: exactly one restored notice.
	data.set(clock.Now())
	watchdog.Check(ctx)
	watchdog.Check(ctx)
	if channel.count() != 2 {
		t.Fatalf("notices after restore = %d, want 2", channel.count())
	}
	if !strings.Contains(channel.last().content, "Communication restored") {
		t.Fatalf("notice = %q", channel.last().content)
	}
	if watchdog.Down() {
		t.Fatal("watchdog still down after restore")
	}

	// A second outage notifies again.
	clock.advance(20 * time.Minute)
	watchdog.Check(ctx)
	if channel.count() != 3 {
		t.Fatalf("second outage notices = %d, want 3", channel.count())
	}
}
