package alerts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"telemetry-cloud/internal/alerts/notify"
	"telemetry-cloud/internal/analytics/domain/statistic"
	"telemetry-cloud/internal/observability/metrics"
)

// DefaultWatchdogThreshold is how long ingestion may stay silent
// before a communication-failure notice goes out.
const DefaultWatchdogThreshold = 15 * time.Minute

// Watchdog tracks when data last arrived from the ingestion transport
// and reports a communication failure to a fixed recipient group
// exactly once, followed by exactly one restored notice when data
// resumes. A failed send is logged; internal state flips regardless so
// the watchdog never re-notifies every tick.
type Watchdog struct {
	lastData  func() time.Time
	channel   notify.Channel
	groupID   string
	threshold time.Duration
	clock     statistic.Clock
	logger    *log.Logger

	mu       sync.Mutex
	baseline time.Time
	down     bool
}

// WatchdogOption configures the watchdog.
type WatchdogOption func(*Watchdog)

// WithWatchdogClock overrides the clock.
func WithWatchdogClock(clock statistic.Clock) WatchdogOption {
	return func(w *Watchdog) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithWatchdogLogger sets the logger.
func WithWatchdogLogger(logger *log.Logger) WatchdogOption {
	return func(w *Watchdog) { w.logger = logger }
}

// WithWatchdogThreshold overrides the silence threshold.
func WithWatchdogThreshold(threshold time.Duration) WatchdogOption {
	return func(w *Watchdog) {
		if threshold > 0 {
			w.threshold = threshold
		}
	}
}

// NewWatchdog constructs the watchdog. lastData reports when samples
// last arrived (zero until the first batch); groupID is the fixed
// recipient of both notices.
func NewWatchdog(lastData func() time.Time, channel notify.Channel, groupID string, opts ...WatchdogOption) (*Watchdog, error) {
	if lastData == nil {
		return nil, errors.New("watchdog: nil last-data source")
	}
	if channel == nil {
		return nil, errors.New("watchdog: nil channel")
	}
	if groupID == "" {
		return nil, errors.New("watchdog: empty group")
	}
	w := &Watchdog{
		lastData:  lastData,
		channel:   channel,
		groupID:   groupID,
		threshold: DefaultWatchdogThreshold,
		clock:     statistic.SystemClock{},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.baseline = w.clock.Now()
	metrics.SetCommsUp(true)
	return w, nil
}

// Check compares the last-data time against the threshold and sends
// the failure or restored notice on a state change.
func (w *Watchdog) Check(ctx context.Context) {
	now := w.clock.Now()
	last := w.lastData()

	w.mu.Lock()
	if last.IsZero() || last.Before(w.baseline) {
		last = w.baseline
	}
	silent := now.Sub(last)
	var notice string
	switch {
	case !w.down && silent > w.threshold:
		w.down = true
		notice = fmt.Sprintf("Communication failure: no data received since %s", last.UTC().Format(time.RFC3339))
	case w.down && silent <= w.threshold:
		w.down = false
		notice = fmt.Sprintf("Communication restored: data received at %s", last.UTC().Format(time.RFC3339))
	}
	down := w.down
	w.mu.Unlock()

	if notice == "" {
		return
	}
	metrics.SetCommsUp(!down)
	if down {
		metrics.IncAlertEvent("comms_failure")
	} else {
		metrics.IncAlertEvent("comms_restored")
	}
	if err := w.channel.Send(ctx, w.groupID, notice); err != nil {
		w.logf("watchdog: send: %v", err)
	}
}

// Down reports the current link state.
func (w *Watchdog) Down() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.down
}

func (w *Watchdog) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
