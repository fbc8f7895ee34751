package alerts

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"telemetry-cloud/internal/alerts/notify"
	"telemetry-cloud/internal/analytics/domain/statistic"
	"telemetry-cloud/internal/livecache"
	masterdata "telemetry-cloud/internal/masterdata/domain"
	"telemetry-cloud/internal/observability/metrics"
)

// DefaultSuppressionWindow spaces repeat notifications for an
// unchanged alarm level.
const DefaultSuppressionWindow = 60 * time.Minute

const (
	eventRaised  = "raised"
	eventCleared = "cleared"
)

// suppressionRecord remembers the last notification of one status.
type suppressionRecord struct {
	notifiedAt time.Time
	level      int
}

// Engine walks the live tree and drives each alert-enabled status
// through a Normal/Alerting state machine. A raise notifies when no
// record exists, the suppression window elapsed, or the level changed;
// a clear always notifies and drops the record so the next raise
// notifies immediately. Delivery failures are logged, never propagated;
// the state transition stands either way.
type Engine struct {
	cache    *livecache.Cache
	blocks   masterdata.BlockRepository
	channel  notify.Channel
	template *notify.Template
	clock    statistic.Clock
	logger   *log.Logger
	window   time.Duration
	windows  map[int]time.Duration

	mu      sync.Mutex
	records map[string]suppressionRecord
	groups  map[string]string
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithEngineClock overrides the clock.
func WithEngineClock(clock statistic.Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithSuppressionWindow overrides the default window.
func WithSuppressionWindow(window time.Duration) EngineOption {
	return func(e *Engine) {
		if window > 0 {
			e.window = window
		}
	}
}

// WithSignificanceWindow overrides the window for one significance class.
func WithSignificanceWindow(significance int, window time.Duration) EngineOption {
	return func(e *Engine) {
		if window > 0 {
			e.windows[significance] = window
		}
	}
}

// WithEngineTemplate overrides the notification template.
func WithEngineTemplate(template *notify.Template) EngineOption {
	return func(e *Engine) {
		if template != nil {
			e.template = template
		}
	}
}

// NewEngine constructs the alert engine.
func NewEngine(
	cache *livecache.Cache,
	blocks masterdata.BlockRepository,
	channel notify.Channel,
	opts ...EngineOption,
) (*Engine, error) {
	if cache == nil {
		return nil, errors.New("alert engine: nil live cache")
	}
	if blocks == nil {
		return nil, errors.New("alert engine: nil block repository")
	}
	if channel == nil {
		return nil, errors.New("alert engine: nil channel")
	}
	template, err := notify.NewTemplate("")
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cache:    cache,
		blocks:   blocks,
		channel:  channel,
		template: template,
		clock:    statistic.SystemClock{},
		window:   DefaultSuppressionWindow,
		windows:  make(map[int]time.Duration),
		records:  make(map[string]suppressionRecord),
		groups:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Scan evaluates every alert-enabled status of every active site.
// Per-unit evaluation failures are logged and skipped.
func (e *Engine) Scan(ctx context.Context) {
	for _, site := range e.cache.Sites() {
		for _, leaf := range site.Units() {
			statuses, err := leaf.Statuses(ctx, e.cache.Source())
			if err != nil {
				e.logf("alert scan: unit=%s: %v", leaf.Unit.ID, err)
				continue
			}
			for _, status := range statuses {
				if !status.Definition.AlertEnabled || !status.Known {
					continue
				}
				e.evaluate(ctx, site.Site, leaf.Unit, status)
			}
		}
	}
}

func (e *Engine) evaluate(ctx context.Context, site masterdata.Site, unit masterdata.Unit, status livecache.DataStatus) {
	id := status.ID()
	now := e.clock.Now()

	e.mu.Lock()
	record, outstanding := e.records[id]
	e.mu.Unlock()

	if status.Level != 0 {
		shouldNotify := !outstanding ||
			record.level != status.Level ||
			now.Sub(record.notifiedAt) >= e.windowFor(status.Definition.Significance)
		if !shouldNotify {
			return
		}
		e.mu.Lock()
		e.records[id] = suppressionRecord{notifiedAt: now, level: status.Level}
		e.mu.Unlock()
		metrics.IncAlertEvent(eventRaised)
		e.send(ctx, site, unit, status, eventRaised)
		return
	}

	if outstanding {
		e.mu.Lock()
		delete(e.records, id)
		e.mu.Unlock()
		metrics.IncAlertEvent(eventCleared)
		e.send(ctx, site, unit, status, eventCleared)
	}
}

func (e *Engine) windowFor(significance int) time.Duration {
	if window, ok := e.windows[significance]; ok {
		return window
	}
	return e.window
}

// groupFor resolves the notification target: the block's message
// group, falling back to the site's. Cached per block.
func (e *Engine) groupFor(ctx context.Context, blockID string, site masterdata.Site) string {
	e.mu.Lock()
	group, ok := e.groups[blockID]
	e.mu.Unlock()
	if ok {
		return group
	}

	group = site.MessageGroupID
	if block, err := e.blocks.Get(ctx, blockID); err == nil && block != nil && block.MessageGroupID != "" {
		group = block.MessageGroupID
	}
	e.mu.Lock()
	e.groups[blockID] = group
	e.mu.Unlock()
	return group
}

func (e *Engine) send(ctx context.Context, site masterdata.Site, unit masterdata.Unit, status livecache.DataStatus, event string) {
	group := e.groupFor(ctx, unit.BlockID, site)
	if group == "" {
		e.logf("alert send: unit=%s no message group", unit.ID)
		return
	}

	reading := ""
	if status.Known {
		reading = readingText(status)
	}
	content, err := e.template.Render(notify.TemplateData{
		Site:       site.Name,
		SiteID:     site.ID,
		Unit:       unit.Name,
		UnitID:     unit.ID,
		Variable:   status.Display,
		Reading:    reading,
		Level:      status.Level,
		Event:      event,
		EventLabel: eventLabel(event),
		Time:       e.clock.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		e.logf("alert send: render: %v", err)
		return
	}
	if err := e.channel.Send(ctx, group, content); err != nil {
		e.logf("alert send: group=%s: %v", group, err)
	}
}

func readingText(status livecache.DataStatus) string {
	def := status.Definition
	if def.Limit != nil {
		return def.Limit.Format(status.Value)
	}
	if status.Value != 0 {
		return "on"
	}
	return "off"
}

func eventLabel(event string) string {
	switch event {
	case eventRaised:
		return "Raised"
	case eventCleared:
		return "Cleared"
	default:
		return event
	}
}

// ResetSuppression drops the suppression and group caches. Registered
// as the live cache's refresh hook.
func (e *Engine) ResetSuppression() {
	e.mu.Lock()
	e.records = make(map[string]suppressionRecord)
	e.groups = make(map[string]string)
	e.mu.Unlock()
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
