package livecache

import (
	"context"
	"sync"

	telemetry "telemetry-cloud/internal/telemetry/domain"
	"telemetry-cloud/internal/variables"
)

// DataStatus is the live, derived reading of one unit variable. It is
// never persisted; unit nodes rebuild it lazily after invalidation.
type DataStatus struct {
	UnitID     string
	Variable   string
	Definition variables.Definition
	Display    string
	Value      float64
	Known      bool
	Level      int
}

// ID identifies the status for suppression bookkeeping.
func (s DataStatus) ID() string { return s.UnitID + ":" + s.Variable }

// Alerting reports whether the status should wake the alert engine.
func (s DataStatus) Alerting() bool {
	return s.Definition.AlertEnabled && s.Level != 0
}

// ValueSource resolves the current reading of a unit variable.
type ValueSource interface {
	Current(ctx context.Context, unitID, variable string) (float64, bool, error)
}

// LastKnown is the in-process reading cache fed by ingestion. It is
// the first stop of the lookup chain.
type LastKnown struct {
	mu     sync.RWMutex
	values map[string]float64
}

// NewLastKnown constructs an empty reading cache.
func NewLastKnown() *LastKnown {
	return &LastKnown{values: make(map[string]float64)}
}

// Record stores the readings of an ingested batch.
func (l *LastKnown) Record(samples []telemetry.Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range samples {
		l.values[s.UnitID+":"+s.Variable] = s.Value
	}
}

// Current returns the cached reading, if any.
func (l *LastKnown) Current(ctx context.Context, unitID, variable string) (float64, bool, error) {
	_ = ctx
	l.mu.RLock()
	defer l.mu.RUnlock()
	value, ok := l.values[unitID+":"+variable]
	return value, ok, nil
}

// Clear drops every cached reading.
func (l *LastKnown) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = make(map[string]float64)
}

// StoreSource resolves readings from the latest persisted sample.
type StoreSource struct {
	store telemetry.SampleStore
}

// NewStoreSource constructs a sample-store backed source.
func NewStoreSource(store telemetry.SampleStore) *StoreSource {
	return &StoreSource{store: store}
}

// Current returns the latest persisted reading, if any.
func (s *StoreSource) Current(ctx context.Context, unitID, variable string) (float64, bool, error) {
	latest, err := s.store.Latest(ctx, unitID, variable)
	if err != nil {
		return 0, false, err
	}
	if latest == nil {
		return 0, false, nil
	}
	return latest.Value, true, nil
}

// Chain tries each source in order and returns the first hit.
type Chain struct {
	sources []ValueSource
}

// NewChain builds a lookup chain; nil entries are skipped.
func NewChain(sources ...ValueSource) *Chain {
	chain := &Chain{}
	for _, source := range sources {
		if source != nil {
			chain.sources = append(chain.sources, source)
		}
	}
	return chain
}

// Current resolves a reading through the chain.
func (c *Chain) Current(ctx context.Context, unitID, variable string) (float64, bool, error) {
	for _, source := range c.sources {
		value, ok, err := source.Current(ctx, unitID, variable)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return value, true, nil
		}
	}
	return 0, false, nil
}

// orderDefinitions lays out a unit's variables for display: limits
// first in significance order, with the switch cluster inserted ahead
// of the first limit it outranks. Switches stay adjacent.
func orderDefinitions(defs []variables.Definition) []variables.Definition {
	var limits, switches []variables.Definition
	for _, def := range defs {
		if def.Kind == variables.KindSwitch {
			switches = append(switches, def)
		} else {
			limits = append(limits, def)
		}
	}
	if len(switches) == 0 {
		return limits
	}

	lead := switches[0].Significance
	for _, def := range switches[1:] {
		if def.Significance > lead {
			lead = def.Significance
		}
	}
	insert := len(limits)
	for i, def := range limits {
		if def.Significance < lead {
			insert = i
			break
		}
	}

	ordered := make([]variables.Definition, 0, len(limits)+len(switches))
	ordered = append(ordered, limits[:insert]...)
	ordered = append(ordered, switches...)
	ordered = append(ordered, limits[insert:]...)
	return ordered
}
