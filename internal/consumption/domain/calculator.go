package consumption

import (
	"context"
	"errors"
	"time"

	telemetry "telemetry-cloud/internal/telemetry/domain"
)

// Calculator derives the consumption of one item over a time window
// from raw samples. ok is false when the window has no usable data,
// which the rollup treats as a gap rather than an error.
type Calculator interface {
	Resource() int
	Compute(ctx context.Context, itemID string, from, to time.Time) (value float64, ok bool, err error)
}

// differenceCalculator reads a cumulative counter variable and
// returns the linear-interpolated difference across the window.
type differenceCalculator struct {
	store      telemetry.SampleStore
	resource   int
	variable   string
	multiplier float64
	// resetValue, when positive, is added to the end reading when the
	// counter wrapped (end below start) before differencing.
	resetValue float64
}

// NewDifference builds a plain counter-difference calculator.
func NewDifference(store telemetry.SampleStore, resource int, variable string) (Calculator, error) {
	return newDifference(store, resource, variable, 1, 0)
}

// NewScaledDifference builds a counter-difference calculator whose
// result is scaled by a multiplier (pulse counters, CT ratios).
func NewScaledDifference(store telemetry.SampleStore, resource int, variable string, multiplier float64) (Calculator, error) {
	return newDifference(store, resource, variable, multiplier, 0)
}

// NewMeterDifference builds a counter-difference calculator that
// tolerates meter resets: when the end reading is below the start
// reading, resetValue is added before differencing.
func NewMeterDifference(store telemetry.SampleStore, resource int, variable string, resetValue float64) (Calculator, error) {
	return newDifference(store, resource, variable, 1, resetValue)
}

func newDifference(store telemetry.SampleStore, resource int, variable string, multiplier, resetValue float64) (Calculator, error) {
	if store == nil {
		return nil, errors.New("consumption calculator: nil sample store")
	}
	if resource <= 0 {
		return nil, errors.New("consumption calculator: non-positive resource")
	}
	if variable == "" {
		return nil, errors.New("consumption calculator: empty variable")
	}
	if multiplier == 0 {
		multiplier = 1
	}
	return &differenceCalculator{
		store:      store,
		resource:   resource,
		variable:   variable,
		multiplier: multiplier,
		resetValue: resetValue,
	}, nil
}

func (c *differenceCalculator) Resource() int { return c.resource }

func (c *differenceCalculator) Compute(ctx context.Context, itemID string, from, to time.Time) (float64, bool, error) {
	span := to.Sub(from) / 2
	start, ok, err := valueAt(ctx, c.store, itemID, c.variable, from, span)
	if err != nil || !ok {
		return 0, false, err
	}
	end, ok, err := valueAt(ctx, c.store, itemID, c.variable, to, span)
	if err != nil || !ok {
		return 0, false, err
	}

	dt := end.CollectedAt.Sub(start.CollectedAt)
	if dt <= 0 {
		return 0, false, nil
	}
	endValue := end.Value
	if c.resetValue > 0 && endValue < start.Value {
		endValue += c.resetValue
	}
	// Scale the reading difference to the requested window.
	diff := (endValue - start.Value) * float64(to.Sub(from)) / float64(dt)
	return diff * c.multiplier, true, nil
}

// stateChangeCalculator counts transitions of a boolean variable to a
// target state (cycle counting), optionally scaled per transition.
type stateChangeCalculator struct {
	store      telemetry.SampleStore
	resource   int
	variable   string
	toState    bool
	multiplier float64
}

// NewStateChangeCount builds a transition-counting calculator.
func NewStateChangeCount(store telemetry.SampleStore, resource int, variable string, toState bool, multiplier float64) (Calculator, error) {
	if store == nil {
		return nil, errors.New("consumption calculator: nil sample store")
	}
	if resource <= 0 {
		return nil, errors.New("consumption calculator: non-positive resource")
	}
	if variable == "" {
		return nil, errors.New("consumption calculator: empty variable")
	}
	if multiplier == 0 {
		multiplier = 1
	}
	return &stateChangeCalculator{
		store:      store,
		resource:   resource,
		variable:   variable,
		toState:    toState,
		multiplier: multiplier,
	}, nil
}

func (c *stateChangeCalculator) Resource() int { return c.resource }

func (c *stateChangeCalculator) Compute(ctx context.Context, itemID string, from, to time.Time) (float64, bool, error) {
	rows, err := c.store.Query(ctx, itemID, c.variable, from, to)
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}

	// Seed the previous state from just before the window so a
	// transition straddling the boundary counts exactly once.
	previous := !c.toState
	if seed, ok, err := valueAt(ctx, c.store, itemID, c.variable, from, to.Sub(from)/2); err != nil {
		return 0, false, err
	} else if ok && seed.CollectedAt.Before(from) {
		previous = seed.Bool()
	}

	transitions := 0
	for _, row := range rows {
		state := row.Bool()
		if state == c.toState && previous != c.toState {
			transitions++
		}
		previous = state
	}
	return float64(transitions) * c.multiplier, true, nil
}

// valueAt finds the sample closest to an instant within ±span,
// preferring the nearest earlier sample on a tie.
func valueAt(ctx context.Context, store telemetry.SampleStore, itemID, variable string, at time.Time, span time.Duration) (telemetry.Sample, bool, error) {
	rows, err := store.Query(ctx, itemID, variable, at.Add(-span), at.Add(span))
	if err != nil {
		return telemetry.Sample{}, false, err
	}
	if len(rows) == 0 {
		return telemetry.Sample{}, false, nil
	}
	best := rows[0]
	bestDistance := absDuration(at.Sub(best.CollectedAt))
	for _, row := range rows[1:] {
		distance := absDuration(at.Sub(row.CollectedAt))
		if distance < bestDistance {
			best = row
			bestDistance = distance
		}
	}
	return best, true, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
