package telemetry

import (
	"context"
	"errors"
	"time"
)

// Sample is one raw telemetry reading. Samples are append-only and
// never mutated; duplicates at the same unit, variable and instant are
// tolerated. Boolean variables are carried as 0/1 values. CollectedAt
// is GMT.
type Sample struct {
	UnitID      string
	Variable    string
	CollectedAt time.Time
	Value       float64
}

// Validate checks sample invariants.
func (s Sample) Validate() error {
	if s.UnitID == "" {
		return errors.New("sample: empty unit id")
	}
	if s.Variable == "" {
		return errors.New("sample: empty variable")
	}
	if s.CollectedAt.IsZero() {
		return errors.New("sample: zero collection time")
	}
	return nil
}

// Bool reads the sample as a boolean state.
func (s Sample) Bool() bool { return s.Value != 0 }

// SampleStore is the query contract over the append-only series.
type SampleStore interface {
	// Query returns samples of one unit variable in [from, to),
	// ordered by collection time ascending.
	Query(ctx context.Context, unitID, variable string, fromInclusive, toExclusive time.Time) ([]Sample, error)
	// Latest returns the most recent sample of a unit variable, or nil.
	Latest(ctx context.Context, unitID, variable string) (*Sample, error)
	// Earliest returns the oldest collection time across the given
	// units; ok is false when no samples exist.
	Earliest(ctx context.Context, unitIDs []string) (time.Time, bool, error)
}

// SampleWriter appends new samples.
type SampleWriter interface {
	Insert(ctx context.Context, samples []Sample) error
}
