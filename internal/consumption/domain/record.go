package consumption

import (
	"context"
	"errors"
	"fmt"

	"telemetry-cloud/internal/analytics/domain/statistic"
)

// residue below this magnitude is treated as zero after subtraction
const zeroClamp = 0.000000001

// Record is the consumption of one item (unit, block or sub-item) in
// one period. The value covers that period only, never a running
// total. Hourly records are set directly; coarser tiers accumulate
// deltas so a correction to one hour can be subtracted symmetrically.
type Record struct {
	Resource    int
	ItemID      string
	Key         statistic.PeriodKey
	Consumption float64
}

// Validate checks record invariants.
func (r Record) Validate() error {
	if r.Resource <= 0 {
		return errors.New("consumption: non-positive resource")
	}
	if r.ItemID == "" {
		return errors.New("consumption: empty item id")
	}
	return r.Key.Validate()
}

// ID builds the storage key of a record.
func (r Record) ID() string {
	return fmt.Sprintf("%d:%s:%d:%s:%d", r.Resource, r.ItemID, r.Key.Year, r.Key.Kind, r.Key.Index)
}

// AddConsumption folds a delta into the record, clamping the tiny
// negative residue a correction can leave behind.
func (r *Record) AddConsumption(delta float64) {
	r.Consumption += delta
	if r.Consumption < zeroClamp {
		r.Consumption = 0
	}
}

// Repository persists consumption records. Get and LatestHour return
// (nil, nil) on a miss so callers can create records lazily.
type Repository interface {
	Get(ctx context.Context, resource int, itemID string, key statistic.PeriodKey) (*Record, error)
	LatestHour(ctx context.Context, resource int, itemID string) (*Record, error)
	List(ctx context.Context, resource int, itemID string, kind statistic.PeriodKind, year int) ([]*Record, error)
	// SaveBatch persists the records of one computed hour atomically.
	SaveBatch(ctx context.Context, records []*Record) error
	// RemoveHour deletes one hourly record and applies the corrected
	// coarser records in the same transaction.
	RemoveHour(ctx context.Context, resource int, itemID string, key statistic.PeriodKey, updates []*Record) error
	// DeleteSeries removes every record of an item, for recompute.
	DeleteSeries(ctx context.Context, resource int, itemID string) error
}
